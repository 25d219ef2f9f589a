// Package slip implements the fixed-width SLIP record codec.
package slip

import "github.com/username/slips/src/models"

// RecordWidth is the width of every SLIP record, marker included.
const RecordWidth = 184

const markerWidth = 4

type fieldKind int

const (
	kindNumeric fieldKind = iota // zero-padded left
	kindText                     // space-padded right
	kindAmount                   // signed integer, zero-padded left
	kindBlank                    // filler, always spaces on output
)

// Field is one slice of a fixed-width record, positioned after the marker.
type Field struct {
	Name     string
	Length   int
	Kind     fieldKind
	Nullable bool
}

var fileHeaderLayout = []Field{
	{Name: "BankControlId", Length: 4, Kind: kindNumeric},
	{Name: "FieldId", Length: 3, Kind: kindNumeric},
	{Name: "FileDate", Length: 5, Kind: kindNumeric},
	{Name: "BankCode", Length: 4, Kind: kindNumeric},
	{Name: "NumBatches", Length: 3, Kind: kindNumeric},
	{Name: "NumTransactions", Length: 6, Kind: kindNumeric},
	{Name: "Blank", Length: 155, Kind: kindBlank},
}

var branchHeaderLayout = []Field{
	{Name: "BranchControlId", Length: 4, Kind: kindNumeric},
	{Name: "FieldId", Length: 3, Kind: kindNumeric},
	{Name: "FileDate", Length: 5, Kind: kindNumeric},
	{Name: "BankCode", Length: 4, Kind: kindNumeric},
	{Name: "BranchCode", Length: 3, Kind: kindNumeric},
	{Name: "CreditTotal", Length: 15, Kind: kindNumeric},
	{Name: "NumCreditItems", Length: 6, Kind: kindNumeric},
	{Name: "DebitTotal", Length: 15, Kind: kindNumeric},
	{Name: "NumDebitItems", Length: 6, Kind: kindNumeric},
	{Name: "AccountHashTotal", Length: 18, Kind: kindNumeric},
	{Name: "Blank", Length: 101, Kind: kindBlank},
}

var transactionLayout = []Field{
	{Name: "TransactionId", Length: 4, Kind: kindNumeric},
	{Name: "DestBankNo", Length: 4, Kind: kindNumeric},
	{Name: "DestBranchNo", Length: 3, Kind: kindNumeric},
	{Name: "DestAcNo", Length: 12, Kind: kindNumeric},
	{Name: "DestAcName", Length: 20, Kind: kindText},
	{Name: "TxCode", Length: 2, Kind: kindNumeric},
	{Name: "ReturnCode", Length: 2, Kind: kindNumeric, Nullable: true},
	{Name: "Filler", Length: 1, Kind: kindBlank},
	{Name: "OrigTxDate", Length: 6, Kind: kindNumeric, Nullable: true},
	{Name: "Amount", Length: models.AmountWidth, Kind: kindAmount},
	{Name: "CurrencyCode", Length: 3, Kind: kindText},
	{Name: "OrigBankNo", Length: 4, Kind: kindNumeric},
	{Name: "OrigBranchNo", Length: 3, Kind: kindNumeric},
	{Name: "OrigAcNo", Length: 12, Kind: kindNumeric},
	{Name: "OrigAcName", Length: 20, Kind: kindText},
	{Name: "Particular", Length: 15, Kind: kindText, Nullable: true},
	{Name: "Reference", Length: 15, Kind: kindText, Nullable: true},
	{Name: "ValueDate", Length: 6, Kind: kindNumeric},
	{Name: "SecurityCheckField", Length: 6, Kind: kindNumeric, Nullable: true},
	{Name: "Blank", Length: 30, Kind: kindBlank},
}

// bindings return pointers to the record's text fields in layout order.
// Blank fields get nil; the amount field gets nil and is handled separately.

func fileHeaderBindings(h *models.FileHeader) []*string {
	return []*string{&h.ControlID, &h.FieldID, &h.FileDate, &h.BankCode, &h.NumBatches, &h.NumTransactions, nil}
}

func branchHeaderBindings(h *models.BranchHeader) []*string {
	return []*string{
		&h.ControlID, &h.FieldID, &h.FileDate, &h.BankCode, &h.BranchCode,
		&h.CreditTotal, &h.NumCreditItems, &h.DebitTotal, &h.NumDebitItems, &h.AccountHashTotal,
		nil,
	}
}

func transactionBindings(t *models.Transaction) []*string {
	return []*string{
		&t.TransactionID, &t.DestBankNo, &t.DestBranchNo, &t.DestAccountNo, &t.DestAccountName,
		&t.TxCode, &t.ReturnCode, nil, &t.OrigTxDate, nil, &t.CurrencyCode,
		&t.OrigBankNo, &t.OrigBranchNo, &t.OrigAccountNo, &t.OrigAccountName,
		&t.Particulars, &t.Reference, &t.ValueDate, &t.SecurityCheckField, nil,
	}
}

// Width returns the width of a named field in the given record family.
func Width(marker, name string) int {
	var layout []Field
	switch marker {
	case models.MarkerFileHeader:
		layout = fileHeaderLayout
	case models.MarkerBranchHeader:
		layout = branchHeaderLayout
	case models.MarkerTransaction:
		layout = transactionLayout
	}
	for _, f := range layout {
		if f.Name == name {
			return f.Length
		}
	}
	return 0
}
