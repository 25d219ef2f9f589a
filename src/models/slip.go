// src/models/slip.go
package models

// Direction tells which family of tables a SLIP file belongs to.
type Direction string

const (
	Inward  Direction = "inward"  // received from another bank
	Outward Direction = "outward" // produced by this bank for transmission
)

// ParseDirection maps a path segment or form value to a Direction.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(s) {
	case Inward:
		return Inward, true
	case Outward:
		return Outward, true
	}
	return "", false
}

// Status is the persisted status flag carried by every SLIP row.
type Status string

const (
	StatusInserted             Status = "inserted"
	StatusPending              Status = "pending"
	StatusClassified           Status = "classified"
	StatusReconciled           Status = "reconciled"
	StatusReconciliationFailed Status = "reconciliation_failed"
	StatusUnresolvedCode       Status = "unresolved_code"
	StatusExcluded             Status = "excluded"
	StatusInvalid              Status = "invalid"
	StatusStamped              Status = "stamped"
	StatusReleased             Status = "released"
)

// Record markers. The first four characters of every line.
const (
	MarkerFileHeader   = "5555"
	MarkerBranchHeader = "4444"
	MarkerTransaction  = "0000"
)

// Record is one fixed-width line of a SLIP file.
type Record interface {
	Marker() string
}

// FileHeader is the 5555 record. Declared counts are kept as the text found in the file.
type FileHeader struct {
	// --- Fixed-width fields ---
	ControlID       string `json:"control_id"`
	FieldID         string `json:"field_id"`
	FileDate        string `json:"file_date"` // YYDDD
	BankCode        string `json:"bank_code"`
	NumBatches      string `json:"num_batches"`
	NumTransactions string `json:"num_transactions"`

	// --- Persistence metadata ---
	ID       int64  `json:"id,omitempty"`
	Status   Status `json:"status,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

func (*FileHeader) Marker() string { return MarkerFileHeader }

// BranchHeader is the 4444 record. Its declared totals must equal what the
// reconciler computes over the branch's transactions.
type BranchHeader struct {
	ControlID        string `json:"control_id"`
	FieldID          string `json:"field_id"`
	FileDate         string `json:"file_date"`
	BankCode         string `json:"bank_code"`
	BranchCode       string `json:"branch_code"`
	CreditTotal      string `json:"credit_total"`
	NumCreditItems   string `json:"num_credit_items"`
	DebitTotal       string `json:"debit_total"`
	NumDebitItems    string `json:"num_debit_items"`
	AccountHashTotal string `json:"account_hash_total"`

	ID       int64  `json:"id,omitempty"`
	Status   Status `json:"status,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

func (*BranchHeader) Marker() string { return MarkerBranchHeader }

// Transaction is the 0000 record. Nullable fields are empty strings when absent.
type Transaction struct {
	TransactionID      string `json:"transaction_id"`
	DestBankNo         string `json:"dest_bank_no"`
	DestBranchNo       string `json:"dest_branch_no"`
	DestAccountNo      string `json:"dest_account_no"`
	DestAccountName    string `json:"dest_account_name"`
	TxCode             string `json:"tx_code"`
	ReturnCode         string `json:"return_code,omitempty"`
	OrigTxDate         string `json:"orig_tx_date,omitempty"` // YYMMDD
	Amount             Amount `json:"amount"`
	CurrencyCode       string `json:"currency_code"`
	OrigBankNo         string `json:"orig_bank_no"`
	OrigBranchNo       string `json:"orig_branch_no"`
	OrigAccountNo      string `json:"orig_account_no"`
	OrigAccountName    string `json:"orig_account_name"`
	Particulars        string `json:"particulars,omitempty"`
	Reference          string `json:"reference,omitempty"`
	ValueDate          string `json:"value_date"` // YYMMDD
	SecurityCheckField string `json:"security_check_field,omitempty"`

	ID         int64  `json:"id,omitempty"`
	Status     Status `json:"status,omitempty"`
	BranchCode string `json:"branch_code,omitempty"` // owning branch header
	FileName   string `json:"file_name,omitempty"`
}

func (*Transaction) Marker() string { return MarkerTransaction }

// Branch is a branch header together with the transactions it owns.
type Branch struct {
	Header       BranchHeader  `json:"header"`
	Transactions []Transaction `json:"transactions"`
}

// SlipFile is a whole parsed or assembled SLIP file.
type SlipFile struct {
	Name     string     `json:"name"`
	Header   FileHeader `json:"header"`
	Branches []Branch   `json:"branches"`
}

// TransactionCount returns the number of transaction records across all branches.
func (f *SlipFile) TransactionCount() int {
	n := 0
	for _, b := range f.Branches {
		n += len(b.Transactions)
	}
	return n
}

// Branch returns the branch with the given branch code, or nil.
func (f *SlipFile) Branch(code string) *Branch {
	for i := range f.Branches {
		if f.Branches[i].Header.BranchCode == code {
			return &f.Branches[i]
		}
	}
	return nil
}
