// src/processors/reconciler.go
package processors

import (
	"strconv"

	"github.com/username/slips/src/models"
	"github.com/username/slips/src/parsers/slip"
	"github.com/username/slips/src/utils"
)

type totalsReconcilerImpl struct{}

func NewTotalsReconciler() TotalsReconciler {
	return &totalsReconcilerImpl{}
}

// Compute sums credit and debit amounts and counts by polarity, and the account hash
// over the numeric destination accounts. Codes must already be resolved.
func (r *totalsReconcilerImpl) Compute(txs []models.Transaction, master models.CodeMaster) (models.BranchTotals, error) {
	var totals models.BranchTotals
	for i := range txs {
		tx := &txs[i]
		p, err := Classify(tx.TxCode, master)
		if err != nil {
			return models.BranchTotals{}, &models.CodeError{
				FileName:      tx.FileName,
				BranchCode:    tx.BranchCode,
				TransactionID: tx.TransactionID,
				Code:          tx.TxCode,
				Err:           err,
			}
		}
		switch p {
		case models.Credit:
			totals.CreditTotal += tx.Amount.Minor
			totals.CreditCount++
		case models.Debit:
			totals.DebitTotal += tx.Amount.Minor
			totals.DebitCount++
		}
		totals.AccountHash = (totals.AccountHash + accountHashValue(tx.DestAccountNo)) % models.AccountHashModulus
	}
	return totals, nil
}

// Reconcile compares the computed totals with the declared header values as they
// would appear formatted. A mismatch is reported, never corrected.
func (r *totalsReconcilerImpl) Reconcile(header *models.BranchHeader, txs []models.Transaction, master models.CodeMaster) (models.BranchReconciliation, error) {
	totals, err := r.Compute(txs, master)
	if err != nil {
		return models.BranchReconciliation{}, err
	}
	result := models.BranchReconciliation{
		BranchCode: header.BranchCode,
		Computed:   totals,
		ZeroValue:  totals.IsZero(),
	}
	for _, c := range branchComparisons(header, totals) {
		if m, ok := compareField(models.MarkerBranchHeader, c.field, c.declared, c.computed); !ok {
			result.Mismatches = append(result.Mismatches, m)
		}
	}
	return result, nil
}

// ReconcileFileHeader compares the declared batch and transaction counts.
func ReconcileFileHeader(header *models.FileHeader, numBatches, numTransactions int) []models.FieldMismatch {
	var mismatches []models.FieldMismatch
	if m, ok := compareField(models.MarkerFileHeader, "NumBatches", header.NumBatches, int64(numBatches)); !ok {
		mismatches = append(mismatches, m)
	}
	if m, ok := compareField(models.MarkerFileHeader, "NumTransactions", header.NumTransactions, int64(numTransactions)); !ok {
		mismatches = append(mismatches, m)
	}
	return mismatches
}

// RestateBranchHeader overwrites the declared totals with totals.
func RestateBranchHeader(header *models.BranchHeader, totals models.BranchTotals) error {
	for _, c := range branchComparisons(header, totals) {
		v, err := slip.FormatNumeric(c.computed, slip.Width(models.MarkerBranchHeader, c.field))
		if err != nil {
			return err
		}
		*c.target = v
	}
	return nil
}

// RestateFileHeader overwrites the declared counts with what is physically emitted.
func RestateFileHeader(header *models.FileHeader, numBatches, numTransactions int) error {
	batches, err := slip.FormatNumeric(int64(numBatches), slip.Width(models.MarkerFileHeader, "NumBatches"))
	if err != nil {
		return err
	}
	txs, err := slip.FormatNumeric(int64(numTransactions), slip.Width(models.MarkerFileHeader, "NumTransactions"))
	if err != nil {
		return err
	}
	header.NumBatches, header.NumTransactions = batches, txs
	return nil
}

type comparison struct {
	field    string
	declared string
	computed int64
	target   *string
}

func branchComparisons(h *models.BranchHeader, t models.BranchTotals) []comparison {
	return []comparison{
		{"CreditTotal", h.CreditTotal, t.CreditTotal, &h.CreditTotal},
		{"NumCreditItems", h.NumCreditItems, int64(t.CreditCount), &h.NumCreditItems},
		{"DebitTotal", h.DebitTotal, t.DebitTotal, &h.DebitTotal},
		{"NumDebitItems", h.NumDebitItems, int64(t.DebitCount), &h.NumDebitItems},
		{"AccountHashTotal", h.AccountHashTotal, t.AccountHash, &h.AccountHashTotal},
	}
}

func compareField(marker, field, declared string, computed int64) (models.FieldMismatch, bool) {
	width := slip.Width(marker, field)
	want := slip.NormalizeNumeric(declared, width)
	got, err := slip.FormatNumeric(computed, width)
	if err != nil {
		got = strconv.FormatInt(computed, 10)
	}
	if want == got {
		return models.FieldMismatch{}, true
	}
	return models.FieldMismatch{Field: field, Declared: want, Computed: got}, false
}

// accountHashValue is the numeric value of an account; non-numeric accounts contribute nothing.
func accountHashValue(account string) int64 {
	if !utils.IsNumeric(account) {
		return 0
	}
	v, err := utils.ParseDigits(account)
	if err != nil {
		return 0
	}
	return v % models.AccountHashModulus
}
