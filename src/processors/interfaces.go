package processors

import (
	"time"

	"github.com/username/slips/src/models"
)

// TransactionClassifier determines the polarity of a transaction, applying one
// mapping pass for codes absent from the master table.
type TransactionClassifier interface {
	Classify(tx *models.Transaction, ref *models.ReferenceData) (models.Polarity, error)
}

// TotalsReconciler computes branch totals and compares them with the declared header.
type TotalsReconciler interface {
	Compute(txs []models.Transaction, master models.CodeMaster) (models.BranchTotals, error)
	Reconcile(header *models.BranchHeader, txs []models.Transaction, master models.CodeMaster) (models.BranchReconciliation, error)
}

// SecurityFormula computes the 6-digit Security Check Field of one transaction.
// Implementations must be pure: identical inputs yield identical output.
type SecurityFormula interface {
	Name() string
	Compute(originAccount, destAccount, txCode string, amount models.Amount) string
}

// ValueDateAdvisor suggests the value date for an outward batch.
type ValueDateAdvisor interface {
	Suggest(now time.Time, batch models.BatchType, holidays models.HolidayCalendar) time.Time
}
