package processors

import (
	"fmt"

	"github.com/username/slips/src/models"
	"github.com/username/slips/src/utils"
)

// ValidateOutward checks that both account numbers of an outward transaction are
// all-numeric. A failure makes the transaction invalid for release; it never halts a run.
func ValidateOutward(tx *models.Transaction) error {
	if !utils.IsNumeric(tx.DestAccountNo) {
		return fmt.Errorf("%w: destination account %q", models.ErrNonNumericAccount, tx.DestAccountNo)
	}
	if !utils.IsNumeric(tx.OrigAccountNo) {
		return fmt.Errorf("%w: origin account %q", models.ErrNonNumericAccount, tx.OrigAccountNo)
	}
	return nil
}

// InvalidFor builds the report row for a transaction rejected by ValidateOutward.
func InvalidFor(tx *models.Transaction, reason string, err error) models.InvalidTransaction {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return models.InvalidTransaction{
		FileName:      tx.FileName,
		BranchCode:    tx.BranchCode,
		TransactionID: tx.TransactionID,
		Reason:        reason,
		Detail:        detail,
		DestAccountNo: tx.DestAccountNo,
		OrigAccountNo: tx.OrigAccountNo,
		Amount:        tx.Amount,
	}
}
