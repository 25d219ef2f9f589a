// src/processors/classifier.go
package processors

import (
	"fmt"

	"github.com/username/slips/src/models"
)

// Classify is a pure lookup of code in the master table.
func Classify(code string, master models.CodeMaster) (models.Polarity, error) {
	p, ok := master[code]
	if !ok {
		return "", fmt.Errorf("%w: %q", models.ErrUnknownCode, code)
	}
	return p, nil
}

// Resolve returns the mapped replacement for code, or code itself when no mapping exists.
func Resolve(code string, mappings models.CodeMapping) string {
	if mapped, ok := mappings[code]; ok {
		return mapped
	}
	return code
}

type transactionClassifierImpl struct{}

func NewTransactionClassifier() TransactionClassifier {
	return &transactionClassifierImpl{}
}

// Classify classifies tx. When its code is unknown, the mapping table is consulted
// once; a mapped code replaces tx.TxCode. A code still unknown after that pass
// fails with a CodeError wrapping ErrUnresolvableCode.
func (c *transactionClassifierImpl) Classify(tx *models.Transaction, ref *models.ReferenceData) (models.Polarity, error) {
	p, err := Classify(tx.TxCode, ref.Master)
	if err == nil {
		return p, nil
	}

	mapped := Resolve(tx.TxCode, ref.Mappings)
	p, err = Classify(mapped, ref.Master)
	if err != nil {
		return "", &models.CodeError{
			FileName:      tx.FileName,
			BranchCode:    tx.BranchCode,
			TransactionID: tx.TransactionID,
			Code:          tx.TxCode,
			Err:           models.ErrUnresolvableCode,
		}
	}
	tx.TxCode = mapped
	return p, nil
}
