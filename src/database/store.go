package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/username/slips/src/logger"
	"github.com/username/slips/src/models"
)

// queryer is satisfied by *sql.Conn and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const fileColumns = `id, file_name, control_id, field_id, file_date, bank_code, num_batches, num_transactions, status`

const branchColumns = `id, file_name, control_id, field_id, file_date, bank_code, branch_code,
	credit_total, num_credit_items, debit_total, num_debit_items, account_hash_total, status`

const txColumns = `id, file_name, branch_code, transaction_id, dest_bank_no, dest_branch_no, dest_account_no,
	dest_account_name, tx_code, return_code, orig_tx_date, amount, amount_minor, currency_code,
	orig_bank_no, orig_branch_no, orig_account_no, orig_account_name, particulars, reference,
	value_date, security_check_field, status`

// ReplaceFile clears any rows previously stored under file.Name and inserts the
// whole file in one transaction. IDs are written back into file.
func (s *Store) ReplaceFile(ctx context.Context, dir models.Direction, file *models.SlipFile) error {
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := deleteFile(ctx, tx, dir, file.Name); err != nil {
			return err
		}
		return insertFile(ctx, tx, dir, file)
	})
	if err != nil {
		return fmt.Errorf("store %s file %q: %w", dir, file.Name, err)
	}
	logger.L.Info("File stored", "direction", dir, "fileName", file.Name,
		"branches", len(file.Branches), "transactions", file.TransactionCount())
	return nil
}

// LoadFile reads a stored file with its branches and transactions in insertion order.
func (s *Store) LoadFile(ctx context.Context, dir models.Direction, fileName string) (*models.SlipFile, error) {
	var file *models.SlipFile
	err := s.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var err error
		file, err = loadFile(ctx, conn, dir, fileName)
		return err
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// ListFiles returns the stored file headers of one direction.
func (s *Store) ListFiles(ctx context.Context, dir models.Direction) ([]models.FileHeader, error) {
	var headers []models.FileHeader
	err := s.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT `+fileColumns+` FROM `+fileTable(dir)+` ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		headers = headers[:0]
		for rows.Next() {
			var h models.FileHeader
			if err := scanFileHeader(rows, &h); err != nil {
				return err
			}
			headers = append(headers, h)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list %s files: %w", dir, err)
	}
	return headers, nil
}

// SaveFile writes back the mutable state of a stored file: header counts and status,
// branch totals and status, and each transaction's code, stamps and status.
func (s *Store) SaveFile(ctx context.Context, dir models.Direction, file *models.SlipFile) error {
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		h := &file.Header
		if _, err := tx.ExecContext(ctx, `UPDATE `+fileTable(dir)+`
			SET num_batches = ?, num_transactions = ?, status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE file_name = ?`, h.NumBatches, h.NumTransactions, h.Status, file.Name); err != nil {
			return err
		}
		for bi := range file.Branches {
			b := &file.Branches[bi]
			if err := updateBranch(ctx, tx, dir, &b.Header); err != nil {
				return err
			}
			for ti := range b.Transactions {
				if err := updateTransaction(ctx, tx, dir, &b.Transactions[ti]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s file %q: %w", dir, file.Name, err)
	}
	return nil
}

// SetFileStatus sets status on every row of a file.
func (s *Store) SetFileStatus(ctx context.Context, dir models.Direction, fileName string, status models.Status) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{fileTable(dir), branchTable(dir), txTable(dir)} {
			if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE file_name = ?`,
				status, fileName); err != nil {
				return err
			}
		}
		return nil
	})
}

// StageFromInward copies an inward file into the outward tables under outwardName,
// replacing any outward rows of that name. Copied rows start as pending.
func (s *Store) StageFromInward(ctx context.Context, inwardName, outwardName string) error {
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+fileTable(models.Inward)+` WHERE file_name = ?`, inwardName).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("%w: inward %q", models.ErrFileNotFound, inwardName)
		}
		if err := deleteFile(ctx, tx, models.Outward, outwardName); err != nil {
			return err
		}
		pending := models.StatusPending
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+fileTable(models.Outward)+`
			(file_name, control_id, field_id, file_date, bank_code, num_batches, num_transactions, status)
			SELECT ?, control_id, field_id, file_date, bank_code, num_batches, num_transactions, ?
			FROM `+fileTable(models.Inward)+` WHERE file_name = ?`, outwardName, pending, inwardName); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+branchTable(models.Outward)+`
			(file_name, control_id, field_id, file_date, bank_code, branch_code, credit_total, num_credit_items,
			 debit_total, num_debit_items, account_hash_total, status)
			SELECT ?, control_id, field_id, file_date, bank_code, branch_code, credit_total, num_credit_items,
			 debit_total, num_debit_items, account_hash_total, ?
			FROM `+branchTable(models.Inward)+` WHERE file_name = ? ORDER BY id`, outwardName, pending, inwardName); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO `+txTable(models.Outward)+`
			(file_name, branch_code, transaction_id, dest_bank_no, dest_branch_no, dest_account_no, dest_account_name,
			 tx_code, return_code, orig_tx_date, amount, amount_minor, currency_code, orig_bank_no, orig_branch_no,
			 orig_account_no, orig_account_name, particulars, reference, value_date, security_check_field, status)
			SELECT ?, branch_code, transaction_id, dest_bank_no, dest_branch_no, dest_account_no, dest_account_name,
			 tx_code, return_code, orig_tx_date, amount, amount_minor, currency_code, orig_bank_no, orig_branch_no,
			 orig_account_no, orig_account_name, particulars, reference, value_date, NULL, ?
			FROM `+txTable(models.Inward)+` WHERE file_name = ? ORDER BY id`, outwardName, pending, inwardName)
		return err
	})
	if err != nil {
		return fmt.Errorf("stage %q from inward %q: %w", outwardName, inwardName, err)
	}
	logger.L.Info("Outward file staged from inward", "inward", inwardName, "outward", outwardName)
	return nil
}

func deleteFile(ctx context.Context, q queryer, dir models.Direction, fileName string) error {
	for _, table := range []string{txTable(dir), branchTable(dir), fileTable(dir)} {
		if _, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE file_name = ?`, fileName); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func insertFile(ctx context.Context, q queryer, dir models.Direction, file *models.SlipFile) error {
	h := &file.Header
	res, err := q.ExecContext(ctx, `INSERT INTO `+fileTable(dir)+`
		(file_name, control_id, field_id, file_date, bank_code, num_batches, num_transactions, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		file.Name, h.ControlID, h.FieldID, h.FileDate, h.BankCode, h.NumBatches, h.NumTransactions, h.Status)
	if err != nil {
		return fmt.Errorf("insert file header: %w", err)
	}
	h.ID, _ = res.LastInsertId()
	h.FileName = file.Name

	for bi := range file.Branches {
		b := &file.Branches[bi]
		bh := &b.Header
		res, err := q.ExecContext(ctx, `INSERT INTO `+branchTable(dir)+`
			(file_name, control_id, field_id, file_date, bank_code, branch_code, credit_total, num_credit_items,
			 debit_total, num_debit_items, account_hash_total, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			file.Name, bh.ControlID, bh.FieldID, bh.FileDate, bh.BankCode, bh.BranchCode, bh.CreditTotal,
			bh.NumCreditItems, bh.DebitTotal, bh.NumDebitItems, bh.AccountHashTotal, bh.Status)
		if err != nil {
			return fmt.Errorf("insert branch %s: %w", bh.BranchCode, err)
		}
		bh.ID, _ = res.LastInsertId()
		bh.FileName = file.Name

		for ti := range b.Transactions {
			t := &b.Transactions[ti]
			res, err := q.ExecContext(ctx, `INSERT INTO `+txTable(dir)+`
				(file_name, branch_code, transaction_id, dest_bank_no, dest_branch_no, dest_account_no, dest_account_name,
				 tx_code, return_code, orig_tx_date, amount, amount_minor, currency_code, orig_bank_no, orig_branch_no,
				 orig_account_no, orig_account_name, particulars, reference, value_date, security_check_field, status)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				file.Name, bh.BranchCode, t.TransactionID, t.DestBankNo, t.DestBranchNo, t.DestAccountNo, t.DestAccountName,
				t.TxCode, nullable(t.ReturnCode), nullable(t.OrigTxDate), t.Amount.Text, t.Amount.Minor, t.CurrencyCode,
				t.OrigBankNo, t.OrigBranchNo, t.OrigAccountNo, t.OrigAccountName, nullable(t.Particulars),
				nullable(t.Reference), t.ValueDate, nullable(t.SecurityCheckField), t.Status)
			if err != nil {
				return fmt.Errorf("insert transaction %s: %w", t.TransactionID, err)
			}
			t.ID, _ = res.LastInsertId()
			t.FileName = file.Name
			t.BranchCode = bh.BranchCode
		}
	}
	return nil
}

func loadFile(ctx context.Context, q queryer, dir models.Direction, fileName string) (*models.SlipFile, error) {
	file := &models.SlipFile{Name: fileName}
	row := q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM `+fileTable(dir)+` WHERE file_name = ?`, fileName)
	if err := scanFileHeader(row, &file.Header); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %q", models.ErrFileNotFound, dir, fileName)
		}
		return nil, err
	}

	branchRows, err := q.QueryContext(ctx, `SELECT `+branchColumns+` FROM `+branchTable(dir)+` WHERE file_name = ? ORDER BY id`, fileName)
	if err != nil {
		return nil, err
	}
	index := map[string]int{}
	for branchRows.Next() {
		var h models.BranchHeader
		if err := branchRows.Scan(&h.ID, &h.FileName, &h.ControlID, &h.FieldID, &h.FileDate, &h.BankCode, &h.BranchCode,
			&h.CreditTotal, &h.NumCreditItems, &h.DebitTotal, &h.NumDebitItems, &h.AccountHashTotal, &h.Status); err != nil {
			branchRows.Close()
			return nil, err
		}
		index[h.BranchCode] = len(file.Branches)
		file.Branches = append(file.Branches, models.Branch{Header: h})
	}
	branchRows.Close()
	if err := branchRows.Err(); err != nil {
		return nil, err
	}

	txRows, err := q.QueryContext(ctx, `SELECT `+txColumns+` FROM `+txTable(dir)+` WHERE file_name = ? ORDER BY id`, fileName)
	if err != nil {
		return nil, err
	}
	defer txRows.Close()
	for txRows.Next() {
		var t models.Transaction
		var returnCode, origTxDate, particulars, reference, security sql.NullString
		if err := txRows.Scan(&t.ID, &t.FileName, &t.BranchCode, &t.TransactionID, &t.DestBankNo, &t.DestBranchNo,
			&t.DestAccountNo, &t.DestAccountName, &t.TxCode, &returnCode, &origTxDate, &t.Amount.Text, &t.Amount.Minor,
			&t.CurrencyCode, &t.OrigBankNo, &t.OrigBranchNo, &t.OrigAccountNo, &t.OrigAccountName, &particulars,
			&reference, &t.ValueDate, &security, &t.Status); err != nil {
			return nil, err
		}
		t.ReturnCode, t.OrigTxDate = returnCode.String, origTxDate.String
		t.Particulars, t.Reference, t.SecurityCheckField = particulars.String, reference.String, security.String
		i, ok := index[t.BranchCode]
		if !ok {
			return nil, fmt.Errorf("transaction %s references unknown branch %s", t.TransactionID, t.BranchCode)
		}
		file.Branches[i].Transactions = append(file.Branches[i].Transactions, t)
	}
	return file, txRows.Err()
}

func updateBranch(ctx context.Context, q queryer, dir models.Direction, h *models.BranchHeader) error {
	_, err := q.ExecContext(ctx, `UPDATE `+branchTable(dir)+`
		SET credit_total = ?, num_credit_items = ?, debit_total = ?, num_debit_items = ?, account_hash_total = ?,
		    status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		h.CreditTotal, h.NumCreditItems, h.DebitTotal, h.NumDebitItems, h.AccountHashTotal, h.Status, h.ID)
	if err != nil {
		return fmt.Errorf("update branch %s: %w", h.BranchCode, err)
	}
	return nil
}

func updateTransaction(ctx context.Context, q queryer, dir models.Direction, t *models.Transaction) error {
	_, err := q.ExecContext(ctx, `UPDATE `+txTable(dir)+`
		SET tx_code = ?, value_date = ?, security_check_field = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		t.TxCode, t.ValueDate, nullable(t.SecurityCheckField), t.Status, t.ID)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", t.TransactionID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileHeader(r rowScanner, h *models.FileHeader) error {
	return r.Scan(&h.ID, &h.FileName, &h.ControlID, &h.FieldID, &h.FileDate, &h.BankCode,
		&h.NumBatches, &h.NumTransactions, &h.Status)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
