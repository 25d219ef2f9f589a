// Package reports renders the invalid-transaction and excluded-branch reports of a recreation run.
package reports

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/username/slips/src/models"
	"github.com/username/slips/src/security/validation"
)

const (
	InvalidSheet  = "Invalid Transactions"
	ExcludedSheet = "Excluded Branches"
)

var (
	invalidColumns  = []string{"File", "Branch", "Transaction", "Reason", "Destination Account", "Origin Account", "Amount", "Detail"}
	excludedColumns = []string{"File", "Branch", "Reason", "Mismatches"}
)

// Report lists what a run kept out of its released file.
type Report struct {
	RunID    string                      `json:"run_id"`
	FileName string                      `json:"file_name"`
	State    models.RunState             `json:"state"`
	Invalid  []models.InvalidTransaction `json:"invalid_transactions"`
	Excluded []models.ExcludedBranch     `json:"excluded_branches"`
}

// Build assembles a report from a run's outcome.
func Build(runID, fileName string, state models.RunState, invalid []models.InvalidTransaction, excluded []models.ExcludedBranch) Report {
	r := Report{RunID: runID, FileName: fileName, State: state,
		Invalid: make([]models.InvalidTransaction, 0, len(invalid)), Excluded: make([]models.ExcludedBranch, 0, len(excluded))}
	r.Invalid = append(r.Invalid, invalid...)
	r.Excluded = append(r.Excluded, excluded...)
	return r
}

// InvalidRows returns one row per invalid transaction, in invalidColumns order.
func (r Report) InvalidRows() [][]interface{} {
	rows := make([][]interface{}, 0, len(r.Invalid))
	for _, inv := range r.Invalid {
		rows = append(rows, []interface{}{
			cell(inv.FileName), cell(inv.BranchCode), cell(inv.TransactionID), cell(inv.Reason),
			cell(inv.DestAccountNo), cell(inv.OrigAccountNo), inv.Amount.Decimal().InexactFloat64(), cell(inv.Detail),
		})
	}
	return rows
}

// ExcludedRows returns one row per excluded branch, in excludedColumns order.
func (r Report) ExcludedRows() [][]interface{} {
	rows := make([][]interface{}, 0, len(r.Excluded))
	for _, ex := range r.Excluded {
		rows = append(rows, []interface{}{
			cell(ex.FileName), cell(ex.BranchCode), cell(ex.Reason), cell(describeMismatches(ex.Mismatches)),
		})
	}
	return rows
}

func describeMismatches(ms []models.FieldMismatch) string {
	parts := make([]string, 0, len(ms))
	for _, m := range ms {
		parts = append(parts, fmt.Sprintf("%s declared %s computed %s", m.Field, m.Declared, m.Computed))
	}
	return strings.Join(parts, "; ")
}

// cell keeps account names and free text from being evaluated as spreadsheet formulas.
func cell(s string) string {
	return validation.SanitizeForFormulaInjection(validation.StripUnprintable(s))
}

// WriteExcel writes the report as an .xlsx workbook with one sheet per section.
func WriteExcel(w io.Writer, r Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", InvalidSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(ExcludedSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	amount, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return fmt.Errorf("create amount style: %w", err)
	}

	if err := writeSheet(f, InvalidSheet, invalidColumns, r.InvalidRows(), header); err != nil {
		return err
	}
	if n := len(r.Invalid); n > 0 {
		if err := f.SetCellStyle(InvalidSheet, "G2", fmt.Sprintf("G%d", n+1), amount); err != nil {
			return err
		}
	}
	if err := writeSheet(f, ExcludedSheet, excludedColumns, r.ExcludedRows(), header); err != nil {
		return err
	}
	return f.Write(w)
}

func writeSheet(f *excelize.File, sheet string, columns []string, rows [][]interface{}, headerStyle int) error {
	headerRow := make([]interface{}, len(columns))
	for i, c := range columns {
		headerRow[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(columns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}
	for i := range rows {
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, addr, &rows[i]); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}
	lastCol, err := excelize.ColumnNumberToName(len(columns))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", lastCol, 20)
}
