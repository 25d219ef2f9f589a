package slip

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/username/slips/src/models"
)

// ReadFile parses a whole SLIP file. Records may be newline separated (LF or CRLF)
// or concatenated without separators. Any structural error aborts the whole file.
func ReadFile(r io.Reader, fileName string) (*models.SlipFile, error) {
	lines, err := splitRecords(r, fileName)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, malformed(fileName, 0, "", "file is empty")
	}

	file := &models.SlipFile{Name: fileName}
	current := -1
	for i, line := range lines {
		lineNo := i + 1
		rec, err := Parse(line)
		if err != nil {
			return nil, wrapRecordError(fileName, lineNo, line, err)
		}
		switch v := rec.(type) {
		case *models.FileHeader:
			if lineNo != 1 {
				return nil, malformed(fileName, lineNo, v.Marker(), "duplicate file header")
			}
			v.FileName = fileName
			file.Header = *v
		case *models.BranchHeader:
			if lineNo == 1 {
				return nil, malformed(fileName, lineNo, v.Marker(), "first record is not a file header")
			}
			v.FileName = fileName
			file.Branches = append(file.Branches, models.Branch{Header: *v})
			current = len(file.Branches) - 1
		case *models.Transaction:
			if lineNo == 1 {
				return nil, malformed(fileName, lineNo, v.Marker(), "first record is not a file header")
			}
			if current < 0 {
				return nil, malformed(fileName, lineNo, v.Marker(), "transaction before any branch header")
			}
			v.FileName = fileName
			b := &file.Branches[current]
			v.BranchCode = b.Header.BranchCode
			b.Transactions = append(b.Transactions, *v)
		}
	}
	return file, nil
}

// WriteFile writes each record of a file as one line.
func WriteFile(w io.Writer, lines []string) error {
	bw := bufio.NewWriter(w)
	for _, line := range lines {
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// FormatFile renders a file in record order: file header, then each branch header
// followed by its transactions.
func FormatFile(file *models.SlipFile) ([]string, error) {
	lines := make([]string, 0, 1+len(file.Branches)+file.TransactionCount())
	line, err := Format(&file.Header)
	if err != nil {
		return nil, fmt.Errorf("file header of %q: %w", file.Name, err)
	}
	lines = append(lines, line)
	for bi := range file.Branches {
		b := &file.Branches[bi]
		line, err := Format(&b.Header)
		if err != nil {
			return nil, fmt.Errorf("branch %s of %q: %w", b.Header.BranchCode, file.Name, err)
		}
		lines = append(lines, line)
		for ti := range b.Transactions {
			line, err := Format(&b.Transactions[ti])
			if err != nil {
				return nil, fmt.Errorf("transaction %s of %q: %w", b.Transactions[ti].TransactionID, file.Name, err)
			}
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func splitRecords(r io.Reader, fileName string) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	var records []string
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch {
		case len(line) <= RecordWidth:
			records = append(records, padRight(line, RecordWidth, ' '))
		case len(line)%RecordWidth == 0:
			for off := 0; off < len(line); off += RecordWidth {
				records = append(records, line[off:off+RecordWidth])
			}
		default:
			return nil, malformed(fileName, lineNo, line[:markerWidth],
				fmt.Sprintf("line width %d is not a multiple of %d", len(line), RecordWidth))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %q: %w", fileName, err)
	}
	return records, nil
}

func malformed(fileName string, lineNo int, marker, detail string) error {
	return &models.RecordError{
		FileName: fileName,
		Line:     lineNo,
		Marker:   marker,
		Err:      fmt.Errorf("%w: %s", models.ErrMalformedRecord, detail),
	}
}

func wrapRecordError(fileName string, lineNo int, line string, err error) error {
	marker := line
	if len(marker) > markerWidth {
		marker = marker[:markerWidth]
	}
	var recErr *models.RecordError
	if errors.As(err, &recErr) {
		return err
	}
	return &models.RecordError{FileName: fileName, Line: lineNo, Marker: marker, Err: err}
}
