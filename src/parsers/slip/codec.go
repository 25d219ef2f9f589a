// codec.go converts between fixed-width lines and typed SLIP records.

package slip

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/username/slips/src/models"
)

// Parse decodes one fixed-width line, dispatching on its marker.
func Parse(line string) (models.Record, error) {
	if len(line) < markerWidth {
		return nil, fmt.Errorf("%w: line shorter than marker: %q", models.ErrMalformedMarker, line)
	}
	marker := line[:markerWidth]
	switch marker {
	case models.MarkerFileHeader, models.MarkerBranchHeader, models.MarkerTransaction:
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrMalformedMarker, marker)
	}
	if len(line) != RecordWidth {
		return nil, fmt.Errorf("%w: record width %d, want %d", models.ErrMalformedRecord, len(line), RecordWidth)
	}

	body := line[markerWidth:]
	switch marker {
	case models.MarkerFileHeader:
		h := &models.FileHeader{}
		if err := decode(body, fileHeaderLayout, fileHeaderBindings(h), nil); err != nil {
			return nil, err
		}
		return h, nil
	case models.MarkerBranchHeader:
		h := &models.BranchHeader{}
		if err := decode(body, branchHeaderLayout, branchHeaderBindings(h), nil); err != nil {
			return nil, err
		}
		return h, nil
	default:
		t := &models.Transaction{}
		if err := decode(body, transactionLayout, transactionBindings(t), &t.Amount); err != nil {
			return nil, err
		}
		return t, nil
	}
}

// Format encodes a record into its exact fixed-width line.
func Format(rec models.Record) (string, error) {
	var (
		layout []Field
		fields []*string
		amount *models.Amount
	)
	switch r := rec.(type) {
	case *models.FileHeader:
		layout, fields = fileHeaderLayout, fileHeaderBindings(r)
	case *models.BranchHeader:
		layout, fields = branchHeaderLayout, branchHeaderBindings(r)
	case *models.Transaction:
		layout, fields, amount = transactionLayout, transactionBindings(r), &r.Amount
	default:
		return "", fmt.Errorf("%w: unsupported record type %T", models.ErrMalformedMarker, rec)
	}

	var b strings.Builder
	b.Grow(RecordWidth)
	b.WriteString(rec.Marker())
	for i, f := range layout {
		var value string
		switch {
		case f.Kind == kindAmount:
			value = amount.Field()
		case fields[i] != nil:
			value = *fields[i]
		}
		formatted, err := formatValue(value, f)
		if err != nil {
			return "", err
		}
		b.WriteString(formatted)
	}
	return b.String(), nil
}

// MustFormat is Format for records the caller has already validated.
func MustFormat(rec models.Record) string {
	line, err := Format(rec)
	if err != nil {
		panic(err)
	}
	return line
}

func decode(body string, layout []Field, fields []*string, amount *models.Amount) error {
	pos := 0
	for i, f := range layout {
		raw := body[pos : pos+f.Length]
		pos += f.Length
		switch f.Kind {
		case kindBlank:
			continue
		case kindAmount:
			s := strings.TrimSpace(raw)
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: field %s value %q", models.ErrNonNumericAmount, f.Name, raw)
			}
			*amount = models.Amount{Text: raw, Minor: v}
		default:
			*fields[i] = strings.TrimRight(raw, " ")
		}
	}
	return nil
}

// formatValue pads a value to its field width. Nullable fields with no value are spaces.
func formatValue(value string, f Field) (string, error) {
	if f.Kind == kindBlank {
		return strings.Repeat(" ", f.Length), nil
	}
	if len(value) > f.Length {
		return "", fmt.Errorf("%w: field %s value %q exceeds %d", models.ErrFieldOverflow, f.Name, value, f.Length)
	}
	if value == "" && f.Nullable {
		return strings.Repeat(" ", f.Length), nil
	}
	if f.Kind == kindText {
		return padRight(value, f.Length, ' '), nil
	}
	return padLeft(value, f.Length, '0'), nil
}

// FormatNumeric renders a non-negative integer zero-padded to width.
func FormatNumeric(v int64, width int) (string, error) {
	if v < 0 {
		return "", fmt.Errorf("%w: negative value %d in unsigned field", models.ErrFieldOverflow, v)
	}
	s := strconv.FormatInt(v, 10)
	if len(s) > width {
		return "", fmt.Errorf("%w: %d exceeds %d digits", models.ErrFieldOverflow, v, width)
	}
	return padLeft(s, width, '0'), nil
}

// NormalizeNumeric left-pads trimmed numeric text to width with zeros, the form
// a declared header value takes once formatted.
func NormalizeNumeric(s string, width int) string {
	return padLeft(strings.TrimSpace(s), width, '0')
}

// padLeft pads a string on the left to reach the specified length.
func padLeft(s string, length int, pad byte) string {
	if len(s) >= length {
		return s
	}
	return strings.Repeat(string(pad), length-len(s)) + s
}

// padRight pads a string on the right to reach the specified length.
func padRight(s string, length int, pad byte) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(string(pad), length-len(s))
}
