package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountWidth is the width of the amount field in a transaction record.
const AmountWidth = 12

// MinorUnitExponent is the number of decimal places implied by the minor-unit value.
const MinorUnitExponent = 2

// Amount keeps the fixed-width text and the integer minor-unit value together.
// Arithmetic always uses Minor. Text is the field as received, or the projection
// of Minor for amounts built in code.
type Amount struct {
	Text  string `json:"text"`
	Minor int64  `json:"minor"`
}

// NewAmount builds an Amount whose text is the zero-padded projection of minor.
func NewAmount(minor int64) Amount {
	return Amount{Text: fmt.Sprintf("%0*d", AmountWidth, minor), Minor: minor}
}

// Field returns the text written to a record: Text while it still encodes Minor,
// otherwise the zero-padded projection of Minor.
func (a Amount) Field() string {
	if len(a.Text) == AmountWidth {
		if v, err := strconv.ParseInt(strings.TrimSpace(a.Text), 10, 64); err == nil && v == a.Minor {
			return a.Text
		}
	}
	return NewAmount(a.Minor).Text
}

// IsZero reports whether the amount has no value.
func (a Amount) IsZero() bool { return a.Minor == 0 }

// Decimal returns the amount in major units, e.g. 150075 -> 1500.75.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(a.Minor, -MinorUnitExponent)
}
