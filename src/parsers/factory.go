// src/parsers/factory.go
package parsers

import (
	"fmt"

	"github.com/username/slips/src/models"
	"github.com/username/slips/src/parsers/slip"
)

// Both directions share one record layout; the direction only decides the initial status.
func GetParser(direction models.Direction) (Parser, error) {
	switch direction {
	case models.Inward, models.Outward:
		return slip.NewParser(direction), nil
	default:
		return nil, fmt.Errorf("no parser available for direction: %s", direction)
	}
}
