package slip

import (
	"io"

	"github.com/username/slips/src/models"
)

// SlipParser reads SLIP files for one direction and stamps the initial row status.
type SlipParser struct {
	direction models.Direction
}

func NewParser(direction models.Direction) *SlipParser {
	return &SlipParser{direction: direction}
}

// Parse reads the whole file. Inward records start as inserted, staged outward records as pending.
func (p *SlipParser) Parse(file io.Reader, fileName string) (*models.SlipFile, error) {
	slipFile, err := ReadFile(file, fileName)
	if err != nil {
		return nil, err
	}

	status := models.StatusInserted
	if p.direction == models.Outward {
		status = models.StatusPending
	}
	slipFile.Header.Status = status
	for bi := range slipFile.Branches {
		b := &slipFile.Branches[bi]
		b.Header.Status = status
		for ti := range b.Transactions {
			b.Transactions[ti].Status = status
		}
	}
	return slipFile, nil
}
