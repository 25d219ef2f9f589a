// src/parsers/parser.go
package parsers

import (
	"io"

	"github.com/username/slips/src/models"
)

type Parser interface {
	Parse(file io.Reader, fileName string) (*models.SlipFile, error)
}
