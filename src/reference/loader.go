// Package reference loads the holiday calendar, transaction-code master list and
// code-mapping table from JSON files into an immutable models.ReferenceData snapshot.
package reference

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/username/slips/src/logger"
	"github.com/username/slips/src/models"
)

const (
	HolidaysFile     = "holidays.json"
	CodesFile        = "transaction_codes.json"
	CodeMappingsFile = "code_mappings.json"
)

type holidayEntry struct {
	Date string `json:"date"`
	Name string `json:"name,omitempty"`
}

type codeEntry struct {
	Code        string `json:"code"`
	Type        string `json:"type"` // "credit" or "debit"
	Description string `json:"description,omitempty"`
}

// Loader reads reference data from a config directory. Every call to Load
// returns a fresh snapshot, so edits to the files are picked up on retry.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load reads all three files. A missing mapping file is treated as an empty table.
func (l *Loader) Load() (*models.ReferenceData, error) {
	holidays, err := LoadHolidays(filepath.Join(l.dir, HolidaysFile))
	if err != nil {
		return nil, err
	}
	master, err := LoadCodeMaster(filepath.Join(l.dir, CodesFile))
	if err != nil {
		return nil, err
	}
	mappings, err := LoadCodeMappings(filepath.Join(l.dir, CodeMappingsFile))
	if err != nil {
		return nil, err
	}
	ref := models.NewReferenceData(master, mappings, holidays)
	logger.L.Info("Reference data loaded", "dir", l.dir, "codes", len(ref.Master), "mappings", len(ref.Mappings), "holidays", ref.Holidays.Len())
	return ref, nil
}

// SaveCodeMapping adds or replaces one entry in the mapping file.
func (l *Loader) SaveCodeMapping(from, to string) error {
	path := filepath.Join(l.dir, CodeMappingsFile)
	mappings, err := LoadCodeMappings(path)
	if err != nil {
		return err
	}
	mappings[from] = to
	data, err := json.MarshalIndent(mappings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal code mappings: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write code mappings file '%s': %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace code mappings file '%s': %w", path, err)
	}
	logger.L.Info("Code mapping saved", "from", from, "to", to, "path", path)
	return nil
}

func LoadHolidays(path string) ([]time.Time, error) {
	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read holiday file '%s': %w", path, err)
	}
	var entries []holidayEntry
	if err := json.Unmarshal(fileData, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal holidays from '%s': %w", path, err)
	}
	dates := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		d, err := time.Parse("2006-01-02", strings.TrimSpace(e.Date))
		if err != nil {
			return nil, fmt.Errorf("invalid holiday date %q in '%s': %w", e.Date, path, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

func LoadCodeMaster(path string) (models.CodeMaster, error) {
	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction code file '%s': %w", path, err)
	}
	var entries []codeEntry
	if err := json.Unmarshal(fileData, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction codes from '%s': %w", path, err)
	}
	master := make(models.CodeMaster, len(entries))
	for _, e := range entries {
		code := strings.TrimSpace(e.Code)
		switch models.Polarity(strings.ToLower(strings.TrimSpace(e.Type))) {
		case models.Credit:
			master[code] = models.Credit
		case models.Debit:
			master[code] = models.Debit
		default:
			return nil, fmt.Errorf("transaction code %q in '%s' has unknown type %q", e.Code, path, e.Type)
		}
	}
	return master, nil
}

func LoadCodeMappings(path string) (models.CodeMapping, error) {
	fileData, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.L.Warn("Code mapping file not found, using empty table", "path", path)
		return models.CodeMapping{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read code mapping file '%s': %w", path, err)
	}
	mappings := models.CodeMapping{}
	if err := json.Unmarshal(fileData, &mappings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal code mappings from '%s': %w", path, err)
	}
	return mappings, nil
}
