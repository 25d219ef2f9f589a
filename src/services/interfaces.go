package services

import (
	"context"
	"io"
	"time"

	"github.com/username/slips/src/models"
)

// SlipStore is the row-level persistence the services depend on.
type SlipStore interface {
	ReplaceFile(ctx context.Context, dir models.Direction, file *models.SlipFile) error
	LoadFile(ctx context.Context, dir models.Direction, fileName string) (*models.SlipFile, error)
	ListFiles(ctx context.Context, dir models.Direction) ([]models.FileHeader, error)
	SaveFile(ctx context.Context, dir models.Direction, file *models.SlipFile) error
	SetFileStatus(ctx context.Context, dir models.Direction, fileName string, status models.Status) error
	StageFromInward(ctx context.Context, inwardName, outwardName string) error
}

// ReferenceSource yields a fresh reference-data snapshot on every call.
type ReferenceSource interface {
	Load() (*models.ReferenceData, error)
}

// InsertionService ingests SLIP files and runs the inward reconciliation pass.
type InsertionService interface {
	Ingest(ctx context.Context, dir models.Direction, file io.Reader, fileName string) (*models.SlipFile, error)
	ReconcileInward(ctx context.Context, fileName string) (*InwardReconciliation, error)
	StageFromInward(ctx context.Context, inwardName, outwardName string) error
	ListFiles(ctx context.Context, dir models.Direction) ([]models.FileHeader, error)
}

// RecreationOrchestrator drives outward files through the release pipeline.
type RecreationOrchestrator interface {
	Start(ctx context.Context, fileName string, batch models.BatchType) (*Run, error)
	Retry(ctx context.Context, runID string) (*Run, error)
	Discard(ctx context.Context, runID string) error
	Get(runID string) (*Run, error)
	List() []*Run
}

// Notifier tells operators that a run needs attention.
type Notifier interface {
	NotifyHalt(ctx context.Context, notice HaltNotice) error
}

// HaltNotice describes a run that stopped in the Halted state.
type HaltNotice struct {
	RunID    string
	FileName string
	Reason   string
	Detail   string
	HaltedAt time.Time
}

// InwardBranchResult is the reconciliation outcome for one inward branch.
type InwardBranchResult struct {
	models.BranchReconciliation
	Status models.Status `json:"status"`
}

// InwardReconciliation is the result of ReconcileInward.
type InwardReconciliation struct {
	FileName        string                 `json:"file_name"`
	Status          models.Status          `json:"status"`
	Branches        []InwardBranchResult   `json:"branches"`
	FileMismatches  []models.FieldMismatch `json:"file_mismatches,omitempty"`
	UnresolvedCodes []CodeIssue            `json:"unresolved_codes,omitempty"`
}

// CodeIssue names a transaction whose code could not be resolved.
type CodeIssue struct {
	BranchCode    string `json:"branch_code"`
	TransactionID string `json:"transaction_id"`
	Code          string `json:"code"`
}
