// src/services/insertion_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/username/slips/src/logger"
	"github.com/username/slips/src/metrics"
	"github.com/username/slips/src/models"
	"github.com/username/slips/src/parsers"
	"github.com/username/slips/src/processors"
)

type insertionServiceImpl struct {
	store      SlipStore
	reference  ReferenceSource
	classifier processors.TransactionClassifier
	reconciler processors.TotalsReconciler
	metrics    metrics.Collector
}

func NewInsertionService(
	store SlipStore,
	reference ReferenceSource,
	classifier processors.TransactionClassifier,
	reconciler processors.TotalsReconciler,
	collector metrics.Collector,
) InsertionService {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &insertionServiceImpl{
		store:      store,
		reference:  reference,
		classifier: classifier,
		reconciler: reconciler,
		metrics:    collector,
	}
}

// Ingest parses the whole file before touching the store, so a structural error
// commits nothing. A file ingested again under the same name replaces the earlier rows.
func (s *insertionServiceImpl) Ingest(ctx context.Context, dir models.Direction, file io.Reader, fileName string) (*models.SlipFile, error) {
	startTime := time.Now()
	logger.L.Info("Ingest START", "direction", dir, "fileName", fileName)

	parser, err := parsers.GetParser(dir)
	if err != nil {
		return nil, err
	}
	slipFile, err := parser.Parse(file, fileName)
	if err != nil {
		s.metrics.RecordFileIngested(string(dir), false, 0)
		logger.L.Warn("Ingest rejected file", "direction", dir, "fileName", fileName, "error", err)
		return nil, err
	}

	if err := s.store.ReplaceFile(ctx, dir, slipFile); err != nil {
		s.metrics.RecordFileIngested(string(dir), false, 0)
		if errors.Is(err, models.ErrStoreBusy) {
			s.metrics.RecordStoreBusy()
		}
		return nil, err
	}

	s.metrics.RecordFileIngested(string(dir), true, slipFile.TransactionCount())
	logger.L.Info("Ingest END", "direction", dir, "fileName", fileName,
		"branches", len(slipFile.Branches), "transactions", slipFile.TransactionCount(), "duration", time.Since(startTime))
	return slipFile, nil
}

// ReconcileInward classifies every transaction of a stored inward file (with one
// mapping pass) and reconciles each branch against its declared totals. Branches
// with unresolved codes are marked and skipped; the others are reconciled.
func (s *insertionServiceImpl) ReconcileInward(ctx context.Context, fileName string) (*InwardReconciliation, error) {
	ref, err := s.reference.Load()
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}
	file, err := s.store.LoadFile(ctx, models.Inward, fileName)
	if err != nil {
		return nil, err
	}

	result := &InwardReconciliation{FileName: fileName}
	allReconciled := true
	for bi := range file.Branches {
		b := &file.Branches[bi]
		branchResult := InwardBranchResult{BranchReconciliation: models.BranchReconciliation{BranchCode: b.Header.BranchCode}}

		// Received rows keep their code; mapping is applied to a working copy only.
		classified := make([]models.Transaction, len(b.Transactions))
		copy(classified, b.Transactions)
		unresolved := false
		for ti := range b.Transactions {
			tx := &b.Transactions[ti]
			if _, err := s.classifier.Classify(&classified[ti], ref); err != nil {
				var codeErr *models.CodeError
				if !errors.As(err, &codeErr) {
					return nil, err
				}
				unresolved = true
				tx.Status = models.StatusUnresolvedCode
				result.UnresolvedCodes = append(result.UnresolvedCodes, CodeIssue{
					BranchCode: b.Header.BranchCode, TransactionID: tx.TransactionID, Code: tx.TxCode,
				})
				continue
			}
			tx.Status = models.StatusClassified
		}

		if unresolved {
			branchResult.Status = models.StatusUnresolvedCode
		} else {
			rec, err := s.reconciler.Reconcile(&b.Header, classified, ref.Master)
			if err != nil {
				return nil, err
			}
			branchResult.BranchReconciliation = rec
			branchResult.Status = models.StatusReconciled
			if !rec.Balanced() {
				branchResult.Status = models.StatusReconciliationFailed
			}
			for ti := range b.Transactions {
				b.Transactions[ti].Status = branchResult.Status
			}
		}
		if branchResult.Status != models.StatusReconciled {
			allReconciled = false
			logger.L.Warn("Inward branch did not reconcile", "fileName", fileName, "branchCode", b.Header.BranchCode,
				"status", branchResult.Status, "mismatches", branchResult.Mismatches)
		}
		b.Header.Status = branchResult.Status
		result.Branches = append(result.Branches, branchResult)
	}

	result.FileMismatches = processors.ReconcileFileHeader(&file.Header, len(file.Branches), file.TransactionCount())
	result.Status = models.StatusReconciled
	if !allReconciled || len(result.FileMismatches) > 0 {
		result.Status = models.StatusReconciliationFailed
	}
	file.Header.Status = result.Status

	if err := s.store.SaveFile(ctx, models.Inward, file); err != nil {
		if errors.Is(err, models.ErrStoreBusy) {
			s.metrics.RecordStoreBusy()
		}
		return nil, err
	}
	logger.L.Info("Inward reconciliation complete", "fileName", fileName, "status", result.Status,
		"branches", len(result.Branches), "unresolvedCodes", len(result.UnresolvedCodes))
	return result, nil
}

func (s *insertionServiceImpl) StageFromInward(ctx context.Context, inwardName, outwardName string) error {
	if outwardName == "" {
		return fmt.Errorf("outward file name is required")
	}
	return s.store.StageFromInward(ctx, inwardName, outwardName)
}

func (s *insertionServiceImpl) ListFiles(ctx context.Context, dir models.Direction) ([]models.FileHeader, error) {
	return s.store.ListFiles(ctx, dir)
}
