// src/services/recreation_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/patrickmn/go-cache"

	"github.com/username/slips/src/logger"
	"github.com/username/slips/src/metrics"
	"github.com/username/slips/src/models"
	"github.com/username/slips/src/parsers/slip"
	"github.com/username/slips/src/processors"
	"github.com/username/slips/src/utils"
)

const (
	DefaultRunRetention = 24 * time.Hour
	RunCleanupInterval  = 30 * time.Minute
	notifyTimeout       = 30 * time.Second
	registryKeyPrefix   = "run_"
)

// Run is one outward recreation run. The exported fields are its observable state.
type Run struct {
	ID         string           `json:"id"`
	FileName   string           `json:"file_name"`
	BatchType  models.BatchType `json:"batch_type"`
	State      models.RunState  `json:"state"`
	HaltReason string           `json:"halt_reason,omitempty"`
	HaltDetail string           `json:"halt_detail,omitempty"`
	// ResumeFrom is the stage a retry re-enters.
	ResumeFrom models.RunState `json:"resume_from,omitempty"`

	FileDate             time.Time                     `json:"file_date,omitempty"`
	ValueDate            string                        `json:"value_date,omitempty"`
	Branches             []models.BranchReconciliation `json:"branches,omitempty"`
	InvalidTransactions  []models.InvalidTransaction   `json:"invalid_transactions,omitempty"`
	ExcludedBranches     []models.ExcludedBranch       `json:"excluded_branches,omitempty"`
	ReleasedBatches      int                           `json:"released_batches"`
	ReleasedTransactions int                           `json:"released_transactions"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Attempts  int       `json:"attempts"`

	// Lines is the released file, one formatted record per entry.
	Lines []string `json:"-"`

	file    *models.SlipFile
	ref     *models.ReferenceData
	pending []txRef
	release []releaseBranch
	output  *models.SlipFile
}

type txRef struct{ branch, tx int }

type releaseBranch struct {
	branch int
	txs    []int
	totals models.BranchTotals
}

func (r *Run) tx(ref txRef) *models.Transaction {
	return &r.file.Branches[ref.branch].Transactions[ref.tx]
}

func (r *Run) snapshot() *Run {
	c := *r
	return &c
}

// haltError stops a run with a reason. resume overrides the stage a retry re-enters.
type haltError struct {
	reason string
	resume models.RunState
	err    error
}

func (e *haltError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *haltError) Unwrap() error { return e.err }

// RecreationDeps wires the collaborators of the orchestrator.
type RecreationDeps struct {
	Store      SlipStore
	Reference  ReferenceSource
	Classifier processors.TransactionClassifier
	Reconciler processors.TotalsReconciler
	Formula    processors.SecurityFormula
	Advisor    processors.ValueDateAdvisor
	Notifier   Notifier
	Metrics    metrics.Collector
	Registry   *cache.Cache
	Retention  time.Duration
	Now        func() time.Time
	// BankCode is the sending bank's code; when set, files declaring another bank are logged.
	BankCode string
}

type recreationOrchestratorImpl struct {
	// mu serializes pipeline execution: one file is processed start to finish before the next.
	mu sync.Mutex
	RecreationDeps
	stages []stage
	// notices queued by halt under mu, sent once mu is released.
	notices []HaltNotice
}

type stage struct {
	state models.RunState
	run   func(ctx context.Context, r *Run) error
}

func NewRecreationOrchestrator(deps RecreationDeps) RecreationOrchestrator {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoOpCollector{}
	}
	if deps.Notifier == nil {
		deps.Notifier = &MockNotifier{}
	}
	if deps.Retention <= 0 {
		deps.Retention = DefaultRunRetention
	}
	if deps.Registry == nil {
		deps.Registry = cache.New(deps.Retention, RunCleanupInterval)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	o := &recreationOrchestratorImpl{RecreationDeps: deps}
	o.stages = []stage{
		{models.RunLoaded, o.load},
		{models.RunClassified, o.classify},
		{models.RunCodesResolved, o.resolveCodes},
		{models.RunReconciled, o.reconcile},
		{models.RunSecurityStamped, o.stamp},
		{models.RunValueDated, o.valueDate},
		{models.RunFormatted, o.format},
		{models.RunReleased, o.releaseFile},
	}
	return o
}

// Start loads an outward file and drives it through the pipeline until it is
// released or halts. A file that does not exist or was already released is an
// error, not a run.
func (o *recreationOrchestratorImpl) Start(ctx context.Context, fileName string, batch models.BatchType) (*Run, error) {
	o.mu.Lock()
	defer o.unlockAndNotify(ctx)

	if batch == "" {
		batch = models.BatchNormal
	}
	ref, err := o.Reference.Load()
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}
	now := o.Now()
	run := &Run{
		ID:        uuid.NewString(),
		FileName:  fileName,
		BatchType: batch,
		StartedAt: now,
		UpdatedAt: now,
		Attempts:  1,
		ref:       ref,
	}
	ctx = logger.WithLogger(ctx, logger.L.With("runID", run.ID, "fileName", fileName))
	logger.FromContext(ctx).Info("Recreation run START", "batchType", batch)

	if err := o.load(ctx, run); err != nil {
		if errors.Is(err, models.ErrFileNotFound) || errors.Is(err, models.ErrFileReleased) {
			return nil, err
		}
		o.Registry.Set(registryKeyPrefix+run.ID, run, o.Retention)
		o.halt(ctx, run, err, models.RunLoaded)
		return run.snapshot(), nil
	}
	run.State = models.RunLoaded
	o.Registry.Set(registryKeyPrefix+run.ID, run, o.Retention)
	o.advance(ctx, run, models.RunClassified)
	return run.snapshot(), nil
}

// Retry reloads reference data and re-enters a halted run at its resume stage. A run
// halted on unresolvable codes re-classifies only the affected transactions.
func (o *recreationOrchestratorImpl) Retry(ctx context.Context, runID string) (*Run, error) {
	o.mu.Lock()
	defer o.unlockAndNotify(ctx)

	run, err := o.lookup(runID)
	if err != nil {
		return nil, err
	}
	if run.State != models.RunHalted {
		return nil, fmt.Errorf("%w: run %s is %s", models.ErrRunNotHalted, runID, run.State)
	}
	ref, err := o.Reference.Load()
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}
	run.ref = ref
	run.Attempts++
	ctx = logger.WithLogger(ctx, logger.L.With("runID", run.ID, "fileName", run.FileName))
	logger.FromContext(ctx).Info("Recreation run RETRY", "resumeFrom", run.ResumeFrom, "attempt", run.Attempts,
		"affectedTransactions", len(run.pending))

	resume := run.ResumeFrom
	if resume == "" || run.file == nil {
		resume = models.RunLoaded
	}
	run.HaltReason, run.HaltDetail, run.ResumeFrom = "", "", ""
	o.advance(ctx, run, resume)
	o.Registry.Set(registryKeyPrefix+run.ID, run, o.Retention)
	return run.snapshot(), nil
}

// Discard drops a halted run and returns its persisted rows to pending.
func (o *recreationOrchestratorImpl) Discard(ctx context.Context, runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.lookup(runID)
	if err != nil {
		return err
	}
	if run.State != models.RunHalted {
		return fmt.Errorf("%w: run %s is %s", models.ErrRunNotHalted, runID, run.State)
	}
	if err := o.Store.SetFileStatus(ctx, models.Outward, run.FileName, models.StatusPending); err != nil {
		return fmt.Errorf("reset statuses of %q: %w", run.FileName, err)
	}
	o.Registry.Delete(registryKeyPrefix + runID)
	o.Metrics.RecordRunOutcome("Discarded", "")
	logger.L.Info("Recreation run discarded", "runID", runID, "fileName", run.FileName)
	return nil
}

func (o *recreationOrchestratorImpl) Get(runID string) (*Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, err := o.lookup(runID)
	if err != nil {
		return nil, err
	}
	return run.snapshot(), nil
}

func (o *recreationOrchestratorImpl) List() []*Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	var runs []*Run
	for _, item := range o.Registry.Items() {
		if run, ok := item.Object.(*Run); ok {
			runs = append(runs, run.snapshot())
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs
}

func (o *recreationOrchestratorImpl) lookup(runID string) (*Run, error) {
	v, found := o.Registry.Get(registryKeyPrefix + runID)
	if !found {
		return nil, fmt.Errorf("%w: %s", models.ErrRunNotFound, runID)
	}
	return v.(*Run), nil
}

// advance runs the stages from the one producing state from, until release or halt.
func (o *recreationOrchestratorImpl) advance(ctx context.Context, run *Run, from models.RunState) {
	started := false
	for _, st := range o.stages {
		if st.state == from {
			started = true
		}
		if !started {
			continue
		}
		stageStart := time.Now()
		err := st.run(ctx, run)
		o.Metrics.RecordStageDuration(string(st.state), time.Since(stageStart))
		if err != nil {
			o.halt(ctx, run, err, st.state)
			return
		}
		run.State = st.state
		run.UpdatedAt = o.Now()
	}
	if run.State == models.RunReleased {
		o.Metrics.RecordRunOutcome(string(models.RunReleased), "")
		logger.FromContext(ctx).Info("Recreation run RELEASED", "batches", run.ReleasedBatches,
			"transactions", run.ReleasedTransactions, "invalid", len(run.InvalidTransactions), "excluded", len(run.ExcludedBranches))
	}
}

func (o *recreationOrchestratorImpl) halt(ctx context.Context, run *Run, err error, resume models.RunState) {
	reason := haltReason(err)
	var he *haltError
	if errors.As(err, &he) && he.resume != "" {
		resume = he.resume
	}
	if reason == models.ReasonStoreBusy {
		o.Metrics.RecordStoreBusy()
	}
	run.State = models.RunHalted
	run.HaltReason = reason
	run.HaltDetail = err.Error()
	run.ResumeFrom = resume
	run.UpdatedAt = o.Now()

	logger.FromContext(ctx).Warn("Recreation run HALTED", "reason", reason, "resumeFrom", resume, "error", err)
	o.Metrics.RecordRunOutcome(string(models.RunHalted), reason)

	o.notices = append(o.notices, HaltNotice{RunID: run.ID, FileName: run.FileName, Reason: reason, Detail: run.HaltDetail, HaltedAt: run.UpdatedAt})
}

// unlockAndNotify releases o.mu, then sends the halt notices queued while it was held.
func (o *recreationOrchestratorImpl) unlockAndNotify(ctx context.Context) {
	notices := o.notices
	o.notices = nil
	o.mu.Unlock()

	for _, notice := range notices {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		if err := o.Notifier.NotifyHalt(notifyCtx, notice); err != nil {
			logger.L.Error("Failed to notify operators of halted run", "runID", notice.RunID, "fileName", notice.FileName, "error", err)
		}
		cancel()
	}
}

func haltReason(err error) string {
	var he *haltError
	switch {
	case errors.As(err, &he):
		return he.reason
	case errors.Is(err, models.ErrStoreBusy):
		return models.ReasonStoreBusy
	case errors.Is(err, models.ErrUnresolvableCode), errors.Is(err, models.ErrUnknownCode):
		return models.ReasonUnresolvableCode
	case errors.Is(err, models.ErrNoEligibleBranches):
		return models.ReasonNoEligibleBranches
	case errors.Is(err, models.ErrFieldOverflow), errors.Is(err, models.ErrMalformedRecord),
		errors.Is(err, models.ErrMalformedMarker), errors.Is(err, models.ErrUnstampedTransaction):
		return models.ReasonMalformedRecord
	}
	return models.ReasonInternal
}

func (o *recreationOrchestratorImpl) load(ctx context.Context, run *Run) error {
	file, err := o.Store.LoadFile(ctx, models.Outward, run.FileName)
	if err != nil {
		return err
	}
	if file.Header.Status == models.StatusReleased {
		return fmt.Errorf("%w: %s", models.ErrFileReleased, file.Name)
	}
	run.file = file
	run.pending, run.release, run.output, run.Lines = nil, nil, nil, nil
	if o.BankCode != "" && file.Header.BankCode != o.BankCode {
		logger.FromContext(ctx).Warn("File header declares a different bank code", "declared", file.Header.BankCode, "configured", o.BankCode)
	}
	if fileDate, err := utils.ParseJulian(file.Header.FileDate); err == nil {
		run.FileDate = fileDate
	} else {
		logger.FromContext(ctx).Warn("File header carries an unreadable file date", "fileDate", file.Header.FileDate, "error", err)
	}
	return nil
}

// classify is the pure master-table lookup. Unknown codes are queued for resolution.
func (o *recreationOrchestratorImpl) classify(ctx context.Context, run *Run) error {
	run.pending = run.pending[:0]
	for bi := range run.file.Branches {
		b := &run.file.Branches[bi]
		for ti := range b.Transactions {
			tx := &b.Transactions[ti]
			if _, err := processors.Classify(tx.TxCode, run.ref.Master); err != nil {
				run.pending = append(run.pending, txRef{bi, ti})
				continue
			}
			tx.Status = models.StatusClassified
		}
	}
	logger.FromContext(ctx).Debug("Classification done", "unknownCodes", len(run.pending))
	return nil
}

// resolveCodes applies one mapping pass to the queued transactions. Mapped codes are
// persisted; codes still unknown halt the run and stay queued for retry.
func (o *recreationOrchestratorImpl) resolveCodes(ctx context.Context, run *Run) error {
	var result *multierror.Error
	var still []txRef
	for _, ref := range run.pending {
		tx := run.tx(ref)
		if _, err := o.Classifier.Classify(tx, run.ref); err != nil {
			tx.Status = models.StatusUnresolvedCode
			result = multierror.Append(result, err)
			still = append(still, ref)
			continue
		}
		tx.Status = models.StatusClassified
	}
	run.pending = still
	if err := o.Store.SaveFile(ctx, models.Outward, run.file); err != nil {
		return err
	}
	if len(run.pending) > 0 {
		return &haltError{reason: models.ReasonUnresolvableCode, err: result.ErrorOrNil()}
	}
	return nil
}

// reconcile validates accounts, reconciles each branch against its declared header
// and decides which branches and transactions are eligible for release.
func (o *recreationOrchestratorImpl) reconcile(ctx context.Context, run *Run) error {
	run.Branches, run.InvalidTransactions, run.ExcludedBranches, run.release = nil, nil, nil, nil
	file := run.file

	for bi := range file.Branches {
		b := &file.Branches[bi]
		valid := make([]int, 0, len(b.Transactions))
		for ti := range b.Transactions {
			tx := &b.Transactions[ti]
			if err := processors.ValidateOutward(tx); err != nil {
				tx.Status = models.StatusInvalid
				run.InvalidTransactions = append(run.InvalidTransactions, processors.InvalidFor(tx, models.ReasonNonNumericAccount, err))
				o.Metrics.RecordInvalidTransaction(models.ReasonNonNumericAccount)
				continue
			}
			valid = append(valid, ti)
		}

		rec, err := o.Reconciler.Reconcile(&b.Header, b.Transactions, run.ref.Master)
		if err != nil {
			return o.requeueUnknown(run, err)
		}
		run.Branches = append(run.Branches, rec)

		switch {
		case !rec.Balanced():
			o.exclude(ctx, run, bi, models.ReasonReconciliationFailed, models.StatusReconciliationFailed, rec.Mismatches)
			continue
		case rec.ZeroValue:
			o.exclude(ctx, run, bi, models.ReasonZeroValueBranch, models.StatusExcluded, nil)
			continue
		}

		eligible := make([]models.Transaction, 0, len(valid))
		for _, ti := range valid {
			eligible = append(eligible, b.Transactions[ti])
		}
		totals, err := o.Reconciler.Compute(eligible, run.ref.Master)
		if err != nil {
			return o.requeueUnknown(run, err)
		}
		if len(valid) == 0 || totals.IsZero() {
			o.exclude(ctx, run, bi, models.ReasonZeroValueBranch, models.StatusExcluded, nil)
			continue
		}
		for _, ti := range valid {
			b.Transactions[ti].Status = models.StatusReconciled
		}
		b.Header.Status = models.StatusReconciled
		run.release = append(run.release, releaseBranch{branch: bi, txs: valid, totals: totals})
	}

	if err := o.Store.SaveFile(ctx, models.Outward, file); err != nil {
		return err
	}
	if len(run.release) == 0 {
		return &haltError{
			reason: models.ReasonNoEligibleBranches,
			err:    fmt.Errorf("%w: file %q, %d branches excluded", models.ErrNoEligibleBranches, file.Name, len(run.ExcludedBranches)),
		}
	}
	return nil
}

func (o *recreationOrchestratorImpl) exclude(ctx context.Context, run *Run, bi int, reason string, status models.Status, mismatches []models.FieldMismatch) {
	b := &run.file.Branches[bi]
	b.Header.Status = status
	for ti := range b.Transactions {
		if b.Transactions[ti].Status != models.StatusInvalid {
			b.Transactions[ti].Status = models.StatusExcluded
		}
	}
	run.ExcludedBranches = append(run.ExcludedBranches, models.ExcludedBranch{
		FileName: run.file.Name, BranchCode: b.Header.BranchCode, Reason: reason, Mismatches: mismatches,
	})
	o.Metrics.RecordExcludedBranch(reason)
	logger.FromContext(ctx).Warn("Branch excluded from release", "branchCode", b.Header.BranchCode, "reason", reason, "mismatches", mismatches)
}

// requeueUnknown handles a code that became unknown after resolution, e.g. when the
// master table changed between retries. Such transactions go back to the resolution queue.
func (o *recreationOrchestratorImpl) requeueUnknown(run *Run, err error) error {
	var codeErr *models.CodeError
	if !errors.As(err, &codeErr) {
		return err
	}
	run.pending = run.pending[:0]
	for bi := range run.file.Branches {
		for ti := range run.file.Branches[bi].Transactions {
			if _, cerr := processors.Classify(run.file.Branches[bi].Transactions[ti].TxCode, run.ref.Master); cerr != nil {
				run.pending = append(run.pending, txRef{bi, ti})
			}
		}
	}
	return &haltError{reason: models.ReasonUnresolvableCode, resume: models.RunCodesResolved, err: err}
}

func (o *recreationOrchestratorImpl) stamp(ctx context.Context, run *Run) error {
	for _, rb := range run.release {
		b := &run.file.Branches[rb.branch]
		for _, ti := range rb.txs {
			tx := &b.Transactions[ti]
			processors.StampTransaction(tx, o.Formula)
			tx.Status = models.StatusStamped
		}
	}
	return nil
}

func (o *recreationOrchestratorImpl) valueDate(ctx context.Context, run *Run) error {
	vd := utils.FormatValueDate(o.Advisor.Suggest(o.Now(), run.BatchType, run.ref.Holidays))
	run.ValueDate = vd
	for _, rb := range run.release {
		b := &run.file.Branches[rb.branch]
		for _, ti := range rb.txs {
			b.Transactions[ti].ValueDate = vd
		}
	}
	logger.FromContext(ctx).Info("Value date assigned", "valueDate", vd, "batchType", run.BatchType)
	return nil
}

// format assembles the released file from eligible records only. Branch headers are
// restated from the eligible transactions and the file header from what is emitted.
func (o *recreationOrchestratorImpl) format(ctx context.Context, run *Run) error {
	out := &models.SlipFile{Name: run.file.Name, Header: run.file.Header}
	for _, rb := range run.release {
		src := &run.file.Branches[rb.branch]
		branch := models.Branch{Header: src.Header}
		if err := processors.RestateBranchHeader(&branch.Header, rb.totals); err != nil {
			return fmt.Errorf("restate branch %s: %w", src.Header.BranchCode, err)
		}
		for _, ti := range rb.txs {
			tx := src.Transactions[ti]
			if tx.SecurityCheckField == "" {
				return fmt.Errorf("%w: branch %s transaction %s", models.ErrUnstampedTransaction, tx.BranchCode, tx.TransactionID)
			}
			branch.Transactions = append(branch.Transactions, tx)
		}
		out.Branches = append(out.Branches, branch)
	}
	if err := processors.RestateFileHeader(&out.Header, len(out.Branches), out.TransactionCount()); err != nil {
		return err
	}
	lines, err := slip.FormatFile(out)
	if err != nil {
		return err
	}
	run.output, run.Lines = out, lines
	return nil
}

// releaseFile marks the released rows. Stored headers keep their declared values;
// the restated totals exist only in the released lines.
func (o *recreationOrchestratorImpl) releaseFile(ctx context.Context, run *Run) error {
	file := run.file
	file.Header.Status = models.StatusReleased
	for _, rb := range run.release {
		b := &file.Branches[rb.branch]
		b.Header.Status = models.StatusReleased
		for _, ti := range rb.txs {
			b.Transactions[ti].Status = models.StatusReleased
		}
	}
	if err := o.Store.SaveFile(ctx, models.Outward, file); err != nil {
		return err
	}
	run.ReleasedBatches = len(run.output.Branches)
	run.ReleasedTransactions = run.output.TransactionCount()
	return nil
}
