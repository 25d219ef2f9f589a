package services

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/username/slips/src/database"
	"github.com/username/slips/src/metrics/memory"
	"github.com/username/slips/src/models"
	"github.com/username/slips/src/parsers/slip"
	"github.com/username/slips/src/processors"
)

// Thursday 2026-10-15, before the normal cutoff.
var testNow = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

type stubReference struct {
	ref *models.ReferenceData
	err error
}

func (s *stubReference) Load() (*models.ReferenceData, error) { return s.ref, s.err }

func referenceWith(mappings models.CodeMapping) *models.ReferenceData {
	return models.NewReferenceData(
		models.CodeMaster{"10": models.Debit, "11": models.Debit, "22": models.Credit, "23": models.Credit, "52": models.Credit},
		mappings,
		[]time.Time{time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC)},
	)
}

func openStore(t *testing.T) *database.Store {
	t.Helper()
	policy := database.BusyPolicy{Timeout: 50 * time.Millisecond, Retries: 1, Backoff: 10 * time.Millisecond}
	store, err := database.Open(filepath.Join(t.TempDir(), "SLIPS.db"), policy)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	return store
}

func txn(id, code string, minor int64, dest string) models.Transaction {
	return models.Transaction{
		TransactionID: id, DestBankNo: "7278", DestBranchNo: "001", DestAccountNo: dest,
		DestAccountName: "J PERERA", TxCode: code, Amount: models.NewAmount(minor), CurrencyCode: "LKR",
		OrigBankNo: "7010", OrigBranchNo: "001", OrigAccountNo: "000000000001", OrigAccountName: "ACME LTD",
		ValueDate: "261014",
	}
}

// branch builds a branch whose header declares the totals its transactions add up to,
// with codes resolved through ref's mappings.
func branch(t *testing.T, code string, ref *models.ReferenceData, txs ...models.Transaction) models.Branch {
	t.Helper()
	resolved := make([]models.Transaction, len(txs))
	for i, tx := range txs {
		tx.TxCode = processors.Resolve(tx.TxCode, ref.Mappings)
		resolved[i] = tx
	}
	totals, err := processors.NewTotalsReconciler().Compute(resolved, ref.Master)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	h := models.BranchHeader{ControlID: "0001", FieldID: "002", FileDate: "26288", BankCode: "7010", BranchCode: code}
	if err := processors.RestateBranchHeader(&h, totals); err != nil {
		t.Fatal(err)
	}
	return models.Branch{Header: h, Transactions: txs}
}

func slipFile(name string, branches ...models.Branch) *models.SlipFile {
	f := &models.SlipFile{
		Name:     name,
		Header:   models.FileHeader{ControlID: "0001", FieldID: "001", FileDate: "26288", BankCode: "7010"},
		Branches: branches,
	}
	processors.RestateFileHeader(&f.Header, len(branches), f.TransactionCount())
	return f
}

type harness struct {
	store    *database.Store
	ref      *stubReference
	notifier *MockNotifier
	metrics  *memory.MemoryCollector
	orch     RecreationOrchestrator
}

func newHarness(t *testing.T, mappings models.CodeMapping) *harness {
	t.Helper()
	h := &harness{
		store:    openStore(t),
		ref:      &stubReference{ref: referenceWith(mappings)},
		notifier: &MockNotifier{},
		metrics:  memory.NewMemoryCollector(),
	}
	formula, err := processors.NewSecurityFormula(processors.FormulaBlake2b, "secret-a", "secret-b")
	if err != nil {
		t.Fatal(err)
	}
	h.orch = NewRecreationOrchestrator(RecreationDeps{
		Store:      h.store,
		Reference:  h.ref,
		Classifier: processors.NewTransactionClassifier(),
		Reconciler: processors.NewTotalsReconciler(),
		Formula:    formula,
		Advisor: processors.NewValueDateAdvisor(
			processors.ValueDatePolicy{Name: "normal", Cutoff: processors.DefaultCutoff},
			processors.ValueDatePolicy{Name: "salary", Cutoff: 12 * time.Hour, LeadBusinessDays: 1},
		),
		Notifier: h.notifier,
		Metrics:  h.metrics,
		Now:      func() time.Time { return testNow },
	})
	return h
}

func (h *harness) put(t *testing.T, file *models.SlipFile) {
	t.Helper()
	if err := h.store.ReplaceFile(context.Background(), models.Outward, file); err != nil {
		t.Fatalf("ReplaceFile() error = %v", err)
	}
}

func TestRecreationReleasesEligibleBranchesOnly(t *testing.T) {
	h := newHarness(t, nil)
	ref := h.ref.ref

	bad := branch(t, "001", ref, txn("0001", "22", 1000, "000000001234"), txn("0002", "22", 500, "000000000766"))
	bad.Header.CreditTotal = "000000000001000" // declared 1000, actual 1500
	good := branch(t, "002", ref, txn("0003", "22", 700, "000000000200"), txn("0004", "23", 300, "12A400000000"))
	h.put(t, slipFile("OUT001.txt", bad, good))

	run, err := h.orch.Start(context.Background(), "OUT001.txt", models.BatchNormal)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if run.State != models.RunReleased {
		t.Fatalf("state = %s (%s: %s), want Released", run.State, run.HaltReason, run.HaltDetail)
	}
	if run.ReleasedBatches != 1 || run.ReleasedTransactions != 1 {
		t.Errorf("released %d batches / %d transactions, want 1 / 1", run.ReleasedBatches, run.ReleasedTransactions)
	}
	if len(run.ExcludedBranches) != 1 || run.ExcludedBranches[0].BranchCode != "001" ||
		run.ExcludedBranches[0].Reason != models.ReasonReconciliationFailed {
		t.Errorf("excluded = %+v", run.ExcludedBranches)
	}
	if len(run.InvalidTransactions) != 1 || run.InvalidTransactions[0].TransactionID != "0004" ||
		run.InvalidTransactions[0].Reason != models.ReasonNonNumericAccount {
		t.Errorf("invalid = %+v", run.InvalidTransactions)
	}
	if run.ValueDate != "261015" {
		t.Errorf("value date = %s, want 261015", run.ValueDate)
	}

	if len(run.Lines) != 3 {
		t.Fatalf("released %d lines, want 3", len(run.Lines))
	}
	rec, err := slip.Parse(run.Lines[0])
	if err != nil {
		t.Fatal(err)
	}
	fh := rec.(*models.FileHeader)
	if fh.NumBatches != "001" || fh.NumTransactions != "000001" {
		t.Errorf("file header restated to %s/%s, want 001/000001", fh.NumBatches, fh.NumTransactions)
	}
	rec, _ = slip.Parse(run.Lines[1])
	if bh := rec.(*models.BranchHeader); bh.CreditTotal != "000000000000700" || bh.NumCreditItems != "000001" {
		t.Errorf("branch header restated to %+v", bh)
	}
	for _, line := range run.Lines {
		if len(line) != slip.RecordWidth {
			t.Errorf("line width %d", len(line))
		}
	}

	stored, err := h.store.LoadFile(context.Background(), models.Outward, "OUT001.txt")
	if err != nil {
		t.Fatal(err)
	}
	released := stored.Branch("002").Transactions[0]
	if released.Status != models.StatusReleased || len(released.SecurityCheckField) != processors.SecurityFieldWidth ||
		released.ValueDate != "261015" {
		t.Errorf("released transaction = %+v", released)
	}
	if got := stored.Branch("002").Transactions[1].Status; got != models.StatusInvalid {
		t.Errorf("invalid transaction status = %s", got)
	}
	if got := stored.Branch("001").Header.Status; got != models.StatusReconciliationFailed {
		t.Errorf("excluded branch status = %s", got)
	}
	if got := h.metrics.Count(h.metrics.Runs, string(models.RunReleased)); got != 1 {
		t.Errorf("released runs metric = %d", got)
	}
	if len(h.notifier.Sent()) != 0 {
		t.Error("released run sent a halt notice")
	}
}

func TestRecreationReleasedFileIsTerminal(t *testing.T) {
	h := newHarness(t, nil)
	good := branch(t, "002", h.ref.ref, txn("0003", "22", 700, "000000000200"), txn("0004", "23", 300, "12A400000000"))
	h.put(t, slipFile("OUT001.txt", good))
	ctx := context.Background()

	first, err := h.orch.Start(ctx, "OUT001.txt", models.BatchNormal)
	if err != nil || first.State != models.RunReleased {
		t.Fatalf("first Start() = %+v, %v", first, err)
	}

	second, err := h.orch.Start(ctx, "OUT001.txt", models.BatchNormal)
	if !errors.Is(err, models.ErrFileReleased) {
		t.Fatalf("second Start() error = %v, want ErrFileReleased", err)
	}
	if second != nil {
		t.Errorf("second Start() created run %+v", second)
	}
	if runs := h.orch.List(); len(runs) != 1 {
		t.Errorf("List() = %d runs, want 1", len(runs))
	}

	stored, err := h.store.LoadFile(ctx, models.Outward, "OUT001.txt")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Header.Status != models.StatusReleased {
		t.Errorf("file status = %s, want released", stored.Header.Status)
	}
	if stored.Header.NumTransactions != "000002" {
		t.Errorf("declared file transaction count stored as %s, want 000002", stored.Header.NumTransactions)
	}
	b := stored.Branch("002")
	if b.Header.Status != models.StatusReleased || b.Header.CreditTotal != "000000000001000" || b.Header.NumCreditItems != "000002" {
		t.Errorf("stored branch header = %+v, want declared totals with status released", b.Header)
	}
	if b.Transactions[0].Status != models.StatusReleased || b.Transactions[1].Status != models.StatusInvalid {
		t.Errorf("stored statuses = %s, %s", b.Transactions[0].Status, b.Transactions[1].Status)
	}
}

func TestRecreationAppliesCodeMapping(t *testing.T) {
	h := newHarness(t, models.CodeMapping{"99": "10"})
	h.put(t, slipFile("OUT002.txt", branch(t, "001", h.ref.ref,
		txn("0001", "22", 1000, "000000001234"), txn("0002", "99", 400, "000000000100"))))

	run, err := h.orch.Start(context.Background(), "OUT002.txt", models.BatchNormal)
	if err != nil {
		t.Fatal(err)
	}
	if run.State != models.RunReleased {
		t.Fatalf("state = %s (%s), want Released", run.State, run.HaltDetail)
	}
	stored, _ := h.store.LoadFile(context.Background(), models.Outward, "OUT002.txt")
	if got := stored.Branches[0].Transactions[1].TxCode; got != "10" {
		t.Errorf("persisted code = %s, want 10", got)
	}
}

func TestRecreationHaltsOnUnresolvableCodeAndRetries(t *testing.T) {
	h := newHarness(t, nil)
	// The header reflects the code the operator will eventually map 77 to.
	withMapping := referenceWith(models.CodeMapping{"77": "23"})
	h.put(t, slipFile("OUT003.txt", branch(t, "001", withMapping,
		txn("0001", "22", 1000, "000000001234"), txn("0002", "77", 250, "000000000100"))))

	ctx := context.Background()
	run, err := h.orch.Start(ctx, "OUT003.txt", models.BatchNormal)
	if err != nil {
		t.Fatal(err)
	}
	if run.State != models.RunHalted || run.HaltReason != models.ReasonUnresolvableCode {
		t.Fatalf("state = %s reason = %s, want Halted(UnresolvableCode)", run.State, run.HaltReason)
	}
	if run.ResumeFrom != models.RunCodesResolved {
		t.Errorf("resume from %s, want CodesResolved", run.ResumeFrom)
	}
	notices := h.notifier.Sent()
	if len(notices) != 1 || notices[0].RunID != run.ID || notices[0].Reason != models.ReasonUnresolvableCode {
		t.Errorf("notices = %+v", notices)
	}
	stored, _ := h.store.LoadFile(ctx, models.Outward, "OUT003.txt")
	if got := stored.Branches[0].Transactions[1].Status; got != models.StatusUnresolvedCode {
		t.Errorf("unresolved transaction status = %s", got)
	}

	// Retrying without new reference data halts again.
	again, err := h.orch.Retry(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.State != models.RunHalted || again.Attempts != 2 {
		t.Errorf("retry without mapping: state = %s attempts = %d", again.State, again.Attempts)
	}

	h.ref.ref = withMapping
	done, err := h.orch.Retry(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.State != models.RunReleased {
		t.Fatalf("state after mapping = %s (%s)", done.State, done.HaltDetail)
	}
	if done.ReleasedTransactions != 2 {
		t.Errorf("released %d transactions, want 2", done.ReleasedTransactions)
	}
	if _, err := h.orch.Retry(ctx, run.ID); !errors.Is(err, models.ErrRunNotHalted) {
		t.Errorf("Retry(released) error = %v, want ErrRunNotHalted", err)
	}
	if got := h.metrics.Count(h.metrics.HaltReasons, models.ReasonUnresolvableCode); got != 2 {
		t.Errorf("halt reason metric = %d, want 2", got)
	}
}

type blockingNotifier struct {
	entered chan HaltNotice
	release chan struct{}
}

func (n *blockingNotifier) NotifyHalt(ctx context.Context, notice HaltNotice) error {
	n.entered <- notice
	<-n.release
	return nil
}

func TestRecreationHaltNoticeDoesNotBlockRuns(t *testing.T) {
	h := newHarness(t, nil)
	notifier := &blockingNotifier{entered: make(chan HaltNotice, 1), release: make(chan struct{})}
	formula, _ := processors.NewSecurityFormula(processors.FormulaBlake2b, "secret-a", "secret-b")
	orch := NewRecreationOrchestrator(RecreationDeps{
		Store:      h.store,
		Reference:  h.ref,
		Classifier: processors.NewTransactionClassifier(),
		Reconciler: processors.NewTotalsReconciler(),
		Formula:    formula,
		Advisor:    processors.NewValueDateAdvisor(processors.ValueDatePolicy{Cutoff: processors.DefaultCutoff}, processors.ValueDatePolicy{Cutoff: processors.DefaultCutoff}),
		Notifier:   notifier,
		Now:        func() time.Time { return testNow },
	})
	h.put(t, slipFile("OUT005.txt", branch(t, "001", referenceWith(models.CodeMapping{"77": "23"}),
		txn("0001", "77", 250, "000000000100"))))

	started := make(chan *Run, 1)
	go func() {
		run, _ := orch.Start(context.Background(), "OUT005.txt", models.BatchNormal)
		started <- run
	}()

	var notice HaltNotice
	select {
	case notice = <-notifier.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("halt notice was never sent")
	}

	listed := make(chan []*Run, 1)
	go func() { listed <- orch.List() }()
	select {
	case runs := <-listed:
		if len(runs) != 1 || runs[0].ID != notice.RunID || runs[0].State != models.RunHalted {
			t.Errorf("List() while notifying = %+v", runs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("List() blocked while a halt notice was being sent")
	}

	close(notifier.release)
	if run := <-started; run == nil || run.HaltReason != models.ReasonUnresolvableCode {
		t.Errorf("Start() = %+v", run)
	}
}

func TestRecreationNoEligibleBranchesAndDiscard(t *testing.T) {
	h := newHarness(t, nil)
	bad := branch(t, "001", h.ref.ref, txn("0001", "22", 1500, "000000001234"))
	bad.Header.CreditTotal = "000000000001000"
	zero := branch(t, "002", h.ref.ref, txn("0002", "22", 0, "000000001234"))
	h.put(t, slipFile("OUT004.txt", bad, zero))

	ctx := context.Background()
	run, err := h.orch.Start(ctx, "OUT004.txt", models.BatchNormal)
	if err != nil {
		t.Fatal(err)
	}
	if run.State != models.RunHalted || run.HaltReason != models.ReasonNoEligibleBranches {
		t.Fatalf("state = %s reason = %s, want Halted(NoEligibleBranches)", run.State, run.HaltReason)
	}
	reasons := map[string]string{}
	for _, ex := range run.ExcludedBranches {
		reasons[ex.BranchCode] = ex.Reason
	}
	if reasons["001"] != models.ReasonReconciliationFailed || reasons["002"] != models.ReasonZeroValueBranch {
		t.Errorf("exclusions = %v", reasons)
	}
	if len(run.Lines) != 0 {
		t.Error("halted run produced output")
	}

	if err := h.orch.Discard(ctx, run.ID); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	stored, _ := h.store.LoadFile(ctx, models.Outward, "OUT004.txt")
	if stored.Header.Status != models.StatusPending || stored.Branches[0].Transactions[0].Status != models.StatusPending {
		t.Error("Discard did not reset statuses to pending")
	}
	if _, err := h.orch.Get(run.ID); !errors.Is(err, models.ErrRunNotFound) {
		t.Errorf("Get(discarded) error = %v, want ErrRunNotFound", err)
	}
	if err := h.orch.Discard(ctx, "missing"); !errors.Is(err, models.ErrRunNotFound) {
		t.Errorf("Discard(missing) error = %v", err)
	}
}

func TestRecreationSalaryBatchValueDate(t *testing.T) {
	h := newHarness(t, nil)
	h.put(t, slipFile("OUT005.txt", branch(t, "001", h.ref.ref, txn("0001", "52", 90000, "000000001234"))))

	run, err := h.orch.Start(context.Background(), "OUT005.txt", models.BatchSalary)
	if err != nil {
		t.Fatal(err)
	}
	// Before the salary cutoff on a business day, then one lead day.
	if run.State != models.RunReleased || run.ValueDate != "261016" {
		t.Errorf("state = %s value date = %s, want Released 261016", run.State, run.ValueDate)
	}
}

func TestRecreationStartErrors(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.orch.Start(context.Background(), "missing.txt", models.BatchNormal); !errors.Is(err, models.ErrFileNotFound) {
		t.Errorf("Start(missing) error = %v, want ErrFileNotFound", err)
	}
	if runs := h.orch.List(); len(runs) != 0 {
		t.Errorf("List() = %d runs, want 0", len(runs))
	}

	h.ref.err = errors.New("bad holidays file")
	if _, err := h.orch.Start(context.Background(), "OUT001.txt", models.BatchNormal); err == nil {
		t.Error("Start() with broken reference data succeeded")
	}
}

func TestRecreationListAndGet(t *testing.T) {
	h := newHarness(t, nil)
	h.put(t, slipFile("OUT006.txt", branch(t, "001", h.ref.ref, txn("0001", "22", 100, "000000001234"))))
	run, err := h.orch.Start(context.Background(), "OUT006.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	if run.BatchType != models.BatchNormal {
		t.Errorf("default batch type = %s", run.BatchType)
	}
	got, err := h.orch.Get(run.ID)
	if err != nil || got.State != models.RunReleased {
		t.Errorf("Get() = %+v, %v", got, err)
	}
	if runs := h.orch.List(); len(runs) != 1 || runs[0].ID != run.ID {
		t.Errorf("List() = %+v", runs)
	}
}

func formatLines(t *testing.T, file *models.SlipFile) string {
	t.Helper()
	lines, err := slip.FormatFile(file)
	if err != nil {
		t.Fatalf("FormatFile() error = %v", err)
	}
	return strings.Join(lines, "\n") + "\n"
}

func withSecurity(txs ...models.Transaction) []models.Transaction {
	for i := range txs {
		txs[i].SecurityCheckField = "123456"
	}
	return txs
}

func TestInsertionIngestAndReconcileInward(t *testing.T) {
	store := openStore(t)
	ref := &stubReference{ref: referenceWith(models.CodeMapping{"99": "10"})}
	collector := memory.NewMemoryCollector()
	svc := NewInsertionService(store, ref, processors.NewTransactionClassifier(), processors.NewTotalsReconciler(), collector)
	ctx := context.Background()

	ok := branch(t, "001", ref.ref, withSecurity(txn("0001", "22", 1500, "000000001234"), txn("0002", "99", 200, "000000000100"))...)
	mismatch := branch(t, "002", ref.ref, withSecurity(txn("0003", "22", 1500, "000000001234"))...)
	mismatch.Header.CreditTotal = "000000000001000"
	unknown := branch(t, "003", ref.ref, withSecurity(txn("0004", "22", 10, "000000001234"))...)
	unknown.Transactions[0].TxCode = "55"
	text := formatLines(t, slipFile("IN001.txt", ok, mismatch, unknown))

	file, err := svc.Ingest(ctx, models.Inward, strings.NewReader(text), "IN001.txt")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if file.TransactionCount() != 4 || file.Header.Status != models.StatusInserted {
		t.Errorf("ingested %d transactions, status %s", file.TransactionCount(), file.Header.Status)
	}
	if collector.Count(collector.FilesIngested, string(models.Inward)) != 1 {
		t.Error("ingest not counted")
	}

	result, err := svc.ReconcileInward(ctx, "IN001.txt")
	if err != nil {
		t.Fatalf("ReconcileInward() error = %v", err)
	}
	want := map[string]models.Status{
		"001": models.StatusReconciled,
		"002": models.StatusReconciliationFailed,
		"003": models.StatusUnresolvedCode,
	}
	for _, b := range result.Branches {
		if b.Status != want[b.BranchCode] {
			t.Errorf("branch %s status = %s, want %s", b.BranchCode, b.Status, want[b.BranchCode])
		}
	}
	if result.Status != models.StatusReconciliationFailed {
		t.Errorf("file status = %s", result.Status)
	}
	if len(result.UnresolvedCodes) != 1 || result.UnresolvedCodes[0].Code != "55" {
		t.Errorf("unresolved = %+v", result.UnresolvedCodes)
	}

	stored, _ := store.LoadFile(ctx, models.Inward, "IN001.txt")
	received := stored.Branch("001").Transactions[1]
	if received.TxCode != "99" {
		t.Errorf("inward code stored as %s, want the received 99", received.TxCode)
	}
	if received.Status != models.StatusReconciled {
		t.Errorf("inward transaction status = %s, want %s", received.Status, models.StatusReconciled)
	}
	if got := stored.Branch("002").Header.CreditTotal; got != "000000000001000" {
		t.Errorf("declared inward credit total stored as %s", got)
	}

	if err := svc.StageFromInward(ctx, "IN001.txt", "OUT001.txt"); err != nil {
		t.Fatalf("StageFromInward() error = %v", err)
	}
	if err := svc.StageFromInward(ctx, "IN001.txt", ""); err == nil {
		t.Error("StageFromInward() without outward name succeeded")
	}
	outward, err := svc.ListFiles(ctx, models.Outward)
	if err != nil || len(outward) != 1 || outward[0].FileName != "OUT001.txt" {
		t.Errorf("ListFiles(outward) = %+v, %v", outward, err)
	}
}

func TestInsertionRejectsMalformedFile(t *testing.T) {
	store := openStore(t)
	svc := NewInsertionService(store, &stubReference{ref: referenceWith(nil)},
		processors.NewTransactionClassifier(), processors.NewTotalsReconciler(), nil)

	var buf bytes.Buffer
	buf.WriteString("9999" + strings.Repeat(" ", 180) + "\n")
	_, err := svc.Ingest(context.Background(), models.Outward, &buf, "BAD.txt")
	if !errors.Is(err, models.ErrMalformedMarker) {
		t.Fatalf("Ingest() error = %v, want ErrMalformedMarker", err)
	}
	if _, err := store.LoadFile(context.Background(), models.Outward, "BAD.txt"); !errors.Is(err, models.ErrFileNotFound) {
		t.Error("malformed file left rows behind")
	}
}
