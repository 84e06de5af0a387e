// Package reconciliation compares the internal ledger with provider reports
// and checks the withdrawal ledger for internal inconsistencies.
package reconciliation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/metrics"
	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
)

const (
	defaultFindingsPage = 50
	maxFindingsPage     = 500

	// runStaleAfter bounds how long a run may sit in running before another
	// worker takes it over.
	runStaleAfter = 30 * time.Minute
)

// ReportSource fetches a provider's settlement totals for a window.
type ReportSource interface {
	FetchReport(ctx context.Context, provider string, start, end time.Time) (*domain.ProviderReport, error)
}

type runStore interface {
	CreateRun(ctx context.Context, run *domain.ReconciliationRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*domain.ReconciliationRun, error)
	GetRunByIdempotencyKey(ctx context.Context, key string) (*domain.ReconciliationRun, error)
	ClaimRun(ctx context.Context, id uuid.UUID, staleAfter time.Duration) (*domain.ReconciliationRun, error)
	FinishRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, findingsCount int, runErr *string) error
	UpsertFinding(ctx context.Context, tx *sql.Tx, f *domain.ReconciliationFinding) (bool, error)
	GetFinding(ctx context.Context, id uuid.UUID) (*domain.ReconciliationFinding, error)
	ListFindings(ctx context.Context, filter repository.FindingFilter) ([]domain.ReconciliationFinding, error)
	ResolveFinding(ctx context.Context, id, resolvedBy uuid.UUID) (bool, error)
	PaidWithdrawalsWithBadLedger(ctx context.Context, provider string, start, end time.Time) ([]repository.PaidWithdrawalLedgerCount, error)
	WithdrawPaidWithoutPaidOrder(ctx context.Context, provider string, start, end time.Time) ([]repository.OrphanWithdrawPaid, error)
	DuplicatePayoutProviderEvents(ctx context.Context, provider string, start, end time.Time) ([]repository.DuplicatePayoutEvent, error)
}

type ledgerTotals interface {
	SumNetByCurrency(ctx context.Context, provider string, statuses []string, start, end time.Time) (map[domain.Currency]decimal.Decimal, error)
}

type RunRequest struct {
	Provider       string    `json:"provider" validate:"required,max=64"`
	WindowStart    time.Time `json:"window_start" validate:"required"`
	WindowEnd      time.Time `json:"window_end" validate:"required,gtfield=WindowStart"`
	DryRun         bool      `json:"dry_run"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty" validate:"omitempty,min=1,max=255"`
}

type Engine struct {
	runs       runStore
	ledger     ledgerTotals
	source     ReportSource
	db         *sql.DB
	threshold  decimal.Decimal
	staleAfter time.Duration
	validate   *validator.Validate
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewEngine(runs runStore, ledger ledgerTotals, source ReportSource, db *sql.DB, threshold decimal.Decimal, m *metrics.Metrics) *Engine {
	return &Engine{
		runs:       runs,
		ledger:     ledger,
		source:     source,
		db:         db,
		threshold:  threshold,
		staleAfter: runStaleAfter,
		validate:   validator.New(),
		metrics:    m,
		now:        time.Now,
	}
}

// CreateRun queues a run. A request carrying an idempotency key that was
// already used returns the existing run with created=false.
func (e *Engine) CreateRun(ctx context.Context, req RunRequest) (*domain.ReconciliationRun, bool, error) {
	if err := e.validate.Struct(&req); err != nil {
		return nil, false, fmt.Errorf("CreateRun: %w: %v", domain.ErrInvalidRequest, err)
	}

	if req.IdempotencyKey != nil {
		existing, err := e.runs.GetRunByIdempotencyKey(ctx, *req.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("CreateRun: %w", err)
		}
	}

	run := &domain.ReconciliationRun{
		ID:             uuid.New(),
		Provider:       req.Provider,
		WindowStart:    req.WindowStart.UTC(),
		WindowEnd:      req.WindowEnd.UTC(),
		DryRun:         req.DryRun,
		Status:         domain.RunStatusQueued,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      e.now().UTC(),
	}
	if err := e.runs.CreateRun(ctx, run); err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) && req.IdempotencyKey != nil {
			existing, getErr := e.runs.GetRunByIdempotencyKey(ctx, *req.IdempotencyKey)
			if getErr != nil {
				return nil, false, fmt.Errorf("CreateRun: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("CreateRun: %w", err)
	}

	logging.FromContext(ctx).Info("reconciliation run queued",
		"run_id", run.ID,
		"provider", run.Provider,
		"window_start", run.WindowStart,
		"window_end", run.WindowEnd,
		"dry_run", run.DryRun,
	)
	return run, true, nil
}

func (e *Engine) GetRun(ctx context.Context, id uuid.UUID) (*domain.ReconciliationRun, error) {
	run, err := e.runs.GetRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetRun: %w", err)
	}
	return run, nil
}

// Execute claims a queued or stale running run, performs both checks and
// records the outcome. A finished run is returned unchanged. Check failures
// mark the run failed; findings from checks that did succeed are still stored.
func (e *Engine) Execute(ctx context.Context, runID uuid.UUID) (*domain.ReconciliationRun, error) {
	run, err := e.runs.ClaimRun(ctx, runID, e.staleAfter)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("Execute: %w", err)
		}
		current, getErr := e.runs.GetRun(ctx, runID)
		if getErr != nil {
			return nil, fmt.Errorf("Execute: %w", getErr)
		}
		if current.Status == domain.RunStatusRunning || current.Status == domain.RunStatusQueued {
			return current, fmt.Errorf("Execute: %w", domain.ErrRunInProgress)
		}
		return current, nil
	}

	ctx = logging.With(ctx, "run_id", run.ID, "provider", run.Provider)
	log := logging.FromContext(ctx)
	started := time.Now()

	var checkErrs error
	drift, err := e.driftFindings(ctx, run)
	checkErrs = multierr.Append(checkErrs, err)
	consistency, err := e.consistencyFindings(ctx, run)
	checkErrs = multierr.Append(checkErrs, err)

	findings := append(drift, consistency...)
	if !run.DryRun && len(findings) > 0 {
		if err := e.storeFindings(ctx, findings); err != nil {
			checkErrs = multierr.Append(checkErrs, err)
		}
	}

	status := domain.RunStatusCompleted
	var runErr *string
	if checkErrs != nil {
		status = domain.RunStatusFailed
		msg := checkErrs.Error()
		runErr = &msg
	}
	if err := e.runs.FinishRun(ctx, run.ID, status, len(findings), runErr); err != nil {
		return nil, fmt.Errorf("Execute: %w", err)
	}

	e.metrics.ReconRuns.WithLabelValues(run.Provider, string(status)).Inc()
	e.metrics.ReconDuration.Observe(time.Since(started).Seconds())
	for _, f := range findings {
		e.metrics.ReconFindings.WithLabelValues(string(f.FindingType), string(f.Severity)).Inc()
	}

	if checkErrs != nil {
		log.Error("reconciliation run failed", "error", checkErrs, "findings", len(findings))
	} else {
		log.Info("reconciliation run completed", "findings", len(findings), "dry_run", run.DryRun)
	}

	finished, err := e.runs.GetRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("Execute: %w", err)
	}
	return finished, nil
}

func (e *Engine) storeFindings(ctx context.Context, findings []domain.ReconciliationFinding) error {
	return repository.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		for i := range findings {
			if _, err := e.runs.UpsertFinding(ctx, tx, &findings[i]); err != nil {
				return fmt.Errorf("store findings: %w", err)
			}
		}
		return nil
	})
}

// driftFindings raises one finding per currency whose internal net total
// differs from the provider's report by more than the threshold. The report
// is fetched before any database work and outside any transaction.
func (e *Engine) driftFindings(ctx context.Context, run *domain.ReconciliationRun) ([]domain.ReconciliationFinding, error) {
	report, err := e.source.FetchReport(ctx, run.Provider, run.WindowStart, run.WindowEnd)
	if err != nil {
		return nil, fmt.Errorf("drift check: fetch report: %w", err)
	}

	internal, err := e.ledger.SumNetByCurrency(ctx, run.Provider, domain.SettlementStatuses, run.WindowStart, run.WindowEnd)
	if err != nil {
		return nil, fmt.Errorf("drift check: %w", err)
	}

	currencies := make(map[domain.Currency]struct{}, len(internal)+len(report.Totals))
	for c := range internal {
		currencies[c] = struct{}{}
	}
	for c := range report.Totals {
		currencies[c] = struct{}{}
	}

	var findings []domain.ReconciliationFinding
	for _, c := range sortedCurrencies(currencies) {
		ours := internal[c]
		theirs := report.Totals[c]
		diff := ours.Sub(theirs)
		if diff.Abs().LessThanOrEqual(e.threshold) {
			continue
		}

		severity := domain.SeverityWarn
		if diff.Abs().GreaterThan(e.threshold.Mul(decimal.NewFromInt(10))) {
			severity = domain.SeverityError
		}

		details, _ := json.Marshal(map[string]string{
			"currency":  string(c),
			"internal":  ours.String(),
			"provider":  theirs.String(),
			"diff":      diff.String(),
			"threshold": e.threshold.String(),
		})
		findings = append(findings, e.newFinding(run, domain.ReconciliationFinding{
			ProviderEventID: driftKey(c, run.WindowStart, run.WindowEnd),
			FindingType:     domain.FindingProviderTotalDrift,
			Severity:        severity,
			Message: fmt.Sprintf("%s internal net %s differs from provider total %s by %s",
				c, ours.StringFixed(2), theirs.StringFixed(2), diff.String()),
			Details: details,
		}))
	}
	return findings, nil
}

// consistencyFindings checks the paid-withdrawal ledger against order state
// and payout attempts. Each query failure is collected and the remaining
// queries still run.
func (e *Engine) consistencyFindings(ctx context.Context, run *domain.ReconciliationRun) ([]domain.ReconciliationFinding, error) {
	var findings []domain.ReconciliationFinding
	var errs error

	paid, err := e.runs.PaidWithdrawalsWithBadLedger(ctx, run.Provider, run.WindowStart, run.WindowEnd)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("consistency check: %w", err))
	}
	for _, p := range paid {
		findingType := domain.FindingLedgerMissingWithdrawPaid
		msg := fmt.Sprintf("paid withdrawal %s has no withdraw_paid ledger entry", p.OrderID)
		if p.Entries > 1 {
			findingType = domain.FindingLedgerDuplicateWithdrawPaid
			msg = fmt.Sprintf("paid withdrawal %s has %d withdraw_paid ledger entries", p.OrderID, p.Entries)
		}
		details, _ := json.Marshal(map[string]any{"order_id": p.OrderID, "entries": p.Entries, "provider_event_id": p.ProviderEventID})
		findings = append(findings, e.newFinding(run, domain.ReconciliationFinding{
			TenantID:        uuidPtr(p.TenantID),
			PlayerID:        uuidPtr(p.PlayerID),
			TxID:            uuidPtr(p.OrderID),
			ProviderEventID: "tx:" + p.OrderID.String(),
			FindingType:     findingType,
			Severity:        domain.SeverityError,
			Message:         msg,
			Details:         details,
		}))
	}

	orphans, err := e.runs.WithdrawPaidWithoutPaidOrder(ctx, run.Provider, run.WindowStart, run.WindowEnd)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("consistency check: %w", err))
	}
	for _, o := range orphans {
		key := "ledger:" + o.EntryID.String()
		if o.ProviderEventID != nil && *o.ProviderEventID != "" {
			key = *o.ProviderEventID
		}
		state := "missing"
		if o.OrderState != nil {
			state = *o.OrderState
		}
		details, _ := json.Marshal(map[string]any{"entry_id": o.EntryID, "tx_id": o.TxID, "order_state": state})
		findings = append(findings, e.newFinding(run, domain.ReconciliationFinding{
			TenantID:        uuidPtr(o.TenantID),
			PlayerID:        uuidPtr(o.PlayerID),
			TxID:            o.TxID,
			ProviderEventID: key,
			FindingType:     domain.FindingLedgerPresentButTxNotPaid,
			Severity:        domain.SeverityError,
			Message:         fmt.Sprintf("withdraw_paid entry %s but order state is %s", o.EntryID, state),
			Details:         details,
		}))
	}

	dups, err := e.runs.DuplicatePayoutProviderEvents(ctx, run.Provider, run.WindowStart, run.WindowEnd)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("consistency check: %w", err))
	}
	for _, d := range dups {
		details, _ := json.Marshal(map[string]any{"order_ids": d.OrderIDs, "attempts": d.Attempts})
		findings = append(findings, e.newFinding(run, domain.ReconciliationFinding{
			ProviderEventID: d.ProviderEventID,
			FindingType:     domain.FindingPayoutAttemptDuplicateProvider,
			Severity:        domain.SeverityError,
			Message:         fmt.Sprintf("provider event %s reported by %d payout attempts", d.ProviderEventID, d.Attempts),
			Details:         details,
		}))
	}

	return findings, errs
}

func (e *Engine) newFinding(run *domain.ReconciliationRun, f domain.ReconciliationFinding) domain.ReconciliationFinding {
	f.ID = uuid.New()
	f.RunID = uuidPtr(run.ID)
	f.Provider = run.Provider
	f.Status = domain.FindingStatusOpen
	f.CreatedAt = e.now().UTC()
	return f
}

func (e *Engine) ListFindings(ctx context.Context, filter repository.FindingFilter) ([]domain.ReconciliationFinding, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultFindingsPage
	}
	if filter.Limit > maxFindingsPage {
		filter.Limit = maxFindingsPage
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	findings, err := e.runs.ListFindings(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ListFindings: %w", err)
	}
	return findings, nil
}

// ResolveFinding marks an open finding resolved. Resolving an already
// resolved finding returns it unchanged.
func (e *Engine) ResolveFinding(ctx context.Context, id uuid.UUID, actor uuid.UUID) (*domain.ReconciliationFinding, error) {
	changed, err := e.runs.ResolveFinding(ctx, id, actor)
	if err != nil {
		return nil, fmt.Errorf("ResolveFinding: %w", err)
	}

	f, err := e.runs.GetFinding(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ResolveFinding: %w", err)
	}
	if changed {
		logging.FromContext(ctx).Info("reconciliation finding resolved",
			"finding_id", id,
			"finding_type", f.FindingType,
			"resolved_by", actor,
		)
	}
	return f, nil
}

func driftKey(c domain.Currency, start, end time.Time) string {
	return fmt.Sprintf("drift:%s:%s:%s", c, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
}

func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }

func sortedCurrencies(set map[domain.Currency]struct{}) []domain.Currency {
	out := make([]domain.Currency, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
