package audit

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/metrics"
	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
	"github.com/josh-kwaku/casino-wallet-core/internal/testutil"
)

func setupTrail(t *testing.T) (*sql.DB, *Trail) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	trail := NewTrail(
		repository.NewAuditRepository(db),
		repository.NewArchiveManifestRepository(db),
		db,
		metrics.NewUnregistered(),
	)
	return db, trail
}

func withdrawalInput(tenantID uuid.UUID, resourceID string) domain.AuditInput {
	actor := uuid.New()
	return domain.AuditInput{
		ActorUserID:  &actor,
		ActorRole:    "operator",
		TenantID:     tenantID,
		Action:       "withdrawal.approve",
		ResourceType: "order",
		ResourceID:   resourceID,
		Result:       "approved",
		Details:      domain.JSONMap{"amount": "30.00", "currency": "USD"},
	}
}

func TestLogEvent_ChainsEvents(t *testing.T) {
	_, trail := setupTrail(t)
	ctx := context.Background()
	tenantID := uuid.New()

	first, err := trail.Log(ctx, withdrawalInput(tenantID, "order-1"))
	require.NoError(t, err)
	second, err := trail.Log(ctx, withdrawalInput(tenantID, "order-2"))
	require.NoError(t, err)

	assert.Equal(t, tenantID.String(), first.ChainID)
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, domain.GenesisRowHash, first.PrevRowHash)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Equal(t, first.RowHash, second.PrevRowHash)
	assert.Equal(t, domain.AuditStatusSuccess, second.Status)

	stored, err := repository.NewAuditRepository(trail.db).ListRange(ctx, tenantID.String(), 1, 0, 10)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	payload, err := CanonicalPayload(&stored[1])
	require.NoError(t, err)
	assert.Equal(t, stored[1].RowHash, RowHash(stored[0].RowHash, payload))

	head, err := trail.Head(ctx, tenantID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(2), head.LastSequence)
	assert.Equal(t, second.RowHash, head.LastRowHash)
}

func TestLogEvent_MasksSensitiveDetails(t *testing.T) {
	db, trail := setupTrail(t)
	ctx := context.Background()
	tenantID := uuid.New()

	in := withdrawalInput(tenantID, "order-1")
	in.Details = domain.JSONMap{"amount": "30.00", "headers": map[string]any{"Authorization": "Bearer x"}}
	in.Metadata = domain.JSONMap{"api_key": "live-123"}

	_, err := trail.Log(ctx, in)
	require.NoError(t, err)

	var details, metadata string
	err = db.QueryRowContext(ctx,
		`SELECT details::text, metadata::text FROM audit_events WHERE chain_id = $1`, tenantID.String(),
	).Scan(&details, &metadata)
	require.NoError(t, err)
	assert.Contains(t, details, `"Authorization":"***"`)
	assert.NotContains(t, details, "Bearer")
	assert.Contains(t, metadata, `"api_key":"***"`)
}

func TestLogEvent_RejectsMissingAction(t *testing.T) {
	_, trail := setupTrail(t)
	_, err := trail.Log(context.Background(), domain.AuditInput{TenantID: uuid.New(), ResourceType: "order"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestLogEvent_RollbackLeavesNoGap(t *testing.T) {
	db, trail := setupTrail(t)
	ctx := context.Background()
	tenantID := uuid.New()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = trail.LogEvent(ctx, tx, withdrawalInput(tenantID, "rolled-back"))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	e, err := trail.Log(ctx, withdrawalInput(tenantID, "kept"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Sequence)
}

func TestLogEvent_ConcurrentWritersAreGapless(t *testing.T) {
	_, trail := setupTrail(t)
	ctx := context.Background()
	tenantID := uuid.New()

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := trail.Log(ctx, withdrawalInput(tenantID, uuid.NewString()))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	report, err := trail.Verify(ctx, tenantID.String())
	require.NoError(t, err)
	assert.True(t, report.OK, "problems: %+v", report.Problems)
	assert.Equal(t, int64(writers), report.RowsChecked)
	assert.Equal(t, int64(writers), report.LastSequence)
}

func TestVerify_DetectsTampering(t *testing.T) {
	db, trail := setupTrail(t)
	ctx := context.Background()
	tenantID := uuid.New()
	chainID := tenantID.String()

	for i := 0; i < 3; i++ {
		_, err := trail.Log(ctx, withdrawalInput(tenantID, uuid.NewString()))
		require.NoError(t, err)
	}

	report, err := trail.Verify(ctx, chainID)
	require.NoError(t, err)
	require.True(t, report.OK)

	_, err = db.ExecContext(ctx,
		`UPDATE audit_events SET details = '{"amount":"9999.00"}' WHERE chain_id = $1 AND sequence = 2`, chainID)
	require.Error(t, err, "audit rows must be immutable")

	_, err = db.ExecContext(ctx, `ALTER TABLE audit_events DISABLE TRIGGER trg_audit_events_immutable`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`UPDATE audit_events SET details = '{"amount":"9999.00"}' WHERE chain_id = $1 AND sequence = 2`, chainID)
	require.NoError(t, err)

	report, err = trail.Verify(ctx, chainID)
	require.NoError(t, err)
	assert.False(t, report.OK)
	require.Len(t, report.Problems, 1)
	assert.Equal(t, ProblemRowHashMismatch, report.Problems[0].Kind)
	assert.Equal(t, int64(2), report.Problems[0].Sequence)

	_, err = db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE chain_id = $1 AND sequence = 3`, chainID)
	require.NoError(t, err)

	report, err = trail.Verify(ctx, chainID)
	require.NoError(t, err)
	kinds := map[string]bool{}
	for _, p := range report.Problems {
		kinds[p.Kind] = true
	}
	assert.True(t, kinds[ProblemHeadMismatch])
}

func TestVerify_DetectsGap(t *testing.T) {
	db, trail := setupTrail(t)
	ctx := context.Background()
	tenantID := uuid.New()
	chainID := tenantID.String()

	for i := 0; i < 3; i++ {
		_, err := trail.Log(ctx, withdrawalInput(tenantID, uuid.NewString()))
		require.NoError(t, err)
	}

	_, err := db.ExecContext(ctx, `ALTER TABLE audit_events DISABLE TRIGGER trg_audit_events_immutable`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `DELETE FROM audit_events WHERE chain_id = $1 AND sequence = 2`, chainID)
	require.NoError(t, err)

	report, err := trail.Verify(ctx, chainID)
	require.NoError(t, err)
	require.Len(t, report.Problems, 2)
	assert.Equal(t, ProblemSequenceGap, report.Problems[0].Kind)
	assert.Equal(t, ProblemPrevHashMismatch, report.Problems[1].Kind)
	assert.Equal(t, int64(3), report.Problems[0].Sequence)
}

func TestHead_UnknownChain(t *testing.T) {
	_, trail := setupTrail(t)
	head, err := trail.Head(context.Background(), "never-written")
	require.NoError(t, err)
	assert.Equal(t, int64(0), head.LastSequence)
	assert.Equal(t, domain.GenesisRowHash, head.LastRowHash)
}

func TestVerify_EmptyChain(t *testing.T) {
	_, trail := setupTrail(t)
	report, err := trail.Verify(context.Background(), "never-written")
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Zero(t, report.RowsChecked)
}
