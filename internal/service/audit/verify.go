package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
)

const verifyPageSize = 1000

const (
	ProblemSequenceGap      = "sequence_gap"
	ProblemPrevHashMismatch = "prev_hash_mismatch"
	ProblemRowHashMismatch  = "row_hash_mismatch"
	ProblemHeadMismatch     = "head_mismatch"
)

type Problem struct {
	Kind     string `json:"kind"`
	Sequence int64  `json:"sequence"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

type VerifyReport struct {
	ChainID      string    `json:"chain_id"`
	FromSequence int64     `json:"from_sequence"`
	LastSequence int64     `json:"last_sequence"`
	RowsChecked  int64     `json:"rows_checked"`
	OK           bool      `json:"ok"`
	Problems     []Problem `json:"problems"`
}

// Verify walks the chain in sequence order and recomputes every link. When
// the head of the chain has been purged, the walk starts after the latest
// purged range and is anchored on that manifest's last row hash.
func (t *Trail) Verify(ctx context.Context, chainID string) (*VerifyReport, error) {
	from := int64(1)
	expectedPrev := domain.GenesisRowHash

	anchor, err := t.manifests.LatestPurged(ctx, chainID)
	switch {
	case err == nil:
		from = anchor.ToSequence + 1
		expectedPrev = anchor.LastRowHash
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("Verify: anchor: %w", err)
	}

	report := &VerifyReport{ChainID: chainID, FromSequence: from, LastSequence: from - 1, Problems: []Problem{}}
	expectedSeq := from
	lastHash := expectedPrev

	for {
		rows, err := t.events.ListRange(ctx, chainID, expectedSeq, 0, verifyPageSize)
		if err != nil {
			return nil, fmt.Errorf("Verify: %w", err)
		}

		for i := range rows {
			e := &rows[i]
			if e.Sequence != expectedSeq {
				report.add(Problem{
					Kind:     ProblemSequenceGap,
					Sequence: e.Sequence,
					Expected: fmt.Sprint(expectedSeq),
					Actual:   fmt.Sprint(e.Sequence),
				})
			}
			if e.PrevRowHash != lastHash {
				report.add(Problem{Kind: ProblemPrevHashMismatch, Sequence: e.Sequence, Expected: lastHash, Actual: e.PrevRowHash})
			}
			computed, err := ComputeRowHash(e)
			if err != nil {
				return nil, fmt.Errorf("Verify: sequence %d: %w", e.Sequence, err)
			}
			if computed != e.RowHash {
				report.add(Problem{Kind: ProblemRowHashMismatch, Sequence: e.Sequence, Expected: computed, Actual: e.RowHash})
			}

			// Continue from the stored hash so one bad row is reported once.
			lastHash = e.RowHash
			expectedSeq = e.Sequence + 1
			report.LastSequence = e.Sequence
			report.RowsChecked++
		}

		if len(rows) < verifyPageSize {
			break
		}
	}

	head, err := t.Head(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("Verify: %w", err)
	}
	if head.LastSequence != report.LastSequence || head.LastRowHash != lastHash {
		report.add(Problem{
			Kind:     ProblemHeadMismatch,
			Sequence: head.LastSequence,
			Expected: fmt.Sprintf("%d:%s", report.LastSequence, lastHash),
			Actual:   fmt.Sprintf("%d:%s", head.LastSequence, head.LastRowHash),
		})
	}

	report.OK = len(report.Problems) == 0
	if !report.OK {
		for _, p := range report.Problems {
			t.metrics.ChainVerifyFailure.WithLabelValues(p.Kind).Inc()
		}
		logging.FromContext(ctx).Error("audit chain verification failed",
			"chain_id", chainID,
			"problems", len(report.Problems),
			"first_kind", report.Problems[0].Kind,
			"first_sequence", report.Problems[0].Sequence,
		)
	}
	return report, nil
}

func (r *VerifyReport) add(p Problem) {
	r.Problems = append(r.Problems, p)
}
