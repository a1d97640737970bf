package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shreyes-7/AyurTrack-sub001/internal/ledger"
	"github.com/shreyes-7/AyurTrack-sub001/internal/mirror"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

func (s *Service) evaluate(ctx context.Context, fn string, args ...string) ([]byte, error) {
	if s.gw == nil {
		return nil, domain.LedgerUnavailable("no ledger gateway configured")
	}
	if s.opts.EvaluateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.EvaluateTimeout)
		defer cancel()
	}
	started := time.Now()
	out, err := ledger.Evaluate(ctx, s.gw, s.opts.AdminIdentity, fn, args...)
	outcome := "OK"
	if err != nil {
		if outcome = domain.Code(err); outcome == "" {
			outcome = "UNKNOWN"
		}
	}
	s.metrics.ObserveLedger(fn, outcome, started)
	return out, err
}

// GetProvenance traces a product back to its harvests. The ledger is asked
// first; only when it is unreachable is the bundle rebuilt from the mirror,
// tagged with the mirror source. Any other ledger error is returned as is.
func (s *Service) GetProvenance(ctx context.Context, productBatchID string) (*domain.ProvenanceBundle, error) {
	raw, err := s.evaluate(ctx, "GetProvenance", productBatchID)
	if err == nil {
		var bundle domain.ProvenanceBundle
		if err := json.Unmarshal(raw, &bundle); err != nil {
			return nil, fmt.Errorf("failed to decode ledger provenance: %w", err)
		}
		return &bundle, nil
	}
	if !errors.Is(err, domain.ErrLedgerUnavailable) {
		return nil, err
	}
	s.logger.Warn("ledger unavailable, serving provenance from the mirror", "product", productBatchID, "err", err)
	if s.metrics != nil {
		s.metrics.MirrorFallback.Inc()
	}
	return s.repo.Provenance(ctx, productBatchID)
}

// BatchHistory returns the ledger's modification history of a batch.
func (s *Service) BatchHistory(ctx context.Context, batchID string) (json.RawMessage, error) {
	raw, err := s.evaluate(ctx, "GetHerbBatchHistory", batchID)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// SyncStatus reports whether a mirror record has reached the ledger.
func (s *Service) SyncStatus(ctx context.Context, ref mirror.Ref) (domain.SyncStatus, error) {
	return s.repo.Sync(ctx, ref)
}

// ListJobs pages through the outbox; an empty status lists all.
func (s *Service) ListJobs(ctx context.Context, status mirror.JobStatus, page mirror.Page) (mirror.Result[mirror.Job], error) {
	return s.repo.ListJobs(ctx, status, page)
}
