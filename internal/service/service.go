// Package service implements the off-chain use cases. Each write validates
// against the mirror, commits the mirror rows together with an outbox job,
// and returns; the ledger catches up in the background.
package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shreyes-7/AyurTrack-sub001/chaincode/herbaltrace"
	"github.com/shreyes-7/AyurTrack-sub001/internal/blob"
	"github.com/shreyes-7/AyurTrack-sub001/internal/ledger"
	"github.com/shreyes-7/AyurTrack-sub001/internal/metrics"
	"github.com/shreyes-7/AyurTrack-sub001/internal/mirror"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

// Enqueuer receives committed outbox jobs. It must not block.
type Enqueuer interface {
	Enqueue(id string) bool
}

// Options are the service settings taken from config.
type Options struct {
	// AdminIdentity signs species rule updates and provenance reads.
	AdminIdentity   string
	EvaluateTimeout time.Duration
	QRBaseURL       string
	QRSize          int
}

type Service struct {
	repo    mirror.Repo
	gw      ledger.Gateway
	queue   Enqueuer
	blobs   blob.Store
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Now stamps records written without a timestamp. Nil uses the wall clock.
	Now func() time.Time
}

// New wires a service. queue and blobs may be nil: jobs then wait for the
// poller, and QR generation is unavailable.
func New(repo mirror.Repo, gw ledger.Gateway, queue Enqueuer, blobs blob.Store, opts Options, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.QRSize <= 0 {
		opts.QRSize = 256
	}
	return &Service{repo: repo, gw: gw, queue: queue, blobs: blobs, opts: opts, logger: logger, metrics: m}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// write runs fn in one mirror transaction and hands the job it queued to the
// dispatcher once the transaction is committed.
func (s *Service) write(ctx context.Context, fn func(tx mirror.Repo) (jobID string, err error)) error {
	var jobID string
	err := s.repo.InTx(ctx, func(tx mirror.Repo) error {
		var err error
		jobID, err = fn(tx)
		return err
	})
	if err != nil {
		return err
	}
	if s.queue != nil && !s.queue.Enqueue(jobID) {
		s.logger.Debug("ledger job deferred to the poller", "job", jobID)
	}
	return nil
}

func participantRef(t domain.ParticipantType, id string) mirror.Ref {
	return mirror.Ref{Kind: mirror.KindParticipant, Parent: string(t), ID: id}
}

func batchRef(id string) mirror.Ref { return mirror.Ref{Kind: mirror.KindBatch, ID: id} }

func speciesRef(species string) mirror.Ref { return mirror.Ref{Kind: mirror.KindSpecies, ID: species} }

func jsonArg(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", domain.InvalidArgument("cannot encode ledger argument: %v", err)
	}
	return string(b), nil
}

// Participants

// RegisterParticipant records a participant and queues its registration,
// signed by the participant's own organization.
func (s *Service) RegisterParticipant(ctx context.Context, p domain.Participant) (*domain.Participant, error) {
	t, err := domain.ParseParticipantType(string(p.Type))
	if err != nil {
		return nil, err
	}
	p.Type = t
	p.ID = strings.TrimSpace(p.ID)
	p.DocType = domain.DocParticipant
	if err := p.Validate(); err != nil {
		return nil, err
	}
	body, err := jsonArg(p)
	if err != nil {
		return nil, err
	}
	err = s.write(ctx, func(tx mirror.Repo) (string, error) {
		if err := tx.InsertParticipant(ctx, p); err != nil {
			return "", err
		}
		return tx.EnqueueJob(ctx, p.OrganizationalIdentity, "CreateParticipant",
			[]string{string(p.Type), p.ID, body}, participantRef(p.Type, p.ID))
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateParticipant replaces a participant's profile. The organization it is
// registered to cannot change.
func (s *Service) UpdateParticipant(ctx context.Context, p domain.Participant) (*domain.Participant, error) {
	t, err := domain.ParseParticipantType(string(p.Type))
	if err != nil {
		return nil, err
	}
	p.Type = t
	p.ID = strings.TrimSpace(p.ID)
	p.DocType = domain.DocParticipant
	if err := p.Validate(); err != nil {
		return nil, err
	}
	body, err := jsonArg(p)
	if err != nil {
		return nil, err
	}
	err = s.write(ctx, func(tx mirror.Repo) (string, error) {
		current, err := tx.GetParticipant(ctx, p.Type, p.ID)
		if err != nil {
			return "", err
		}
		if err := current.AuthorizeCaller(p.OrganizationalIdentity); err != nil {
			return "", err
		}
		if err := tx.UpdateParticipant(ctx, p); err != nil {
			return "", err
		}
		return tx.EnqueueJob(ctx, current.OrganizationalIdentity, "UpdateParticipant",
			[]string{string(p.Type), p.ID, body}, participantRef(p.Type, p.ID))
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) GetParticipant(ctx context.Context, t domain.ParticipantType, id string) (*domain.Participant, error) {
	return s.repo.GetParticipant(ctx, t, id)
}

// ListParticipants pages through the mirror; an empty type lists all.
func (s *Service) ListParticipants(ctx context.Context, t domain.ParticipantType, page mirror.Page) (mirror.Result[domain.Participant], error) {
	if t != "" {
		var err error
		if t, err = domain.ParseParticipantType(string(t)); err != nil {
			return mirror.Result[domain.Participant]{}, err
		}
	}
	return s.repo.ListParticipants(ctx, t, page)
}

// Species rules

// SetSpeciesRules stores the rules used to validate harvests, last writer
// wins, and queues the ledger update under the admin identity.
func (s *Service) SetSpeciesRules(ctx context.Context, species, rulesJSON string) (*domain.SpeciesRule, error) {
	if s.opts.AdminIdentity == "" {
		return nil, domain.Unauthorized("no admin identity configured for species rules")
	}
	rule, err := herbaltrace.DecodeSpeciesRule(species, rulesJSON)
	if err != nil {
		return nil, err
	}
	body, err := jsonArg(rule)
	if err != nil {
		return nil, err
	}
	err = s.write(ctx, func(tx mirror.Repo) (string, error) {
		if err := tx.UpsertSpeciesRule(ctx, *rule); err != nil {
			return "", err
		}
		return tx.EnqueueJob(ctx, s.opts.AdminIdentity, "SetSpeciesRules",
			[]string{rule.Species, body}, speciesRef(rule.Species))
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *Service) GetSpeciesRules(ctx context.Context, species string) (*domain.SpeciesRule, error) {
	return s.repo.GetSpeciesRule(ctx, species)
}

func (s *Service) ListSpeciesRules(ctx context.Context) ([]domain.SpeciesRule, error) {
	return s.repo.ListSpeciesRules(ctx)
}
