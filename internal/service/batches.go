package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/shreyes-7/AyurTrack-sub001/chaincode/herbaltrace"
	"github.com/shreyes-7/AyurTrack-sub001/internal/mirror"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/rules"
)

// CollectionRequest is a harvest reported by a farmer. An empty Timestamp
// means now.
type CollectionRequest struct {
	BatchID      string
	CollectionID string
	CollectorID  string
	Lat, Long    float64
	Timestamp    string
	Species      string
	Quantity     float64
	Quality      domain.Quality
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func (s *Service) timestamp(ts string) string {
	if strings.TrimSpace(ts) == "" {
		return rules.FormatTimestamp(s.now())
	}
	return ts
}

// speciesRule returns the mirror copy of a species rule, or nil when none is
// configured.
func speciesRule(ctx context.Context, tx mirror.Repo, species string) (*domain.SpeciesRule, error) {
	rule, err := tx.GetSpeciesRule(ctx, species)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return rule, err
}

// CreateCollection records a harvest and the batch it opens. The harvest is
// checked against the species rule exactly as the ledger will check it.
func (s *Service) CreateCollection(ctx context.Context, req CollectionRequest) (*domain.HerbBatch, error) {
	qualityJSON, err := jsonArg(req.Quality)
	if err != nil {
		return nil, err
	}
	args := []string{req.BatchID, req.CollectionID, req.CollectorID, formatFloat(req.Lat), formatFloat(req.Long),
		s.timestamp(req.Timestamp), req.Species, formatFloat(req.Quantity), qualityJSON}
	in, err := herbaltrace.ParseCollectionInput(args[0], args[1], args[2], args[3], args[4], args[5], args[6], args[7], args[8])
	if err != nil {
		return nil, err
	}
	args = []string{in.BatchID, in.CollectionID, in.CollectorID, args[3], args[4], in.Timestamp, in.Species, args[7], qualityJSON}

	event := domain.CollectionEvent{
		DocType:      domain.DocCollectionEvent,
		CollectionID: in.CollectionID,
		BatchID:      in.BatchID,
		CollectorID:  in.CollectorID,
		Location:     domain.Location{Lat: in.Lat, Long: in.Long},
		Timestamp:    in.Timestamp,
		Species:      in.Species,
		Quantity:     in.Quantity,
		Quality:      in.Quality,
	}
	batch := domain.HerbBatch{
		DocType:      domain.DocHerbBatch,
		BatchID:      in.BatchID,
		CollectionID: in.CollectionID,
		CollectorID:  in.CollectorID,
		Species:      in.Species,
		Quantity:     in.Quantity,
		Quality:      in.Quality,
		CurrentOwner: in.CollectorID,
		Status:       domain.StatusCollected,
		UsedIn:       []string{},
	}
	err = s.write(ctx, func(tx mirror.Repo) (string, error) {
		farmer, err := tx.GetParticipant(ctx, domain.Farmer, in.CollectorID)
		if err != nil {
			return "", err
		}
		rule, err := speciesRule(ctx, tx, in.Species)
		if err != nil {
			return "", err
		}
		if err := rules.ValidateCollection(rule, in.Lat, in.Long, in.Time, in.Quality); err != nil {
			return "", err
		}
		if err := tx.InsertCollection(ctx, event, batch); err != nil {
			return "", err
		}
		return tx.EnqueueJobAfter(ctx, farmer.OrganizationalIdentity, "CreateHerbBatch", args,
			[]mirror.Ref{participantRef(domain.Farmer, in.CollectorID), speciesRef(in.Species)},
			batchRef(in.BatchID), mirror.Ref{Kind: mirror.KindCollection, ID: in.CollectionID})
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// StepRequest is a processing step reported by a facility.
type StepRequest struct {
	ProcessID  string
	BatchID    string
	FacilityID string
	StepType   string
	Params     domain.ProcessingParams
	Timestamp  string
}

// AddProcessingStep logs a step and hands the batch to the facility. Unlike
// the ledger, the mirror refuses steps that go back in the processing order.
func (s *Service) AddProcessingStep(ctx context.Context, req StepRequest) (*domain.ProcessingStep, error) {
	paramsJSON, err := jsonArg(req.Params)
	if err != nil {
		return nil, err
	}
	step, err := herbaltrace.ParseProcessingStep(req.ProcessID, req.BatchID, req.FacilityID, req.StepType, paramsJSON, s.timestamp(req.Timestamp))
	if err != nil {
		return nil, err
	}
	err = s.write(ctx, func(tx mirror.Repo) (string, error) {
		facility, err := tx.GetParticipant(ctx, domain.Processor, step.FacilityID)
		if err != nil {
			return "", err
		}
		b, err := tx.GetBatch(ctx, step.BatchID)
		if err != nil {
			return "", err
		}
		to := domain.ProcessedStatus(step.StepType)
		if err := domain.CheckTransition(b.BatchID, b.Status, to); err != nil {
			return "", err
		}
		if cur, ok := b.Status.Step(); ok && domain.StepRank(step.StepType) < domain.StepRank(cur) {
			return "", domain.Validationf("stepOrder", "batch %s is already past %s (at %s)", b.BatchID, step.StepType, cur)
		}
		if err := tx.InsertProcessingStep(ctx, *step); err != nil {
			return "", err
		}
		b.Status = to
		b.CurrentOwner = step.FacilityID
		if err := tx.UpdateBatch(ctx, *b); err != nil {
			return "", err
		}
		return tx.EnqueueJobAfter(ctx, facility.OrganizationalIdentity, "AddProcessingStep",
			[]string{step.ProcessID, step.BatchID, step.FacilityID, string(step.StepType), paramsJSON, step.Timestamp},
			[]mirror.Ref{participantRef(domain.Processor, step.FacilityID)},
			mirror.Ref{Kind: mirror.KindProcess, Parent: step.BatchID, ID: step.ProcessID}, batchRef(step.BatchID))
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// TestRequest is a lab result.
type TestRequest struct {
	TestID    string
	BatchID   string
	LabID     string
	TestType  string
	Results   domain.QualityResults
	Timestamp string
}

// AddQualityTest logs lab results. Results above the species thresholds move
// the batch to quality_fail.
func (s *Service) AddQualityTest(ctx context.Context, req TestRequest) (*domain.QualityTest, error) {
	resultsJSON, err := jsonArg(req.Results)
	if err != nil {
		return nil, err
	}
	qt, err := herbaltrace.ParseQualityTest(req.TestID, req.BatchID, req.LabID, req.TestType, resultsJSON, s.timestamp(req.Timestamp))
	if err != nil {
		return nil, err
	}
	err = s.write(ctx, func(tx mirror.Repo) (string, error) {
		lab, err := tx.GetParticipant(ctx, domain.Lab, qt.LabID)
		if err != nil {
			return "", err
		}
		b, err := tx.GetBatch(ctx, qt.BatchID)
		if err != nil {
			return "", err
		}
		if b.Status.IsTerminal() {
			return "", domain.Validationf("terminalStatus", "batch %s is %s and accepts no further tests", b.BatchID, b.Status)
		}
		rule, err := speciesRule(ctx, tx, b.Species)
		if err != nil {
			return "", err
		}
		if err := tx.InsertQualityTest(ctx, *qt); err != nil {
			return "", err
		}
		b.LastQualityTest = qt.TestID
		if rule != nil && !rules.CheckQualityResults(*rule, qt.Results).Valid {
			b.Status = domain.StatusQualityFail
		}
		if err := tx.UpdateBatch(ctx, *b); err != nil {
			return "", err
		}
		return tx.EnqueueJobAfter(ctx, lab.OrganizationalIdentity, "AddQualityTest",
			[]string{qt.TestID, qt.BatchID, qt.LabID, qt.TestType, resultsJSON, qt.Timestamp},
			[]mirror.Ref{participantRef(domain.Lab, qt.LabID), speciesRef(b.Species)},
			mirror.Ref{Kind: mirror.KindQualityTest, Parent: qt.BatchID, ID: qt.TestID}, batchRef(qt.BatchID))
	})
	if err != nil {
		return nil, err
	}
	return qt, nil
}

// ownedBatch loads a batch the acting participant currently owns.
func ownedBatch(ctx context.Context, tx mirror.Repo, batchID, actorType, actorID string) (*domain.HerbBatch, *domain.Participant, error) {
	t, err := domain.ParseParticipantType(actorType)
	if err != nil {
		return nil, nil, err
	}
	p, err := tx.GetParticipant(ctx, t, strings.TrimSpace(actorID))
	if err != nil {
		return nil, nil, err
	}
	b, err := tx.GetBatch(ctx, strings.TrimSpace(batchID))
	if err != nil {
		return nil, nil, err
	}
	if b.CurrentOwner != p.ID {
		return nil, nil, domain.Unauthorized("%s %s does not own batch %s", p.Type, p.ID, b.BatchID)
	}
	return b, p, nil
}

// TransferBatch hands a batch to a new owner. The actor must own it.
func (s *Service) TransferBatch(ctx context.Context, batchID, actorType, actorID, newOwnerID string) (*domain.HerbBatch, error) {
	newOwnerID = strings.TrimSpace(newOwnerID)
	if newOwnerID == "" {
		return nil, domain.InvalidArgument("newOwnerId is required")
	}
	var out *domain.HerbBatch
	err := s.write(ctx, func(tx mirror.Repo) (string, error) {
		b, p, err := ownedBatch(ctx, tx, batchID, actorType, actorID)
		if err != nil {
			return "", err
		}
		if b.Status.IsTerminal() {
			return "", domain.Validationf("terminalStatus", "batch %s is %s and cannot be transferred", b.BatchID, b.Status)
		}
		b.CurrentOwner = newOwnerID
		if err := tx.UpdateBatch(ctx, *b); err != nil {
			return "", err
		}
		out = b
		return tx.EnqueueJobAfter(ctx, p.OrganizationalIdentity, "TransferHerbBatch",
			[]string{b.BatchID, string(p.Type), p.ID, newOwnerID},
			[]mirror.Ref{participantRef(p.Type, p.ID)}, batchRef(b.BatchID))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateBatchStatus moves a batch along the status graph. Either status
// spelling is accepted; the ledger receives the canonical one.
func (s *Service) UpdateBatchStatus(ctx context.Context, batchID, actorType, actorID, status string) (*domain.HerbBatch, error) {
	to, err := domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	var out *domain.HerbBatch
	err = s.write(ctx, func(tx mirror.Repo) (string, error) {
		b, p, err := ownedBatch(ctx, tx, batchID, actorType, actorID)
		if err != nil {
			return "", err
		}
		if err := domain.CheckTransition(b.BatchID, b.Status, to); err != nil {
			return "", err
		}
		b.Status = to
		if err := tx.UpdateBatch(ctx, *b); err != nil {
			return "", err
		}
		out = b
		return tx.EnqueueJobAfter(ctx, p.OrganizationalIdentity, "UpdateHerbBatchStatus",
			[]string{b.BatchID, string(p.Type), p.ID, string(to)},
			[]mirror.Ref{participantRef(p.Type, p.ID)}, batchRef(b.BatchID))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetBatch(ctx context.Context, batchID string) (*domain.HerbBatch, error) {
	return s.repo.GetBatch(ctx, batchID)
}

func (s *Service) ListBatches(ctx context.Context, f mirror.BatchFilter, page mirror.Page) (mirror.Result[domain.HerbBatch], error) {
	return s.repo.ListBatches(ctx, f, page)
}

func (s *Service) ProcessingSteps(ctx context.Context, batchID string) ([]domain.ProcessingStep, error) {
	return s.repo.ProcessingSteps(ctx, batchID)
}

func (s *Service) QualityTests(ctx context.Context, batchID string) ([]domain.QualityTest, error) {
	return s.repo.QualityTests(ctx, batchID)
}

// ProductsUsing lists the product batches formulated from batchID.
func (s *Service) ProductsUsing(ctx context.Context, batchID string) ([]string, error) {
	return s.repo.FormulationsUsing(ctx, batchID)
}
