package mirror

import (
	"context"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

// Reader adapts the repo to domain.ProvenanceReader.
type Reader struct {
	Repo Repo
	Ctx  context.Context
}

var _ domain.ProvenanceReader = Reader{}

func (m Reader) Formulation(productBatchID string) (*domain.Formulation, error) {
	return m.Repo.GetFormulation(m.Ctx, productBatchID)
}

func (m Reader) Batch(batchID string) (*domain.HerbBatch, error) {
	return m.Repo.GetBatch(m.Ctx, batchID)
}

func (m Reader) CollectionEvent(collectionID string) (*domain.CollectionEvent, error) {
	return m.Repo.GetCollection(m.Ctx, collectionID)
}

func (m Reader) Participant(t domain.ParticipantType, id string) (*domain.Participant, error) {
	return m.Repo.GetParticipant(m.Ctx, t, id)
}

func (m Reader) ProcessingSteps(batchID string) ([]domain.ProcessingStep, error) {
	return m.Repo.ProcessingSteps(m.Ctx, batchID)
}

func (m Reader) QualityTests(batchID string) ([]domain.QualityTest, error) {
	return m.Repo.QualityTests(m.Ctx, batchID)
}

// Provenance rebuilds a product trace from mirror rows.
func (r Repo) Provenance(ctx context.Context, productBatchID string) (*domain.ProvenanceBundle, error) {
	return domain.AssembleProvenance(Reader{Repo: r, Ctx: ctx}, productBatchID, domain.SourceMirror)
}
