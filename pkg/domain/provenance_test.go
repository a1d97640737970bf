package domain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

type mapReader struct {
	formulations map[string]*domain.Formulation
	batches      map[string]*domain.HerbBatch
	collections  map[string]*domain.CollectionEvent
	participants map[string]*domain.Participant
	steps        []domain.ProcessingStep
	tests        []domain.QualityTest
	stepsErr     error
}

func (m mapReader) Formulation(id string) (*domain.Formulation, error) {
	if f, ok := m.formulations[id]; ok {
		return f, nil
	}
	return nil, domain.NotFound("formulation %s does not exist", id)
}

func (m mapReader) Batch(id string) (*domain.HerbBatch, error) {
	if b, ok := m.batches[id]; ok {
		return b, nil
	}
	return nil, domain.NotFound("batch %s does not exist", id)
}

func (m mapReader) CollectionEvent(id string) (*domain.CollectionEvent, error) {
	if c, ok := m.collections[id]; ok {
		return c, nil
	}
	return nil, domain.NotFound("collection %s does not exist", id)
}

func (m mapReader) Participant(t domain.ParticipantType, id string) (*domain.Participant, error) {
	if p, ok := m.participants[string(t)+"/"+id]; ok {
		return p, nil
	}
	return nil, domain.NotFound("participant %s/%s does not exist", t, id)
}

func (m mapReader) ProcessingSteps(batchID string) ([]domain.ProcessingStep, error) {
	if m.stepsErr != nil {
		return nil, m.stepsErr
	}
	var out []domain.ProcessingStep
	for _, s := range m.steps {
		if s.BatchID == batchID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m mapReader) QualityTests(batchID string) ([]domain.QualityTest, error) {
	var out []domain.QualityTest
	for _, q := range m.tests {
		if q.BatchID == batchID {
			out = append(out, q)
		}
	}
	return out, nil
}

func fixtureReader() mapReader {
	return mapReader{
		formulations: map[string]*domain.Formulation{
			"P1": {ProductBatchID: "P1", ManufacturerID: "M1", InputBatches: []string{"B1", "B2"}},
		},
		batches: map[string]*domain.HerbBatch{
			"B1": {BatchID: "B1", CollectionID: "C1", CollectorID: "F1"},
		},
		collections: map[string]*domain.CollectionEvent{
			"C1": {CollectionID: "C1", BatchID: "B1", CollectorID: "F1"},
		},
		participants: map[string]*domain.Participant{
			"farmer/F1":       {Type: domain.Farmer, ID: "F1"},
			"manufacturer/M1": {Type: domain.Manufacturer, ID: "M1"},
		},
		steps: []domain.ProcessingStep{
			{ProcessID: "S2", BatchID: "B1", StepType: domain.StepDrying, Timestamp: "2025-11-04T00:00:00Z"},
			{ProcessID: "S1", BatchID: "B1", StepType: domain.StepCleaning, Timestamp: "2025-11-03T00:00:00Z"},
		},
		tests: []domain.QualityTest{{TestID: "Q1", BatchID: "B1"}},
	}
}

func TestAssembleProvenanceToleratesMissingBatch(t *testing.T) {
	bundle, err := domain.AssembleProvenance(fixtureReader(), "P1", domain.SourceLedger)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLedger, bundle.Source)
	require.NotNil(t, bundle.Manufacturer)
	require.Len(t, bundle.InputBatches, 2)

	b1 := bundle.InputBatches[0]
	assert.Equal(t, "B1", b1.Batch.BatchID)
	assert.Equal(t, "C1", b1.CollectionEvent.CollectionID)
	assert.Equal(t, "F1", b1.Collector.ID)
	require.Len(t, b1.ProcessSteps, 2)
	assert.Equal(t, "S1", b1.ProcessSteps[0].ProcessID, "steps are ordered by timestamp")
	assert.Len(t, b1.QualityTests, 1)
	assert.Empty(t, b1.Errors)

	b2 := bundle.InputBatches[1]
	assert.Nil(t, b2.Batch)
	require.Len(t, b2.Errors, 1)
	assert.Equal(t, "batch", b2.Errors[0].Part)
	assert.Equal(t, "NOT_FOUND", b2.Errors[0].Code)
	assert.NotNil(t, b2.ProcessSteps)
}

func TestAssembleProvenanceMissingFormulation(t *testing.T) {
	_, err := domain.AssembleProvenance(fixtureReader(), "P404", domain.SourceLedger)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAssembleProvenanceMarksMissingManufacturer(t *testing.T) {
	r := fixtureReader()
	delete(r.participants, "manufacturer/M1")
	bundle, err := domain.AssembleProvenance(r, "P1", domain.SourceMirror)
	require.NoError(t, err)
	assert.Nil(t, bundle.Manufacturer)
	require.Len(t, bundle.Errors, 1)
	assert.Equal(t, "manufacturer", bundle.Errors[0].Part)
}

func TestAssembleProvenancePropagatesStoreFailures(t *testing.T) {
	r := fixtureReader()
	r.stepsErr = errors.New("disk gone")
	_, err := domain.AssembleProvenance(r, "P1", domain.SourceLedger)
	assert.EqualError(t, err, "disk gone")
}
