/*
SPDX-License-Identifier: Apache-2.0
*/

package herbaltrace

import (
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

// worldState reads provenance records from the ledger.
type worldState struct {
	s   *SmartContract
	ctx contractapi.TransactionContextInterface
}

func (w worldState) Formulation(id string) (*domain.Formulation, error) {
	return w.s.formulation(w.ctx, id)
}

func (w worldState) Batch(id string) (*domain.HerbBatch, error) {
	return w.s.batch(w.ctx, id)
}

func (w worldState) CollectionEvent(id string) (*domain.CollectionEvent, error) {
	return w.s.collectionEvent(w.ctx, id)
}

func (w worldState) Participant(t domain.ParticipantType, id string) (*domain.Participant, error) {
	return w.s.participant(w.ctx, t, id)
}

func (w worldState) ProcessingSteps(batchID string) ([]domain.ProcessingStep, error) {
	return w.s.processingSteps(w.ctx, batchID)
}

func (w worldState) QualityTests(batchID string) ([]domain.QualityTest, error) {
	return w.s.qualityTests(w.ctx, batchID)
}

// GetProvenance traces a product back to its harvests. Missing sub-records
// are reported on the bundle instead of failing the query.
func (s *SmartContract) GetProvenance(ctx contractapi.TransactionContextInterface, productBatchID string) (string, error) {
	bundle, err := domain.AssembleProvenance(worldState{s: s, ctx: ctx}, productBatchID, domain.SourceLedger)
	if err != nil {
		return "", err
	}
	return toJSON(bundle)
}
