/*
SPDX-License-Identifier: Apache-2.0
*/

package herbaltrace

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/rules"
)

// CollectionInput holds the parsed arguments of CreateHerbBatch.
type CollectionInput struct {
	BatchID      string
	CollectionID string
	CollectorID  string
	Lat, Long    float64
	Time         time.Time
	Timestamp    string
	Species      string
	Quantity     float64
	Quality      domain.Quality
}

// ParseCollectionInput parses the string arguments of a harvest. The
// off-chain services use it too so both sides reject the same input.
func ParseCollectionInput(batchID, collectionID, collectorID, lat, long, timestamp, species, quantity, qualityJSON string) (*CollectionInput, error) {
	in := &CollectionInput{
		BatchID:      strings.TrimSpace(batchID),
		CollectionID: strings.TrimSpace(collectionID),
		CollectorID:  strings.TrimSpace(collectorID),
		Species:      strings.TrimSpace(species),
	}
	if in.BatchID == "" || in.CollectionID == "" || in.CollectorID == "" || in.Species == "" {
		return nil, domain.InvalidArgument("batchId, collectionId, collectorId and species are required")
	}
	var err error
	if in.Lat, err = rules.ParseCoordinate("lat", lat, 90); err != nil {
		return nil, err
	}
	if in.Long, err = rules.ParseCoordinate("long", long, 180); err != nil {
		return nil, err
	}
	if in.Time, err = rules.ParseTimestamp(timestamp); err != nil {
		return nil, err
	}
	in.Timestamp = rules.FormatTimestamp(in.Time)
	in.Quantity, err = strconv.ParseFloat(strings.TrimSpace(quantity), 64)
	if err != nil || in.Quantity <= 0 {
		return nil, domain.InvalidArgument("invalid quantity %q", quantity)
	}
	if err := domain.DecodeJSONArg("quality", qualityJSON, &in.Quality); err != nil {
		return nil, err
	}
	return in, nil
}

// CreateHerbBatch records a harvest: the collection event and the batch it
// starts, in one transaction. The harvest is checked against the species
// rule when one is configured.
func (s *SmartContract) CreateHerbBatch(ctx contractapi.TransactionContextInterface, batchID, collectionID, collectorID, lat, long, timestamp, species, quantity, qualityJSON string) error {
	if _, err := s.assertActingIdentityMatches(ctx, domain.Farmer, collectorID); err != nil {
		return err
	}
	in, err := ParseCollectionInput(batchID, collectionID, collectorID, lat, long, timestamp, species, quantity, qualityJSON)
	if err != nil {
		return err
	}

	for _, k := range []struct{ key, what string }{
		{batchKey(in.BatchID), "batch " + in.BatchID},
		{collectionKey(in.CollectionID), "collection " + in.CollectionID},
	} {
		exists, err := keyExists(ctx, k.key)
		if err != nil {
			return err
		}
		if exists {
			return domain.AlreadyExists("%s already exists", k.what)
		}
	}

	rule, err := s.optionalSpeciesRule(ctx, in.Species)
	if err != nil {
		return err
	}
	if err := rules.ValidateCollection(rule, in.Lat, in.Long, in.Time, in.Quality); err != nil {
		return err
	}

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
	if err := putState(ctx, collectionKey(in.CollectionID), &event); err != nil {
		return err
	}
	if err := putState(ctx, batchKey(in.BatchID), &batch); err != nil {
		return err
	}
	return setEvent(ctx, EventHerbBatchCreated, &batch)
}

// ReadHerbBatch returns the batch as JSON.
func (s *SmartContract) ReadHerbBatch(ctx contractapi.TransactionContextInterface, batchID string) (string, error) {
	b, err := s.batch(ctx, batchID)
	if err != nil {
		return "", err
	}
	return toJSON(b)
}

// HerbBatchExists reports whether the batch is on the ledger.
func (s *SmartContract) HerbBatchExists(ctx contractapi.TransactionContextInterface, batchID string) (bool, error) {
	return keyExists(ctx, batchKey(batchID))
}

// ReadCollectionEvent returns the collection event as JSON.
func (s *SmartContract) ReadCollectionEvent(ctx contractapi.TransactionContextInterface, collectionID string) (string, error) {
	c, err := s.collectionEvent(ctx, collectionID)
	if err != nil {
		return "", err
	}
	return toJSON(c)
}

// TransferHerbBatch hands a batch to a new owner. The actor must be the
// current owner.
func (s *SmartContract) TransferHerbBatch(ctx contractapi.TransactionContextInterface, batchID, actorType, actorID, newOwnerID string) error {
	b, err := s.ownedBatch(ctx, batchID, actorType, actorID)
	if err != nil {
		return err
	}
	newOwnerID = strings.TrimSpace(newOwnerID)
	if newOwnerID == "" {
		return domain.InvalidArgument("newOwnerId is required")
	}
	if b.Status.IsTerminal() {
		return domain.Validationf("terminalStatus", "batch %s is %s and cannot be transferred", b.BatchID, b.Status)
	}
	b.CurrentOwner = newOwnerID
	return putState(ctx, batchKey(b.BatchID), b)
}

// UpdateHerbBatchStatus moves a batch along the status graph. The actor must
// be the current owner.
func (s *SmartContract) UpdateHerbBatchStatus(ctx contractapi.TransactionContextInterface, batchID, actorType, actorID, status string) error {
	to, err := domain.ParseStatus(status)
	if err != nil {
		return err
	}
	b, err := s.ownedBatch(ctx, batchID, actorType, actorID)
	if err != nil {
		return err
	}
	if err := domain.CheckTransition(b.BatchID, b.Status, to); err != nil {
		return err
	}
	b.Status = to
	return putState(ctx, batchKey(b.BatchID), b)
}

// DeleteHerbBatch removes a batch. The collection event is kept.
func (s *SmartContract) DeleteHerbBatch(ctx contractapi.TransactionContextInterface, batchID string) error {
	if err := s.requireAdmin(ctx, "delete batches"); err != nil {
		return err
	}
	if _, err := s.batch(ctx, batchID); err != nil {
		return err
	}
	if err := ctx.GetStub().DelState(batchKey(batchID)); err != nil {
		return fmt.Errorf("failed to delete batch %s: %v", batchID, err)
	}
	return nil
}

func (s *SmartContract) ownedBatch(ctx contractapi.TransactionContextInterface, batchID, actorType, actorID string) (*domain.HerbBatch, error) {
	t, err := domain.ParseParticipantType(actorType)
	if err != nil {
		return nil, err
	}
	if _, err := s.assertActingIdentityMatches(ctx, t, actorID); err != nil {
		return nil, err
	}
	b, err := s.batch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.CurrentOwner != actorID {
		return nil, domain.Unauthorized("%s %s does not own batch %s", t, actorID, batchID)
	}
	return b, nil
}

func (s *SmartContract) batch(ctx contractapi.TransactionContextInterface, batchID string) (*domain.HerbBatch, error) {
	b, err := s.optionalBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, domain.NotFound("batch %s does not exist", batchID)
	}
	return b, nil
}

func (s *SmartContract) optionalBatch(ctx contractapi.TransactionContextInterface, batchID string) (*domain.HerbBatch, error) {
	var b domain.HerbBatch
	found, err := getState(ctx, batchKey(batchID), &b)
	if err != nil || !found {
		return nil, err
	}
	return &b, nil
}

func (s *SmartContract) collectionEvent(ctx contractapi.TransactionContextInterface, collectionID string) (*domain.CollectionEvent, error) {
	var c domain.CollectionEvent
	found, err := getState(ctx, collectionKey(collectionID), &c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.NotFound("collection %s does not exist", collectionID)
	}
	return &c, nil
}
