/*
SPDX-License-Identifier: Apache-2.0
*/

// Package herbaltrace is the ledger contract for herbal supply-chain
// traceability: participant registry, species collection rules, the herb
// batch state machine, processing/quality/formulation logs and provenance.
//
// Every error returned by a transaction starts with a taxonomy code
// (NOT_FOUND, ALREADY_EXISTS, UNAUTHORIZED, VALIDATION_ERROR,
// INVALID_ARGUMENT) so clients can classify it after the peer has turned it
// into plain text.
package herbaltrace

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

// Key prefixes of the world state.
const (
	ParticipantPrefix = "PARTICIPANT_"
	SpeciesPrefix     = "SPECIES_"
	BatchPrefix       = "BATCH_"
	CollectionPrefix  = "COLLECTION_"
	FormulationPrefix = "FORMULATION_"
)

// Composite key object types of the per-batch logs. Their attributes are
// (batchId, recordId).
const (
	ProcessObjectType     = "PROCESS"
	QualityTestObjectType = "QTEST"
)

// Chaincode event names.
const (
	EventHerbBatchCreated   = "HerbBatchCreated"
	EventBatchMissing       = "BatchMissing"
	EventQualityFail        = "HerbBatchQualityFail"
	EventFormulationCreated = "FormulationCreated"
)

// SmartContract provides the herbal traceability transactions.
type SmartContract struct {
	contractapi.Contract
}

func participantKey(t domain.ParticipantType, id string) string {
	return ParticipantPrefix + string(t) + "_" + id
}

func speciesKey(species string) string { return SpeciesPrefix + species }
func batchKey(id string) string        { return BatchPrefix + id }
func collectionKey(id string) string   { return CollectionPrefix + id }
func formulationKey(id string) string  { return FormulationPrefix + id }

func processKey(ctx contractapi.TransactionContextInterface, batchID, processID string) (string, error) {
	return compositeKey(ctx, ProcessObjectType, batchID, processID)
}

func qualityTestKey(ctx contractapi.TransactionContextInterface, batchID, testID string) (string, error) {
	return compositeKey(ctx, QualityTestObjectType, batchID, testID)
}

func compositeKey(ctx contractapi.TransactionContextInterface, objectType string, attrs ...string) (string, error) {
	key, err := ctx.GetStub().CreateCompositeKey(objectType, attrs)
	if err != nil {
		return "", domain.InvalidArgument("invalid %s key %v: %v", objectType, attrs, err)
	}
	return key, nil
}

// rangeEnd is the exclusive end key of a prefix scan.
func rangeEnd(prefix string) string {
	return prefix + string(utf8.MaxRune)
}

// getState reads key into v. It reports false when the key is absent.
func getState(ctx contractapi.TransactionContextInterface, key string, v any) (bool, error) {
	data, err := ctx.GetStub().GetState(key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %v", key, err)
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %v", key, err)
	}
	return true, nil
}

func putState(ctx contractapi.TransactionContextInterface, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %v", key, err)
	}
	if err := ctx.GetStub().PutState(key, data); err != nil {
		return fmt.Errorf("failed to write %s: %v", key, err)
	}
	return nil
}

func keyExists(ctx contractapi.TransactionContextInterface, key string) (bool, error) {
	data, err := ctx.GetStub().GetState(key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %v", key, err)
	}
	return data != nil, nil
}

// scan calls fn for every key with the given prefix, in key order.
func scan(ctx contractapi.TransactionContextInterface, prefix string, fn func(key string, value []byte) error) error {
	it, err := ctx.GetStub().GetStateByRange(prefix, rangeEnd(prefix))
	if err != nil {
		return fmt.Errorf("failed to get %s range: %v", prefix, err)
	}
	defer it.Close()

	for it.HasNext() {
		kv, err := it.Next()
		if err != nil {
			return fmt.Errorf("failed during %s iteration: %v", prefix, err)
		}
		if err := fn(kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return nil
}

// scanPartial calls fn for every composite key of objectType whose leading
// attributes equal attrs.
func scanPartial(ctx contractapi.TransactionContextInterface, objectType string, attrs []string, fn func(key string, value []byte) error) error {
	it, err := ctx.GetStub().GetStateByPartialCompositeKey(objectType, attrs)
	if err != nil {
		return fmt.Errorf("failed to get %s range: %v", objectType, err)
	}
	defer it.Close()

	for it.HasNext() {
		kv, err := it.Next()
		if err != nil {
			return fmt.Errorf("failed during %s iteration: %v", objectType, err)
		}
		if err := fn(kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return nil
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %v", err)
	}
	return string(data), nil
}

func setEvent(ctx contractapi.TransactionContextInterface, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %v", name, err)
	}
	return ctx.GetStub().SetEvent(name, data)
}

// callerMSP returns the organization that signed the invocation.
func callerMSP(ctx contractapi.TransactionContextInterface) (string, error) {
	msp, err := ctx.GetClientIdentity().GetMSPID()
	if err != nil || msp == "" {
		return "", domain.Unauthorized("cannot determine caller organization: %v", err)
	}
	return msp, nil
}

// hasRole checks if the caller has the specified role attribute
func (s *SmartContract) hasRole(ctx contractapi.TransactionContextInterface, role string) bool {
	val, found, err := ctx.GetClientIdentity().GetAttributeValue("role")
	if err != nil || !found {
		return false
	}
	return val == role
}

func (s *SmartContract) requireAdmin(ctx contractapi.TransactionContextInterface, op string) error {
	if !s.hasRole(ctx, "admin") {
		return domain.Unauthorized("only admin can %s", op)
	}
	return nil
}

// assertActingIdentityMatches loads the acting participant and checks that
// the caller's organization is the one it is registered to. Every
// batch-changing transaction calls it first.
func (s *SmartContract) assertActingIdentityMatches(ctx contractapi.TransactionContextInterface, t domain.ParticipantType, id string) (*domain.Participant, error) {
	p, err := s.participant(ctx, t, id)
	if err != nil {
		return nil, err
	}
	msp, err := callerMSP(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.AuthorizeCaller(msp); err != nil {
		return nil, err
	}
	return p, nil
}
