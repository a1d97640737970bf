/*
SPDX-License-Identifier: Apache-2.0
*/

package herbaltrace

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/rules"
)

// BatchMissingEvent is the payload of EventBatchMissing: a log entry was
// written for a batch that is not on the ledger.
type BatchMissingEvent struct {
	BatchID string `json:"batchId"`
	Kind    string `json:"kind"`
	ID      string `json:"id"`
}

// ParseProcessingStep parses the arguments of AddProcessingStep.
func ParseProcessingStep(processID, batchID, facilityID, stepType, paramsJSON, timestamp string) (*domain.ProcessingStep, error) {
	step := &domain.ProcessingStep{
		DocType:    domain.DocProcessingStep,
		ProcessID:  strings.TrimSpace(processID),
		BatchID:    strings.TrimSpace(batchID),
		FacilityID: strings.TrimSpace(facilityID),
	}
	if step.ProcessID == "" || step.BatchID == "" || step.FacilityID == "" {
		return nil, domain.InvalidArgument("processId, batchId and facilityId are required")
	}
	var err error
	if step.StepType, err = domain.ParseStepType(stepType); err != nil {
		return nil, err
	}
	if step.Timestamp, err = rules.NormalizeTimestamp(timestamp); err != nil {
		return nil, err
	}
	if err := domain.DecodeJSONArg("params", paramsJSON, &step.Params); err != nil {
		return nil, err
	}
	return step, nil
}

// ParseQualityTest parses the arguments of AddQualityTest.
func ParseQualityTest(testID, batchID, labID, testType, resultsJSON, timestamp string) (*domain.QualityTest, error) {
	qt := &domain.QualityTest{
		DocType:  domain.DocQualityTest,
		TestID:   strings.TrimSpace(testID),
		BatchID:  strings.TrimSpace(batchID),
		LabID:    strings.TrimSpace(labID),
		TestType: strings.TrimSpace(testType),
	}
	if qt.TestID == "" || qt.BatchID == "" || qt.LabID == "" {
		return nil, domain.InvalidArgument("testId, batchId and labId are required")
	}
	var err error
	if qt.Timestamp, err = rules.NormalizeTimestamp(timestamp); err != nil {
		return nil, err
	}
	if err := domain.DecodeJSONArg("results", resultsJSON, &qt.Results); err != nil {
		return nil, err
	}
	return qt, nil
}

// AddProcessingStep logs a processing step and moves the batch to
// processed:<stepType> under the facility's ownership. Steps may arrive in
// any order. When the batch is not on the ledger the step is still recorded
// and a BatchMissing event is emitted.
func (s *SmartContract) AddProcessingStep(ctx contractapi.TransactionContextInterface, processID, batchID, facilityID, stepType, paramsJSON, timestamp string) error {
	if _, err := s.assertActingIdentityMatches(ctx, domain.Processor, facilityID); err != nil {
		return err
	}
	step, err := ParseProcessingStep(processID, batchID, facilityID, stepType, paramsJSON, timestamp)
	if err != nil {
		return err
	}
	key, err := processKey(ctx, step.BatchID, step.ProcessID)
	if err != nil {
		return err
	}
	exists, err := keyExists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return domain.AlreadyExists("processing step %s for batch %s already exists", step.ProcessID, step.BatchID)
	}

	b, err := s.optionalBatch(ctx, step.BatchID)
	if err != nil {
		return err
	}
	to := domain.ProcessedStatus(step.StepType)
	if b != nil {
		if err := domain.CheckTransition(b.BatchID, b.Status, to); err != nil {
			return err
		}
	}

	if err := putState(ctx, key, step); err != nil {
		return err
	}
	if b == nil {
		return setEvent(ctx, EventBatchMissing, BatchMissingEvent{BatchID: step.BatchID, Kind: domain.DocProcessingStep, ID: step.ProcessID})
	}
	b.Status = to
	b.CurrentOwner = step.FacilityID
	return putState(ctx, batchKey(b.BatchID), b)
}

// AddQualityTest logs lab results against a batch. The batch records the
// test, and fails when the results exceed the species thresholds.
func (s *SmartContract) AddQualityTest(ctx contractapi.TransactionContextInterface, testID, batchID, labID, testType, resultsJSON, timestamp string) error {
	if _, err := s.assertActingIdentityMatches(ctx, domain.Lab, labID); err != nil {
		return err
	}
	qt, err := ParseQualityTest(testID, batchID, labID, testType, resultsJSON, timestamp)
	if err != nil {
		return err
	}
	key, err := qualityTestKey(ctx, qt.BatchID, qt.TestID)
	if err != nil {
		return err
	}
	exists, err := keyExists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return domain.AlreadyExists("quality test %s for batch %s already exists", qt.TestID, qt.BatchID)
	}

	b, err := s.optionalBatch(ctx, qt.BatchID)
	if err != nil {
		return err
	}
	if b != nil && b.Status.IsTerminal() {
		return domain.Validationf("terminalStatus", "batch %s is %s and accepts no further tests", b.BatchID, b.Status)
	}

	if err := putState(ctx, key, qt); err != nil {
		return err
	}
	if b == nil {
		return setEvent(ctx, EventBatchMissing, BatchMissingEvent{BatchID: qt.BatchID, Kind: domain.DocQualityTest, ID: qt.TestID})
	}

	b.LastQualityTest = qt.TestID
	rule, err := s.optionalSpeciesRule(ctx, b.Species)
	if err != nil {
		return err
	}
	failed := false
	if rule != nil {
		report := rules.CheckQualityResults(*rule, qt.Results)
		if !report.Valid {
			b.Status = domain.StatusQualityFail
			failed = true
		}
	}
	if err := putState(ctx, batchKey(b.BatchID), b); err != nil {
		return err
	}
	if failed {
		return setEvent(ctx, EventQualityFail, b)
	}
	return nil
}

// QueryProcessingSteps lists the processing steps of a batch as JSON.
func (s *SmartContract) QueryProcessingSteps(ctx contractapi.TransactionContextInterface, batchID string) (string, error) {
	steps, err := s.processingSteps(ctx, batchID)
	if err != nil {
		return "", err
	}
	return toJSON(steps)
}

// QueryQualityTests lists the quality tests of a batch as JSON.
func (s *SmartContract) QueryQualityTests(ctx contractapi.TransactionContextInterface, batchID string) (string, error) {
	tests, err := s.qualityTests(ctx, batchID)
	if err != nil {
		return "", err
	}
	return toJSON(tests)
}

func (s *SmartContract) processingSteps(ctx contractapi.TransactionContextInterface, batchID string) ([]domain.ProcessingStep, error) {
	steps := []domain.ProcessingStep{}
	err := scanPartial(ctx, ProcessObjectType, []string{batchID}, func(key string, value []byte) error {
		var st domain.ProcessingStep
		if err := json.Unmarshal(value, &st); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		steps = append(steps, st)
		return nil
	})
	return steps, err
}

func (s *SmartContract) qualityTests(ctx contractapi.TransactionContextInterface, batchID string) ([]domain.QualityTest, error) {
	tests := []domain.QualityTest{}
	err := scanPartial(ctx, QualityTestObjectType, []string{batchID}, func(key string, value []byte) error {
		var qt domain.QualityTest
		if err := json.Unmarshal(value, &qt); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		tests = append(tests, qt)
		return nil
	})
	return tests, err
}
