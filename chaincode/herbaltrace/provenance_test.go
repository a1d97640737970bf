/*
SPDX-License-Identifier: Apache-2.0
*/

package herbaltrace

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

func TestProvenanceRoundTrip(t *testing.T) {
	h := setupStub(t)
	h.seed()

	if err := h.collect("BATCH1", `{"moisture":7}`); err != nil {
		t.Fatalf("CreateHerbBatch as OrgA failed: %v", err)
	}
	err := h.tx("OrgB", func(ctx contractapi.TransactionContextInterface) error {
		return h.cc.AddProcessingStep(ctx, "S1", "BATCH1", "P1", "cleaning", `{"method":"wash"}`, "2025-11-03T10:00:00Z")
	})
	if err != nil {
		t.Fatalf("AddProcessingStep as OrgB failed: %v", err)
	}
	if b := h.batch("BATCH1"); b.Status != "processed:cleaning" {
		t.Errorf("expected processed:cleaning, got %s", b.Status)
	}
	err = h.tx("OrgC", func(ctx contractapi.TransactionContextInterface) error {
		return h.cc.AddQualityTest(ctx, "Q1", "BATCH1", "L1", "moisture", `{"moisture":6,"pass":true}`, "2025-11-04T10:00:00Z")
	})
	if err != nil {
		t.Fatalf("AddQualityTest as OrgC failed: %v", err)
	}
	if b := h.batch("BATCH1"); b.Status != "processed:cleaning" || b.LastQualityTest != "Q1" {
		t.Errorf("passing test should leave status, got %s/%s", b.Status, b.LastQualityTest)
	}
	err = h.tx("OrgD", func(ctx contractapi.TransactionContextInterface) error {
		return h.cc.CreateFormulation(ctx, "PROD1", "M1", `["BATCH1"]`, `{"productName":"Ashwagandha Churna"}`, "2025-11-10T10:00:00Z")
	})
	if err != nil {
		t.Fatalf("CreateFormulation as OrgD failed: %v", err)
	}
	if b := h.batch("BATCH1"); b.Status != domain.StatusUsedInFormulation {
		t.Errorf("expected used_in_formulation, got %s", b.Status)
	}

	raw, err := h.cc.GetProvenance(h.ctx("OrgA", nil), "PROD1")
	if err != nil {
		t.Fatalf("GetProvenance failed: %v", err)
	}
	var bundle domain.ProvenanceBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		t.Fatalf("failed to unmarshal bundle: %v", err)
	}
	if bundle.Source != domain.SourceLedger || bundle.Manufacturer == nil || bundle.Manufacturer.ID != "M1" {
		t.Errorf("unexpected bundle header: %s", raw)
	}
	if len(bundle.InputBatches) != 1 {
		t.Fatalf("expected one input batch, got %d", len(bundle.InputBatches))
	}
	in := bundle.InputBatches[0]
	if in.Batch == nil || in.Batch.BatchID != "BATCH1" {
		t.Errorf("inputBatches[0].batch should be BATCH1: %s", raw)
	}
	if len(in.ProcessSteps) != 1 || in.ProcessSteps[0].ProcessID != "S1" {
		t.Errorf("expected exactly step S1, got %+v", in.ProcessSteps)
	}
	if len(in.QualityTests) != 1 || in.QualityTests[0].TestID != "Q1" {
		t.Errorf("expected exactly test Q1, got %+v", in.QualityTests)
	}
	if in.Collector == nil || in.Collector.OrganizationalIdentity != "OrgA" || in.CollectionEvent == nil {
		t.Errorf("collector and collection event should be resolved: %s", raw)
	}
}

func TestProvenanceMissingRecords(t *testing.T) {
	h := setupStub(t)
	h.seed()

	if _, err := h.cc.GetProvenance(h.ctx("OrgA", nil), "NOPE"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing formulation should be NOT_FOUND, got %v", err)
	}

	if err := h.collect("B1", ""); err != nil {
		t.Fatal(err)
	}
	err := h.tx("OrgD", func(ctx contractapi.TransactionContextInterface) error {
		return h.cc.CreateFormulation(ctx, "PROD1", "M1", `["B1","B404"]`, "", "2025-11-10")
	})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := h.cc.GetProvenance(h.ctx("OrgA", nil), "PROD1")
	if err != nil {
		t.Fatalf("GetProvenance should tolerate missing inputs: %v", err)
	}
	var bundle domain.ProvenanceBundle
	_ = json.Unmarshal([]byte(raw), &bundle)
	if len(bundle.InputBatches) != 2 {
		t.Fatalf("expected two inputs, got %s", raw)
	}
	missing := bundle.InputBatches[1]
	if missing.Batch != nil || len(missing.Errors) != 1 || missing.Errors[0].Code != "NOT_FOUND" {
		t.Errorf("B404 should carry a NOT_FOUND marker: %+v", missing)
	}
}

func TestQueryByPrefix(t *testing.T) {
	h := setupStub(t)
	h.seed()
	for _, id := range []string{"B1", "B1_X"} {
		if err := h.collect(id, ""); err != nil {
			t.Fatal(err)
		}
	}

	raw, err := h.cc.QueryByPrefix(h.ctx("OrgA", nil), "BATCH_")
	if err != nil {
		t.Fatalf("QueryByPrefix failed: %v", err)
	}
	var records []KeyRecord
	_ = json.Unmarshal([]byte(raw), &records)
	if len(records) != 2 || records[0].Key != "BATCH_B1" || records[1].Key != "BATCH_B1_X" {
		t.Errorf("unexpected records %s", raw)
	}

	if _, err := h.cc.QueryByPrefix(h.ctx("OrgA", nil), ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("empty prefix should be INVALID_ARGUMENT, got %v", err)
	}
}

// Batch A_B with step C and batch A with step B_C must stay distinct.
func TestLogKeysKeepBatchAndRecordIDsApart(t *testing.T) {
	h := setupStub(t)
	h.seed()
	for _, id := range []string{"A", "A_B"} {
		if err := h.collect(id, ""); err != nil {
			t.Fatal(err)
		}
	}

	step := func(processID, batchID string) error {
		return h.tx("OrgB", func(ctx contractapi.TransactionContextInterface) error {
			return h.cc.AddProcessingStep(ctx, processID, batchID, "P1", "cleaning", "", "2025-11-03")
		})
	}
	if err := step("C", "A_B"); err != nil {
		t.Fatalf("AddProcessingStep failed: %v", err)
	}
	if err := step("B_C", "A"); err != nil {
		t.Fatalf("step B_C of batch A collided with step C of batch A_B: %v", err)
	}
	test := func(testID, batchID string) error {
		return h.tx("OrgC", func(ctx contractapi.TransactionContextInterface) error {
			return h.cc.AddQualityTest(ctx, testID, batchID, "L1", "moisture", `{"moisture":5}`, "2025-11-04")
		})
	}
	if err := test("C", "A_B"); err != nil {
		t.Fatalf("AddQualityTest failed: %v", err)
	}
	if err := test("B_C", "A"); err != nil {
		t.Fatalf("test B_C of batch A collided with test C of batch A_B: %v", err)
	}

	steps, err := h.cc.processingSteps(h.ctx("OrgA", nil), "A")
	if err != nil || len(steps) != 1 || steps[0].ProcessID != "B_C" {
		t.Errorf("expected only step B_C for batch A, got %+v, %v", steps, err)
	}
	tests, err := h.cc.qualityTests(h.ctx("OrgA", nil), "A_B")
	if err != nil || len(tests) != 1 || tests[0].TestID != "C" {
		t.Errorf("expected only test C for batch A_B, got %+v, %v", tests, err)
	}
	if err := step("C", "A_B"); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("repeated step should be ALREADY_EXISTS, got %v", err)
	}
}

func TestGenerateBatchQR(t *testing.T) {
	h := setupStub(t)
	h.seed()
	if err := h.collect("B1", ""); err != nil {
		t.Fatal(err)
	}
	err := h.tx("OrgD", func(ctx contractapi.TransactionContextInterface) error {
		return h.cc.CreateFormulation(ctx, "PROD1", "M1", `["B1"]`, "", "2025-11-10")
	})
	if err != nil {
		t.Fatal(err)
	}

	var token string
	err = h.tx("OrgD", func(ctx contractapi.TransactionContextInterface) error {
		var err error
		token, err = h.cc.GenerateBatchQR(ctx, "PROD1", "")
		if err == nil && token != QRToken("PROD1", ctx.GetStub().GetTxID()) {
			t.Errorf("token %s is not derived from the transaction", token)
		}
		return err
	})
	if err != nil {
		t.Fatalf("GenerateBatchQR failed: %v", err)
	}
	if len(token) != 32 {
		t.Errorf("expected 32-char token, got %q", token)
	}

	err = h.tx("OrgA", func(ctx contractapi.TransactionContextInterface) error {
		_, err := h.cc.GenerateBatchQR(ctx, "PROD1", "abc")
		return err
	})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("QR from non-manufacturer org should be UNAUTHORIZED, got %v", err)
	}

	err = h.tx("OrgD", func(ctx contractapi.TransactionContextInterface) error {
		_, err := h.cc.GenerateBatchQR(ctx, "PROD1", "custom-token")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := h.cc.ReadFormulation(h.ctx("OrgD", nil), "PROD1")
	var f domain.Formulation
	_ = json.Unmarshal([]byte(raw), &f)
	if f.QRToken != "custom-token" {
		t.Errorf("expected custom-token, got %q", f.QRToken)
	}
}

// historyStub serves canned key history, which the mock stub lacks.
type historyStub struct {
	*shimtest.MockStub
	mods map[string][]*queryresult.KeyModification
}

func (s *historyStub) GetHistoryForKey(key string) (shim.HistoryQueryIteratorInterface, error) {
	return &historyIterator{mods: s.mods[key]}, nil
}

type historyIterator struct {
	mods []*queryresult.KeyModification
	i    int
}

func (it *historyIterator) HasNext() bool { return it.i < len(it.mods) }
func (it *historyIterator) Close() error  { return nil }

func (it *historyIterator) Next() (*queryresult.KeyModification, error) {
	m := it.mods[it.i]
	it.i++
	return m, nil
}

func TestGetHerbBatchHistory(t *testing.T) {
	at := time.Date(2025, time.November, 2, 8, 30, 0, 0, time.UTC)
	stub := &historyStub{
		MockStub: shimtest.NewMockStub("herbaltrace", nil),
		mods: map[string][]*queryresult.KeyModification{
			"BATCH_B1": {
				{TxId: "tx1", Value: []byte(`{"batchId":"B1","status":"collected"}`), Timestamp: timestamppb.New(at)},
				{TxId: "tx2", IsDelete: true, Timestamp: timestamppb.New(at.Add(time.Hour))},
			},
		},
	}
	ctx := new(contractapi.TransactionContext)
	ctx.SetStub(stub)
	ctx.SetClientIdentity(&testIdentity{mspID: "OrgA"})

	raw, err := (&SmartContract{}).GetHerbBatchHistory(ctx, "B1")
	if err != nil {
		t.Fatalf("GetHerbBatchHistory failed: %v", err)
	}
	var history []HistoryEntry
	_ = json.Unmarshal([]byte(raw), &history)
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %s", raw)
	}
	if history[0].TxID != "tx1" || history[0].Timestamp != "2025-11-02T08:30:00.000Z" || len(history[0].Record) == 0 {
		t.Errorf("unexpected first entry %+v", history[0])
	}
	if !history[1].IsDelete || history[1].Record != nil {
		t.Errorf("second entry should be a delete without record: %+v", history[1])
	}

	if _, err := (&SmartContract{}).GetHerbBatchHistory(ctx, "B9"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown batch should be NOT_FOUND, got %v", err)
	}
}
