/*
SPDX-License-Identifier: Apache-2.0
*/

package herbaltrace

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

const ashwagandhaRules = `{
	"geofence": {"center": {"lat": 26.9124, "long": 75.7873}, "radiusMeters": 50000},
	"allowedMonths": [10, 11, 12, 1],
	"qualityThresholds": {"moistureMax": 10, "pesticidePPMMax": 0.5}
}`

// testIdentity is a client identity with a fixed MSP and attributes.
type testIdentity struct {
	mspID string
	attrs map[string]string
}

func (i *testIdentity) GetID() (string, error)    { return "x509::CN=user@" + i.mspID, nil }
func (i *testIdentity) GetMSPID() (string, error) { return i.mspID, nil }

func (i *testIdentity) GetAttributeValue(name string) (string, bool, error) {
	v, ok := i.attrs[name]
	return v, ok, nil
}

func (i *testIdentity) AssertAttributeValue(name, value string) error {
	if v, ok := i.attrs[name]; !ok || v != value {
		return fmt.Errorf("attribute %s is not %s", name, value)
	}
	return nil
}

func (i *testIdentity) GetX509Certificate() (*x509.Certificate, error) { return nil, nil }

type harness struct {
	t    *testing.T
	stub *shimtest.MockStub
	cc   *SmartContract
	n    int
}

func setupStub(t *testing.T) *harness {
	t.Helper()
	return &harness{t: t, stub: shimtest.NewMockStub("herbaltrace", nil), cc: &SmartContract{}}
}

func (h *harness) ctx(mspID string, attrs map[string]string) *contractapi.TransactionContext {
	ctx := new(contractapi.TransactionContext)
	ctx.SetStub(h.stub)
	ctx.SetClientIdentity(&testIdentity{mspID: mspID, attrs: attrs})
	return ctx
}

// tx runs fn in a mock transaction signed by mspID.
func (h *harness) tx(mspID string, fn func(ctx contractapi.TransactionContextInterface) error) error {
	return h.txWith(mspID, nil, fn)
}

func (h *harness) admin(fn func(ctx contractapi.TransactionContextInterface) error) error {
	return h.txWith("AdminMSP", map[string]string{"role": "admin"}, fn)
}

func (h *harness) txWith(mspID string, attrs map[string]string, fn func(ctx contractapi.TransactionContextInterface) error) error {
	h.n++
	txID := fmt.Sprintf("tx%04d", h.n)
	h.stub.MockTransactionStart(txID)
	defer h.stub.MockTransactionEnd(txID)
	return fn(h.ctx(mspID, attrs))
}

func (h *harness) register(t domain.ParticipantType, id, mspID string) {
	h.t.Helper()
	body := fmt.Sprintf(`{"name":"%s","organizationalIdentity":"%s"}`, id, mspID)
	err := h.tx(mspID, func(ctx contractapi.TransactionContextInterface) error {
		return h.cc.CreateParticipant(ctx, string(t), id, body)
	})
	if err != nil {
		h.t.Fatalf("CreateParticipant %s %s failed: %v", t, id, err)
	}
}

func (h *harness) setRules(species, rulesJSON string) {
	h.t.Helper()
	err := h.admin(func(ctx contractapi.TransactionContextInterface) error {
		return h.cc.SetSpeciesRules(ctx, species, rulesJSON)
	})
	if err != nil {
		h.t.Fatalf("SetSpeciesRules failed: %v", err)
	}
}

// collect creates a batch as farmer F1 of OrgA inside the Ashwagandha
// geofence in November.
func (h *harness) collect(batchID, qualityJSON string) error {
	return h.tx("OrgA", func(ctx contractapi.TransactionContextInterface) error {
		return h.cc.CreateHerbBatch(ctx, batchID, "COL-"+batchID, "F1", "26.95", "75.80",
			"2025-11-02T08:30:00Z", "Ashwagandha", "12.5", qualityJSON)
	})
}

func (h *harness) batch(id string) domain.HerbBatch {
	h.t.Helper()
	data := h.stub.State[batchKey(id)]
	if data == nil {
		h.t.Fatalf("batch %s should exist", id)
	}
	var b domain.HerbBatch
	if err := json.Unmarshal(data, &b); err != nil {
		h.t.Fatalf("failed to unmarshal batch: %v", err)
	}
	return b
}

// logKey is the composite state key of a processing step or quality test.
func (h *harness) logKey(objectType, batchID, id string) string {
	h.t.Helper()
	key, err := h.stub.CreateCompositeKey(objectType, []string{batchID, id})
	if err != nil {
		h.t.Fatalf("CreateCompositeKey failed: %v", err)
	}
	return key
}

// events drains the chaincode events emitted so far.
func (h *harness) events() []string {
	var names []string
	for {
		select {
		case ev := <-h.stub.ChaincodeEventsChannel:
			names = append(names, ev.EventName)
		default:
			return names
		}
	}
}

// seed registers one participant per role: F1@OrgA, P1@OrgB, L1@OrgC, M1@OrgD.
func (h *harness) seed() {
	h.register(domain.Farmer, "F1", "OrgA")
	h.register(domain.Processor, "P1", "OrgB")
	h.register(domain.Lab, "L1", "OrgC")
	h.register(domain.Manufacturer, "M1", "OrgD")
	h.setRules("Ashwagandha", ashwagandhaRules)
}
