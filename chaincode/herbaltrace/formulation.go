/*
SPDX-License-Identifier: Apache-2.0
*/

package herbaltrace

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/rules"
)

// ParseFormulation parses the arguments of CreateFormulation. Duplicate and
// blank input ids are dropped.
func ParseFormulation(productBatchID, manufacturerID, inputBatchesJSON, formulationParamsJSON, timestamp string) (*domain.Formulation, error) {
	f := &domain.Formulation{
		DocType:        domain.DocFormulation,
		ProductBatchID: strings.TrimSpace(productBatchID),
		ManufacturerID: strings.TrimSpace(manufacturerID),
		InputBatches:   []string{},
	}
	if f.ProductBatchID == "" || f.ManufacturerID == "" {
		return nil, domain.InvalidArgument("productBatchId and manufacturerId are required")
	}
	var inputs []string
	if err := domain.DecodeJSONArg("inputBatches", inputBatchesJSON, &inputs); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(inputs))
	for _, id := range inputs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		f.InputBatches = append(f.InputBatches, id)
	}
	if len(f.InputBatches) == 0 {
		return nil, domain.InvalidArgument("formulation %s has no input batches", f.ProductBatchID)
	}
	if err := domain.DecodeJSONArg("formulationParams", formulationParamsJSON, &f.FormulationParams); err != nil {
		return nil, err
	}
	var err error
	if f.Timestamp, err = rules.NormalizeTimestamp(timestamp); err != nil {
		return nil, err
	}
	return f, nil
}

// CreateFormulation records a product made from herb batches. Every input
// batch on the ledger becomes used_in_formulation and owned by the
// manufacturer. Input ids that are not on the ledger are skipped.
func (s *SmartContract) CreateFormulation(ctx contractapi.TransactionContextInterface, productBatchID, manufacturerID, inputBatchesJSON, formulationParamsJSON, timestamp string) error {
	if _, err := s.assertActingIdentityMatches(ctx, domain.Manufacturer, manufacturerID); err != nil {
		return err
	}
	f, err := ParseFormulation(productBatchID, manufacturerID, inputBatchesJSON, formulationParamsJSON, timestamp)
	if err != nil {
		return err
	}
	exists, err := keyExists(ctx, formulationKey(f.ProductBatchID))
	if err != nil {
		return err
	}
	if exists {
		return domain.AlreadyExists("formulation %s already exists", f.ProductBatchID)
	}

	// Check every input before writing any of them.
	var batches []*domain.HerbBatch
	for _, id := range f.InputBatches {
		b, err := s.optionalBatch(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			continue
		}
		if err := domain.CheckTransition(b.BatchID, b.Status, domain.StatusUsedInFormulation); err != nil {
			return err
		}
		batches = append(batches, b)
	}
	for _, b := range batches {
		b.Status = domain.StatusUsedInFormulation
		b.CurrentOwner = f.ManufacturerID
		b.UsedIn = append(b.UsedIn, f.ProductBatchID)
		if err := putState(ctx, batchKey(b.BatchID), b); err != nil {
			return err
		}
	}
	if err := putState(ctx, formulationKey(f.ProductBatchID), f); err != nil {
		return err
	}
	return setEvent(ctx, EventFormulationCreated, f)
}

// ReadFormulation returns the formulation as JSON.
func (s *SmartContract) ReadFormulation(ctx contractapi.TransactionContextInterface, productBatchID string) (string, error) {
	f, err := s.formulation(ctx, productBatchID)
	if err != nil {
		return "", err
	}
	return toJSON(f)
}

// QRToken derives the token used when GenerateBatchQR is called without one.
func QRToken(productBatchID, txID string) string {
	sum := sha256.Sum256([]byte(productBatchID + "|" + txID))
	return hex.EncodeToString(sum[:])[:32]
}

// GenerateBatchQR stores the consumer lookup token of a product and returns
// it. Only the manufacturer's organization may set it.
func (s *SmartContract) GenerateBatchQR(ctx contractapi.TransactionContextInterface, productBatchID, token string) (string, error) {
	f, err := s.formulation(ctx, productBatchID)
	if err != nil {
		return "", err
	}
	if _, err := s.assertActingIdentityMatches(ctx, domain.Manufacturer, f.ManufacturerID); err != nil {
		return "", err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		token = QRToken(f.ProductBatchID, ctx.GetStub().GetTxID())
	}
	f.QRToken = token
	if err := putState(ctx, formulationKey(f.ProductBatchID), f); err != nil {
		return "", err
	}
	return token, nil
}

func (s *SmartContract) formulation(ctx contractapi.TransactionContextInterface, productBatchID string) (*domain.Formulation, error) {
	var f domain.Formulation
	found, err := getState(ctx, formulationKey(productBatchID), &f)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.NotFound("formulation %s does not exist", productBatchID)
	}
	return &f, nil
}
