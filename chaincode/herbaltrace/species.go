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
)

// DecodeSpeciesRule parses and sanity-checks a species rule body. The
// species name always comes from the key.
func DecodeSpeciesRule(species, rulesJSON string) (*domain.SpeciesRule, error) {
	species = strings.TrimSpace(species)
	if species == "" {
		return nil, domain.InvalidArgument("species is required")
	}
	var rule domain.SpeciesRule
	if err := domain.DecodeJSONArg("species rules", rulesJSON, &rule); err != nil {
		return nil, err
	}
	rule.DocType = domain.DocSpeciesRule
	rule.Species = species
	if g := rule.Geofence; g != nil {
		if g.RadiusMeters < 0 || g.Center.Lat < -90 || g.Center.Lat > 90 || g.Center.Long < -180 || g.Center.Long > 180 {
			return nil, domain.InvalidArgument("invalid geofence for %s", species)
		}
	}
	for _, m := range rule.AllowedMonths {
		if m < 1 || m > 12 {
			return nil, domain.InvalidArgument("allowed month %d out of range for %s", m, species)
		}
	}
	return &rule, nil
}

// SetSpeciesRules creates or replaces the collection rules of a species.
func (s *SmartContract) SetSpeciesRules(ctx contractapi.TransactionContextInterface, species, rulesJSON string) error {
	if err := s.requireAdmin(ctx, "set species rules"); err != nil {
		return err
	}
	rule, err := DecodeSpeciesRule(species, rulesJSON)
	if err != nil {
		return err
	}
	return putState(ctx, speciesKey(rule.Species), rule)
}

// GetSpeciesRules returns the rules of a species as JSON.
func (s *SmartContract) GetSpeciesRules(ctx contractapi.TransactionContextInterface, species string) (string, error) {
	rule, err := s.optionalSpeciesRule(ctx, species)
	if err != nil {
		return "", err
	}
	if rule == nil {
		return "", domain.NotFound("no rules for species %s", species)
	}
	return toJSON(rule)
}

// QuerySpeciesRules lists every species rule.
func (s *SmartContract) QuerySpeciesRules(ctx contractapi.TransactionContextInterface) (string, error) {
	list := []domain.SpeciesRule{}
	err := scan(ctx, SpeciesPrefix, func(key string, value []byte) error {
		var r domain.SpeciesRule
		if err := json.Unmarshal(value, &r); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		list = append(list, r)
		return nil
	})
	if err != nil {
		return "", err
	}
	return toJSON(list)
}

// optionalSpeciesRule returns nil, nil when no rule is configured.
func (s *SmartContract) optionalSpeciesRule(ctx contractapi.TransactionContextInterface, species string) (*domain.SpeciesRule, error) {
	var rule domain.SpeciesRule
	found, err := getState(ctx, speciesKey(species), &rule)
	if err != nil || !found {
		return nil, err
	}
	return &rule, nil
}
