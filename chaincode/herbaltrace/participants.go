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

// decodeParticipant parses the body and forces type and id to the key.
func decodeParticipant(participantType, id, participantJSON string) (*domain.Participant, error) {
	t, err := domain.ParseParticipantType(participantType)
	if err != nil {
		return nil, err
	}
	var p domain.Participant
	if err := domain.DecodeJSONArg("participant", participantJSON, &p); err != nil {
		return nil, err
	}
	p.DocType = domain.DocParticipant
	p.Type = t
	p.ID = strings.TrimSpace(id)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateParticipant registers a farmer, processor, lab or manufacturer bound
// to one organization. Only that organization or an admin may register it.
func (s *SmartContract) CreateParticipant(ctx contractapi.TransactionContextInterface, participantType, id, participantJSON string) error {
	p, err := decodeParticipant(participantType, id, participantJSON)
	if err != nil {
		return err
	}
	if !s.hasRole(ctx, "admin") {
		msp, err := callerMSP(ctx)
		if err != nil {
			return err
		}
		if msp != p.OrganizationalIdentity {
			return domain.Unauthorized("identity %q cannot register %s %s for %s", msp, p.Type, p.ID, p.OrganizationalIdentity)
		}
	}
	key := participantKey(p.Type, p.ID)
	exists, err := keyExists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return domain.AlreadyExists("participant %s %s already exists", p.Type, p.ID)
	}
	return putState(ctx, key, p)
}

// UpdateParticipant replaces the participant's profile. Only its own
// organization may update it, and the organization cannot be changed.
func (s *SmartContract) UpdateParticipant(ctx contractapi.TransactionContextInterface, participantType, id, participantJSON string) error {
	t, err := domain.ParseParticipantType(participantType)
	if err != nil {
		return err
	}
	current, err := s.assertActingIdentityMatches(ctx, t, id)
	if err != nil {
		return err
	}
	var p domain.Participant
	if err := domain.DecodeJSONArg("participant", participantJSON, &p); err != nil {
		return err
	}
	if p.OrganizationalIdentity == "" {
		p.OrganizationalIdentity = current.OrganizationalIdentity
	}
	if p.OrganizationalIdentity != current.OrganizationalIdentity {
		return domain.Unauthorized("participant %s %s cannot be moved from %s to %s",
			t, id, current.OrganizationalIdentity, p.OrganizationalIdentity)
	}
	p.DocType = domain.DocParticipant
	p.Type = t
	p.ID = current.ID
	return putState(ctx, participantKey(t, current.ID), &p)
}

// DeleteParticipant removes a participant. Only its own organization may
// delete it.
func (s *SmartContract) DeleteParticipant(ctx contractapi.TransactionContextInterface, participantType, id string) error {
	t, err := domain.ParseParticipantType(participantType)
	if err != nil {
		return err
	}
	if _, err := s.assertActingIdentityMatches(ctx, t, id); err != nil {
		return err
	}
	if err := ctx.GetStub().DelState(participantKey(t, id)); err != nil {
		return fmt.Errorf("failed to delete participant %s %s: %v", t, id, err)
	}
	return nil
}

// ReadParticipant returns the participant as JSON.
func (s *SmartContract) ReadParticipant(ctx contractapi.TransactionContextInterface, participantType, id string) (string, error) {
	t, err := domain.ParseParticipantType(participantType)
	if err != nil {
		return "", err
	}
	p, err := s.participant(ctx, t, id)
	if err != nil {
		return "", err
	}
	return toJSON(p)
}

// QueryParticipants lists participants of one type, or all of them when
// participantType is empty.
func (s *SmartContract) QueryParticipants(ctx contractapi.TransactionContextInterface, participantType string) (string, error) {
	prefix := ParticipantPrefix
	if strings.TrimSpace(participantType) != "" {
		t, err := domain.ParseParticipantType(participantType)
		if err != nil {
			return "", err
		}
		prefix += string(t) + "_"
	}
	participants := []domain.Participant{}
	err := scan(ctx, prefix, func(key string, value []byte) error {
		var p domain.Participant
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		participants = append(participants, p)
		return nil
	})
	if err != nil {
		return "", err
	}
	return toJSON(participants)
}

func (s *SmartContract) participant(ctx contractapi.TransactionContextInterface, t domain.ParticipantType, id string) (*domain.Participant, error) {
	var p domain.Participant
	found, err := getState(ctx, participantKey(t, id), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.NotFound("participant %s %s does not exist", t, id)
	}
	return &p, nil
}
