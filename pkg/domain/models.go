package domain

import "strings"

// Document types stored in each ledger record, usable as CouchDB index selectors.
const (
	DocParticipant     = "participant"
	DocSpeciesRule     = "speciesRule"
	DocCollectionEvent = "collectionEvent"
	DocHerbBatch       = "herbBatch"
	DocProcessingStep  = "processingStep"
	DocQualityTest     = "qualityTest"
	DocFormulation     = "formulation"
)

// ParticipantType is the supply-chain role of a participant.
type ParticipantType string

const (
	Farmer       ParticipantType = "farmer"
	Processor    ParticipantType = "processor"
	Lab          ParticipantType = "lab"
	Manufacturer ParticipantType = "manufacturer"
)

func ParseParticipantType(s string) (ParticipantType, error) {
	t := ParticipantType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case Farmer, Processor, Lab, Manufacturer:
		return t, nil
	}
	return "", InvalidArgument("unknown participant type %q", s)
}

// Participant is a registered actor bound to exactly one organization (MSP).
type Participant struct {
	DocType                string            `json:"docType"`
	Type                   ParticipantType   `json:"type"`
	ID                     string            `json:"id"`
	Name                   string            `json:"name"`
	OrganizationalIdentity string            `json:"organizationalIdentity"`
	Location               *Location         `json:"location,omitempty"`
	Certifications         []string          `json:"certifications,omitempty"`
	Profile                map[string]string `json:"profile,omitempty"`
}

// Validate checks the fields every participant must carry.
func (p Participant) Validate() error {
	if p.Type == "" || p.ID == "" || p.OrganizationalIdentity == "" {
		return InvalidArgument("participant type, id and organizationalIdentity are required")
	}
	if _, err := ParseParticipantType(string(p.Type)); err != nil {
		return err
	}
	return nil
}

// AuthorizeCaller fails with ErrUnauthorized unless mspID is the
// organization the participant is registered to.
func (p Participant) AuthorizeCaller(mspID string) error {
	if mspID == "" || mspID != p.OrganizationalIdentity {
		return Unauthorized("identity %q cannot act as %s %s registered to %s", mspID, p.Type, p.ID, p.OrganizationalIdentity)
	}
	return nil
}

// Location is a WGS84 coordinate.
type Location struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

type Geofence struct {
	Center       Location `json:"center"`
	RadiusMeters float64  `json:"radiusMeters"`
}

type QualityThresholds struct {
	MoistureMax     *float64 `json:"moistureMax,omitempty"`
	PesticidePPMMax *float64 `json:"pesticidePPMMax,omitempty"`
}

// SpeciesRule holds the collection rules of one species.
type SpeciesRule struct {
	DocType           string             `json:"docType,omitempty"`
	Species           string             `json:"species"`
	Geofence          *Geofence          `json:"geofence,omitempty"`
	AllowedMonths     []int              `json:"allowedMonths,omitempty"`
	QualityThresholds *QualityThresholds `json:"qualityThresholds,omitempty"`
}

// CollectionEvent is the immutable record of a harvest.
type CollectionEvent struct {
	DocType      string   `json:"docType"`
	CollectionID string   `json:"collectionId"`
	BatchID      string   `json:"batchId"`
	CollectorID  string   `json:"collectorId"`
	Location     Location `json:"location"`
	Timestamp    string   `json:"timestamp"`
	Species      string   `json:"species"`
	Quantity     float64  `json:"quantity"`
	Quality      Quality  `json:"quality"`
}

// HerbBatch is the mutable aggregate tracking one lot through its lifecycle.
type HerbBatch struct {
	DocType         string      `json:"docType"`
	BatchID         string      `json:"batchId"`
	CollectionID    string      `json:"collectionId"`
	CollectorID     string      `json:"collectorId"`
	Species         string      `json:"species"`
	Quantity        float64     `json:"quantity"`
	Quality         Quality     `json:"quality"`
	CurrentOwner    string      `json:"currentOwner"`
	Status          BatchStatus `json:"status"`
	LastQualityTest string      `json:"lastQualityTest,omitempty"`
	UsedIn          []string    `json:"usedIn"`
}

type ProcessingStep struct {
	DocType    string           `json:"docType"`
	ProcessID  string           `json:"processId"`
	BatchID    string           `json:"batchId"`
	FacilityID string           `json:"facilityId"`
	StepType   StepType         `json:"stepType"`
	Params     ProcessingParams `json:"params"`
	Timestamp  string           `json:"timestamp"`
}

type QualityTest struct {
	DocType   string         `json:"docType"`
	TestID    string         `json:"testId"`
	BatchID   string         `json:"batchId"`
	LabID     string         `json:"labId"`
	TestType  string         `json:"testType"`
	Results   QualityResults `json:"results"`
	Timestamp string         `json:"timestamp"`
}

type Formulation struct {
	DocType           string            `json:"docType"`
	ProductBatchID    string            `json:"productBatchId"`
	ManufacturerID    string            `json:"manufacturerId"`
	InputBatches      []string          `json:"inputBatches"`
	FormulationParams FormulationParams `json:"formulationParams"`
	Timestamp         string            `json:"timestamp"`
	QRToken           string            `json:"qrToken,omitempty"`
}

// SyncStatus is the ledger-sync metadata the off-chain mirror keeps per record.
type SyncStatus struct {
	IsOnChain       bool   `json:"isOnChain"`
	BlockchainTxID  string `json:"blockchainTxId,omitempty"`
	BlockchainError string `json:"blockchainError,omitempty"`
}
