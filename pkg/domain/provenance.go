package domain

import (
	"errors"
	"sort"
)

// Provenance sources.
const (
	SourceLedger = "Blockchain"
	SourceMirror = "Mirror (Blockchain unavailable)"
)

// ItemError marks a sub-record that could not be resolved.
type ItemError struct {
	Part    string `json:"part"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ProvenanceInput is the trace of one input batch of a product.
type ProvenanceInput struct {
	BatchID         string           `json:"batchId"`
	Batch           *HerbBatch       `json:"batch,omitempty"`
	CollectionEvent *CollectionEvent `json:"collectionEvent,omitempty"`
	Collector       *Participant     `json:"collector,omitempty"`
	ProcessSteps    []ProcessingStep `json:"processSteps"`
	QualityTests    []QualityTest    `json:"qualityTests"`
	Errors          []ItemError      `json:"errors,omitempty"`
}

// ProvenanceBundle is the full trace from a product back to its harvests.
type ProvenanceBundle struct {
	ProductBatchID string            `json:"productBatchId"`
	Formulation    *Formulation      `json:"formulation"`
	Manufacturer   *Participant      `json:"manufacturer,omitempty"`
	InputBatches   []ProvenanceInput `json:"inputBatches"`
	Errors         []ItemError       `json:"errors,omitempty"`
	Source         string            `json:"source"`
}

// ProvenanceReader is the read surface the assembler walks. Lookups of
// missing records must return an error matching ErrNotFound.
type ProvenanceReader interface {
	Formulation(productBatchID string) (*Formulation, error)
	Batch(batchID string) (*HerbBatch, error)
	CollectionEvent(collectionID string) (*CollectionEvent, error)
	Participant(t ParticipantType, id string) (*Participant, error)
	ProcessingSteps(batchID string) ([]ProcessingStep, error)
	QualityTests(batchID string) ([]QualityTest, error)
}

// AssembleProvenance walks formulation -> input batches -> collection events,
// steps, tests and registry entries. Only a missing formulation fails the
// call; other missing records are reported as ItemErrors.
func AssembleProvenance(r ProvenanceReader, productBatchID, source string) (*ProvenanceBundle, error) {
	f, err := r.Formulation(productBatchID)
	if err != nil {
		return nil, err
	}
	bundle := &ProvenanceBundle{
		ProductBatchID: productBatchID,
		Formulation:    f,
		InputBatches:   make([]ProvenanceInput, 0, len(f.InputBatches)),
		Source:         source,
	}
	m, err := r.Participant(Manufacturer, f.ManufacturerID)
	switch {
	case err == nil:
		bundle.Manufacturer = m
	case errors.Is(Classify(err), ErrNotFound):
		bundle.Errors = append(bundle.Errors, itemError("manufacturer", err))
	default:
		return nil, err
	}
	for _, batchID := range f.InputBatches {
		in, err := assembleInput(r, batchID)
		if err != nil {
			return nil, err
		}
		bundle.InputBatches = append(bundle.InputBatches, in)
	}
	return bundle, nil
}

func assembleInput(r ProvenanceReader, batchID string) (ProvenanceInput, error) {
	in := ProvenanceInput{BatchID: batchID, ProcessSteps: []ProcessingStep{}, QualityTests: []QualityTest{}}
	tolerate := func(part string, err error) error {
		if errors.Is(Classify(err), ErrNotFound) {
			in.Errors = append(in.Errors, itemError(part, err))
			return nil
		}
		return err
	}

	b, err := r.Batch(batchID)
	if err != nil {
		if err := tolerate("batch", err); err != nil {
			return in, err
		}
	} else {
		in.Batch = b
		c, err := r.CollectionEvent(b.CollectionID)
		if err != nil {
			if err := tolerate("collectionEvent", err); err != nil {
				return in, err
			}
		} else {
			in.CollectionEvent = c
		}
		p, err := r.Participant(Farmer, b.CollectorID)
		if err != nil {
			if err := tolerate("collector", err); err != nil {
				return in, err
			}
		} else {
			in.Collector = p
		}
	}

	steps, err := r.ProcessingSteps(batchID)
	if err != nil {
		return in, err
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Timestamp != steps[j].Timestamp {
			return steps[i].Timestamp < steps[j].Timestamp
		}
		return steps[i].ProcessID < steps[j].ProcessID
	})
	in.ProcessSteps = append(in.ProcessSteps, steps...)

	tests, err := r.QualityTests(batchID)
	if err != nil {
		return in, err
	}
	sort.SliceStable(tests, func(i, j int) bool {
		if tests[i].Timestamp != tests[j].Timestamp {
			return tests[i].Timestamp < tests[j].Timestamp
		}
		return tests[i].TestID < tests[j].TestID
	})
	in.QualityTests = append(in.QualityTests, tests...)
	return in, nil
}

func itemError(part string, err error) ItemError {
	return ItemError{Part: part, Code: Code(err), Message: err.Error()}
}
