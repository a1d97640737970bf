package domain

import "encoding/json"

// Float64 returns a pointer to v, for optional measurements.
func Float64(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Quality is the field measurement taken at collection time.
type Quality struct {
	Moisture     *float64 `json:"moisture,omitempty"`
	PesticidePPM *float64 `json:"pesticidePPM,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var qualityFields = []string{"moisture", "pesticidePPM"}

func (q Quality) MarshalJSON() ([]byte, error) {
	type plain Quality
	return encodeWithExtra(plain(q), q.Extra)
}

func (q *Quality) UnmarshalJSON(data []byte) error {
	type plain Quality
	var p plain
	extra, err := decodeWithExtra(data, &p, qualityFields)
	if err != nil {
		return err
	}
	*q = Quality(p)
	q.Extra = extra
	return nil
}

// QualityResults are lab results of a quality test.
type QualityResults struct {
	Moisture        *float64 `json:"moisture,omitempty"`
	PesticidePPM    *float64 `json:"pesticidePPM,omitempty"`
	HeavyMetalsPPM  *float64 `json:"heavyMetalsPPM,omitempty"`
	MicrobialLoad   *float64 `json:"microbialLoad,omitempty"`
	DNABarcodeMatch *bool    `json:"dnaBarcodeMatch,omitempty"`
	Pass            *bool    `json:"pass,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var qualityResultFields = []string{"moisture", "pesticidePPM", "heavyMetalsPPM", "microbialLoad", "dnaBarcodeMatch", "pass"}

func (r QualityResults) MarshalJSON() ([]byte, error) {
	type plain QualityResults
	return encodeWithExtra(plain(r), r.Extra)
}

func (r *QualityResults) UnmarshalJSON(data []byte) error {
	type plain QualityResults
	var p plain
	extra, err := decodeWithExtra(data, &p, qualityResultFields)
	if err != nil {
		return err
	}
	*r = QualityResults(p)
	r.Extra = extra
	return nil
}

// Measurement returns the collection-time view of the results, so the same
// threshold check applies to both.
func (r QualityResults) Measurement() Quality {
	return Quality{Moisture: r.Moisture, PesticidePPM: r.PesticidePPM}
}

// ProcessingParams are the parameters of a processing step.
type ProcessingParams struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	DurationHours *float64 `json:"duration,omitempty"`
	Method        string   `json:"method,omitempty"`
	MoistureAfter *float64 `json:"moistureAfter,omitempty"`
	MeshSize      string   `json:"meshSize,omitempty"`
	Notes         string   `json:"notes,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var processingParamFields = []string{"temperature", "duration", "method", "moistureAfter", "meshSize", "notes"}

func (p ProcessingParams) MarshalJSON() ([]byte, error) {
	type plain ProcessingParams
	return encodeWithExtra(plain(p), p.Extra)
}

func (p *ProcessingParams) UnmarshalJSON(data []byte) error {
	type plain ProcessingParams
	var v plain
	extra, err := decodeWithExtra(data, &v, processingParamFields)
	if err != nil {
		return err
	}
	*p = ProcessingParams(v)
	p.Extra = extra
	return nil
}

// FormulationParams describe how input batches were combined.
type FormulationParams struct {
	ProductName string             `json:"productName,omitempty"`
	DosageForm  string             `json:"dosageForm,omitempty"`
	Ratios      map[string]float64 `json:"ratios,omitempty"`
	Notes       string             `json:"notes,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var formulationParamFields = []string{"productName", "dosageForm", "ratios", "notes"}

func (f FormulationParams) MarshalJSON() ([]byte, error) {
	type plain FormulationParams
	return encodeWithExtra(plain(f), f.Extra)
}

func (f *FormulationParams) UnmarshalJSON(data []byte) error {
	type plain FormulationParams
	var v plain
	extra, err := decodeWithExtra(data, &v, formulationParamFields)
	if err != nil {
		return err
	}
	*f = FormulationParams(v)
	f.Extra = extra
	return nil
}

// DecodeJSONArg parses an optional JSON argument; empty input leaves v zero.
func DecodeJSONArg(name, raw string, v any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return InvalidArgument("malformed %s: %v", name, err)
	}
	return nil
}
