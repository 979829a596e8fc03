package state

import "time"

// ProjectRecord is a candidate funded climate project accumulated across
// extraction stages. All fields are pointers so that "not yet extracted" is
// distinguishable from an extracted empty value; merging never regresses a
// known value back to null.
type ProjectRecord struct {
	Title     *string `json:"title,omitempty"`
	Status    *string `json:"status,omitempty"`
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`
	Location  *string `json:"location,omitempty"`
	SourceURL *string `json:"source_url,omitempty"`

	Financing *Financing `json:"financing,omitempty"`
	Technical *Technical `json:"technical,omitempty"`

	GateReason string `json:"gate_reason,omitempty"`
}

// Financing holds the funding-side descriptors extracted in stage 2.
type Financing struct {
	Amount        *string `json:"amount,omitempty"`
	Currency      *string `json:"currency,omitempty"`
	FundingSource *string `json:"funding_source,omitempty"`
	Instrument    *string `json:"instrument,omitempty"`
	Recipient     *string `json:"recipient,omitempty"`
}

// Technical holds the technical and impact descriptors extracted in stage 3.
type Technical struct {
	Sector          *string `json:"sector,omitempty"`
	Technology      *string `json:"technology,omitempty"`
	CapacityMW      *string `json:"capacity_mw,omitempty"`
	EmissionsImpact *string `json:"emissions_impact,omitempty"`
	Beneficiaries   *string `json:"beneficiaries,omitempty"`
}

// StageEvidence is one append-only entry in a candidate's evidence log.
type StageEvidence struct {
	Stage  int           `json:"stage"`
	Fields ProjectRecord `json:"extracted_fields"`
	At     time.Time     `json:"at"`
}

// MergeProject combines a prior partial record with newly extracted fields.
// A new non-null value overwrites the old one; a new null never overwrites an
// existing non-null value. Nested groups merge key-by-key under the same rule
// rather than being replaced wholesale, so stage ordering cannot lose
// information.
func MergeProject(prior, update ProjectRecord) ProjectRecord {
	out := prior
	out.Title = pick(prior.Title, update.Title)
	out.Status = pick(prior.Status, update.Status)
	out.StartDate = pick(prior.StartDate, update.StartDate)
	out.EndDate = pick(prior.EndDate, update.EndDate)
	out.Location = pick(prior.Location, update.Location)
	out.SourceURL = pick(prior.SourceURL, update.SourceURL)
	out.Financing = mergeFinancing(prior.Financing, update.Financing)
	out.Technical = mergeTechnical(prior.Technical, update.Technical)
	if update.GateReason != "" {
		out.GateReason = update.GateReason
	}
	return out
}

func mergeFinancing(prior, update *Financing) *Financing {
	if update == nil {
		return prior
	}
	if prior == nil {
		cp := *update
		return &cp
	}
	return &Financing{
		Amount:        pick(prior.Amount, update.Amount),
		Currency:      pick(prior.Currency, update.Currency),
		FundingSource: pick(prior.FundingSource, update.FundingSource),
		Instrument:    pick(prior.Instrument, update.Instrument),
		Recipient:     pick(prior.Recipient, update.Recipient),
	}
}

func mergeTechnical(prior, update *Technical) *Technical {
	if update == nil {
		return prior
	}
	if prior == nil {
		cp := *update
		return &cp
	}
	return &Technical{
		Sector:          pick(prior.Sector, update.Sector),
		Technology:      pick(prior.Technology, update.Technology),
		CapacityMW:      pick(prior.CapacityMW, update.CapacityMW),
		EmissionsImpact: pick(prior.EmissionsImpact, update.EmissionsImpact),
		Beneficiaries:   pick(prior.Beneficiaries, update.Beneficiaries),
	}
}

func pick[T any](old, update *T) *T {
	if update != nil {
		return update
	}
	return old
}

// Str returns a *string for literal field values, mostly in tests and
// follow-up construction.
func Str(s string) *string { return &s }

// Deref returns the value behind a possibly-nil *string.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
