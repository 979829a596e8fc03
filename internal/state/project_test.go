package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeProjectNonRegression(t *testing.T) {
	prior := ProjectRecord{
		Title:     Str("Solar Park Atacama"),
		Status:    Str("funded"),
		StartDate: Str("2025-06-01"),
		Financing: &Financing{
			Amount:   Str("120M"),
			Currency: Str("USD"),
		},
	}
	update := ProjectRecord{
		Title:    nil, // must not clear the prior title
		EndDate:  Str("2028-12-31"),
		Location: Str("Atacama, Chile"),
		Financing: &Financing{
			Amount:        nil, // must not clear the prior amount
			FundingSource: Str("IDB"),
		},
	}

	merged := MergeProject(prior, update)

	assert.Equal(t, "Solar Park Atacama", Deref(merged.Title))
	assert.Equal(t, "funded", Deref(merged.Status))
	assert.Equal(t, "2025-06-01", Deref(merged.StartDate))
	assert.Equal(t, "2028-12-31", Deref(merged.EndDate))
	assert.Equal(t, "Atacama, Chile", Deref(merged.Location))
	assert.Equal(t, "120M", Deref(merged.Financing.Amount))
	assert.Equal(t, "USD", Deref(merged.Financing.Currency))
	assert.Equal(t, "IDB", Deref(merged.Financing.FundingSource))
}

func TestMergeProjectNonNullReplacementWins(t *testing.T) {
	prior := ProjectRecord{Status: Str("announced")}
	update := ProjectRecord{Status: Str("funded")}
	merged := MergeProject(prior, update)
	assert.Equal(t, "funded", Deref(merged.Status))
}

func TestMergeProjectNestedGroupFromNil(t *testing.T) {
	prior := ProjectRecord{Title: Str("Wind Farm")}
	update := ProjectRecord{Technical: &Technical{Technology: Str("onshore wind")}}
	merged := MergeProject(prior, update)
	assert.NotNil(t, merged.Technical)
	assert.Equal(t, "onshore wind", Deref(merged.Technical.Technology))

	// Merging a nil group back does not erase the accumulated one.
	again := MergeProject(merged, ProjectRecord{})
	assert.NotNil(t, again.Technical)
	assert.Equal(t, "onshore wind", Deref(again.Technical.Technology))
}

func TestMergeProjectStageOrderCommutesOnInformation(t *testing.T) {
	a := ProjectRecord{Title: Str("X"), Financing: &Financing{Amount: Str("5M")}}
	b := ProjectRecord{Location: Str("Ghana"), Technical: &Technical{Sector: Str("transport")}}

	ab := MergeProject(a, b)
	ba := MergeProject(b, a)

	// Disjoint field sets: both orders accumulate the same information.
	assert.Equal(t, Deref(ab.Title), Deref(ba.Title))
	assert.Equal(t, Deref(ab.Location), Deref(ba.Location))
	assert.Equal(t, Deref(ab.Financing.Amount), Deref(ba.Financing.Amount))
	assert.Equal(t, Deref(ab.Technical.Sector), Deref(ba.Technical.Sector))
}
