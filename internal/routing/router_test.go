package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAfterRawReview(t *testing.T) {
	tests := []struct {
		name         string
		sig          ReviewSignal
		wantNext     Next
		wantOverride bool
	}{
		{
			name:     "proceed with documents",
			sig:      Proceed{Selected: []string{"https://example.org/a"}},
			wantNext: NextExtract,
		},
		{
			name:         "proceed with zero documents is demoted",
			sig:          Proceed{Selected: nil},
			wantNext:     NextPlan,
			wantOverride: true,
		},
		{
			name:     "refine plan",
			sig:      RefinePlan{Details: "narrow to municipal data"},
			wantNext: NextPlan,
		},
		{
			name:     "explicit end",
			sig:      EndRun{Reason: "nothing found"},
			wantNext: NextEnd,
		},
		{
			name:         "missing signal ends the run",
			sig:          nil,
			wantNext:     NextEnd,
			wantOverride: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := AfterRawReview(tt.sig)
			assert.Equal(t, tt.wantNext, route.Next)
			if tt.wantOverride {
				assert.NotEmpty(t, route.Override)
			} else {
				assert.Empty(t, route.Override)
			}
		})
	}
}

func TestAfterStructuredReview(t *testing.T) {
	base := Ceilings{CurrentIteration: 2, MaxIterations: 10, ConsecutiveDeepDives: 0, MaxConsecutiveDeepDives: 5}

	tests := []struct {
		name         string
		sig          VerdictSignal
		ceilings     Ceilings
		wantNext     Next
		wantOverride bool
	}{
		{name: "accept", sig: Accept{}, ceilings: base, wantNext: NextAccept},
		{name: "reject", sig: Reject{Reason: "wrong sector"}, ceilings: base, wantNext: NextReject},
		{name: "deep dive within budget", sig: DeepDive{Refinement: "scrape annexes"}, ceilings: base, wantNext: NextDeepDive},
		{
			name:         "deep dive at ceiling overridden to reject",
			sig:          DeepDive{},
			ceilings:     Ceilings{CurrentIteration: 2, MaxIterations: 10, ConsecutiveDeepDives: 5, MaxConsecutiveDeepDives: 5},
			wantNext:     NextReject,
			wantOverride: true,
		},
		{name: "refine plan", sig: Replan{}, ceilings: base, wantNext: NextPlan},
		{name: "finish", sig: Finish{}, ceilings: base, wantNext: NextEnd},
		{name: "missing verdict rejects", sig: nil, ceilings: base, wantNext: NextReject, wantOverride: true},
		{
			name:         "iteration ceiling forces end over accept",
			sig:          Accept{},
			ceilings:     Ceilings{CurrentIteration: 10, MaxIterations: 10, MaxConsecutiveDeepDives: 5},
			wantNext:     NextEnd,
			wantOverride: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := AfterStructuredReview(tt.sig, tt.ceilings)
			assert.Equal(t, tt.wantNext, route.Next)
			if tt.wantOverride {
				assert.NotEmpty(t, route.Override)
			} else {
				assert.Empty(t, route.Override)
			}
		})
	}
}

func TestAfterDeepDive(t *testing.T) {
	assert.Equal(t, NextResearch, AfterDeepDive(DiveContinue{}).Next)
	assert.Equal(t, NextReviewStructured, AfterDeepDive(DiveTerminate{Reason: "budget spent"}).Next)

	missing := AfterDeepDive(nil)
	assert.Equal(t, NextReviewStructured, missing.Next)
	assert.NotEmpty(t, missing.Override)
}

func TestDecodeRoundTrips(t *testing.T) {
	assert.IsType(t, Proceed{}, DecodeReviewSignal(ActionProceed, []string{"u"}, ""))
	assert.IsType(t, RefinePlan{}, DecodeReviewSignal(ActionRefinePlan, nil, "d"))
	assert.IsType(t, EndRun{}, DecodeReviewSignal(ActionEnd, nil, ""))
	assert.Nil(t, DecodeReviewSignal("garbage", nil, ""))

	assert.IsType(t, Accept{}, DecodeVerdictSignal(ActionAccept, ""))
	assert.IsType(t, DeepDive{}, DecodeVerdictSignal(ActionDeepDive, "more"))
	assert.Nil(t, DecodeVerdictSignal("", ""))

	assert.IsType(t, DiveContinue{}, DecodeDiveSignal(ActionContinue, ""))
	assert.IsType(t, DiveTerminate{}, DecodeDiveSignal(ActionTerminate, "done"))
	assert.Nil(t, DecodeDiveSignal("scrape", ""))
}

func TestTerminal(t *testing.T) {
	assert.True(t, NextAccept.Terminal())
	assert.True(t, NextReject.Terminal())
	assert.True(t, NextEnd.Terminal())
	assert.False(t, NextPlan.Terminal())
	assert.False(t, NextDeepDive.Terminal())
}
