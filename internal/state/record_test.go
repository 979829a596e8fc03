package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeographyMutualExclusion(t *testing.T) {
	tests := []struct {
		name    string
		geo     Geography
		wantErr bool
	}{
		{name: "country only", geo: Geography{Country: "Kenya"}, wantErr: false},
		{name: "city only", geo: Geography{City: "Nairobi"}, wantErr: false},
		{name: "region only", geo: Geography{Region: "East Africa"}, wantErr: false},
		{name: "none set", geo: Geography{}, wantErr: true},
		{name: "country and city", geo: Geography{Country: "Kenya", City: "Nairobi"}, wantErr: true},
		{name: "all three", geo: Geography{Country: "Kenya", City: "Nairobi", Region: "East Africa"}, wantErr: true},
		{name: "whitespace only counts as unset", geo: Geography{Country: "  ", City: "Nairobi"}, wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.geo.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewRecordFailsFast(t *testing.T) {
	_, err := NewRecord("r1", "find datasets", Geography{}, "energy", ModeGHGIData)
	require.Error(t, err)

	_, err = NewRecord("r1", "find datasets", Geography{Country: "Kenya"}, "energy", Mode("bogus"))
	require.Error(t, err)

	rec, err := NewRecord("r1", "find datasets", Geography{Country: "Kenya"}, "energy", ModeGHGIData)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.CurrentIteration)
	assert.Equal(t, 0, rec.ConsecutiveDeepDives)
	assert.Empty(t, rec.DecisionLog)
}

func TestAppendScrapedDedupesByURL(t *testing.T) {
	rec, err := NewRecord("r1", "p", Geography{Country: "Chile"}, "waste", ModeGHGIData)
	require.NoError(t, err)

	doc := ScrapedDoc{URL: "https://example.org/a", Content: "first"}
	assert.True(t, rec.AppendScraped(doc))
	assert.False(t, rec.AppendScraped(ScrapedDoc{URL: "https://example.org/a", Content: "second"}))
	require.Len(t, rec.ScrapedData, 1)
	// Re-adding a seen URL is a no-op; the original content stays.
	assert.Equal(t, "first", rec.ScrapedData[0].Content)

	assert.False(t, rec.AppendScraped(ScrapedDoc{URL: ""}))
}

func TestAppendDatasetDedupesByURL(t *testing.T) {
	rec, err := NewRecord("r1", "p", Geography{Country: "Chile"}, "waste", ModeGHGIData)
	require.NoError(t, err)

	assert.True(t, rec.AppendDataset(DatasetRecord{Name: "NIR 2023", URL: "https://example.org/nir"}))
	assert.False(t, rec.AppendDataset(DatasetRecord{Name: "duplicate", URL: "https://example.org/nir"}))
	assert.Len(t, rec.StructuredData, 1)
}

func TestSearchPlanTransitions(t *testing.T) {
	rec, err := NewRecord("r1", "p", Geography{Region: "Sahel"}, "agriculture", ModeFundedProjects)
	require.NoError(t, err)

	rec.SearchPlan = []SearchTask{
		{Query: "a", Rank: 1, Status: SearchPending},
		{Query: "b", Rank: 2, Status: SearchPending},
	}
	rec.MarkSearched("a")
	assert.Equal(t, SearchSearched, rec.SearchPlan[0].Status)
	assert.Equal(t, SearchPending, rec.SearchPlan[1].Status)

	pending := rec.PendingSearches()
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].Query)
}

func TestDecisionLogAppendOnly(t *testing.T) {
	rec, err := NewRecord("r1", "p", Geography{Country: "Chile"}, "waste", ModeGHGIData)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.LogDecision("planner", "planned_searches", "3 queries", now)
	rec.LogDecision("researcher", "scraped", "2 urls", now.Add(time.Minute))

	require.Len(t, rec.DecisionLog, 2)
	assert.Equal(t, "planner", rec.DecisionLog[0].Agent)
	assert.Equal(t, "researcher", rec.DecisionLog[1].Agent)
	assert.True(t, rec.DecisionLog[1].Timestamp.After(rec.DecisionLog[0].Timestamp))
}
