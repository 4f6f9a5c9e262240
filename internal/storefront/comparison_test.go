package storefront

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/api/internal/store"
)

func TestBuildCompetitorFeatureIndex(t *testing.T) {
	index := BuildCompetitorFeatureIndex([]store.CompetitorFeature{
		{CompetitorID: "c1", FeatureKey: "sso", Value: "no"},
		{CompetitorID: "c1", FeatureKey: "api", Value: "limited"},
		{CompetitorID: "c2", FeatureKey: "sso", Value: "enterprise only"},
		{CompetitorID: "c1", FeatureKey: "sso", Value: "add-on"},
	})

	require.Len(t, index, 2)
	assert.Equal(t, "add-on", index["c1"]["sso"])
	assert.Equal(t, "limited", index["c1"]["api"])
	assert.Equal(t, "enterprise only", index["c2"]["sso"])
	assert.Empty(t, index["c3"]["sso"], "lookups on unknown competitors are safe")
}

func TestBuildCompetitorPlanIndex(t *testing.T) {
	index := BuildCompetitorPlanIndex([]store.CompetitorPlan{
		{ID: "p1", CompetitorID: "c1", Name: "Basic", PriceCents: 900},
		{ID: "p2", CompetitorID: "c1", Name: "Team", PriceCents: 2900},
		{ID: "p3", CompetitorID: "c2", Name: "Solo", PriceCents: 500},
	})

	require.Len(t, index["c1"], 2)
	assert.Equal(t, "Team", index["c1"]["p2"].Name)
	assert.Equal(t, int64(500), index["c2"]["p3"].PriceCents)
}

func TestComparisonTable(t *testing.T) {
	plans := []store.PricingPlan{
		{ID: "pro", Name: "Pro", SortOrder: 2, PriceCents: 2900, Interval: "month", Features: []string{"sso", "api"}},
		{ID: "starter", Name: "Starter", SortOrder: 1, PriceCents: 900, Interval: "month", Features: []string{"api"}},
	}
	competitors := []store.Competitor{{ID: "c1", Name: "Rival", SortOrder: 1}}
	competitorPlans := []store.CompetitorPlan{
		{ID: "r2", CompetitorID: "c1", PriceCents: 4900, Interval: "month"},
		{ID: "r1", CompetitorID: "c1", PriceCents: 1900, Interval: "month"},
	}
	features := []store.CompetitorFeature{
		{CompetitorID: "c1", FeatureKey: "sso", Value: "paid add-on"},
		{CompetitorID: "c1", FeatureKey: "audit", Value: "yes"},
	}

	table := ComparisonTable(plans, competitors, competitorPlans, features)

	require.Len(t, table.Columns, 3)
	assert.Equal(t, "starter", table.Columns[0].ID)
	assert.Equal(t, "pro", table.Columns[1].ID)
	assert.Equal(t, ColumnCompetitor, table.Columns[2].Kind)
	assert.Equal(t, int64(1900), table.Columns[2].PriceCents)

	require.Len(t, table.Rows, 3)
	assert.Equal(t, Row{Feature: "api", Cells: []string{"yes", "yes", ""}}, table.Rows[0])
	assert.Equal(t, Row{Feature: "audit", Cells: []string{"", "", "yes"}}, table.Rows[1])
	assert.Equal(t, Row{Feature: "sso", Cells: []string{"", "yes", "paid add-on"}}, table.Rows[2])
}

func TestComparisonTableEmpty(t *testing.T) {
	table := ComparisonTable(nil, nil, nil, nil)
	assert.Empty(t, table.Columns)
	assert.Empty(t, table.Rows)
	assert.NotNil(t, table.Rows)
}
