// Package storefront builds the public pricing comparison between an
// organization's own plans and its competitors.
package storefront

import (
	"sort"

	"storefront/api/internal/store"
)

// BuildCompetitorFeatureIndex maps competitor id to feature key to value.
// A later duplicate overwrites an earlier one.
func BuildCompetitorFeatureIndex(features []store.CompetitorFeature) map[string]map[string]string {
	index := make(map[string]map[string]string)
	for _, f := range features {
		byKey, ok := index[f.CompetitorID]
		if !ok {
			byKey = make(map[string]string)
			index[f.CompetitorID] = byKey
		}
		byKey[f.FeatureKey] = f.Value
	}
	return index
}

// BuildCompetitorPlanIndex maps competitor id to plan id to plan.
func BuildCompetitorPlanIndex(plans []store.CompetitorPlan) map[string]map[string]store.CompetitorPlan {
	index := make(map[string]map[string]store.CompetitorPlan)
	for _, p := range plans {
		byID, ok := index[p.CompetitorID]
		if !ok {
			byID = make(map[string]store.CompetitorPlan)
			index[p.CompetitorID] = byID
		}
		byID[p.ID] = p
	}
	return index
}

const (
	ColumnPlan       = "plan"
	ColumnCompetitor = "competitor"
)

type Column struct {
	Kind       string `json:"kind"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
	Currency   string `json:"currency,omitempty"`
	Interval   string `json:"interval,omitempty"`
}

type Row struct {
	Feature string   `json:"feature"`
	Cells   []string `json:"cells"`
}

type Table struct {
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Included is the cell value for a feature listed on one of our own plans.
const Included = "yes"

// ComparisonTable lays out own plans first (by sort order) and then
// competitors. Rows are the sorted union of feature keys; a cell nobody
// filled in is empty.
func ComparisonTable(plans []store.PricingPlan, competitors []store.Competitor, competitorPlans []store.CompetitorPlan, features []store.CompetitorFeature) Table {
	ordered := append([]store.PricingPlan(nil), plans...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SortOrder < ordered[j].SortOrder })
	rivals := append([]store.Competitor(nil), competitors...)
	sort.SliceStable(rivals, func(i, j int) bool { return rivals[i].SortOrder < rivals[j].SortOrder })

	featureIndex := BuildCompetitorFeatureIndex(features)
	planIndex := BuildCompetitorPlanIndex(competitorPlans)

	keys := make(map[string]struct{})
	ownFeatures := make([]map[string]struct{}, len(ordered))
	for i, p := range ordered {
		ownFeatures[i] = make(map[string]struct{}, len(p.Features))
		for _, f := range p.Features {
			keys[f] = struct{}{}
			ownFeatures[i][f] = struct{}{}
		}
	}
	for _, byKey := range featureIndex {
		for k := range byKey {
			keys[k] = struct{}{}
		}
	}

	table := Table{Columns: make([]Column, 0, len(ordered)+len(rivals)), Rows: make([]Row, 0, len(keys))}
	for _, p := range ordered {
		table.Columns = append(table.Columns, Column{
			Kind: ColumnPlan, ID: p.ID, Name: p.Name,
			PriceCents: p.PriceCents, Currency: p.Currency, Interval: p.Interval,
		})
	}
	for _, c := range rivals {
		col := Column{Kind: ColumnCompetitor, ID: c.ID, Name: c.Name}
		if cheapest, ok := cheapestPlan(planIndex[c.ID]); ok {
			col.PriceCents, col.Interval = cheapest.PriceCents, cheapest.Interval
		}
		table.Columns = append(table.Columns, col)
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, key := range sorted {
		row := Row{Feature: key, Cells: make([]string, 0, len(table.Columns))}
		for i := range ordered {
			cell := ""
			if _, ok := ownFeatures[i][key]; ok {
				cell = Included
			}
			row.Cells = append(row.Cells, cell)
		}
		for _, c := range rivals {
			row.Cells = append(row.Cells, featureIndex[c.ID][key])
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

func cheapestPlan(plans map[string]store.CompetitorPlan) (store.CompetitorPlan, bool) {
	var (
		best  store.CompetitorPlan
		found bool
	)
	for _, p := range plans {
		if !found || p.PriceCents < best.PriceCents || (p.PriceCents == best.PriceCents && p.ID < best.ID) {
			best, found = p, true
		}
	}
	return best, found
}
