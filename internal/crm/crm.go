// Package crm turns raw customer activity into the summaries agents browse.
package crm

import (
	"sort"
	"time"

	"storefront/api/internal/store"
)

const (
	CaseOpen       = "open"
	CaseInProgress = "in_progress"
	CaseClosed     = "closed"
)

func ValidCaseStatus(status string) bool {
	switch status {
	case CaseOpen, CaseInProgress, CaseClosed:
		return true
	}
	return false
}

type CustomerSummary struct {
	ProfileID       string         `json:"profileId"`
	DisplayName     string         `json:"displayName"`
	Email           string         `json:"email"`
	OpenCases       int            `json:"openCases"`
	ClosedCases     int            `json:"closedCases"`
	TicketsByStatus map[string]int `json:"ticketsByStatus"`
	TotalTickets    int            `json:"totalTickets"`
	PaidCents       int64          `json:"paidCents"`
	LastActivityAt  *time.Time     `json:"lastActivityAt"`
}

// Summarize orders customers by last activity, most recent first. Customers
// with no activity sort last, by name.
func Summarize(activity []store.CustomerActivity) []CustomerSummary {
	out := make([]CustomerSummary, 0, len(activity))
	for _, a := range activity {
		byStatus := make(map[string]int, len(a.TicketsByStatus))
		total := 0
		for status, n := range a.TicketsByStatus {
			byStatus[status] = n
			total += n
		}
		out = append(out, CustomerSummary{
			ProfileID:       a.ProfileID,
			DisplayName:     a.DisplayName,
			Email:           a.Email,
			OpenCases:       a.OpenCases,
			ClosedCases:     a.ClosedCases,
			TicketsByStatus: byStatus,
			TotalTickets:    total,
			PaidCents:       a.PaidCents,
			LastActivityAt:  a.LastActivityAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastActivityAt, out[j].LastActivityAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}
