package crm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/api/internal/store"
)

func at(day int) *time.Time {
	t := time.Date(2026, 3, day, 12, 0, 0, 0, time.UTC)
	return &t
}

func TestSummarizeSortsByLastActivity(t *testing.T) {
	got := Summarize([]store.CustomerActivity{
		{ProfileID: "idle-b", DisplayName: "Zed"},
		{ProfileID: "old", DisplayName: "Old", LastActivityAt: at(1)},
		{ProfileID: "idle-a", DisplayName: "Amy"},
		{ProfileID: "new", DisplayName: "New", LastActivityAt: at(9), TicketsByStatus: map[string]int{"open": 2, "closed": 3}, PaidCents: 4200},
	})

	require.Len(t, got, 4)
	ids := []string{got[0].ProfileID, got[1].ProfileID, got[2].ProfileID, got[3].ProfileID}
	assert.Equal(t, []string{"new", "old", "idle-a", "idle-b"}, ids)
	assert.Equal(t, 5, got[0].TotalTickets)
	assert.Equal(t, int64(4200), got[0].PaidCents)
	assert.NotNil(t, got[1].TicketsByStatus)
}

func TestSummarizeEmpty(t *testing.T) {
	got := Summarize(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestValidCaseStatus(t *testing.T) {
	for _, s := range []string{"open", "in_progress", "closed"} {
		assert.True(t, ValidCaseStatus(s), s)
	}
	assert.False(t, ValidCaseStatus("resolved"))
	assert.False(t, ValidCaseStatus(""))
}
