// Package realtime fans ticket events out to live subscribers. Delivery is
// best-effort: slow subscribers drop events and nothing is replayed.
package realtime

import (
	"context"
	"encoding/json"
	"time"
)

const (
	TicketCreated   = "ticket.created"
	TicketUpdated   = "ticket.updated"
	ResponseCreated = "response.created"
	Typing          = "typing"
	Read            = "read"
)

type Event struct {
	Type     string `json:"type"`
	OrgID    string `json:"org_id"`
	TicketID string `json:"ticket_id,omitempty"`
	// CustomerID owns the ticket; customer sockets only see their own tickets.
	CustomerID string `json:"customer_id,omitempty"`
	ProfileID  string `json:"profile_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Typing     *bool  `json:"typing,omitempty"`
	// Internal marks agent-only notes, never relayed to customers.
	Internal bool            `json:"internal,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	At       time.Time       `json:"at"`
}

// Broker publishes events and hands out subscriptions. The returned cancel
// function releases the subscription and closes the channel.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, channels ...string) (<-chan Event, func(), error)
}

func OrgChannel(orgID string) string {
	return "org:" + orgID
}

func TicketChannel(orgID, ticketID string) string {
	return "org:" + orgID + ":ticket:" + ticketID
}

// channelsFor lists where an event goes: the org channel always, the ticket
// channel when the event concerns a ticket.
func channelsFor(ev Event) []string {
	channels := []string{OrgChannel(ev.OrgID)}
	if ev.TicketID != "" {
		channels = append(channels, TicketChannel(ev.OrgID, ev.TicketID))
	}
	return channels
}

// VisibleTo reports whether a subscriber may receive ev.
func VisibleTo(ev Event, profileID string, staff bool) bool {
	if staff {
		return true
	}
	if ev.Internal {
		return false
	}
	return ev.CustomerID == "" || ev.CustomerID == profileID
}

const subscriberBuffer = 32
