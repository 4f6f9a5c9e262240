package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"storefront/api/internal/realtime"
	"storefront/api/internal/store"
)

func dialLive(t *testing.T, srv *httptest.Server, ticketID, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/tickets/" + ticketID + "/live?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func readEvent(t *testing.T, conn *websocket.Conn) realtime.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev realtime.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestTicketLiveHidesInternalNotesFromCustomer(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	customer := signIn(t, svc, fs, "cust-1", "customer")
	agent := signIn(t, svc, fs, "agent-1", "agent")
	fs.putTicket(store.Ticket{ID: "tkt-1", CustomerID: customer.ProfileID, Status: TicketOpen})

	srv := httptest.NewServer(newTestServer(svc).Handler())
	defer srv.Close()

	conn, _, err := dialLive(t, srv, "tkt-1", customer.Token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	if _, err := svc.Respond(ctx, agent, "tkt-1", ResponseInput{Body: "customer seems upset", Internal: true}); err != nil {
		t.Fatalf("internal note: %v", err)
	}
	if _, err := svc.Respond(ctx, agent, "tkt-1", ResponseInput{Body: "We shipped a replacement."}); err != nil {
		t.Fatalf("reply: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != realtime.ResponseCreated || ev.Internal {
		t.Fatalf("expected the public reply first, got %+v", ev)
	}
	if !strings.Contains(string(ev.Payload), "replacement") {
		t.Fatalf("unexpected payload %s", ev.Payload)
	}
}

func TestTicketLiveRelaysInternalNotesToAgents(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	customer := signIn(t, svc, fs, "cust-1", "customer")
	agent := signIn(t, svc, fs, "agent-1", "agent")
	other := signIn(t, svc, fs, "agent-2", "agent")
	fs.putTicket(store.Ticket{ID: "tkt-1", CustomerID: customer.ProfileID, Status: TicketOpen})

	srv := httptest.NewServer(newTestServer(svc).Handler())
	defer srv.Close()

	conn, _, err := dialLive(t, srv, "tkt-1", other.Token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := svc.Respond(context.Background(), agent, "tkt-1", ResponseInput{Body: "refund approved", Internal: true}); err != nil {
		t.Fatalf("internal note: %v", err)
	}
	ev := readEvent(t, conn)
	if !ev.Internal || ev.ProfileID != agent.ProfileID {
		t.Fatalf("expected internal note from agent, got %+v", ev)
	}
}

func TestTicketLiveRefusesOtherCustomers(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	owner := signIn(t, svc, fs, "cust-1", "customer")
	stranger := signIn(t, svc, fs, "cust-2", "customer")
	fs.putTicket(store.Ticket{ID: "tkt-1", CustomerID: owner.ProfileID, Status: TicketOpen})

	srv := httptest.NewServer(newTestServer(svc).Handler())
	defer srv.Close()

	_, resp, err := dialLive(t, srv, "tkt-1", stranger.Token)
	if err == nil {
		t.Fatal("expected the handshake to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", resp)
	}

	_, resp, err = dialLive(t, srv, "tkt-1", "")
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %v", resp)
	}
}

func TestTicketLiveReadAndTyping(t *testing.T) {
	fs := newFakeStore()
	marked := make(chan string, 1)
	fs.markTicketReadFn = func(_ context.Context, ticketID, profileID string) {
		marked <- ticketID + "|" + profileID
	}
	svc := newTestService(fs)
	customer := signIn(t, svc, fs, "cust-1", "customer")
	agent := signIn(t, svc, fs, "agent-1", "agent")
	fs.putTicket(store.Ticket{ID: "tkt-1", CustomerID: customer.ProfileID, Status: TicketOpen})

	srv := httptest.NewServer(newTestServer(svc).Handler())
	defer srv.Close()

	agentConn, _, err := dialLive(t, srv, "tkt-1", agent.Token)
	if err != nil {
		t.Fatalf("dial agent: %v", err)
	}
	defer agentConn.Close()
	customerConn, _, err := dialLive(t, srv, "tkt-1", customer.Token)
	if err != nil {
		t.Fatalf("dial customer: %v", err)
	}
	defer customerConn.Close()

	if err := customerConn.WriteJSON(liveMessage{Type: realtime.Read}); err != nil {
		t.Fatalf("write read: %v", err)
	}
	select {
	case got := <-marked:
		if got != "tkt-1|cust-1" {
			t.Fatalf("unexpected read marker %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read marker was not stored")
	}
	if ev := readEvent(t, agentConn); ev.Type != realtime.Read || ev.ProfileID != customer.ProfileID {
		t.Fatalf("expected read event for agent, got %+v", ev)
	}

	if err := customerConn.WriteJSON(liveMessage{Type: realtime.Typing, Typing: true}); err != nil {
		t.Fatalf("write typing: %v", err)
	}
	ev := readEvent(t, agentConn)
	if ev.Type != realtime.Typing || ev.Typing == nil || !*ev.Typing || ev.Name != customer.Name {
		t.Fatalf("expected typing event, got %+v", ev)
	}
}
