package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"storefront/api/internal/auth"
	"storefront/api/internal/realtime"
	"storefront/api/internal/store"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
	liveMaxMessage = 4 << 10
)

// liveMessage is what a client sends on the ticket socket.
type liveMessage struct {
	Type   string `json:"type"`
	Typing bool   `json:"typing"`
}

func (s *HTTPServer) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return s.corsOrigin == "*" || origin == "" || strings.EqualFold(origin, s.corsOrigin)
		},
	}
}

// liveToken reads the access token from the query string, since browsers
// cannot set headers on a websocket handshake, or from the bearer header.
func liveToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	return bearerToken(r)
}

// handleTicketLive upgrades to a websocket that relays the events of one
// ticket. Ownership is checked before the upgrade so a refused client gets a
// normal JSON error.
func (s *HTTPServer) handleTicketLive(w http.ResponseWriter, r *http.Request) {
	token := liveToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		s.fail(w, r, err)
		return
	}
	noteOrg(r.Context(), session.OrgID)
	ticket, err := s.service.CanWatchTicket(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	events, unsubscribe, err := s.service.Broker().Subscribe(ctx, realtime.TicketChannel(session.OrgID, ticket.ID))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer unsubscribe()

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		s.log.Debug().Err(err).Str("ticket_id", ticket.ID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.log.With().
		Str("request_id", requestID(r.Context())).
		Str("ticket_id", ticket.ID).
		Str("profile_id", session.ProfileID).
		Logger()
	log.Debug().Msg("live socket opened")

	staff := s.service.worksTickets(session)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		s.readLive(ctx, conn, session, ticket)
	}()

	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			log.Debug().Msg("live socket closed")
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(liveWriteWait))
				return
			}
			if !realtime.VisibleTo(ev, session.ProfileID, staff) {
				continue
			}
			if ev.Type == realtime.Typing && ev.ProfileID == session.ProfileID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("live socket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		}
	}
}

// readLive handles client signals until the socket closes. A client that
// disconnects while typing is reported as stopped.
func (s *HTTPServer) readLive(ctx context.Context, conn *websocket.Conn, session Session, ticket store.Ticket) {
	conn.SetReadLimit(liveMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	typing := false
	defer func() {
		if typing {
			s.service.Typing(ctx, session, ticket, false)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Str("ticket_id", ticket.ID).Msg("live socket read failed")
			}
			return
		}
		var msg liveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case realtime.Typing:
			typing = msg.Typing
			s.service.Typing(ctx, session, ticket, msg.Typing)
		case realtime.Read:
			if err := s.service.MarkRead(ctx, session, ticket.ID); err != nil {
				s.log.Warn().Err(err).Str("ticket_id", ticket.ID).Msg("mark read from socket")
			}
		}
	}
}
