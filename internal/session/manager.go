/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/cartesiancs/vessel/internal/auth"
	"github.com/cartesiancs/vessel/internal/events"
	ivwebrtc "github.com/cartesiancs/vessel/internal/webrtc"
)

// Manager accepts /signal upgrades and spawns one Session actor per
// connection, per spec §4.K. It is itself process-wide and long-lived,
// constructed once by server.New alongside the registry, router and flow
// manager it hands to every Session.
type Manager struct {
	deps   Deps
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds the shared Pion API once and returns a ready Manager.
func NewManager(deps Deps, logger zerolog.Logger) (*Manager, error) {
	if deps.API == nil {
		api, err := ivwebrtc.NewAPI()
		if err != nil {
			return nil, err
		}
		deps.API = api
	}
	return &Manager{
		deps:     deps,
		logger:   logger.With().Str("component", "session_manager").Logger(),
		sessions: make(map[string]*Session),
	}, nil
}

// HandleSignal upgrades r to a WebSocket and runs a Session actor for its
// lifetime; it blocks until the session ends. r.Context() carries the JWT
// claims injected by auth.Middleware.
func (m *Manager) HandleSignal(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	userID := ""
	if ok {
		userID = claims.UserID
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		m.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	id := uuid.NewString()
	sess, err := New(id, userID, conn, m.deps, m.logger)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to construct session")
		conn.Close(ws.StatusInternalError, "session init failed")
		return
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
	}()

	go m.forwardBusEvents(r.Context().Done(), sess)

	sess.Run(r.Context())
	conn.Close(ws.StatusNormalClosure, "session ended")
}

// forwardBusEvents relays process-wide events the Session Actor doesn't
// itself produce (mqtt_message, change_state, log_message) onto the
// session's own WS sink, for as long as the session is alive.
func (m *Manager) forwardBusEvents(done <-chan struct{}, sess *Session) {
	mqttSub := m.deps.Bus.Subscribe(events.EventMQTTMessage)
	stateSub := m.deps.Bus.Subscribe(events.EventEntityStateChanged)
	logSub := m.deps.Bus.Subscribe(events.EventFlowLogMessage)
	defer m.deps.Bus.Unsubscribe(events.EventMQTTMessage, mqttSub)
	defer m.deps.Bus.Unsubscribe(events.EventEntityStateChanged, stateSub)
	defer m.deps.Bus.Unsubscribe(events.EventFlowLogMessage, logSub)

	for {
		select {
		case <-done:
			return
		case payload, ok := <-mqttSub:
			if !ok {
				return
			}
			sess.post(busForward{msgType: "mqtt_message", payload: payload})
		case payload, ok := <-stateSub:
			if !ok {
				return
			}
			sess.post(busForward{msgType: "change_state", payload: payload})
		case payload, ok := <-logSub:
			if !ok {
				return
			}
			sess.post(busForward{msgType: "log_message", payload: payload})
		}
	}
}

// Count reports the number of live sessions, used by health/debug surfaces.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
