// Package hasstest provides a mock Home Assistant WebSocket server for
// exercising the gateway client in tests.
package hasstest

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jluzny/hag-go/internal/hass"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper pairs a WebSocket connection with its write mutex.
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) writeJSON(v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteJSON(v)
}

// Server simulates the Home Assistant WebSocket API: authentication,
// get_states, call_service, and state_changed event broadcast.
type Server struct {
	httpServer *httptest.Server
	token      string

	states   map[string]*hass.State
	statesMu sync.RWMutex

	connections []*connWrapper
	connsMu     sync.Mutex

	serviceCalls []hass.ServiceCall
	callsMu      sync.Mutex
}

// NewServer starts a mock server accepting the given token.
func NewServer(token string) *Server {
	s := &Server{
		token:  token,
		states: make(map[string]*hass.State),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	mux.HandleFunc("/api/states/", s.handleRESTState)
	s.httpServer = httptest.NewServer(mux)
	return s
}

// WSURL returns the ws:// URL clients should dial.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/api/websocket"
}

// RestURL returns the http:// base URL for REST fallback reads.
func (s *Server) RestURL() string {
	return s.httpServer.URL
}

// Close shuts the server down and drops all connections.
func (s *Server) Close() {
	s.connsMu.Lock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()

	s.httpServer.Close()
}

// SetState stores an entity state and broadcasts a state_changed event to
// every connected, subscribed client.
func (s *Server) SetState(entityID, state string, attributes map[string]any) {
	s.statesMu.Lock()
	oldState := s.states[entityID]
	now := time.Now()
	newState := &hass.State{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	s.states[entityID] = newState
	s.statesMu.Unlock()

	s.broadcastStateChanged(entityID, oldState, newState)
}

// ServiceCalls returns a copy of all service calls received.
func (s *Server) ServiceCalls() []hass.ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()

	calls := make([]hass.ServiceCall, len(s.serviceCalls))
	copy(calls, s.serviceCalls)
	return calls
}

// DropConnections severs all client connections without stopping the server,
// to exercise reconnect behaviour.
func (s *Server) DropConnections() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
}

func (s *Server) handleRESTState(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	entityID := strings.TrimPrefix(r.URL.Path, "/api/states/")

	s.statesMu.RLock()
	state, ok := s.states[entityID]
	s.statesMu.RUnlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hasstest: upgrade failed: %v", err)
		return
	}

	wrapper := &connWrapper{conn: conn}

	if err := wrapper.writeJSON(map[string]string{"type": "auth_required"}); err != nil {
		conn.Close()
		return
	}

	var auth hass.AuthMessage
	if err := conn.ReadJSON(&auth); err != nil || auth.Type != "auth" || auth.AccessToken != s.token {
		wrapper.writeJSON(map[string]string{"type": "auth_invalid"})
		conn.Close()
		return
	}

	if err := wrapper.writeJSON(map[string]string{"type": "auth_ok", "ha_version": "2024.1.0"}); err != nil {
		conn.Close()
		return
	}

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	s.serveCommands(wrapper)
}

func (s *Server) serveCommands(wrapper *connWrapper) {
	for {
		var raw json.RawMessage
		if err := wrapper.conn.ReadJSON(&raw); err != nil {
			s.removeConnection(wrapper)
			return
		}

		var base struct {
			ID   int    `json:"id"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}

		switch base.Type {
		case "get_states":
			s.statesMu.RLock()
			states := make([]*hass.State, 0, len(s.states))
			for _, st := range s.states {
				states = append(states, st)
			}
			s.statesMu.RUnlock()

			result, _ := json.Marshal(states)
			s.reply(wrapper, base.ID, result)

		case "call_service":
			var req hass.CallServiceRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				continue
			}
			s.callsMu.Lock()
			s.serviceCalls = append(s.serviceCalls, hass.ServiceCall{
				Domain:  req.Domain,
				Service: req.Service,
				Data:    req.ServiceData,
				Time:    time.Now(),
			})
			s.callsMu.Unlock()
			s.reply(wrapper, base.ID, nil)

		case "subscribe_events":
			s.reply(wrapper, base.ID, nil)

		default:
			s.reply(wrapper, base.ID, nil)
		}
	}
}

func (s *Server) reply(wrapper *connWrapper, id int, result json.RawMessage) {
	success := true
	msg := hass.Message{ID: id, Type: "result", Success: &success, Result: result}
	if err := wrapper.writeJSON(msg); err != nil {
		log.Printf("hasstest: reply %d failed: %v", id, err)
	}
}

func (s *Server) removeConnection(wrapper *connWrapper) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	for i, c := range s.connections {
		if c == wrapper {
			s.connections = append(s.connections[:i], s.connections[i+1:]...)
			break
		}
	}
	wrapper.conn.Close()
}

func (s *Server) broadcastStateChanged(entityID string, oldState, newState *hass.State) {
	data, err := json.Marshal(hass.StateChangedEvent{
		EntityID: entityID,
		OldState: oldState,
		NewState: newState,
	})
	if err != nil {
		return
	}

	event := hass.Message{
		Type: "event",
		Event: &hass.Event{
			EventType: "state_changed",
			Data:      data,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	}

	s.connsMu.Lock()
	conns := append([]*connWrapper(nil), s.connections...)
	s.connsMu.Unlock()

	for _, wrapper := range conns {
		if err := wrapper.writeJSON(event); err != nil {
			log.Printf("hasstest: broadcast to client failed: %v", err)
		}
	}
}
