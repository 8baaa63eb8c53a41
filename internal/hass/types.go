// Package hass implements the gateway to the Home Assistant platform: a
// WebSocket client with authentication, bounded reconnect, and event
// subscriptions, a REST fallback for one-shot reads, a dry-run wrapper, and
// a mock client for tests.
package hass

import (
	"encoding/json"
	"time"
)

// Message is the base WebSocket frame to/from Home Assistant.
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// APIError is an error payload in a command response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage is the authentication request frame.
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Event is an event frame payload.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent is the payload of a state_changed event.
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
	OldState *State `json:"old_state"`
}

// State is an entity state as reported by the platform.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// CallServiceRequest is a call_service command frame.
type CallServiceRequest struct {
	ID          int            `json:"id"`
	Type        string         `json:"type"`
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data,omitempty"`
}

// GetStatesRequest is a get_states command frame.
type GetStatesRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// SubscribeEventsRequest is a subscribe_events command frame.
type SubscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

// StateChangeHandler receives state change notifications for an entity.
type StateChangeHandler func(entityID string, oldState, newState *State)

// Subscription is an active state-change subscription.
type Subscription interface {
	Unsubscribe() error
}

// Client is the platform gateway interface consumed by the controller.
type Client interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	GetState(entityID string) (*State, error)
	CallService(domain, service string, data map[string]any) error
	// ControlEntity is a convenience for single-entity service calls with
	// one value argument, e.g. ControlEntity("climate.living", "climate",
	// "set_temperature", "temperature", 21.5).
	ControlEntity(entityID, domain, service, valueKey string, value any) error
	SubscribeStateChanged(entityID string, handler StateChangeHandler) (Subscription, error)
}
