package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options configures the WebSocket client.
type Options struct {
	WSURL      string
	RestURL    string
	Token      string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// subscriberEntry holds a handler with its unique subscription id.
type subscriberEntry struct {
	subID   int
	handler StateChangeHandler
}

// WSClient implements Client over the Home Assistant WebSocket API, with a
// REST fallback for one-shot state reads while the socket is down.
type WSClient struct {
	opts   Options
	logger *zap.Logger
	rest   *restClient

	conn      *websocket.Conn
	connected bool
	connMu    sync.RWMutex
	writeMu   sync.Mutex

	msgID   int
	msgIDMu sync.Mutex

	pending   map[int]chan Message
	pendingMu sync.Mutex

	subscribers map[string][]subscriberEntry
	subsMu      sync.RWMutex
	nextSubID   int

	ctx    context.Context
	cancel context.CancelFunc

	reconnect bool
}

// NewWSClient creates a Home Assistant WebSocket client.
func NewWSClient(opts Options, logger *zap.Logger) *WSClient {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &WSClient{
		opts:        opts,
		logger:      logger.Named("hass"),
		rest:        newRESTClient(opts.RestURL, opts.Token, opts.Timeout),
		pending:     make(map[int]chan Message),
		subscribers: make(map[string][]subscriberEntry),
		ctx:         ctx,
		cancel:      cancel,
		reconnect:   true,
	}
}

// Connect establishes the WebSocket connection, authenticates, and
// subscribes to state_changed events. Entity subscriptions registered before
// a reconnect keep receiving events afterwards.
func (c *WSClient) Connect() error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return &ConnectionError{Op: "connect", Err: fmt.Errorf("already connected")}
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.opts.WSURL, nil)
	if err != nil {
		c.connMu.Unlock()
		return &ConnectionError{Op: "dial", Err: err}
	}
	c.conn = conn

	if err := c.authenticate(); err != nil {
		c.conn.Close()
		c.conn = nil
		c.connMu.Unlock()
		return err
	}

	c.resetContextLocked()
	c.connected = true
	c.reconnect = true
	c.logger.Info("Connected to Home Assistant", zap.String("url", c.opts.WSURL))

	go c.receiveMessages()

	// Release the lock before issuing the subscribe command; it round-trips
	// through the receive loop.
	c.connMu.Unlock()

	if err := c.subscribeToStateChanges(); err != nil {
		c.logger.Warn("Failed to subscribe to state_changed events", zap.Error(err))
	}

	return nil
}

// authenticate performs the auth_required/auth/auth_ok handshake.
// Caller holds connMu.
func (c *WSClient) authenticate() error {
	var authRequired Message
	if err := c.conn.ReadJSON(&authRequired); err != nil {
		return &ConnectionError{Op: "auth", Err: err}
	}
	if authRequired.Type != "auth_required" {
		return &ConnectionError{Op: "auth", Err: fmt.Errorf("expected auth_required, got %s", authRequired.Type)}
	}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(AuthMessage{Type: "auth", AccessToken: c.opts.Token})
	c.writeMu.Unlock()
	if err != nil {
		return &ConnectionError{Op: "auth", Err: err}
	}

	var authResponse Message
	if err := c.conn.ReadJSON(&authResponse); err != nil {
		return &ConnectionError{Op: "auth", Err: err}
	}
	if authResponse.Type == "auth_invalid" {
		return &ConnectionError{Op: "auth", Err: fmt.Errorf("invalid token")}
	}
	if authResponse.Type != "auth_ok" {
		return &ConnectionError{Op: "auth", Err: fmt.Errorf("expected auth_ok, got %s", authResponse.Type)}
	}
	return nil
}

func (c *WSClient) resetContextLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// Disconnect closes the connection and drops all subscriptions.
func (c *WSClient) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		return nil
	}

	c.reconnect = false
	c.cancel()
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
		c.conn = nil
	}

	c.subsMu.Lock()
	c.subscribers = make(map[string][]subscriberEntry)
	c.subsMu.Unlock()

	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected reports whether the socket is up and authenticated.
func (c *WSClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *WSClient) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// sendCommand sends a command frame and waits for its response.
func (c *WSClient) sendCommand(msgID int, msg any) (*Message, error) {
	c.connMu.RLock()
	if !c.connected {
		c.connMu.RUnlock()
		return nil, &ConnectionError{Op: "send", Err: fmt.Errorf("not connected")}
	}
	conn := c.conn
	c.connMu.RUnlock()

	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[msgID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msgID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return nil, &ConnectionError{Op: "send", Err: err}
	}

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return &resp, fmt.Errorf("home assistant error %s: %s", resp.Error.Code, resp.Error.Message)
			}
			return &resp, fmt.Errorf("request %d failed", msgID)
		}
		return &resp, nil
	case <-time.After(c.opts.Timeout):
		return nil, &ConnectionError{Op: "send", Err: fmt.Errorf("timeout after %s", c.opts.Timeout)}
	case <-c.ctx.Done():
		return nil, &ConnectionError{Op: "send", Err: fmt.Errorf("client disconnected")}
	}
}

// receiveMessages routes incoming frames to pending commands and event
// subscribers until the connection drops.
func (c *WSClient) receiveMessages() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			c.logger.Warn("Read failed, connection lost", zap.Error(err))
			c.handleDisconnect()
			return
		}

		if msg.Type == "event" {
			c.handleEvent(&msg)
			continue
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

func (c *WSClient) handleEvent(msg *Message) {
	if msg.Event == nil || msg.Event.EventType != "state_changed" {
		return
	}

	var eventData StateChangedEvent
	if err := json.Unmarshal(msg.Event.Data, &eventData); err != nil {
		c.logger.Error("Failed to unmarshal state_changed event", zap.Error(err))
		return
	}

	c.subsMu.RLock()
	entries := append([]subscriberEntry(nil), c.subscribers[eventData.EntityID]...)
	c.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(eventData.EntityID, eventData.OldState, eventData.NewState)
	}
}

// handleDisconnect marks the client down and kicks off bounded reconnection.
func (c *WSClient) handleDisconnect() {
	c.connMu.Lock()
	c.connected = false
	reconnect := c.reconnect
	c.connMu.Unlock()

	if !reconnect {
		return
	}

	go c.attemptReconnect()
}

// attemptReconnect retries with exponential backoff until MaxRetries is
// exhausted. On give-up the client stays down; one-shot reads fall back to
// REST and service calls fail with ConnectionError.
func (c *WSClient) attemptReconnect() {
	backoff := c.opts.RetryDelay
	maxBackoff := 30 * time.Second

	for attempt := 1; c.opts.MaxRetries <= 0 || attempt <= c.opts.MaxRetries; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Attempting reconnect",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.opts.MaxRetries))

		if err := c.Connect(); err != nil {
			c.logger.Warn("Reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Reconnected to Home Assistant")
		return
	}

	c.logger.Error("Giving up on reconnection",
		zap.Int("max_retries", c.opts.MaxRetries))
}

func (c *WSClient) subscribeToStateChanges() error {
	msgID := c.nextMsgID()
	_, err := c.sendCommand(msgID, &SubscribeEventsRequest{
		ID:        msgID,
		Type:      "subscribe_events",
		EventType: "state_changed",
	})
	return err
}

// GetState retrieves the state of one entity. While the socket is down, the
// read falls back to the REST API.
func (c *WSClient) GetState(entityID string) (*State, error) {
	if !c.IsConnected() {
		return c.rest.GetState(entityID)
	}

	msgID := c.nextMsgID()
	resp, err := c.sendCommand(msgID, &GetStatesRequest{ID: msgID, Type: "get_states"})
	if err != nil {
		return nil, err
	}

	var states []*State
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return nil, fmt.Errorf("unmarshaling states: %w", err)
	}

	for _, state := range states {
		if state.EntityID == entityID {
			return state, nil
		}
	}

	return nil, &EntityNotFoundError{EntityID: entityID}
}

// CallService invokes a Home Assistant service.
func (c *WSClient) CallService(domain, service string, data map[string]any) error {
	msgID := c.nextMsgID()
	_, err := c.sendCommand(msgID, &CallServiceRequest{
		ID:          msgID,
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	})
	if err != nil {
		return &ServiceCallError{Domain: domain, Service: service, Err: err}
	}
	return nil
}

// ControlEntity issues a single-entity service call with one value argument.
func (c *WSClient) ControlEntity(entityID, domain, service, valueKey string, value any) error {
	data := map[string]any{"entity_id": entityID}
	if valueKey != "" {
		data[valueKey] = value
	}
	return c.CallService(domain, service, data)
}

// SubscribeStateChanged registers a handler for one entity's state changes.
// The registration survives reconnects.
func (c *WSClient) SubscribeStateChanged(entityID string, handler StateChangeHandler) (Subscription, error) {
	c.subsMu.Lock()
	subID := c.nextSubID
	c.nextSubID++
	c.subscribers[entityID] = append(c.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	c.subsMu.Unlock()

	return &wsSubscription{entityID: entityID, subID: subID, client: c}, nil
}

func (c *WSClient) unsubscribe(entityID string, subID int) error {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	subscribers, ok := c.subscribers[entityID]
	if !ok {
		return nil
	}

	for i, entry := range subscribers {
		if entry.subID == subID {
			c.subscribers[entityID] = append(subscribers[:i], subscribers[i+1:]...)
			if len(c.subscribers[entityID]) == 0 {
				delete(c.subscribers, entityID)
			}
			break
		}
	}

	return nil
}

// wsSubscription implements Subscription for WSClient.
type wsSubscription struct {
	entityID string
	subID    int
	client   *WSClient
}

func (s *wsSubscription) Unsubscribe() error {
	return s.client.unsubscribe(s.entityID, s.subID)
}
