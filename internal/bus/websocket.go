package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"smartfilterpro/internal/models"
)

// Connection timing. Home Assistant answers ws pings with pongs; a silent
// link past pongWait is torn down and redialed.
const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10

	backoffBase = 1 * time.Second
	backoffMax  = 30 * time.Second
)

// ErrAuthFailed means Home Assistant rejected the access token. Reconnecting
// cannot fix it, so Run stops instead of burning retries.
var ErrAuthFailed = errors.New("bus: websocket auth rejected")

// WebsocketSource subscribes to state_changed events over the Home Assistant
// WebSocket API and primes itself with get_states on every (re)connect.
type WebsocketSource struct {
	url      string
	token    string
	entityID string
	log      *zap.SugaredLogger
}

func NewWebsocketSource(url, token, entityID string, log *zap.SugaredLogger) *WebsocketSource {
	return &WebsocketSource{url: url, token: token, entityID: entityID, log: log}
}

var _ Source = (*WebsocketSource)(nil)

// haMessage is the envelope for every frame the server sends.
type haMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *haEvent        `json:"event,omitempty"`
	Message string          `json:"message,omitempty"`
}

type haEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string   `json:"entity_id"`
		NewState *haState `json:"new_state"`
	} `json:"data"`
}

type haState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func (st *haState) snapshot() models.Snapshot {
	return models.Snapshot{
		EntityID:   st.EntityID,
		State:      st.State,
		Available:  stateAvailable(st.State),
		Attributes: st.Attributes,
	}
}

// Run dials, streams, and redials with exponential backoff. A successful
// session resets the backoff.
func (s *WebsocketSource) Run(ctx context.Context, ingest chan<- models.Snapshot) error {
	backoff := backoffBase
	for {
		started := time.Now()
		err := s.runOnce(ctx, ingest)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthFailed) {
			return err
		}

		if time.Since(started) > time.Minute {
			backoff = backoffBase
		}
		s.log.Warnw("websocket session ended, reconnecting", "err", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func (s *WebsocketSource) runOnce(ctx context.Context, ingest chan<- models.Snapshot) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer func() { _ = conn.Close() }()

	// Force the blocking reads below to unwind when ctx is canceled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := s.authenticate(conn); err != nil {
		return err
	}
	s.log.Infow("websocket connected", "url", s.url)

	// id 1: event subscription, id 2: priming get_states, 3+: pings.
	if err := s.writeJSON(conn, map[string]any{
		"id": 1, "type": "subscribe_events", "event_type": "state_changed",
	}); err != nil {
		return fmt.Errorf("subscribe_events: %w", err)
	}
	if err := s.writeJSON(conn, map[string]any{"id": 2, "type": "get_states"}); err != nil {
		return fmt.Errorf("get_states: %w", err)
	}

	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()
	pingID := 3

	pingErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-pings.C:
				pingID++
				if err := s.writeJSON(conn, map[string]any{"id": pingID, "type": "ping"}); err != nil {
					pingErr <- err
					return
				}
			}
		}
	}()

	for {
		select {
		case err := <-pingErr:
			return fmt.Errorf("ping: %w", err)
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg haMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		switch msg.Type {
		case "event":
			if msg.Event == nil || msg.Event.EventType != "state_changed" {
				continue
			}
			st := msg.Event.Data.NewState
			if st == nil || st.EntityID != s.entityID {
				continue
			}
			if err := deliver(ctx, ingest, st.snapshot()); err != nil {
				return err
			}

		case "result":
			if msg.Success != nil && !*msg.Success {
				return fmt.Errorf("command %d failed: %s", msg.ID, msg.Message)
			}
			if msg.ID != 2 || msg.Result == nil {
				continue
			}
			var states []haState
			if err := json.Unmarshal(msg.Result, &states); err != nil {
				s.log.Warnw("get_states decode failed", "err", err)
				continue
			}
			for i := range states {
				if states[i].EntityID != s.entityID {
					continue
				}
				if err := deliver(ctx, ingest, states[i].snapshot()); err != nil {
					return err
				}
				break
			}

		case "pong":
			// read deadline already extended above

		default:
		}
	}
}

// authenticate runs the auth_required/auth/auth_ok exchange.
func (s *WebsocketSource) authenticate(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var hello haMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected hello frame %q", hello.Type)
	}

	if err := s.writeJSON(conn, map[string]any{"type": "auth", "access_token": s.token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var verdict haMessage
	if err := conn.ReadJSON(&verdict); err != nil {
		return fmt.Errorf("read auth verdict: %w", err)
	}
	switch verdict.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("%w: %s", ErrAuthFailed, verdict.Message)
	default:
		return fmt.Errorf("unexpected auth verdict %q", verdict.Type)
	}
}

func (s *WebsocketSource) writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func deliver(ctx context.Context, ingest chan<- models.Snapshot, snap models.Snapshot) error {
	select {
	case ingest <- snap:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
