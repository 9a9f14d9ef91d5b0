package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"dialer-platform/internal/config"
)

// Stream consumes raw ARI events over a websocket and delivers normalized
// Events to a handler. The connection is re-established with capped
// exponential backoff; events arriving between a drop and the reconnect are
// lost, which the reaper compensates for.
type Stream struct {
	wsURL   string
	handler EventHandler
	logger  *slog.Logger

	dial func(ctx context.Context, wsURL string) (wsConn, error)
}

// wsConn is the slice of *websocket.Conn the stream reads through, split out
// so tests can feed canned frames.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// NewStream builds an event stream for the configured ARI application.
// Credentials ride on the query string, which is how ARI authenticates
// websocket subscribers.
func NewStream(cfg config.ARIConfig, handler EventHandler, logger *slog.Logger) *Stream {
	wsBase := strings.Replace(cfg.BaseURL, "http", "ws", 1)
	q := url.Values{}
	q.Set("app", cfg.App)
	q.Set("api_key", cfg.Username+":"+cfg.Password)
	q.Set("subscribeAll", "true")

	return &Stream{
		wsURL:   fmt.Sprintf("%s/ari/events?%s", wsBase, q.Encode()),
		handler: handler,
		logger:  logger,
		dial:    dialWebsocket,
	}
}

func dialWebsocket(ctx context.Context, wsURL string) (wsConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("event stream handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("event stream handshake failed: %w", err)
	}
	return conn, nil
}

// Run reads events until ctx is canceled, reconnecting after any failure.
func (s *Stream) Run(ctx context.Context) {
	backoff := NewBackoff(time.Second, 30*time.Second)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dial(ctx, s.wsURL)
		if err != nil {
			delay := backoff.Next()
			s.logger.Error("event stream connect failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		backoff.Reset()
		s.logger.Info("event stream connected")
		s.readLoop(ctx, conn)
		conn.Close()
	}
}

func (s *Stream) readLoop(ctx context.Context, conn wsConn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("event stream read failed", "error", err)
			}
			return
		}

		ev, ok := TranslateEvent(raw)
		if !ok {
			continue
		}
		s.handler(ctx, ev)
	}
}

// ariEvent is the subset of an ARI event frame the translator reads.
type ariEvent struct {
	Type    string `json:"type"`
	Channel struct {
		ID    string `json:"id"`
		State string `json:"state"`
	} `json:"channel"`
	Timestamp string `json:"timestamp"`
}

// TranslateEvent maps a raw ARI frame onto the internal event vocabulary.
// Frames for event types the engine does not track return ok=false.
func TranslateEvent(raw []byte) (Event, bool) {
	var ae ariEvent
	if err := json.Unmarshal(raw, &ae); err != nil {
		return Event{}, false
	}
	if ae.Channel.ID == "" {
		return Event{}, false
	}

	var typ EventType
	switch ae.Type {
	case "StasisStart":
		typ = EventSessionStarted
	case "ChannelAnswered":
		typ = EventAnswered
	case "ChannelStateChange":
		if ae.Channel.State != "Up" {
			return Event{}, false
		}
		typ = EventAnswered
	case "ChannelHangupRequest":
		typ = EventHangupRequested
	case "ChannelDestroyed":
		typ = EventDestroyed
	default:
		return Event{}, false
	}

	occurred := time.Now().UTC()
	if ae.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, ae.Timestamp); err == nil {
			occurred = ts
		}
	}

	return Event{Type: typ, ChannelID: ae.Channel.ID, OccurredAt: occurred}, true
}

// Backoff produces capped exponential delays for reconnect attempts.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{initial: initial, max: max}
}

// Next returns the delay for the upcoming attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.initial
		return b.current
	}
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

// Reset restarts the sequence after a successful connection.
func (b *Backoff) Reset() {
	b.current = 0
}
