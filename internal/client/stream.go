package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"

	"github.com/alexjbarnes/gallery-sync/internal/models"
)

//go:generate mockgen -destination=mock_wsconn_test.go -package=client -mock_names=wsConn=MockWSConn . wsConn

const (
	reconnectMin = 1 * time.Second
	reconnectMax = 1 * time.Minute

	// jitterDivisor controls the range of random jitter added to
	// reconnect backoff: jitter is uniform in [0, backoff/jitterDivisor).
	jitterDivisor = 2

	// reconnectBackoffMultiplier is the exponential growth factor
	// applied to the reconnect backoff after each consecutive failure.
	reconnectBackoffMultiplier = 2

	// inboundChanSize is the buffer size for the channel carrying
	// messages from the websocket reader goroutine to the event loop.
	inboundChanSize = 64

	// streamReadLimit caps a single event frame. Gallery.update carries
	// the whole listing.
	streamReadLimit = 256 * 1024 * 1024
)

// inboundMsg wraps a message read from the websocket by the reader goroutine.
type inboundMsg struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

// wsConn abstracts the websocket connection so Stream can be tested
// without a real server. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

// PermanentError marks a failure that reconnecting will not fix, such
// as rejected credentials.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func isPermanentError(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Stream receives pushed gallery events and forwards them to a channel,
// reconnecting with backoff when the connection drops.
//
// Every successful (re)connect is followed by a synthetic
// Gallery.file_change so the consumer refetches the snapshot and picks
// up anything pushed while it was not listening.
type Stream struct {
	url    string
	header http.Header
	logger *slog.Logger

	// dial opens a connection. Replaced in tests.
	dial func(ctx context.Context) (wsConn, error)

	backoffMin time.Duration
	backoffMax time.Duration

	inboundCh chan inboundMsg

	connectedMu sync.RWMutex
	connected   bool
}

// NewStream creates an event stream for the client's server.
func (c *Client) NewStream() *Stream {
	s := &Stream{
		url:        c.EventsURL(),
		header:     c.authHeader(),
		logger:     c.logger,
		backoffMin: reconnectMin,
		backoffMax: reconnectMax,
	}

	s.dial = s.dialWebsocket

	return s
}

func (s *Stream) dialWebsocket(ctx context.Context) (wsConn, error) {
	s.logger.Debug("connecting", slog.String("url", s.url))

	conn, resp, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: s.header,
	})
	if err != nil {
		err = fmt.Errorf("dialing websocket: %w", err)

		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &PermanentError{Err: err}
		}

		return nil, err
	}

	return conn, nil
}

// Connected reports whether the stream currently holds a connection.
func (s *Stream) Connected() bool {
	s.connectedMu.RLock()
	defer s.connectedMu.RUnlock()

	return s.connected
}

func (s *Stream) setConnected(v bool) {
	s.connectedMu.Lock()
	s.connected = v
	s.connectedMu.Unlock()
}

// startReader launches a goroutine that reads from conn and feeds
// inboundCh. Exits when connCtx is cancelled or a read error occurs.
// The error is delivered as the final message on inboundCh. The
// goroutine captures ch by value so a reader left over from a previous
// connection cannot send into the new channel.
func (s *Stream) startReader(connCtx context.Context, conn wsConn) {
	ch := make(chan inboundMsg, inboundChanSize)
	s.inboundCh = ch

	go func() {
		for {
			typ, data, err := conn.Read(connCtx)
			select {
			case ch <- inboundMsg{typ: typ, data: data, err: err}:
			case <-connCtx.Done():
				return
			}

			if err != nil {
				return
			}
		}
	}()
}

// Listen forwards events to out until ctx is cancelled or a permanent
// error occurs. It never closes out.
func (s *Stream) Listen(ctx context.Context, out chan<- models.Event) error {
	backoff := s.backoffMin

	for {
		err := s.session(ctx, out)
		s.setConnected(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if isPermanentError(err) {
			return fmt.Errorf("permanent error: %w", err)
		}

		if err == nil {
			// The session ran and ended; start the next one from the
			// minimum backoff.
			backoff = s.backoffMin
		}

		s.logger.Warn("event stream lost, reconnecting",
			slog.Any("error", err),
			slog.Duration("backoff", backoff),
		)

		jitter := time.Duration(rand.Int64N(int64(backoff)/jitterDivisor + 1)) //nolint:gosec // G404: math/rand is fine for reconnect jitter, no security impact

		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err != nil {
			backoff = min(backoff*reconnectBackoffMultiplier, s.backoffMax)
		}
	}
}

// session runs one connection. It returns nil when an established
// connection ended, and the dial error when no connection was made.
func (s *Stream) session(ctx context.Context, out chan<- models.Event) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	conn.SetReadLimit(streamReadLimit)

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	s.startReader(connCtx, conn)
	s.setConnected(true)
	s.logger.Info("event stream connected", slog.String("url", s.url))

	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	if !s.emit(ctx, out, models.Event{Type: models.EventFileChange}) {
		return ctx.Err()
	}

	err = s.eventLoop(ctx, out)
	if err != nil {
		s.logger.Debug("event stream ended", slog.String("error", err.Error()))
	}

	return nil
}

// eventLoop forwards inbound frames until the reader reports an error.
func (s *Stream) eventLoop(ctx context.Context, out chan<- models.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg := <-s.inboundCh:
			if msg.err != nil {
				return fmt.Errorf("reading message: %w", msg.err)
			}

			ev, ok := s.decode(msg)
			if !ok {
				continue
			}

			if !s.emit(ctx, out, ev) {
				return ctx.Err()
			}
		}
	}
}

// decode turns a frame into an event. Frames that are not text or carry
// no type are logged and dropped.
func (s *Stream) decode(msg inboundMsg) (models.Event, bool) {
	if msg.typ != websocket.MessageText {
		s.logger.Debug("ignoring binary frame", slog.Int("bytes", len(msg.data)))
		return models.Event{}, false
	}

	typ := gjson.GetBytes(msg.data, "type").String()
	if typ == "" {
		s.logger.Debug("ignoring frame without type", slog.Int("bytes", len(msg.data)))
		return models.Event{}, false
	}

	var ev models.Event
	if err := json.Unmarshal(msg.data, &ev); err != nil {
		s.logger.Warn("ignoring malformed event",
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)

		return models.Event{}, false
	}

	return ev, true
}

func (s *Stream) emit(ctx context.Context, out chan<- models.Event, ev models.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
