// Package realtime maintains the live event channel that overlays pull sync.
// Events received here go through the same apply path as pulled rows, so a
// dropped or duplicated event is always repaired by the next pull.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lfmartins/fieldsync/internal/remote"
	"github.com/lfmartins/fieldsync/internal/status"
	"go.uber.org/zap"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// Applier consumes live events; the sync engine implements it.
type Applier interface {
	ApplyMessageInsert(row remote.MessageRow) error
	ApplyReadStatus(row remote.ReadStatusRow) error
}

// envelope is the wire frame for live events.
type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Overlay dials the backend's websocket channel and feeds events to the
// applier, reconnecting with exponential backoff. Every (re)connect fires
// onConnect so a pull can cover whatever happened while the channel was down.
type Overlay struct {
	url       string
	apiKey    string
	applier   Applier
	machine   *status.Machine
	onConnect func()
	logger    *zap.Logger
	dialer    *websocket.Dialer

	initialBackoff time.Duration
	maxBackoff     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewOverlay creates a realtime overlay for the given backend base URL.
func NewOverlay(baseURL, apiKey, orgID, userID string, applier Applier, machine *status.Machine, onConnect func(), logger *zap.Logger) (*Overlay, error) {
	u, err := channelURL(baseURL, orgID, userID)
	if err != nil {
		return nil, err
	}
	return &Overlay{
		url:       u,
		apiKey:    apiKey,
		applier:   applier,
		machine:   machine,
		onConnect: onConnect,
		logger:    logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		stop:           make(chan struct{}),
	}, nil
}

// channelURL derives the websocket endpoint from the REST base URL.
func channelURL(baseURL, orgID, userID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime"
	q := u.Query()
	q.Set("org_id", orgID)
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Start launches the connect loop.
func (o *Overlay) Start(ctx context.Context) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(ctx)
	}()
}

// Stop closes the channel and waits for the loop to exit.
func (o *Overlay) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
	o.wg.Wait()
}

func (o *Overlay) run(ctx context.Context) {
	backoff := o.initialBackoff
	for {
		select {
		case <-o.stop:
			o.transition(status.Disconnected)
			return
		case <-ctx.Done():
			o.transition(status.Disconnected)
			return
		default:
		}

		o.transition(status.Connecting)
		header := http.Header{}
		if o.apiKey != "" {
			header.Set("Authorization", "Bearer "+o.apiKey)
		}
		conn, resp, err := o.dialer.DialContext(ctx, o.url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			o.logger.Warn("realtime dial failed", zap.Error(err))
			o.transition(status.Reconnecting)
			if !o.sleep(ctx, backoff) {
				o.transition(status.Disconnected)
				return
			}
			if backoff *= 2; backoff > o.maxBackoff {
				backoff = o.maxBackoff
			}
			continue
		}

		o.transition(status.Connected)
		backoff = o.initialBackoff
		if o.onConnect != nil {
			// The channel was down for some window; pull covers the gap.
			o.onConnect()
		}
		o.readLoop(ctx, conn)
		_ = conn.Close()

		select {
		case <-o.stop:
			o.transition(status.Disconnected)
			return
		case <-ctx.Done():
			o.transition(status.Disconnected)
			return
		default:
			o.transition(status.Reconnecting)
			if !o.sleep(ctx, backoff) {
				o.transition(status.Disconnected)
				return
			}
		}
	}
}

// readLoop consumes frames until the connection breaks or the overlay stops.
func (o *Overlay) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-o.stop:
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !isStopped(o.stop) && ctx.Err() == nil {
				o.logger.Warn("realtime read failed", zap.Error(err))
			}
			return
		}
		o.handle(data)
	}
}

func (o *Overlay) handle(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		o.logger.Warn("malformed realtime frame", zap.Error(err))
		return
	}
	switch env.Kind {
	case "message.insert":
		var row remote.MessageRow
		if err := json.Unmarshal(env.Payload, &row); err != nil {
			o.logger.Warn("malformed message event", zap.Error(err))
			return
		}
		if err := o.applier.ApplyMessageInsert(row); err != nil {
			o.logger.Warn("apply message event", zap.String("message_id", row.ID), zap.Error(err))
		}
	case "read_status.update":
		var row remote.ReadStatusRow
		if err := json.Unmarshal(env.Payload, &row); err != nil {
			o.logger.Warn("malformed read status event", zap.Error(err))
			return
		}
		if err := o.applier.ApplyReadStatus(row); err != nil {
			o.logger.Warn("apply read status event", zap.Error(err))
		}
	default:
		o.logger.Debug("ignoring realtime event", zap.String("kind", env.Kind))
	}
}

func (o *Overlay) transition(to status.State) {
	if o.machine == nil {
		return
	}
	if err := o.machine.Transition(to); err != nil {
		o.logger.Debug("status transition skipped", zap.Error(err))
	}
}

func (o *Overlay) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-o.stop:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func isStopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
