// Package client is the consumer side of the realtime gateway: one
// persistent, self-healing connection that announces presence and exposes a
// small publish/subscribe surface to the rest of the application.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/tandem/internal/backoff"
	"github.com/haasonsaas/tandem/internal/realtime"
	"github.com/haasonsaas/tandem/pkg/models"
)

var (
	ErrNotConnected        = errors.New("client: not connected")
	ErrReconnectExhausted  = errors.New("client: reconnect attempts exhausted")
	errSessionDisconnected = errors.New("client: session disconnected")
)

// Local events delivered to handlers in addition to server events.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventReconnectFailed = "reconnect_failed"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Handler receives the data of one event.
type Handler func(data json.RawMessage)

// Options configures a Session.
type Options struct {
	// URL is the gateway endpoint, e.g. ws://localhost:8080/ws.
	URL string

	// MaxReconnectAttempts bounds the reconnect loop. Zero means 5.
	MaxReconnectAttempts int
	Backoff              backoff.Policy

	Dialer    *websocket.Dialer
	WriteWait time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// Session is one connection to the gateway. All methods are safe for
// concurrent use.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	token    string
	user     models.User
	rooms    map[string]struct{}
	cancel   context.CancelFunc
	handlers map[string]map[uint64]Handler
	nextID   uint64

	writeMu sync.Mutex
}

func NewSession(opts Options) *Session {
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff = backoff.ReconnectPolicy()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		opts:     opts,
		logger:   opts.Logger.With("component", "realtime-client"),
		rooms:    make(map[string]struct{}),
		handlers: make(map[string]map[uint64]Handler),
	}
}

// Connect opens the connection with token as handshake credential. It does
// nothing when the session is already connected or connecting. If the first
// dial fails the error is returned and the session keeps retrying in the
// background until MaxReconnectAttempts is spent.
func (s *Session) Connect(ctx context.Context, token string, user models.User) error {
	s.mu.Lock()
	if s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.token = token
	s.user = user
	s.state = StateConnecting
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.dial(ctx, loopCtx); err != nil {
		if errors.Is(err, errSessionDisconnected) {
			return err
		}
		s.logger.Warn("realtime connect failed, retrying", "error", err)
		go s.reconnect(loopCtx)
		return err
	}
	return nil
}

func (s *Session) dialURL(token string) (string, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dial makes one connection attempt. loopCtx belongs to the Connect call
// that started this lifecycle; once it is cancelled the attempt is void.
func (s *Session) dial(ctx, loopCtx context.Context) error {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	target, err := s.dialURL(token)
	if err != nil {
		return err
	}
	conn, _, err := s.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if loopCtx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close() //nolint:errcheck
		return errSessionDisconnected
	}
	s.conn = conn
	s.state = StateConnected
	rooms := sortedRooms(s.rooms)
	s.mu.Unlock()

	go s.readLoop(loopCtx, conn)

	_ = s.BroadcastPresence(models.PresenceOnline, nil) //nolint:errcheck
	for _, room := range rooms {
		_ = s.Emit(realtime.EventJoinRoom, models.RoomRequest{Room: room}) //nolint:errcheck
	}
	s.logger.Info("realtime connected")
	s.dispatch(EventConnect, nil)
	return nil
}

// reconnect retries with backoff until a dial succeeds, the attempts run out
// or Disconnect cancels ctx.
func (s *Session) reconnect(ctx context.Context) {
	policy := s.opts.Backoff
	if err := backoff.Sleep(ctx, policy.Delay(1)); err != nil {
		return
	}
	_, attempts, err := backoff.Retry(ctx, policy, s.opts.MaxReconnectAttempts, func(ctx context.Context, attempt int) (struct{}, error) {
		s.logger.Debug("realtime reconnect attempt", "attempt", attempt)
		return struct{}{}, s.dial(ctx, ctx)
	})
	if err == nil || ctx.Err() != nil || errors.Is(err, errSessionDisconnected) {
		return
	}

	s.mu.Lock()
	if s.state == StateConnecting {
		s.state = StateFailed
	}
	s.mu.Unlock()
	s.logger.Warn("realtime reconnect gave up", "attempts", attempts, "error", err)
	s.dispatch(EventReconnectFailed, nil)
}

func (s *Session) readLoop(loopCtx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var frame realtime.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}
		s.dispatch(frame.Event, frame.Data)
	}

	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	lost := loopCtx.Err() == nil
	if lost {
		s.state = StateConnecting
	}
	s.mu.Unlock()
	_ = conn.Close() //nolint:errcheck

	s.dispatch(EventDisconnect, nil)
	if lost {
		s.logger.Warn("realtime connection lost, reconnecting")
		go s.reconnect(loopCtx)
	}
}

// Disconnect announces the user offline, closes the connection and stops
// any reconnect loop.
func (s *Session) Disconnect() error {
	_ = s.BroadcastPresence(models.PresenceOffline, nil) //nolint:errcheck

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	s.writeMu.Lock()
	deadline := time.Now().Add(s.opts.WriteWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline) //nolint:errcheck
	s.writeMu.Unlock()
	err := conn.Close()
	s.dispatch(EventDisconnect, nil)
	return err
}

// Connected reports whether the session currently holds a live connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the identity announced by the session.
func (s *Session) User() models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Emit sends one event to the gateway.
func (s *Session) Emit(event string, data any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	msg, err := realtime.EncodeFrame(event, "", data)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait)) //nolint:errcheck
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// emitIfConnected sends event and treats a missing connection as success.
func (s *Session) emitIfConnected(event string, data any) error {
	if err := s.Emit(event, data); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// JoinRoom joins room now if connected and again after every reconnect.
func (s *Session) JoinRoom(room string) error {
	s.mu.Lock()
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
	return s.emitIfConnected(realtime.EventJoinRoom, models.RoomRequest{Room: room})
}

func (s *Session) LeaveRoom(room string) error {
	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
	return s.emitIfConnected(realtime.EventLeaveRoom, models.RoomRequest{Room: room})
}

// BroadcastPresence announces the user's status and, optionally, the resource
// they are looking at.
func (s *Session) BroadcastPresence(status models.PresenceStatus, current *models.ResourceRef) error {
	return s.emitIfConnected(realtime.EventUserPresence, models.UserPresence{
		User:            s.User(),
		Status:          status,
		Timestamp:       s.opts.Now(),
		CurrentResource: current,
	})
}

// BroadcastEditingStatus announces that the user started or stopped editing
// a resource.
func (s *Session) BroadcastEditingStatus(resource, resourceID string, isEditing bool) error {
	return s.emitIfConnected(realtime.EventEditingStatus, models.EditingStatus{
		User:       s.User(),
		Resource:   resource,
		ResourceID: resourceID,
		IsEditing:  isEditing,
		Timestamp:  s.opts.Now(),
	})
}

// BroadcastDataChange announces a tentative change. version is the last
// version the client saw, or nil.
func (s *Session) BroadcastDataChange(resource, resourceID string, data any, version *string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	return s.emitIfConnected(realtime.EventDataChange, models.DataChange{
		Resource:   resource,
		ResourceID: resourceID,
		Data:       raw,
		Version:    version,
	})
}

// On registers handler for event and returns an id for Off.
func (s *Session) On(event string, handler Handler) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	set, ok := s.handlers[event]
	if !ok {
		set = make(map[uint64]Handler)
		s.handlers[event] = set
	}
	set[s.nextID] = handler
	return s.nextID
}

// Off removes a handler registered with On.
func (s *Session) Off(event string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.handlers[event]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s.handlers, event)
		}
	}
}

// dispatch calls the handlers of event in registration order, outside the
// session lock.
func (s *Session) dispatch(event string, data json.RawMessage) {
	s.mu.Lock()
	set := s.handlers[event]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, set[id])
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

func sortedRooms(rooms map[string]struct{}) []string {
	out := make([]string, 0, len(rooms))
	for room := range rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}
