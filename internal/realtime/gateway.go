package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/tandem/internal/auth"
	"github.com/haasonsaas/tandem/internal/observability"
	"github.com/haasonsaas/tandem/internal/ratelimit"
	"github.com/haasonsaas/tandem/pkg/models"
)

// ErrUnauthorized is reported when a handshake carries no usable identity.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator verifies a handshake token.
type Authenticator interface {
	Authenticate(token string) (*models.User, error)
}

// UserResolver resolves the user a verified token refers to.
type UserResolver interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Options configures a Gateway. Zero durations and sizes take defaults.
type Options struct {
	Auth     Authenticator
	Users    UserResolver
	Versions VersionStore

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	MaxPayloadBytes int64
	SendBuffer      int
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	AllowedOrigins  []string

	// EditingTTL expires claims older than it whose user has no live
	// connection, checked on SweepSchedule. A zero TTL disables the sweeper.
	EditingTTL    time.Duration
	SweepSchedule string

	// EventRate limits inbound events per user per second, with EventBurst
	// as the bucket size. Zero disables limiting.
	EventRate  float64
	EventBurst int

	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Versions == nil {
		o.Versions = NewMemoryVersionStore()
	}
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = 1 << 20
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SweepSchedule == "" {
		o.SweepSchedule = "@every 30s"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Gateway is the WebSocket endpoint of the collaborative editing service.
// It owns every connection and the registries they share.
type Gateway struct {
	opts     Options
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	upgrader websocket.Upgrader

	presence    *PresenceRegistry
	rooms       *RoomRegistry
	editing     *EditingTracker
	broadcaster *Broadcaster
	sweeper     *Sweeper
	limiter     *ratelimit.Limiter

	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[string]map[string]*Connection
	closed bool
}

// NewGateway builds a gateway. The sweeper starts immediately when an
// editing TTL is configured.
func NewGateway(opts Options) (*Gateway, error) {
	if opts.Auth == nil {
		return nil, errors.New("realtime: authenticator is required")
	}
	if opts.Users == nil {
		return nil, errors.New("realtime: user resolver is required")
	}
	opts.applyDefaults()

	editing := NewEditingTracker()
	editing.now = opts.Now
	g := &Gateway{
		opts:        opts,
		logger:      opts.Logger.With("component", "realtime"),
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		presence:    NewPresenceRegistry(),
		rooms:       NewRoomRegistry(),
		editing:     editing,
		broadcaster: NewBroadcaster(opts.Versions, editing),
		limiter:     ratelimit.New(ratelimit.Config{Rate: opts.EventRate, Burst: opts.EventBurst, Now: opts.Now}),
		conns:       make(map[string]*Connection),
		byUser:      make(map[string]map[string]*Connection),
	}
	g.broadcaster.now = opts.Now
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	if opts.EditingTTL > 0 {
		sweeper, err := NewSweeper(opts.SweepSchedule, opts.EditingTTL, editing, g.expireClaims, g.logger)
		if err != nil {
			return nil, err
		}
		sweeper.now = opts.Now
		sweeper.connected = g.connectedUsers
		g.sweeper = sweeper
		sweeper.Start()
	}
	return g, nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}

// Presence returns the registry of announced user presence.
func (g *Gateway) Presence() *PresenceRegistry { return g.presence }

// Rooms returns the connection to room membership registry.
func (g *Gateway) Rooms() *RoomRegistry { return g.rooms }

// Editing returns the tracker of live editing claims.
func (g *Gateway) Editing() *EditingTracker { return g.editing }

// EditingExpiry returns the TTL the sweeper enforces, zero when no sweeper runs.
func (g *Gateway) EditingExpiry() time.Duration {
	if g.sweeper == nil {
		return 0
	}
	return g.sweeper.ttl
}

// connectedUsers snapshots the ids of users with at least one connection.
func (g *Gateway) connectedUsers() map[string]bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]bool, len(g.byUser))
	for id := range g.byUser {
		out[id] = true
	}
	return out
}

// userConnected reports whether the user holds any connection.
func (g *Gateway) userConnected(userID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byUser[userID]) > 0
}

// ConnectionCount returns the number of live connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, authErr := g.authenticate(r)

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("realtime upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn := &Connection{
		gateway: g,
		ws:      ws,
		send:    make(chan []byte, g.opts.SendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		ID:      uuid.NewString(),
	}
	if authErr != nil {
		g.metrics.ConnectionRejected()
		g.logger.Info("realtime handshake rejected", "remote", r.RemoteAddr, "error", authErr)
		conn.closeWith(CloseUnauthorized, "unauthorized")
		return
	}

	conn.User = user.Ref()
	conn.ctx = observability.AddUserID(observability.AddConnectionID(ctx, conn.ID), conn.User.ID)
	conn.logger = g.logger.With("connection_id", conn.ID, "user_id", conn.User.ID)

	if err := conn.Send(EventConnected, ConnectedPayload{ConnectionID: conn.ID, User: conn.User}); err != nil {
		conn.close()
		return
	}
	if !g.register(conn) {
		conn.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	conn.logger.Info("realtime connection opened")

	go conn.writeLoop()
	conn.readLoop()
	conn.close()
	g.unregister(conn)
}

// authenticate resolves the handshake token to a known user.
func (g *Gateway) authenticate(r *http.Request) (*models.User, error) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, auth.ErrMissingToken)
	}
	claimed, err := g.opts.Auth.Authenticate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claimed == nil || claimed.ID == "" {
		return nil, ErrUnauthorized
	}
	user, err := g.opts.Users.GetUser(r.Context(), claimed.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve user %s: %v", ErrUnauthorized, claimed.ID, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: unknown user %s", ErrUnauthorized, claimed.ID)
	}
	return user, nil
}

func (g *Gateway) register(conn *Connection) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.conns[conn.ID] = conn
	userConns, ok := g.byUser[conn.User.ID]
	if !ok {
		userConns = make(map[string]*Connection)
		g.byUser[conn.User.ID] = userConns
	}
	userConns[conn.ID] = conn
	g.mu.Unlock()

	g.rooms.Join(conn.ID, PersonalRoom(conn.User.ID))
	g.metrics.ConnectionOpened()
	return true
}

// unregister removes the connection. When it was the user's last one, the
// user's presence and editing claims are dropped and peers are told.
func (g *Gateway) unregister(conn *Connection) {
	g.mu.Lock()
	if _, ok := g.conns[conn.ID]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.conns, conn.ID)
	last := false
	var dropped []models.EditingStatus
	if userConns, ok := g.byUser[conn.User.ID]; ok {
		delete(userConns, conn.ID)
		if len(userConns) == 0 {
			delete(g.byUser, conn.User.ID)
			last = true
			// Cleared under g.mu so a reconnect of the same user cannot
			// register and announce before its old state is gone.
			dropped = g.editing.RemoveUser(conn.User.ID)
			g.presence.Remove(conn.User.ID)
			g.limiter.Forget(conn.User.ID)
		}
	}
	g.mu.Unlock()

	g.rooms.RemoveConnection(conn.ID)
	g.metrics.ConnectionClosed()
	conn.logger.Info("realtime connection closed", "last_for_user", last)
	if !last {
		return
	}

	now := g.opts.Now()
	for _, status := range dropped {
		status.IsEditing = false
		status.Timestamp = now
		g.broadcastAll(EventEditingStatusUpdate, status, "")
	}
	g.metrics.SetEditingClaims(g.editing.Len())
	if g.userConnected(conn.User.ID) {
		// Already back; its own announcements describe it now.
		return
	}
	g.broadcastAll(EventUserPresenceUpdate, models.UserPresence{
		User:      conn.User,
		Status:    models.PresenceOffline,
		Timestamp: now,
	}, "")
}

func (g *Gateway) dispatch(conn *Connection, frame *Frame) {
	g.metrics.EventReceived(frame.Event)
	if frame.Event != EventPing && !g.limiter.Allow(conn.User.ID) {
		g.metrics.EventRateLimited()
		conn.sendError(frame.ID, "rate_limited", "too many events")
		return
	}
	if err := validateEventData(frame.Event, frame.Data); err != nil {
		conn.sendError(frame.ID, "invalid_payload", err.Error())
		return
	}

	var err error
	switch frame.Event {
	case EventJoinRoom:
		err = g.handleJoinRoom(conn, frame)
	case EventLeaveRoom:
		err = g.handleLeaveRoom(conn, frame)
	case EventUserPresence:
		err = g.handleUserPresence(conn, frame)
	case EventEditingStatus:
		err = g.handleEditingStatus(conn, frame)
	case EventDataChange:
		err = g.handleDataChange(conn, frame)
	case EventPing:
		err = conn.sendFrame(EventPong, frame.ID, PongPayload{Timestamp: g.opts.Now().UnixMilli()})
	}
	if err != nil && !errors.Is(err, errSendBufferFull) && !errors.Is(err, errConnClosed) {
		conn.sendError(frame.ID, "request_failed", err.Error())
	}
}

func (g *Gateway) handleJoinRoom(conn *Connection, frame *Frame) error {
	var req models.RoomRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return err
	}
	g.rooms.Join(conn.ID, req.Room)
	return conn.sendFrame(EventJoinedRoom, frame.ID, req)
}

func (g *Gateway) handleLeaveRoom(conn *Connection, frame *Frame) error {
	var req models.RoomRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return err
	}
	if req.Room == PersonalRoom(conn.User.ID) {
		return errors.New("personal room cannot be left")
	}
	g.rooms.Leave(conn.ID, req.Room)
	return conn.sendFrame(EventLeftRoom, frame.ID, req)
}

func (g *Gateway) handleUserPresence(conn *Connection, frame *Frame) error {
	var presence models.UserPresence
	if err := json.Unmarshal(frame.Data, &presence); err != nil {
		return err
	}
	presence.User = conn.User
	if presence.Timestamp.IsZero() {
		presence.Timestamp = g.opts.Now()
	}
	g.presence.Set(presence)
	g.broadcastAll(EventUserPresenceUpdate, presence, "")
	return nil
}

func (g *Gateway) handleEditingStatus(conn *Connection, frame *Frame) error {
	var status models.EditingStatus
	if err := json.Unmarshal(frame.Data, &status); err != nil {
		return err
	}
	status.User = conn.User
	if status.Timestamp.IsZero() {
		status.Timestamp = g.opts.Now()
	}
	g.editing.Announce(status)
	g.metrics.SetEditingClaims(g.editing.Len())
	g.broadcastAll(EventEditingStatusUpdate, status, "")
	return nil
}

func (g *Gateway) handleDataChange(conn *Connection, frame *Frame) error {
	var change models.DataChange
	if err := json.Unmarshal(frame.Data, &change); err != nil {
		return err
	}
	ctx, span := g.tracer.TraceDataChange(conn.ctx, change.Resource, change.ResourceID, conn.User.ID)
	defer span.End()

	_, err := g.broadcaster.HandleDataChangeFunc(ctx, conn.User, change, func(outcome ChangeOutcome) {
		if outcome.Conflict {
			g.notifyConflict(conn, outcome)
			return
		}
		if outcome.Stale {
			conn.logger.Debug("stale version accepted without contender", "resource", change.Key())
		}
		g.broadcastAll(EventDataChange, models.DataChangeBroadcast{
			Resource:   change.Resource,
			ResourceID: change.ResourceID,
			Data:       change.Data,
			Version:    outcome.Version,
			User:       conn.User,
			Timestamp:  outcome.Timestamp,
		}, conn.ID)
	})
	if err != nil {
		g.tracer.RecordError(span, err)
		conn.logger.Error("data change failed", "resource", change.Key(), "error", err)
	}
	return err
}

// notifyConflict tells every conflicting editor about the sender's change and
// tells the sender about the first conflicting editor. Nothing else is sent.
func (g *Gateway) notifyConflict(sender *Connection, outcome ChangeOutcome) {
	g.metrics.ConflictReported()
	change := outcome.Change
	for _, user := range outcome.Conflicting {
		g.toUser(user.ID, EventConflictDetected, models.ConflictNotice{
			ResourceType:    change.Resource,
			ResourceID:      change.ResourceID,
			ConflictingUser: sender.User,
			ConflictData:    change.Data,
			Timestamp:       outcome.Timestamp,
		})
	}
	first, _ := outcome.FirstConflicting()
	_ = sender.Send(EventConflictDetected, models.ConflictNotice{ //nolint:errcheck
		ResourceType:    change.Resource,
		ResourceID:      change.ResourceID,
		ConflictingUser: first,
		ConflictData:    change.Data,
		Timestamp:       outcome.Timestamp,
	})
	sender.logger.Info("conflict detected", "resource", change.Key(), "editors", len(outcome.Conflicting))
}

// expireClaims announces the end of claims removed by the sweeper.
func (g *Gateway) expireClaims(expired []models.EditingStatus) {
	now := g.opts.Now()
	for _, status := range expired {
		status.IsEditing = false
		status.Timestamp = now
		g.broadcastAll(EventEditingStatusUpdate, status, "")
	}
	g.metrics.SetEditingClaims(g.editing.Len())
}

// deliver queues msg on conn, counting drops.
func (g *Gateway) deliver(conn *Connection, event string, msg []byte) error {
	err := conn.enqueue(msg)
	switch {
	case err == nil:
		g.metrics.EventSent(event)
	case errors.Is(err, errSendBufferFull):
		g.metrics.MessageDropped()
		g.logger.Warn("realtime send buffer full, dropping message", "connection_id", conn.ID, "event", event)
	}
	return err
}

func (g *Gateway) broadcastAll(event string, data any, exceptConnID string) {
	msg, err := EncodeFrame(event, "", data)
	if err != nil {
		g.logger.Error("encode broadcast failed", "event", event, "error", err)
		return
	}
	for _, conn := range g.snapshot() {
		if conn.ID == exceptConnID {
			continue
		}
		_ = g.deliver(conn, event, msg) //nolint:errcheck
	}
}

func (g *Gateway) toRoom(room, event string, data any) {
	msg, err := EncodeFrame(event, "", data)
	if err != nil {
		g.logger.Error("encode room message failed", "event", event, "error", err)
		return
	}
	members := g.rooms.Members(room)
	g.mu.RLock()
	targets := make([]*Connection, 0, len(members))
	for _, id := range members {
		if conn, ok := g.conns[id]; ok {
			targets = append(targets, conn)
		}
	}
	g.mu.RUnlock()
	for _, conn := range targets {
		_ = g.deliver(conn, event, msg) //nolint:errcheck
	}
}

func (g *Gateway) toUser(userID, event string, data any) {
	g.toRoom(PersonalRoom(userID), event, data)
}

// SendToUser pushes an event to every connection of the user.
func (g *Gateway) SendToUser(userID, event string, data any) {
	g.toUser(userID, event, data)
}

// SendToRoom pushes an event to every member of room.
func (g *Gateway) SendToRoom(room, event string, data any) {
	g.toRoom(room, event, data)
}

func (g *Gateway) snapshot() []*Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Connection, 0, len(g.conns))
	for _, conn := range g.conns {
		out = append(out, conn)
	}
	return out
}

// Close stops the sweeper and closes every connection.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	if g.sweeper != nil {
		g.sweeper.Stop()
	}
	for _, conn := range g.snapshot() {
		conn.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}
