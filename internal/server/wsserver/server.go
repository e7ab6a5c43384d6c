package wsserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vircadia/worldsync/internal/core/domain"
	"github.com/vircadia/worldsync/internal/core/service"
	"github.com/vircadia/worldsync/internal/server/config"
	"github.com/vircadia/worldsync/internal/telemetry/logger"
	"github.com/vircadia/worldsync/internal/telemetry/metric"
)

// NotifyRegistry is the notification bridge's registration surface.
type NotifyRegistry interface {
	Register(sessionID uuid.UUID)
	Unregister(sessionID uuid.UUID)
}

// Config configures the websocket server.
type Config struct {
	// Session and replication settings served back to clients in
	// CONFIG_RESPONSE and used to size per-connection queues.
	Session     config.SessionSection
	Replication config.ReplicationSection

	Logger  logger.Logger
	Metrics *metric.Registry
}

// Server owns the websocket upgrade path and all live connections.
type Server struct {
	sessions   *service.SessionManager
	dispatcher *service.QueryDispatcher
	subs       *service.SubscriptionManager
	notify     NotifyRegistry

	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[uuid.UUID]*client
	closing bool
}

// client is one upgraded connection and its session-scoped state.
type client struct {
	conn   *connection
	bound  *service.BoundSession
	queue  *service.QueryQueue
	cancel context.CancelFunc
}

// SetNotifyRegistry installs the notification bridge. The bridge needs
// the server's deliver callback and the server needs the bridge's
// registration surface, so one of the two is wired after construction.
// Must be called before the first connection is served.
func (s *Server) SetNotifyRegistry(notify NotifyRegistry) {
	s.notify = notify
}

// New creates a websocket server.
func New(sessions *service.SessionManager, dispatcher *service.QueryDispatcher, subs *service.SubscriptionManager, notify NotifyRegistry, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Replication.SendQueueCapacity < 1 {
		cfg.Replication.SendQueueCapacity = 256
	}
	return &Server{
		sessions:   sessions,
		dispatcher: dispatcher,
		subs:       subs,
		notify:     notify,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[uuid.UUID]*client),
	}
}

// ServeHTTP handles the websocket upgrade. The token is validated
// before the upgrade; a bad token gets a plain 401 and no socket.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	provider := r.URL.Query().Get("provider")

	sess, err := s.sessions.Validate(r.Context(), token)
	if err != nil {
		s.cfg.Logger.Info("websocket auth rejected",
			"provider", provider,
			"error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.serve(ws, sess)
}

// serve runs one connection to completion.
func (s *Server) serve(ws *websocket.Conn, sess *domain.Session) {
	conn := newConnection(ws, s.cfg.Replication.SendQueueCapacity)
	bound := s.sessions.Bind(sess, conn)

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		conn:   conn,
		bound:  bound,
		cancel: cancel,
	}
	c.queue = s.dispatcher.NewQueue(ctx, bound, func(res service.QueryResult) {
		frame, err := EncodeQueryResponse(res.RequestID, res.Rows, res.Err)
		if err != nil {
			s.cfg.Logger.Error("query response encode failed", "error", err)
			return
		}
		s.send(c, FrameQueryResponse, frame)
	})

	// The closing check is re-done under the same lock as insertion so
	// a connection racing Shutdown either lands in the snapshot or
	// closes itself here; it cannot slip in after the snapshot.
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		go conn.writePump()
		conn.Close(service.CloseGoingAway, service.ReasonShutdown)
		conn.readLoop(func([]byte) {})
		cancel()
		c.queue.Close()
		if cur, ok := s.sessions.Get(sess.ID); ok && cur == bound {
			s.sessions.Unbind(sess.ID)
		}
		return
	}
	// A second connection for the same session replaces the first.
	if prev, ok := s.clients[sess.ID]; ok {
		prev.conn.Close(service.CloseNormal, "superseded")
	}
	s.clients[sess.ID] = c
	s.mu.Unlock()

	if s.notify != nil {
		s.notify.Register(sess.ID)
	}

	go conn.writePump()

	if frame, err := EncodeConnectionEstablished(sess.AgentID.String()); err == nil {
		s.send(c, FrameConnectionEstablished, frame)
	}

	s.cfg.Logger.Info("websocket connected",
		"session_id", sess.ID,
		"agent_id", sess.AgentID)

	conn.readLoop(func(raw []byte) {
		s.dispatch(ctx, c, raw)
	})

	s.teardown(sess.ID, c)
}

// teardown releases everything a connection held. Connection-local
// state always goes; session-scoped state (subscriptions, the NOTIFY
// registration, the session binding) is released only by the slot
// owner, so a superseded connection cannot strip its live replacement.
func (s *Server) teardown(sessionID uuid.UUID, c *client) {
	s.mu.Lock()
	cur, ok := s.clients[sessionID]
	owner := ok && cur == c
	if owner {
		delete(s.clients, sessionID)
	}
	s.mu.Unlock()

	c.cancel()
	c.queue.Close()

	if !owner {
		s.cfg.Logger.Info("superseded websocket closed", "session_id", sessionID)
		return
	}

	s.subs.Drop(sessionID)
	if s.notify != nil {
		s.notify.Unregister(sessionID)
	}
	if bound, ok := s.sessions.Get(sessionID); ok && bound == c.bound {
		s.sessions.Unbind(sessionID)
	}

	s.cfg.Logger.Info("websocket disconnected", "session_id", sessionID)
}

// dispatch handles one inbound frame. Request-local failures answer on
// the wire and leave the connection up; only protocol violations close
// the socket.
func (s *Server) dispatch(ctx context.Context, c *client, raw []byte) {
	f, err := DecodeInbound(raw)
	if err != nil {
		if frame, encErr := EncodeError(err.Error()); encErr == nil {
			c.conn.TrySend(frame)
		}
		c.conn.Close(service.ClosePolicyViolation, "Protocol violation")
		return
	}

	switch f.Type {
	case FrameHeartbeat:
		if err := s.sessions.Touch(ctx, c.bound.Session.ID); err != nil {
			// A gone session means the store invalidated it out from
			// under the connection; Touch has already closed the sink
			// with 1000. No ack for the dead session.
			if domain.GetErrorCode(err) == domain.ErrSessionNotFound.Code {
				return
			}
			s.cfg.Logger.Debug("heartbeat touch failed",
				"session_id", c.bound.Session.ID,
				"error", err)
		}
		if frame, err := EncodeHeartbeatAck(); err == nil {
			s.send(c, FrameHeartbeatAck, frame)
		}

	case FrameConfigRequest:
		if frame, err := EncodeConfigResponse(s.configPayload()); err == nil {
			s.send(c, FrameConfigResponse, frame)
		}

	case FrameQuery:
		req := service.QueryRequest{
			RequestID: f.RequestID,
			SQL:       f.Query,
			Params:    f.Parameters,
		}
		if err := c.queue.Enqueue(req); err != nil {
			if frame, encErr := EncodeQueryResponse(f.RequestID, nil, err); encErr == nil {
				s.send(c, FrameQueryResponse, frame)
			}
		}

	case FrameSubscribe:
		err := s.subs.Subscribe(ctx, c.bound.Session.ID, f.Channel)
		if frame, encErr := EncodeSubscribeResponse(f.Channel, err); encErr == nil {
			s.send(c, FrameSubscribeResponse, frame)
		}

	case FrameUnsubscribe:
		s.subs.Unsubscribe(c.bound.Session.ID, f.Channel)
		if frame, err := EncodeUnsubscribeResponse(f.Channel); err == nil {
			s.send(c, FrameUnsubscribeResponse, frame)
		}
	}
}

func (s *Server) configPayload() ConfigPayload {
	var p ConfigPayload
	p.Heartbeat.IntervalMs = s.cfg.Session.HeartbeatInterval.Milliseconds()
	p.Heartbeat.TimeoutMs = s.cfg.Session.HeartbeatTimeout.Milliseconds()
	p.Session.MaxAgeMs = s.cfg.Session.MaxAge.Milliseconds()
	p.Session.CleanupIntervalMs = s.cfg.Session.CleanupInterval.Milliseconds()
	p.Session.InactiveTimeoutMs = s.cfg.Session.InactiveTimeout.Milliseconds()
	return p
}

// send enqueues a frame on a client. A full queue means the reader is
// not keeping up, so the connection is closed rather than stalled.
func (s *Server) send(c *client, tag FrameType, frame []byte) {
	if c.conn.TrySend(frame) {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.FramesSent.WithLabelValues(string(tag)).Inc()
		}
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.BackpressureCloses.Inc()
	}
	c.conn.Close(service.CloseInternalError, service.ReasonBackpressure)
}

// DeliverNotification routes one store notification to its session's
// connection. Wired as the notification bridge's deliver callback.
func (s *Server) DeliverNotification(sessionID uuid.UUID, n domain.Notification) {
	s.mu.Lock()
	c, ok := s.clients[sessionID]
	s.mu.Unlock()
	if !ok {
		return
	}

	frame, err := EncodeNotification(n)
	if err != nil {
		s.cfg.Logger.Error("notification encode failed", "error", err)
		return
	}

	tag := FrameNotificationEntity
	switch n.Kind {
	case domain.ResourceScript:
		tag = FrameNotificationEntityScript
	case domain.ResourceAsset:
		tag = FrameNotificationEntityAsset
	}
	s.send(c, tag, frame)
}

// ActiveConnections reports how many sockets are currently live.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Shutdown refuses new upgrades and closes every live connection with
// 1001, then waits briefly for write pumps to flush.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.conn.Close(service.CloseGoingAway, service.ReasonShutdown)
	}

	deadline := time.NewTimer(500 * time.Millisecond)
	defer deadline.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline.C:
		return nil
	}
}
