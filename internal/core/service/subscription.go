package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vircadia/worldsync/internal/core/domain"
	"github.com/vircadia/worldsync/internal/telemetry/logger"
	"github.com/vircadia/worldsync/internal/telemetry/metric"
	"github.com/vircadia/worldsync/pkg/cmap"
)

// AccessStore answers subscription and visibility policy questions.
// The database policy is authoritative.
type AccessStore interface {
	// CanSubscribe reports whether a session may observe a sync group.
	CanSubscribe(ctx context.Context, sessionID uuid.UUID, syncGroup string) (bool, error)

	// AllowedSessions returns, per changed resource, the candidate
	// sessions permitted to observe it.
	AllowedSessions(ctx context.Context, kind domain.ResourceKind, resourceIDs []string, sessionIDs []uuid.UUID) (map[string][]uuid.UUID, error)
}

// ChangeSetEncoder serialises a change set into one outbound frame.
// Supplied by the transport layer.
type ChangeSetEncoder func(*domain.ChangeSet) ([]byte, error)

// memberSet is one sync group's subscriber set under its own lock.
type memberSet struct {
	mu  sync.RWMutex
	ids map[uuid.UUID]struct{}
}

func newMemberSet() *memberSet {
	return &memberSet{ids: make(map[uuid.UUID]struct{})}
}

func (s *memberSet) add(id uuid.UUID) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *memberSet) remove(id uuid.UUID) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

func (s *memberSet) snapshot() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}

// groupSet is one session's subscribed groups under its own lock.
type groupSet struct {
	mu     sync.RWMutex
	groups map[string]struct{}
}

func newGroupSet() *groupSet {
	return &groupSet{groups: make(map[string]struct{})}
}

// SubscriptionManagerConfig configures the subscription manager.
type SubscriptionManagerConfig struct {
	Encoder ChangeSetEncoder
	Logger  logger.Logger
	Metrics *metric.Registry
}

// SubscriptionManager tracks which sessions observe which sync groups
// and fans tick change sets out to them.
type SubscriptionManager struct {
	store    AccessStore
	sessions *SessionManager
	encode   ChangeSetEncoder

	byGroup   *cmap.Map[string, *memberSet]
	bySession *cmap.Map[string, *groupSet]

	logger  logger.Logger
	metrics *metric.Registry
}

// NewSubscriptionManager creates a subscription manager.
func NewSubscriptionManager(store AccessStore, sessions *SessionManager, cfg SubscriptionManagerConfig) *SubscriptionManager {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewRegistry()
	}

	return &SubscriptionManager{
		store:     store,
		sessions:  sessions,
		encode:    cfg.Encoder,
		byGroup:   cmap.New[string, *memberSet](),
		bySession: cmap.New[string, *groupSet](),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Subscribe records a session's interest in a sync group. Membership
// is gated by the store's access policy.
func (m *SubscriptionManager) Subscribe(ctx context.Context, sessionID uuid.UUID, syncGroup string) error {
	ok, err := m.store.CanSubscribe(ctx, sessionID, syncGroup)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrSubscribeDenied.WithDetails("sync_group=" + syncGroup)
	}

	members, _ := m.byGroup.GetOrSet(syncGroup, newMemberSet())
	members.add(sessionID)

	groups, _ := m.bySession.GetOrSet(sessionID.String(), newGroupSet())
	groups.mu.Lock()
	_, already := groups.groups[syncGroup]
	groups.groups[syncGroup] = struct{}{}
	groups.mu.Unlock()

	// Re-subscribing is a no-op for the gauge, mirroring the single
	// decrement in Unsubscribe.
	if !already {
		m.metrics.Subscriptions.Inc()
	}
	return nil
}

// Unsubscribe removes a session's interest. Idempotent: removing an
// absent subscription succeeds.
func (m *SubscriptionManager) Unsubscribe(sessionID uuid.UUID, syncGroup string) {
	removed := false
	if groups, ok := m.bySession.Get(sessionID.String()); ok {
		groups.mu.Lock()
		if _, present := groups.groups[syncGroup]; present {
			delete(groups.groups, syncGroup)
			removed = true
		}
		groups.mu.Unlock()
	}
	if members, ok := m.byGroup.Get(syncGroup); ok {
		members.remove(sessionID)
	}
	if removed {
		m.metrics.Subscriptions.Dec()
	}
}

// Drop removes every subscription a session holds. Called on unbind.
func (m *SubscriptionManager) Drop(sessionID uuid.UUID) {
	groups, ok := m.bySession.Pop(sessionID.String())
	if !ok {
		return
	}
	groups.mu.Lock()
	for g := range groups.groups {
		if members, ok := m.byGroup.Get(g); ok {
			members.remove(sessionID)
		}
		m.metrics.Subscriptions.Dec()
	}
	groups.groups = map[string]struct{}{}
	groups.mu.Unlock()
}

// Groups returns the sync groups a session observes.
func (m *SubscriptionManager) Groups(sessionID uuid.UUID) []string {
	groups, ok := m.bySession.Get(sessionID.String())
	if !ok {
		return nil
	}
	groups.mu.RLock()
	defer groups.mu.RUnlock()
	out := make([]string, 0, len(groups.groups))
	for g := range groups.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Members returns the sessions observing a sync group.
func (m *SubscriptionManager) Members(syncGroup string) []uuid.UUID {
	members, ok := m.byGroup.Get(syncGroup)
	if !ok {
		return nil
	}
	return members.snapshot()
}

// Publish fans a tick change set out to the group's subscribers. The
// store filters each change down to the sessions allowed to observe
// it; sessions with identical filtered sets share one serialisation.
// A full outbound queue closes that connection with 1011; the session
// itself stays valid.
func (m *SubscriptionManager) Publish(ctx context.Context, cs *domain.ChangeSet) error {
	members := m.Members(cs.SyncGroup)
	if len(members) == 0 {
		return nil
	}

	visible, err := m.visibleChanges(ctx, cs, members)
	if err != nil {
		return err
	}

	// Group sessions into permission classes keyed by which changes
	// they may see, then serialise once per class.
	classes := make(map[string][]uuid.UUID)
	for _, sessionID := range members {
		key := classKeyFor(sessionID, cs, visible)
		if key == "" {
			continue
		}
		classes[key] = append(classes[key], sessionID)
	}

	for key, sessionIDs := range classes {
		filtered := filterChangeSet(cs, key)
		frame, err := m.encode(filtered)
		if err != nil {
			return domain.ErrInternalServer.WithCause(err)
		}
		for _, sessionID := range sessionIDs {
			m.deliver(sessionID, frame)
		}
	}
	return nil
}

// visibleChanges resolves store policy for every change in the set.
// Key is kind+resource id, value is the allowed session set.
func (m *SubscriptionManager) visibleChanges(ctx context.Context, cs *domain.ChangeSet, members []uuid.UUID) (map[string]map[uuid.UUID]struct{}, error) {
	visible := make(map[string]map[uuid.UUID]struct{})

	resolve := func(kind domain.ResourceKind, changes []domain.Change) error {
		if len(changes) == 0 {
			return nil
		}
		ids := make([]string, len(changes))
		for i, c := range changes {
			ids[i] = c.ID
		}
		allowed, err := m.store.AllowedSessions(ctx, kind, ids, members)
		if err != nil {
			return err
		}
		for resourceID, sessionIDs := range allowed {
			set := make(map[uuid.UUID]struct{}, len(sessionIDs))
			for _, s := range sessionIDs {
				set[s] = struct{}{}
			}
			visible[string(kind)+"/"+resourceID] = set
		}
		return nil
	}

	if err := resolve(domain.ResourceEntity, cs.Entities); err != nil {
		return nil, err
	}
	if err := resolve(domain.ResourceScript, cs.Scripts); err != nil {
		return nil, err
	}
	if err := resolve(domain.ResourceAsset, cs.Assets); err != nil {
		return nil, err
	}
	return visible, nil
}

// classKeyFor encodes which change indices a session may observe, in
// deterministic set order. Empty when the session sees nothing.
func classKeyFor(sessionID uuid.UUID, cs *domain.ChangeSet, visible map[string]map[uuid.UUID]struct{}) string {
	var parts []string
	idx := 0
	walk := func(kind domain.ResourceKind, changes []domain.Change) {
		for _, c := range changes {
			if set, ok := visible[string(kind)+"/"+c.ID]; ok {
				if _, allowed := set[sessionID]; allowed {
					parts = append(parts, strconv.Itoa(idx))
				}
			}
			idx++
		}
	}
	walk(domain.ResourceEntity, cs.Entities)
	walk(domain.ResourceScript, cs.Scripts)
	walk(domain.ResourceAsset, cs.Assets)
	return strings.Join(parts, ",")
}

// filterChangeSet rebuilds a change set containing only the change
// indices named by a class key.
func filterChangeSet(cs *domain.ChangeSet, key string) *domain.ChangeSet {
	include := make(map[int]struct{})
	for _, p := range strings.Split(key, ",") {
		if i, err := strconv.Atoi(p); err == nil {
			include[i] = struct{}{}
		}
	}

	out := &domain.ChangeSet{
		SyncGroup:  cs.SyncGroup,
		TickNumber: cs.TickNumber,
		Tick:       cs.Tick,
	}
	idx := 0
	for _, c := range cs.Entities {
		if _, ok := include[idx]; ok {
			out.Entities = append(out.Entities, c)
		}
		idx++
	}
	for _, c := range cs.Scripts {
		if _, ok := include[idx]; ok {
			out.Scripts = append(out.Scripts, c)
		}
		idx++
	}
	for _, c := range cs.Assets {
		if _, ok := include[idx]; ok {
			out.Assets = append(out.Assets, c)
		}
		idx++
	}
	return out
}

func (m *SubscriptionManager) deliver(sessionID uuid.UUID, frame []byte) {
	bound, ok := m.sessions.Get(sessionID)
	if !ok {
		return
	}
	if bound.Sink().TrySend(frame) {
		m.metrics.FramesSent.WithLabelValues("SYNC_GROUP_UPDATES_RESPONSE").Inc()
		return
	}

	m.logger.Warn("outbound queue overflow, closing connection",
		"session_id", sessionID,
	)
	m.metrics.BackpressureCloses.Inc()
	bound.Sink().Close(CloseInternalError, ReasonBackpressure)
}
