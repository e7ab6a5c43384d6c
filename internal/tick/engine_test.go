package tick

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vircadia/worldsync/internal/core/domain"
)

// mockTickStore scripts capture results per group.
type mockTickStore struct {
	mu       sync.Mutex
	groups   []domain.SyncGroup
	numbers  map[string]int64
	captures int
	swept    int64
	sweepErr error

	captureErr error
	// nonMonotonic makes the next capture repeat the previous number.
	nonMonotonic bool

	entities []domain.Change
}

func newMockTickStore(groups ...domain.SyncGroup) *mockTickStore {
	return &mockTickStore{
		groups:  groups,
		numbers: make(map[string]int64),
	}
}

func (s *mockTickStore) ListSyncGroups(context.Context) ([]domain.SyncGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SyncGroup(nil), s.groups...), nil
}

func (s *mockTickStore) CaptureTick(_ context.Context, group string) (*domain.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures++
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	if !s.nonMonotonic {
		s.numbers[group]++
	}
	now := time.Now()
	return &domain.Tick{
		ID:        uuid.New(),
		SyncGroup: group,
		Number:    s.numbers[group],
		StartTime: now,
		EndTime:   now,
	}, nil
}

func (s *mockTickStore) DiffEntities(_ context.Context, _ string) ([]domain.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Change(nil), s.entities...), nil
}

func (s *mockTickStore) DiffScripts(context.Context, string) ([]domain.Change, error) {
	return nil, nil
}

func (s *mockTickStore) DiffAssets(context.Context, string) ([]domain.Change, error) {
	return nil, nil
}

func (s *mockTickStore) SweepCrashedTicks(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swept, s.sweepErr
}

func (s *mockTickStore) TrimTicks(context.Context, string, time.Duration) (int64, error) {
	return 0, nil
}

func (s *mockTickStore) captureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

// mockPublisher records published change sets.
type mockPublisher struct {
	mu   sync.Mutex
	sets []*domain.ChangeSet
	ch   chan *domain.ChangeSet
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{ch: make(chan *domain.ChangeSet, 64)}
}

func (p *mockPublisher) Publish(_ context.Context, cs *domain.ChangeSet) error {
	p.mu.Lock()
	p.sets = append(p.sets, cs)
	p.mu.Unlock()
	select {
	case p.ch <- cs:
	default:
	}
	return nil
}

func (p *mockPublisher) published() []*domain.ChangeSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.ChangeSet(nil), p.sets...)
}

func fastGroup(name string) domain.SyncGroup {
	return domain.SyncGroup{
		Name:             name,
		ServerTickRateMs: 10,
		MaxTicks:         2,
	}
}

func insertChange() domain.Change {
	return domain.Change{
		Kind:      domain.ResourceEntity,
		ID:        uuid.NewString(),
		Operation: domain.OperationInsert,
		Fields:    map[string]json.RawMessage{"general__entity_name": json.RawMessage(`"e"`)},
	}
}

func TestEngine_PublishesMonotonicTicks(t *testing.T) {
	store := newMockTickStore(fastGroup("public.NORMAL"))
	store.entities = []domain.Change{insertChange()}
	pub := newMockPublisher()

	e := New(store, pub, Config{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Stop()

	// Collect a few ticks.
	var got []*domain.ChangeSet
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case cs := <-pub.ch:
			got = append(got, cs)
		case <-timeout:
			t.Fatalf("only %d change sets after timeout", len(got))
		}
	}

	for i, cs := range got {
		if cs.SyncGroup != "public.NORMAL" {
			t.Errorf("set[%d].SyncGroup = %q", i, cs.SyncGroup)
		}
		if cs.TickNumber != int64(i+1) {
			t.Errorf("set[%d].TickNumber = %d, want %d", i, cs.TickNumber, i+1)
		}
		if cs.Tick == nil || cs.Tick.Number != cs.TickNumber {
			t.Errorf("set[%d] tick record mismatch", i)
		}
	}
}

func TestEngine_EmptyChangeSetNotPublished(t *testing.T) {
	store := newMockTickStore(fastGroup("public.NORMAL"))
	pub := newMockPublisher()

	e := New(store, pub, Config{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	// Ticks happen but nothing changed, so nothing is fanned out.
	deadline := time.Now().Add(200 * time.Millisecond)
	for store.captureCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.captureCount() < 3 {
		t.Fatal("loop did not tick")
	}
	if n := len(pub.published()); n != 0 {
		t.Errorf("published %d empty change sets", n)
	}
}

func TestEngine_TransientErrorDoesNotStopLoop(t *testing.T) {
	store := newMockTickStore(fastGroup("public.NORMAL"))
	store.entities = []domain.Change{insertChange()}
	pub := newMockPublisher()

	e := New(store, pub, Config{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	// First capture succeeds, then the store flaps.
	select {
	case <-pub.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no initial tick")
	}

	store.mu.Lock()
	store.captureErr = errors.New("connection refused")
	store.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	store.mu.Lock()
	store.captureErr = nil
	store.mu.Unlock()

	select {
	case <-pub.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not recover after transient error")
	}
}

func TestEngine_InvariantViolationRestartsLoop(t *testing.T) {
	store := newMockTickStore(fastGroup("public.NORMAL"))
	store.entities = []domain.Change{insertChange()}
	pub := newMockPublisher()

	e := New(store, pub, Config{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	select {
	case <-pub.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no initial tick")
	}

	// Repeating a tick number violates monotonicity; the loop must
	// restart (after one interval) rather than die.
	store.mu.Lock()
	store.nonMonotonic = true
	store.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	store.mu.Lock()
	store.nonMonotonic = false
	store.mu.Unlock()

	select {
	case <-pub.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not restart after invariant violation")
	}
}

func TestEngine_StopWaitsForLoops(t *testing.T) {
	store := newMockTickStore(fastGroup("a.NORMAL"), fastGroup("b.NORMAL"))
	pub := newMockPublisher()

	e := New(store, pub, Config{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}

	before := store.captureCount()
	time.Sleep(50 * time.Millisecond)
	if after := store.captureCount(); after != before {
		t.Errorf("captures continued after Stop: %d -> %d", before, after)
	}
}

func TestEngine_ReloadGroups(t *testing.T) {
	store := newMockTickStore(fastGroup("a.NORMAL"))
	pub := newMockPublisher()

	e := New(store, pub, Config{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	store.mu.Lock()
	store.groups = []domain.SyncGroup{fastGroup("b.NORMAL")}
	store.mu.Unlock()

	if err := e.ReloadGroups(context.Background()); err != nil {
		t.Fatalf("ReloadGroups() error = %v", err)
	}

	e.mu.Lock()
	_, hasA := e.loops["a.NORMAL"]
	_, hasB := e.loops["b.NORMAL"]
	e.mu.Unlock()
	if hasA || !hasB {
		t.Errorf("loops after reload: a=%v b=%v, want only b", hasA, hasB)
	}
}

func TestEngine_StartSweepFailure(t *testing.T) {
	store := newMockTickStore(fastGroup("a.NORMAL"))
	store.sweepErr = errors.New("permission denied")

	e := New(store, newMockPublisher(), Config{})
	if err := e.Start(context.Background()); err == nil {
		t.Error("Start() expected error when crash sweep fails")
		e.Stop()
	}
}
