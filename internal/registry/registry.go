package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/habridge-core/internal/hass/realtime"
	"github.com/nerrad567/habridge-core/internal/store"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry list commands.
const (
	CommandFloorList  = "config/floor_registry/list"
	CommandAreaList   = "config/area_registry/list"
	CommandDeviceList = "config/device_registry/list"
	CommandEntityList = "config/entity_registry/list"
)

// DefaultSyncTimeout bounds one fetch, handshake included.
const DefaultSyncTimeout = 30 * time.Second

// Fetcher retrieves the raw record sets.
type Fetcher interface {
	Fetch(ctx context.Context) (*Raw, error)
}

// SessionFetcher fetches the registries over one realtime batch session.
type SessionFetcher struct {
	Config  realtime.Config
	Timeout time.Duration
}

// Fetch runs the four list commands in order. A command the hub rejects
// yields an empty list; only session failures are errors. The session is
// closed before Fetch returns.
func (f *SessionFetcher) Fetch(ctx context.Context) (*Raw, error) {
	raw := &Raw{}
	steps := []struct {
		command string
		dst     *[]json.RawMessage
	}{
		{CommandFloorList, &raw.Floors},
		{CommandAreaList, &raw.Areas},
		{CommandDeviceList, &raw.Devices},
		{CommandEntityList, &raw.Entities},
	}

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	err := realtime.Batch(ctx, f.Config, timeout, func(ctx context.Context, s *realtime.Session) error {
		for _, step := range steps {
			records, err := s.List(ctx, step.command)
			if err != nil {
				return fmt.Errorf("%s: %w", step.command, err)
			}
			*step.dst = records
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// CacheStore persists the denormalised views derived from a sync.
// *store.Store satisfies it.
type CacheStore interface {
	ReplaceEntityAreaCache(ctx context.Context, rows []store.EntityArea) error
	SeedDefaultRooms(ctx context.Context, rooms []store.DefaultRoom) error
}

// SyncRecorder counts sync outcomes. *metrics.Metrics satisfies it.
type SyncRecorder interface {
	RegistrySync(ok bool, entities int)
}

// SyncResult describes a successful pass.
type SyncResult struct {
	Counts
	Added   []string  `json:"added"`
	Removed []string  `json:"removed"`
	At      time.Time `json:"at"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore persists the entity area cache and default
// rooms after each pass.
func WithStore(s CacheStore) Option {
	return func(r *Registry) { r.store = s }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithRecorder counts sync outcomes.
func WithRecorder(m SyncRecorder) Option {
	return func(r *Registry) { r.recorder = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry holds the published graph and runs sync passes.
type Registry struct {
	fetcher  Fetcher
	store    CacheStore
	recorder SyncRecorder
	logger   Logger
	now      func() time.Time

	graph  atomic.Pointer[Graph]
	synced atomic.Bool

	// syncMu serialises passes; readers never take it.
	syncMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []func(SyncResult)
}

// New creates a registry with an empty graph.
func New(fetcher Fetcher, opts ...Option) *Registry {
	r := &Registry{
		fetcher: fetcher,
		logger:  noopLogger{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.graph.Store(emptyGraph())
	return r
}

// OnSync registers a callback run after every successful pass.
func (r *Registry) OnSync(fn func(SyncResult)) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

// Snapshot returns the current graph. It is never nil; before the first
// successful pass it is empty.
func (r *Registry) Snapshot() *Graph {
	return r.graph.Load()
}

// Graph returns the current graph, or ErrNotSynced before the first
// successful pass.
func (r *Registry) Graph() (*Graph, error) {
	if !r.synced.Load() {
		return nil, ErrNotSynced
	}
	return r.graph.Load(), nil
}

// Synced reports whether a pass has ever succeeded.
func (r *Registry) Synced() bool {
	return r.synced.Load()
}

// HasFloors reports whether the current graph has floors.
func (r *Registry) HasFloors() bool {
	return r.Snapshot().HasFloors()
}

// Sync runs one pass and reports whether it succeeded. On failure the
// previously published graph stays in place.
func (r *Registry) Sync(ctx context.Context) bool {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	raw, err := r.fetcher.Fetch(ctx)
	if err != nil {
		r.logger.Error("registry sync failed", "error", err)
		r.record(false, r.Snapshot().Counts().Entities)
		return false
	}

	next := Build(raw, r.logger)
	next.syncedAt = r.now()

	prev := r.graph.Swap(next)
	wasSynced := r.synced.Swap(true)

	r.persist(ctx, next)

	result := SyncResult{Counts: next.Counts(), At: next.syncedAt}
	if wasSynced {
		result.Added, result.Removed = diffEntities(prev, next)
	}

	r.logger.Info("registry sync ok",
		"floors", result.Floors,
		"areas", result.Areas,
		"devices", result.Devices,
		"entities", result.Entities,
		"added", len(result.Added),
		"removed", len(result.Removed),
	)
	r.record(true, result.Entities)

	r.listenersMu.RLock()
	listeners := slices.Clone(r.listeners)
	r.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(result)
	}
	return true
}

func (r *Registry) record(ok bool, entities int) {
	if r.recorder != nil {
		r.recorder.RegistrySync(ok, entities)
	}
}

// persist runs the best-effort follow-ups. Failures are logged only.
func (r *Registry) persist(ctx context.Context, g *Graph) {
	if r.store == nil {
		return
	}

	if err := r.store.ReplaceEntityAreaCache(ctx, g.entityAreaRows()); err != nil {
		r.logger.Warn("entity area cache update failed", "error", err)
	}

	r.detectSegments(g)

	if err := r.store.SeedDefaultRooms(ctx, g.defaultRooms()); err != nil {
		r.logger.Warn("default room seed failed", "error", err)
	}
}

// detectSegments looks for cleaning segments on each vacuum's device.
// Room-named siblings are logged as candidates, but none carry a segment id
// the vacuum accepts, so nothing is persisted here: room cleaning uses the
// configured presets until a segment map is saved through the vacuum API.
func (r *Registry) detectSegments(g *Graph) {
	for _, vacuumID := range g.Vacuums() {
		e, _ := g.Entity(vacuumID)
		r.logger.Info("vacuum segment import", "vacuum", vacuumID, "platform", g.VacuumPlatform(vacuumID))

		candidates := 0
		for _, id := range g.DeviceEntityIDs(e.DeviceID, nil) {
			lower := strings.ToLower(id)
			if strings.Contains(lower, "room") || strings.Contains(lower, "segment") {
				r.logger.Debug("segment candidate entity", "vacuum", vacuumID, "entity_id", id)
				candidates++
			}
		}
		r.logger.Info("no segments auto-detected, using presets", "vacuum", vacuumID, "candidates", candidates)
	}
}

// entityAreaRows denormalises every enabled entity's location.
func (g *Graph) entityAreaRows() []store.EntityArea {
	rows := make([]store.EntityArea, 0, len(g.entityOrder))
	for _, id := range g.entityOrder {
		e := g.entities[id]
		if e.Disabled() {
			continue
		}
		row := store.EntityArea{EntityID: id, DeviceID: e.DeviceID, AreaID: g.effectiveArea(e)}
		if a, ok := g.areas[row.AreaID]; ok {
			row.AreaName = a.Name
			row.FloorID = a.FloorID
			if f, ok := g.floors[a.FloorID]; ok {
				row.FloorName = f.Name
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// defaultRooms matches each canonical room to an area.
func (g *Graph) defaultRooms() []store.DefaultRoom {
	rooms := make([]store.DefaultRoom, 0, len(RoomAliases))
	for _, alias := range RoomAliases {
		room := store.DefaultRoom{Key: alias.Canonical, DisplayName: capitalize(alias.Canonical)}
		if areaID, ok := g.MatchSegmentToArea(alias.Canonical); ok {
			room.AreaID = areaID
		}
		rooms = append(rooms, room)
	}
	return rooms
}

// diffEntities returns entity ids present only in next, and only in prev.
func diffEntities(prev, next *Graph) (added, removed []string) {
	for _, id := range next.entityOrder {
		if _, ok := prev.entities[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range prev.entityOrder {
		if _, ok := next.entities[id]; !ok {
			removed = append(removed, id)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}
