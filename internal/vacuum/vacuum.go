// Package vacuum wraps robot vacuum operations behind one adapter: room
// cleaning through the configured strategy, basic commands, routine buttons
// and a status summary that never fails.
package vacuum

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nerrad567/habridge-core/internal/hass"
	"github.com/nerrad567/habridge-core/internal/hass/rest"
	"github.com/nerrad567/habridge-core/internal/infrastructure/config"
	"github.com/nerrad567/habridge-core/internal/registry"
	"github.com/nerrad567/habridge-core/internal/store"
)

var (
	// ErrUnknownCommand is returned by Execute for commands outside Commands.
	ErrUnknownCommand = errors.New("vacuum: unknown command")

	// ErrInvalidSegment is returned by SaveRooms for a segment without an id.
	ErrInvalidSegment = errors.New("vacuum: segment id is required")
)

// Commands are the vacuum services Execute accepts.
var Commands = []string{"start", "stop", "pause", "return_to_base", "locate"}

// Status values for a vacuum the hub cannot report on.
const (
	StatusUnavailable = "unavailable"
	StatusError       = "error"
)

// Logger defines the logging interface used by the Adapter.
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

// Hub is the part of the REST client the adapter uses. *rest.Client
// satisfies it.
type Hub interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
	GetState(ctx context.Context, entityID string) (*hass.State, error)
}

// SegmentStore persists per-vacuum segment maps. *store.Store satisfies it.
type SegmentStore interface {
	VacuumRoomMap(ctx context.Context, vacuumID string) ([]store.RoomSegment, error)
	SaveVacuumRoomMap(ctx context.Context, vacuumID string, segments []store.RoomSegment) error
}

// GraphSource provides the current registry graph. *registry.Registry
// satisfies it.
type GraphSource interface {
	Snapshot() *registry.Graph
}

// Capabilities describes what a vacuum supports.
type Capabilities struct {
	SupportsSegmentClean bool   `json:"supports_segment_clean"`
	SupportsRoutines     bool   `json:"supports_routines"`
	Platform             string `json:"platform"`
	SegmentCount         int    `json:"segment_count"`
	RoutineCount         int    `json:"routine_count"`
}

// Routine is a routine button on a vacuum's device.
type Routine struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
}

// Status summarises a vacuum's state. Battery is the battery_level
// attribute or "?" when unknown.
type Status struct {
	State        string `json:"state"`
	Battery      any    `json:"battery"`
	FanSpeed     string `json:"fan_speed,omitempty"`
	Status       string `json:"status,omitempty"`
	Error        any    `json:"error"`
	FriendlyName string `json:"friendly_name,omitempty"`
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// Adapter performs vacuum operations.
type Adapter struct {
	hub      Hub
	segments SegmentStore
	graphs   GraphSource
	cfg      config.VacuumConfig
	logger   Logger
}

// New creates an adapter.
func New(hub Hub, segments SegmentStore, graphs GraphSource, cfg config.VacuumConfig, opts ...Option) *Adapter {
	a := &Adapter{
		hub:      hub,
		segments: segments,
		graphs:   graphs,
		cfg:      cfg,
		logger:   noopLogger{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Capabilities reports what a vacuum supports. Lookup failures yield the
// zero value.
func (a *Adapter) Capabilities(ctx context.Context, vacuumID string) Capabilities {
	segs, err := a.segments.VacuumRoomMap(ctx, vacuumID)
	if err != nil {
		a.logger.Error("loading vacuum capabilities failed", "vacuum", vacuumID, "error", err)
		return Capabilities{}
	}

	g := a.graphs.Snapshot()
	routines := g.VacuumRoutines(vacuumID)
	count := len(segs)
	if count == 0 {
		count = len(a.cfg.RoomPresets)
	}
	return Capabilities{
		SupportsSegmentClean: count > 0 || a.cfg.CleanStrategy == config.CleanStrategyScript,
		SupportsRoutines:     len(routines) > 0,
		Platform:             g.VacuumPlatform(vacuumID),
		SegmentCount:         count,
		RoutineCount:         len(routines),
	}
}

// Rooms returns the vacuum's stored segment map, or the configured presets
// when none is stored. Lookup failures yield an empty list.
func (a *Adapter) Rooms(ctx context.Context, vacuumID string) []store.RoomSegment {
	segs, err := a.segments.VacuumRoomMap(ctx, vacuumID)
	if err != nil {
		a.logger.Error("loading vacuum rooms failed", "vacuum", vacuumID, "error", err)
		return []store.RoomSegment{}
	}
	if len(segs) > 0 {
		return segs
	}

	presets := make([]store.RoomSegment, 0, len(a.cfg.RoomPresets))
	for _, id := range a.cfg.RoomPresets {
		presets = append(presets, store.RoomSegment{SegmentID: id, SegmentName: titleCase(id)})
	}
	return presets
}

// SaveRooms replaces the vacuum's segment map. Segments without a name get
// one derived from their id; segments without an area are matched to one
// by name.
func (a *Adapter) SaveRooms(ctx context.Context, vacuumID string, segments []store.RoomSegment) error {
	g := a.graphs.Snapshot()
	out := make([]store.RoomSegment, 0, len(segments))
	for _, seg := range segments {
		if seg.SegmentID == "" {
			return ErrInvalidSegment
		}
		if seg.SegmentName == "" {
			seg.SegmentName = titleCase(seg.SegmentID)
		}
		if seg.AreaID == "" {
			seg.AreaID, _ = g.MatchSegmentToArea(seg.SegmentName)
		}
		out = append(out, seg)
	}
	if err := a.segments.SaveVacuumRoomMap(ctx, vacuumID, out); err != nil {
		return err
	}
	a.logger.Info("vacuum rooms saved", "vacuum", vacuumID, "segments", len(out))
	return nil
}

// CleanSegment starts cleaning one room. Numeric segment ids go straight
// to the vacuum; named rooms use the configured strategy.
func (a *Adapter) CleanSegment(ctx context.Context, vacuumID, segmentID string) error {
	if n, err := strconv.Atoi(segmentID); err == nil {
		return a.hub.CallService(ctx, "vacuum", "send_command", map[string]any{
			"entity_id": vacuumID,
			"command":   "app_segment_clean",
			"params":    []int{n},
		})
	}

	switch {
	case a.cfg.CleanStrategy == config.CleanStrategyScript && a.cfg.ScriptEntityID != "":
		return a.hub.CallService(ctx, "script", "turn_on", map[string]any{
			"entity_id": a.cfg.ScriptEntityID,
			"variables": map[string]any{"vacuum_entity": vacuumID, "room": segmentID},
		})
	case a.cfg.CleanStrategy == config.CleanStrategyServiceData:
		return a.hub.CallService(ctx, "vacuum", "send_command", map[string]any{
			"entity_id": vacuumID,
			"command":   "app_segment_clean",
			"params":    map[string]any{"rooms": []string{segmentID}},
		})
	default:
		return a.hub.CallService(ctx, "vacuum", "start", map[string]any{"entity_id": vacuumID})
	}
}

// Execute runs one of Commands on the vacuum.
func (a *Adapter) Execute(ctx context.Context, vacuumID, command string) error {
	if !slices.Contains(Commands, command) {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
	return a.hub.CallService(ctx, "vacuum", command, map[string]any{"entity_id": vacuumID})
}

// PressRoutine presses a routine button.
func (a *Adapter) PressRoutine(ctx context.Context, buttonID string) error {
	return a.hub.CallService(ctx, "button", "press", map[string]any{"entity_id": buttonID})
}

// Routines lists the vacuum's routine buttons with their friendly names.
// A button whose state cannot be read is listed under its entity id.
func (a *Adapter) Routines(ctx context.Context, vacuumID string) []Routine {
	ids := a.graphs.Snapshot().VacuumRoutines(vacuumID)
	out := make([]Routine, 0, len(ids))
	for _, id := range ids {
		name := id
		if st, err := a.hub.GetState(ctx, id); err == nil {
			name = st.FriendlyName()
		} else {
			a.logger.Debug("routine state unavailable", "entity_id", id, "error", err)
		}
		out = append(out, Routine{EntityID: id, Name: name})
	}
	return out
}

// Status summarises the vacuum's current state. It never fails: an entity
// the hub does not know is reported as unavailable, any other failure as
// error.
func (a *Adapter) Status(ctx context.Context, vacuumID string) Status {
	st, err := a.hub.GetState(ctx, vacuumID)
	if err != nil {
		var rerr *rest.Error
		if errors.As(err, &rerr) && rerr.Status == http.StatusNotFound {
			return Status{State: StatusUnavailable, Battery: "?"}
		}
		a.logger.Error("loading vacuum status failed", "vacuum", vacuumID, "error", err)
		return Status{State: StatusError, Battery: "?", Error: "status unavailable"}
	}

	battery := st.Attr("battery_level")
	if battery == nil {
		battery = "?"
	}
	fan, _ := st.Attr("fan_speed").(string)
	status, ok := st.Attr("status").(string)
	if !ok {
		status = st.State
	}
	return Status{
		State:        cmp.Or(st.State, "unknown"),
		Battery:      battery,
		FanSpeed:     fan,
		Status:       status,
		Error:        st.Attr("error"),
		FriendlyName: st.FriendlyName(),
	}
}

// SegmentDisplayName returns the stored name of a segment, or one derived
// from its id.
func SegmentDisplayName(segmentID string, segments []store.RoomSegment) string {
	for _, s := range segments {
		if s.SegmentID == segmentID {
			return cmp.Or(s.SegmentName, segmentID)
		}
	}
	return titleCase(segmentID)
}

// titleCase turns "living_room" into "Living Room".
func titleCase(id string) string {
	words := strings.Fields(strings.ReplaceAll(id, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}
