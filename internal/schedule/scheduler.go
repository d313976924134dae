package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/habridge-core/internal/infrastructure/metrics"
	"github.com/nerrad567/habridge-core/internal/store"
)

// DefaultCheckInterval is how often the task store is swept for due tasks.
const DefaultCheckInterval = 30 * time.Second

// Action kinds.
const (
	ActionServiceCall       = "service_call"
	ActionAutomationTrigger = "automation_trigger"
	// ActionHAAutomation is accepted as an alias of ActionAutomationTrigger.
	ActionHAAutomation = "ha_automation"
)

// Run results recorded for a task.
const (
	ResultOK       = "OK"
	maxErrorLength = 200
)

// Logger defines the logging interface used by the Scheduler.
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

// TaskStore is the task persistence the scheduler needs.
// *store.Store satisfies it.
type TaskStore interface {
	DueTasks(ctx context.Context, now time.Time) ([]store.Task, error)
	DisableTask(ctx context.Context, id int64) error
	RecordRun(ctx context.Context, id int64, ranAt, nextRun time.Time, result string) error
}

// ServiceCaller executes hub services. *rest.Client satisfies it.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// Run is the outcome of one task execution.
type Run struct {
	TaskID   int64     `json:"task_id"`
	UserID   int64     `json:"user_id"`
	Name     string    `json:"name"`
	Action   string    `json:"action_type"`
	Result   string    `json:"result"`
	OK       bool      `json:"ok"`
	Disabled bool      `json:"disabled"`
	RanAt    time.Time `json:"ran_at"`
	NextRun  time.Time `json:"next_run,omitempty"`
}

// Publisher receives every task run after it has been recorded.
type Publisher interface {
	PublishTaskRun(ctx context.Context, r Run) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, r Run) error

// PublishTaskRun calls fn.
func (fn PublisherFunc) PublishTaskRun(ctx context.Context, r Run) error {
	return fn(ctx, r)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics counts task runs.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithInterval sets the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPublisher adds a publisher for task runs.
func WithPublisher(p Publisher) Option {
	return func(s *Scheduler) { s.publishers = append(s.publishers, p) }
}

// Scheduler executes due tasks.
type Scheduler struct {
	tasks      TaskStore
	caller     ServiceCaller
	publishers []Publisher
	logger     Logger
	metrics    *metrics.Metrics
	interval   time.Duration
	now        func() time.Time

	// sweepMu serialises sweeps so a task is never dispatched twice.
	sweepMu sync.Mutex

	runMu   sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	initial sync.WaitGroup
}

// New creates a scheduler.
func New(tasks TaskStore, caller ServiceCaller, opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:    tasks,
		caller:   caller,
		logger:   noopLogger{},
		interval: DefaultCheckInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start sweeps once immediately and then every interval until Stop is
// called or ctx is cancelled. Starting a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cron != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	clog := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		s.Sweep(ctx, s.now())
	}))
	c.Start()
	s.cron, s.cancel = c, cancel

	s.initial.Go(func() { s.Sweep(ctx, s.now()) })
	s.logger.Info("scheduler started", "interval", s.interval.String())
}

// Stop cancels any sweep in progress and waits for it to return.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.runMu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.initial.Wait()
	s.logger.Info("scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

// Sweep executes every task due at now, one after another, and returns the
// runs it recorded. Each task's next run is recomputed relative to now; a
// task whose expression no longer yields a next run is disabled.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) []Run {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	due, err := s.tasks.DueTasks(ctx, now)
	if err != nil {
		s.logger.Error("loading due tasks failed", "error", err)
		return nil
	}

	var runs []Run
	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		runs = append(runs, s.runTask(ctx, t, now))
	}
	return runs
}

func (s *Scheduler) runTask(ctx context.Context, t store.Task, now time.Time) Run {
	s.logger.Info("executing task", "task_id", t.ID, "name", t.Name, "action_type", t.ActionType)

	result := s.Execute(ctx, t)
	r := Run{
		TaskID: t.ID,
		UserID: t.UserID,
		Name:   t.Name,
		Action: t.ActionType,
		Result: result,
		OK:     result == ResultOK,
		RanAt:  now,
	}

	r.NextRun = NextRun(t.CronExpr, now)
	if r.NextRun.IsZero() {
		r.Result = fmt.Sprintf("DISABLED (invalid cron: %s)", t.CronExpr)
		r.Disabled = true
		if err := s.tasks.DisableTask(ctx, t.ID); err != nil {
			s.logger.Error("disabling task failed", "task_id", t.ID, "error", err)
		}
		s.logger.Warn("task disabled", "task_id", t.ID, "cron", t.CronExpr)
	}

	if err := s.tasks.RecordRun(ctx, t.ID, now, r.NextRun, r.Result); err != nil {
		s.logger.Error("recording task run failed", "task_id", t.ID, "error", err)
	}

	switch {
	case r.Disabled:
		s.metrics.TaskRun("disabled")
	case r.OK:
		s.metrics.TaskRun("ok")
	default:
		s.metrics.TaskRun("error")
		s.logger.Warn("task failed", "task_id", t.ID, "result", r.Result)
	}

	for _, p := range s.publishers {
		if err := p.PublishTaskRun(ctx, r); err != nil {
			s.logger.Warn("publishing task run failed", "task_id", t.ID, "error", err)
		}
	}
	return r
}

// Execute performs a task's action and returns the result text: "OK" or a
// message starting with "ERROR: ".
func (s *Scheduler) Execute(ctx context.Context, t store.Task) string {
	switch t.ActionType {
	case ActionServiceCall:
		domain, _ := t.Payload["domain"].(string)
		service, _ := t.Payload["service"].(string)
		if domain == "" || service == "" {
			return "ERROR: missing domain/service"
		}
		data, _ := t.Payload["data"].(map[string]any)
		return errorResult(s.caller.CallService(ctx, domain, service, data))

	case ActionAutomationTrigger, ActionHAAutomation:
		entityID, _ := t.Payload["entity_id"].(string)
		if entityID == "" {
			return "ERROR: missing entity_id"
		}
		return errorResult(s.caller.CallService(ctx, "automation", "trigger",
			map[string]any{"entity_id": entityID}))

	default:
		return fmt.Sprintf("ERROR: unknown action_type '%s'", t.ActionType)
	}
}

func errorResult(err error) string {
	if err == nil {
		return ResultOK
	}
	return "ERROR: " + truncate(err.Error(), maxErrorLength)
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	l Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
