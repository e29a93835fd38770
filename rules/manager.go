package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/entitykit/entitykit/pkg/logger"
	"github.com/entitykit/entitykit/props"
)

// DefaultMaxCascadeRuns caps how many rule runs a single cascade may
// schedule before it is aborted with ErrCascadeOverflow.
const DefaultMaxCascadeRuns = 100

var (
	// ErrCascadeOverflow is returned when a cascade schedules more runs than
	// the manager allows. It usually means rules keep rewriting each other's
	// trigger properties with fresh values.
	ErrCascadeOverflow = errors.New("rule cascade exceeded max runs")

	// ErrDuplicateRule is returned when a rule with the same ID was already
	// added to the manager.
	ErrDuplicateRule = errors.New("duplicate rule")
)

// PauseMode selects what happens to property writes made while the manager
// is paused.
type PauseMode int

const (
	// DiscardTriggers drops the triggers of writes made while paused. Used
	// when loading stored state that is already consistent.
	DiscardTriggers PauseMode = iota

	// DeferTriggers collects the properties written while paused and runs
	// their rules once on resume. Used to batch bulk edits.
	DeferTriggers
)

// ResumeFunc resumes a paused Manager. It is safe to call more than once;
// only the first call has an effect.
type ResumeFunc func(ctx context.Context) error

type ruleRunKey struct{}

func withRuleRun(ctx context.Context, idx int) context.Context {
	return context.WithValue(ctx, ruleRunKey{}, idx)
}

func ruleRunFrom(ctx context.Context) (int, bool) {
	idx, ok := ctx.Value(ruleRunKey{}).(int)

	return idx, ok
}

type boundRule struct {
	rule Rule
	idx  int
}

type queuedRun struct {
	idx     int
	trigger string
}

type asyncRun struct {
	cancel   context.CancelFunc
	triggers []string
}

// Manager owns the rules of a single entity. It schedules rules when their
// trigger properties change, runs sync rules to completion on the writing
// goroutine, runs async rules on their own goroutines with supersede
// cancellation, and folds the resulting messages into entity validity.
//
// A cascade is the set of runs scheduled by one initial write, including
// runs scheduled by writes the rules themselves make. The cascade runs on
// the goroutine that made the initial write; writes arriving from other
// goroutines while a cascade is active fold into it and return immediately.
// Rule errors surface to the write that started the cascade.
type Manager struct {
	lggr   logger.Logger
	rec    Recorder
	target any

	maxCascadeRuns int
	onMeta         func()

	mu        sync.Mutex
	rules     []*boundRule
	byID      map[string]int
	byTrigger map[string][]int

	msgs map[int][]Message

	busy     map[string]int
	busyAll  int
	inflight map[int]*asyncRun

	draining      bool
	queue         []queuedRun
	runsInCascade int

	pauseDepth int
	pauseMode  PauseMode
	deferred   props.NameSet

	waiters []chan struct{}
}

// ManagerOption is a functional option for configuring a Manager.
type ManagerOption func(*Manager)

// WithRecorder sets the recorder that receives a Record for every rule run.
func WithRecorder(rec Recorder) ManagerOption {
	return func(m *Manager) {
		m.rec = rec
	}
}

// WithMaxCascadeRuns overrides DefaultMaxCascadeRuns. A value of 0 disables
// the cap.
func WithMaxCascadeRuns(n int) ManagerOption {
	return func(m *Manager) {
		m.maxCascadeRuns = n
	}
}

// WithMetaChanged sets a callback invoked after a cascade or an async
// completion that may have changed messages or busy state. The callback runs
// without the manager lock held.
func WithMetaChanged(fn func()) ManagerOption {
	return func(m *Manager) {
		m.onMeta = fn
	}
}

// NewManager creates a Manager for the target entity.
func NewManager(target any, lggr logger.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		lggr:           lggr,
		target:         target,
		maxCascadeRuns: DefaultMaxCascadeRuns,
		byID:           make(map[string]int),
		byTrigger:      make(map[string][]int),
		msgs:           make(map[int][]Message),
		busy:           make(map[string]int),
		inflight:       make(map[int]*asyncRun),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// AddRule registers a rule with the manager. Rules run in registration
// order when a property triggers more than one.
func (m *Manager) AddRule(r Rule) error {
	def := r.Def()
	if def.ID == "" {
		return errors.New("rule ID must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[def.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, def.ID)
	}

	idx := len(m.rules)
	m.rules = append(m.rules, &boundRule{rule: r, idx: idx})
	m.byID[def.ID] = idx
	for _, trigger := range r.Triggers() {
		m.byTrigger[trigger] = append(m.byTrigger[trigger], idx)
	}

	return nil
}

// Rules returns the registered rules in registration order.
func (m *Manager) Rules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := make([]Rule, len(m.rules))
	for i, br := range m.rules {
		rs[i] = br.rule
	}

	return rs
}

// PropertyChanged schedules and runs the rules triggered by a write to the
// named property. While the manager is paused the trigger is deferred or
// discarded according to the pause mode.
func (m *Manager) PropertyChanged(ctx context.Context, name string) error {
	m.mu.Lock()

	if m.pauseDepth > 0 {
		if m.pauseMode == DeferTriggers {
			m.deferred.Add(name)
		}
		m.mu.Unlock()

		return nil
	}

	m.enqueueLocked(ctx, name)

	return m.drainLocked(ctx)
}

// RunRules runs the rules triggered by the named properties, regardless of
// pause state.
func (m *Manager) RunRules(ctx context.Context, names ...string) error {
	m.mu.Lock()

	for _, name := range names {
		m.enqueueLocked(ctx, name)
	}

	return m.drainLocked(ctx)
}

// RunAllRules runs every registered rule once, regardless of pause state.
func (m *Manager) RunAllRules(ctx context.Context) error {
	m.mu.Lock()

	for _, br := range m.rules {
		if !m.queuedLocked(br.idx) {
			m.queue = append(m.queue, queuedRun{idx: br.idx})
		}
	}

	return m.drainLocked(ctx)
}

// Pause suspends rule scheduling until the returned ResumeFunc is called.
// Pauses nest; rules stay suspended until every pause is resumed. Nested
// pauses inherit the mode of the outermost pause.
func (m *Manager) Pause(mode PauseMode) ResumeFunc {
	m.mu.Lock()
	if m.pauseDepth == 0 {
		m.pauseMode = mode
		m.deferred = props.NewNameSet()
	}
	m.pauseDepth++
	m.mu.Unlock()

	var once sync.Once

	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			err = m.resume(ctx)
		})

		return err
	}
}

func (m *Manager) resume(ctx context.Context) error {
	m.mu.Lock()

	if m.pauseDepth == 0 {
		m.mu.Unlock()

		return nil
	}

	m.pauseDepth--
	if m.pauseDepth > 0 {
		m.mu.Unlock()

		return nil
	}

	if m.pauseMode == DiscardTriggers || m.deferred.IsEmpty() {
		m.deferred = props.NewNameSet()
		m.mu.Unlock()

		return nil
	}

	names := m.deferred.List()
	m.deferred = props.NewNameSet()
	for _, name := range names {
		m.enqueueLocked(ctx, name)
	}

	return m.drainLocked(ctx)
}

// IsPaused reports whether the manager is currently paused.
func (m *Manager) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pauseDepth > 0
}

// IsBusy reports whether any rule run is in flight or queued.
func (m *Manager) IsBusy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.busyAll > 0 || m.draining || len(m.queue) > 0
}

// PropertyIsBusy reports whether an async rule triggered by the named
// property is in flight.
func (m *Manager) PropertyIsBusy(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.busy[name] > 0
}

// WaitForRules blocks until no rule run is in flight or queued, or the
// context is done. It must not be called from inside a rule handler.
func (m *Manager) WaitForRules(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.quiescentLocked() {
			m.mu.Unlock()

			return nil
		}

		ch := make(chan struct{})
		m.waiters = append(m.waiters, ch)
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Messages returns the messages of every rule's most recent run, in rule
// registration order.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Message
	for _, br := range m.rules {
		out = append(out, m.msgs[br.idx]...)
	}

	return out
}

// PropertyMessages returns the current messages attached to the named
// property.
func (m *Manager) PropertyMessages(name string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Message
	for _, br := range m.rules {
		for _, msg := range m.msgs[br.idx] {
			if msg.Property == name {
				out = append(out, msg)
			}
		}
	}

	return out
}

// IsValid reports whether no rule currently reports an error message.
func (m *Manager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msgs := range m.msgs {
		for _, msg := range msgs {
			if msg.Severity == SeverityError {
				return false
			}
		}
	}

	return true
}

// enqueueLocked schedules the rules triggered by a write to name. A rule
// does not reschedule itself from its own writes; the context carries the
// identity of the rule that made the write.
func (m *Manager) enqueueLocked(ctx context.Context, name string) {
	fromRule, fromOK := ruleRunFrom(ctx)
	for _, idx := range m.byTrigger[name] {
		if fromOK && idx == fromRule {
			continue
		}
		if m.queuedLocked(idx) {
			continue
		}
		m.queue = append(m.queue, queuedRun{idx: idx, trigger: name})
	}
}

func (m *Manager) queuedLocked(idx int) bool {
	for _, q := range m.queue {
		if q.idx == idx {
			return true
		}
	}

	return false
}

// drainLocked runs queued rules until the queue is empty. The caller must
// hold mu; drainLocked releases it before returning. If another cascade is
// already draining, the queued runs are left for it and drainLocked returns
// immediately.
func (m *Manager) drainLocked(ctx context.Context) error {
	if m.draining || len(m.queue) == 0 {
		m.mu.Unlock()

		return nil
	}

	m.draining = true
	m.runsInCascade = 0

	var errs []error
	var dirty bool

	for len(m.queue) > 0 {
		q := m.queue[0]
		m.queue = m.queue[1:]
		br := m.rules[q.idx]

		m.runsInCascade++
		if m.maxCascadeRuns > 0 && m.runsInCascade > m.maxCascadeRuns {
			m.queue = nil
			errs = append(errs, fmt.Errorf("%w: %d runs, last scheduled rule %s",
				ErrCascadeOverflow, m.runsInCascade, br.rule.Def().ID))

			break
		}

		if br.rule.Async() {
			m.startAsyncLocked(ctx, q)
			dirty = true

			continue
		}

		m.mu.Unlock()
		res, err := m.runRule(ctx, br, q.trigger, false)
		m.mu.Lock()

		m.applyOutcomeLocked(br, q.trigger, res, err)
		dirty = true
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", br.rule.Def().ID, err))
		}
	}

	m.draining = false
	m.notifyQuiescentLocked()
	m.mu.Unlock()

	if dirty {
		m.signalMeta()
	}

	return errors.Join(errs...)
}

// startAsyncLocked launches an async rule run. A newer run of the same rule
// supersedes an in-flight one: the older run is canceled and its outcome is
// discarded. The rule's trigger properties report busy until the run
// completes.
func (m *Manager) startAsyncLocked(ctx context.Context, q queuedRun) {
	br := m.rules[q.idx]

	if prev, ok := m.inflight[q.idx]; ok {
		prev.cancel()
	}

	runCtx, cancel := context.WithCancel(ctx)
	ar := &asyncRun{cancel: cancel, triggers: br.rule.Triggers()}
	m.inflight[q.idx] = ar

	for _, p := range ar.triggers {
		m.busy[p]++
	}
	m.busyAll++

	go func() {
		res, err := m.runRule(runCtx, br, q.trigger, true)
		cancel()
		m.completeAsync(q, ar, res, err)
	}()
}

func (m *Manager) completeAsync(q queuedRun, ar *asyncRun, res Result, err error) {
	br := m.rules[q.idx]

	m.mu.Lock()

	for _, p := range ar.triggers {
		m.busy[p]--
		if m.busy[p] <= 0 {
			delete(m.busy, p)
		}
	}
	m.busyAll--

	superseded := m.inflight[q.idx] != ar
	if !superseded {
		delete(m.inflight, q.idx)
		m.applyOutcomeLocked(br, q.trigger, res, err)
	}

	m.notifyQuiescentLocked()
	m.mu.Unlock()

	if err != nil && !superseded {
		m.lggr.Errorw("Async rule failed", "rule", br.rule.Def().ID, "trigger", q.trigger, "error", err)
	}

	m.signalMeta()
}

// applyOutcomeLocked replaces the rule's messages with the outcome of its
// latest run. A handler error becomes an error message on the trigger
// property so the entity reads invalid until the rule succeeds.
func (m *Manager) applyOutcomeLocked(br *boundRule, trigger string, res Result, err error) {
	if err != nil {
		m.msgs[br.idx] = []Message{{
			Property: m.errProperty(br, trigger),
			Text:     err.Error(),
			Severity: SeverityError,
		}}

		return
	}

	if len(res.Messages) == 0 {
		delete(m.msgs, br.idx)

		return
	}

	m.msgs[br.idx] = res.Messages
}

func (m *Manager) errProperty(br *boundRule, trigger string) string {
	if trigger != "" {
		return trigger
	}
	if triggers := br.rule.Triggers(); len(triggers) > 0 {
		return triggers[0]
	}

	return ""
}

// runRule executes a single rule, retrying per its policy, and records the
// run.
func (m *Manager) runRule(ctx context.Context, br *boundRule, trigger string, async bool) (Result, error) {
	def := br.rule.Def()
	m.lggr.Debugw("Executing rule",
		"id", def.ID, "version", def.Version, "trigger", trigger, "async", async)

	runCtx := withRuleRun(ctx, br.idx)
	start := time.Now()

	var res Result
	var err error

	if policy, ok := retryPolicyOf(br.rule); ok {
		retryOpts := policy.options()
		retryOpts = append(retryOpts, retry.Context(ctx))
		retryOpts = append(retryOpts, retry.OnRetry(func(attempt uint, err error) {
			m.lggr.Infow("Rule failed. Retrying...",
				"rule", def.ID, "attempt", attempt, "error", err)
		}))

		res, err = retry.DoWithData(
			func() (Result, error) {
				return br.rule.Execute(runCtx, m.target)
			},
			retryOpts...,
		)
	} else {
		res, err = br.rule.Execute(runCtx, m.target)
	}

	if m.rec != nil {
		if recErr := m.rec.AddRecord(NewRecord(def, trigger, async, time.Since(start), err)); recErr != nil {
			m.lggr.Errorw("Failed to add rule record", "rule", def.ID, "error", recErr)
		}
	}

	return res, err
}

func retryPolicyOf(r Rule) (RetryPolicy, bool) {
	rt, ok := r.(Retryable)
	if !ok {
		return RetryPolicy{}, false
	}

	policy := rt.RetryPolicy()

	return policy, policy.MaxAttempts > 1
}

func (m *Manager) quiescentLocked() bool {
	return !m.draining && len(m.queue) == 0 && m.busyAll == 0 && len(m.inflight) == 0
}

func (m *Manager) notifyQuiescentLocked() {
	if !m.quiescentLocked() {
		return
	}

	for _, ch := range m.waiters {
		close(ch)
	}
	m.waiters = nil
}

func (m *Manager) signalMeta() {
	if m.onMeta != nil {
		m.onMeta()
	}
}
