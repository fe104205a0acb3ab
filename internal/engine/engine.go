package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/rosterd/internal/address"
	"github.com/roach88/rosterd/internal/change"
	"github.com/roach88/rosterd/internal/clock"
	"github.com/roach88/rosterd/internal/provider"
	"github.com/roach88/rosterd/internal/reconcile"
	"github.com/roach88/rosterd/internal/self"
)

// Engine is the single-writer event loop.
//
// Thread-safety model:
//   - Enqueue(), QueueLen(), Stop() and Totals(): safe from any goroutine
//   - Run(), Drain(), Tick() and Flush(): from exactly one goroutine
type Engine struct {
	rec       *reconcile.Reconciler
	clock     clock.Clock
	queue     *eventQueue
	coalescer *Coalescer
	accounts  map[string]*accountEntry
	timer     clock.Timer
	log       *slog.Logger

	mu     sync.Mutex
	totals Totals
}

// Totals counts the writes the engine has made since it started.
type Totals struct {
	Events   int `json:"events"`
	Saved    int `json:"saved"`
	Rejected int `json:"rejected"`
	Removed  int `json:"removed"`
	Errors   int `json:"errors"`
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock sets the clock driving the coalescer timer.
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithCoalescing sets the debounce interval and the maximum time a contact
// update may wait before it is written.
func WithCoalescing(debounce, maxWait time.Duration) EngineOption {
	return func(e *Engine) {
		e.coalescer = NewCoalescer(debounce, maxWait)
	}
}

// New creates an Engine writing through rec.
func New(rec *reconcile.Reconciler, opts ...EngineOption) *Engine {
	e := &Engine{
		rec:       rec,
		clock:     clock.Real{},
		queue:     newEventQueue(),
		coalescer: NewCoalescer(DefaultDebounce, DefaultMaxWait),
		accounts:  make(map[string]*accountEntry),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue submits an event for processing. Returns false if the engine
// has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// QueueLen returns the number of events waiting to be processed.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run processes events and coalescer deadlines until ctx is cancelled or
// Stop is called. Pending contact updates are flushed before it returns.
//
// An event that fails is logged with its context and processing continues
// with the next event.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine starting")

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.step(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.log.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.flush(context.WithoutCancel(ctx))
			return ctx.Err()

		case <-e.timerC():
			e.flush(ctx)

		case <-e.queue.Wait():
			// The signal channel is closed with the queue.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.log.Info("engine stopping: queue closed")
				e.flush(ctx)
				return nil
			}
		}
	}
}

// Stop closes the event queue. Run drains what is queued and returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Drain processes every queued event, including events enqueued while
// draining, without waiting for coalescer deadlines. A batch whose
// deadline has already passed is flushed between events.
func (e *Engine) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return nil
		}
		e.step(ctx, ev)
	}
}

// Tick flushes pending contact updates if their deadline has passed on
// the engine's clock. Reports whether it flushed.
func (e *Engine) Tick(ctx context.Context) bool {
	if !e.coalescer.Due(e.clock.Now()) {
		return false
	}
	e.flush(ctx)
	return true
}

// Flush writes pending contact updates immediately.
func (e *Engine) Flush(ctx context.Context) {
	e.flush(ctx)
}

// Pending returns the number of buffered contact updates.
func (e *Engine) Pending() int {
	return e.coalescer.Pending()
}

// State returns the lifecycle state of the account at path.
func (e *Engine) State(path string) AccountState {
	if entry, ok := e.accounts[path]; ok {
		return entry.state
	}
	return StateUnknown
}

// Account returns the engine's current model of the account at path.
func (e *Engine) Account(path string) (provider.Account, bool) {
	entry, ok := e.accounts[path]
	if !ok {
		return provider.Account{}, false
	}
	return entry.account, true
}

// Totals returns write counts accumulated so far.
func (e *Engine) Totals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totals
}

func (e *Engine) timerC() <-chan time.Time {
	if e.timer == nil {
		return nil
	}
	return e.timer.C()
}

// step handles one event, then flushes the coalescer if its deadline
// passed meanwhile. A steady backlog never reaches the timer select in
// Run, so the deadline is checked here too.
func (e *Engine) step(ctx context.Context, ev Event) {
	e.handle(ctx, ev)
	e.Tick(ctx)
}

func (e *Engine) handle(ctx context.Context, ev Event) {
	e.count(func(t *Totals) { t.Events++ })
	if err := e.processEvent(ctx, ev); err != nil {
		e.count(func(t *Totals) { t.Errors++ })
		logEventError(e.log, ev, err)
	}
}

// processEvent routes an event to its handler. Called only from the
// goroutine that owns the engine.
func (e *Engine) processEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventSync:
		return e.processSync(ctx, ev.Accounts)
	case EventAccountAdded:
		return e.processAccountAdded(ctx, ev.Account)
	case EventAccountReady:
		return e.processAccountReady(ctx, ev)
	case EventAccountRemoved:
		return e.processAccountRemoved(ctx, ev.Path)
	}

	entry, ok := e.accounts[ev.Path]
	if !ok {
		return NewAccountNotFoundError(ev.Type, ev.Path)
	}
	if entry.state == StateCreating {
		e.log.Debug("deferring event until account is ready",
			"event", ev.Type, "account", ev.Path)
		entry.deferred = append(entry.deferred, ev)
		return nil
	}

	switch ev.Type {
	case EventContactChanged:
		return e.processContactChanged(entry, ev)

	case EventAccountUpdated:
		entry.setAccount(ev.Account)
		entry.state = StateUpdating
		res, err := e.rec.UpdateAccount(ctx, entry.account, ev.AccountChanges)
		entry.state = StateReady
		e.record(res)
		if len(res.Deferred) > 0 {
			entry.state = StateCreating
		}
		return e.wrap(ev, err)

	case EventRosterAdded:
		ids := make([]string, 0, len(ev.Contacts))
		for _, c := range ev.Contacts {
			entry.upsertContact(c)
			ids = append(ids, c.ID)
		}
		res, err := e.rec.SyncRoster(ctx, entry.account, ids, nil)
		e.record(res)
		return e.wrap(ev, err)

	case EventRosterRemoved:
		entry.removeContacts(ev.IDs...)
		res, err := e.rec.SyncRoster(ctx, entry.account, nil, ev.IDs)
		e.record(res)
		return e.wrap(ev, err)

	case EventRosterReplaced:
		entry.account = ev.Account
		res, err := e.rec.SyncAccount(ctx, entry.account)
		e.record(res)
		return e.wrap(ev, err)

	case EventContactsCreated:
		res, err := e.rec.CreateAccountContacts(ctx, entry.account, ev.IDs)
		e.record(res)
		return e.wrap(ev, err)

	case EventContactsRemoved:
		res, err := e.rec.RemoveAccountContacts(ctx, entry.account, ev.IDs)
		e.record(res)
		return e.wrap(ev, err)
	}
	return &RuntimeError{Code: ErrCodeStore, Message: "unknown event type", Event: ev.Type, Account: ev.Path}
}

func (e *Engine) processContactChanged(entry *accountEntry, ev Event) error {
	if ev.Mask.Has(change.Deleted) {
		entry.removeContacts(ev.Contact.ID)
	} else {
		entry.upsertContact(ev.Contact)
	}
	update := reconcile.Update{
		Address: address.Resolve(ev.Path, ev.Contact.ID),
		Mask:    ev.Mask,
	}
	delay, arm := e.coalescer.Notify(update, e.clock.Now())
	if arm {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.timer = e.clock.NewTimer(delay)
	}
	return nil
}

func (e *Engine) processSync(ctx context.Context, accounts []provider.Account) error {
	res, err := e.rec.SyncAccounts(ctx, accounts)
	e.record(res)
	if err != nil {
		return e.wrap(Event{Type: EventSync}, err)
	}

	deferred := map[string]bool{}
	for _, path := range res.Deferred {
		deferred[path] = true
	}
	listed := map[string]bool{}
	var ready []*accountEntry
	for _, acct := range accounts {
		listed[acct.Path] = true
		entry, ok := e.accounts[acct.Path]
		if !ok {
			entry = &accountEntry{}
			e.accounts[acct.Path] = entry
		}
		entry.account = acct
		if deferred[acct.Path] {
			entry.state = StateCreating
			continue
		}
		if entry.state == StateCreating {
			ready = append(ready, entry)
		}
		entry.state = StateReady
	}
	for _, path := range e.paths() {
		if !listed[path] {
			e.forget(path)
		}
	}
	for _, entry := range ready {
		e.replayDeferred(ctx, entry)
	}
	return nil
}

func (e *Engine) processAccountAdded(ctx context.Context, acct provider.Account) error {
	entry, known := e.accounts[acct.Path]
	var dup error
	switch {
	case !known:
		entry = &accountEntry{state: StateCreating}
		e.accounts[acct.Path] = entry
	case entry.state != StateCreating:
		dup = NewAccountExistsError(acct.Path)
	}
	entry.account = acct
	if !acct.Ready {
		entry.state = StateCreating
		return dup
	}
	return errors.Join(dup, e.becomeReady(ctx, entry))
}

func (e *Engine) processAccountReady(ctx context.Context, ev Event) error {
	entry, ok := e.accounts[ev.Path]
	if !ok {
		return NewAccountNotFoundError(EventAccountReady, ev.Path)
	}
	if entry.state != StateCreating {
		e.log.Debug("account already ready", "account", ev.Path)
		return nil
	}
	if ev.Account.Path == ev.Path {
		entry.account = ev.Account
	}
	entry.account.Ready = true
	return e.becomeReady(ctx, entry)
}

// becomeReady writes a newly usable account and replays the events that
// were deferred while it was being created.
func (e *Engine) becomeReady(ctx context.Context, entry *accountEntry) error {
	res, err := e.rec.CreateAccount(ctx, entry.account)
	e.record(res)
	if err != nil {
		return e.wrap(Event{Type: EventAccountReady, Path: entry.account.Path}, err)
	}
	entry.state = StateReady
	e.replayDeferred(ctx, entry)
	return nil
}

func (e *Engine) replayDeferred(ctx context.Context, entry *accountEntry) {
	deferred := entry.deferred
	entry.deferred = nil
	if len(deferred) > 0 {
		e.log.Debug("replaying deferred events",
			"account", entry.account.Path, "count", len(deferred))
	}
	for _, ev := range deferred {
		e.handle(ctx, ev)
	}
}

func (e *Engine) processAccountRemoved(ctx context.Context, path string) error {
	entry, ok := e.accounts[path]
	if !ok {
		return NewAccountNotFoundError(EventAccountRemoved, path)
	}
	wasCreating := entry.state == StateCreating
	entry.state = StateRemoved
	e.forget(path)

	res, err := e.rec.RemoveAccount(ctx, path)
	e.record(res)
	// An account that never became ready usually has nothing stored.
	if wasCreating && errors.Is(err, reconcile.ErrAccountNotFound) {
		return nil
	}
	return e.wrap(Event{Type: EventAccountRemoved, Path: path}, err)
}

// forget drops the engine's model of an account and its buffered updates.
func (e *Engine) forget(path string) {
	if n := e.coalescer.Cancel(path); n > 0 {
		e.log.Debug("dropped pending contact updates", "account", path, "count", n)
	}
	if e.coalescer.Pending() == 0 && e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	delete(e.accounts, path)
}

func (e *Engine) flush(ctx context.Context) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	updates := e.coalescer.Flush()
	if len(updates) == 0 {
		return
	}
	res, err := e.rec.UpdateContacts(ctx, e, updates)
	e.record(res)
	if err != nil {
		e.count(func(t *Totals) { t.Errors++ })
		e.log.Error("contact update failed", "count", len(updates), "error", err)
		return
	}
	e.log.Debug("flushed contact updates",
		"count", len(updates), "saved", res.Saved, "removed", res.Removed)
}

func (e *Engine) paths() []string {
	out := make([]string, 0, len(e.accounts))
	for path := range e.accounts {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) record(res reconcile.Result) {
	e.count(func(t *Totals) {
		t.Saved += res.Saved
		t.Rejected += res.Rejected
		t.Removed += res.Removed
	})
}

func (e *Engine) count(fn func(*Totals)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.totals)
}

// wrap classifies a reconciler error.
func (e *Engine) wrap(ev Event, err error) error {
	if err == nil {
		return nil
	}
	re := &RuntimeError{Event: ev.Type, Account: ev.Path, Err: err}
	switch {
	case errors.Is(err, self.ErrUnavailable):
		re.Code, re.Message = ErrCodeSelfUnavailable, "self record unavailable"
	case errors.Is(err, reconcile.ErrAccountNotFound):
		re.Code, re.Message = ErrCodeAccountNotFound, "account not known to the self record"
	case errors.Is(err, reconcile.ErrWrongAccount):
		re.Code, re.Message = ErrCodeWrongAccount, "contact belongs to another account"
	default:
		re.Code, re.Message = ErrCodeStore, "store operation failed"
	}
	return re
}

// logEventError logs a failed event with enough context to replay it by
// hand.
func logEventError(log *slog.Logger, ev Event, err error) {
	attrs := []any{"error", err, "event", ev.Type}
	if ev.Path != "" {
		attrs = append(attrs, "account", ev.Path)
	}
	switch ev.Type {
	case EventContactChanged:
		attrs = append(attrs, "contact", ev.Contact.ID, "mask", ev.Mask)
	case EventAccountUpdated:
		attrs = append(attrs, "changes", ev.AccountChanges)
	case EventRosterRemoved, EventContactsCreated, EventContactsRemoved:
		attrs = append(attrs, "ids", ev.IDs)
	case EventSync:
		attrs = append(attrs, "accounts", len(ev.Accounts))
	}
	log.Error("event processing failed", attrs...)
}
