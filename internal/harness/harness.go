package harness

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/roach88/rosterd/internal/app"
	"github.com/roach88/rosterd/internal/config"
	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/engine"
	"github.com/roach88/rosterd/internal/feed"
	"github.com/roach88/rosterd/internal/provider"
	"github.com/roach88/rosterd/internal/store"
	"github.com/roach88/rosterd/internal/testutil"
)

// Harness executes one scenario against a fresh engine.
type Harness struct {
	app      *app.App
	clock    *testutil.FakeClock
	logs     *bytes.Buffer
	scenario *Scenario
	config   config.Config

	current provider.Snapshot
	loaded  bool
	fatal   []string
}

// Run executes a scenario on a fresh in-memory store and evaluates its
// assertions. Setup failures return an error; failed assertions are
// reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.app.Close()

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Kind(), err)
		}
	}

	result, err := h.capture(ctx)
	if err != nil {
		return nil, err
	}
	for _, msg := range h.fatal {
		result.AddError("fatal: " + msg)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(s *Scenario) (*Harness, error) {
	cfg := config.Default()
	cfg.Store.Path = ":memory:"
	cfg.Store.AutoAggregate = s.AutoAggregate
	if s.Debounce > 0 {
		cfg.Sync.Debounce = s.Debounce
	}
	if s.MaxWait > 0 {
		cfg.Sync.MaxWait = s.MaxWait
	}
	if s.BatchSize > 0 {
		cfg.Sync.BatchSize = s.BatchSize
	}
	if s.LegacyOnline != nil {
		cfg.Sync.LegacyOnlineProtocols = s.LegacyOnline
	}

	h := &Harness{
		clock:    testutil.NewFakeClock(),
		logs:     &bytes.Buffer{},
		scenario: s,
		config:   cfg,
	}
	// Timestamps are dropped so the log is stable across runs.
	log := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	}))

	a, err := app.Open(cfg,
		app.WithClock(h.clock),
		app.WithIDGenerator(testutil.NewSequenceGenerator("id")),
		app.WithLogger(log),
		app.WithFatal(func(err error) { h.fatal = append(h.fatal, err.Error()) }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	h.app = a
	return h, nil
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	eng := h.app.Engine
	switch {
	case step.Snapshot != nil:
		h.apply(*step.Snapshot)

	case step.SnapshotFile != "":
		path := step.SnapshotFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(h.scenario.BaseDir, path)
		}
		snap, err := feed.Load(path)
		if err != nil {
			return err
		}
		h.apply(snap)

	case step.Change != nil:
		if err := h.change(*step.Change); err != nil {
			return err
		}

	case step.Advance > 0:
		h.clock.Advance(step.Advance)
		eng.Tick(ctx)

	case step.Flush:
		eng.Flush(ctx)
	}
	return eng.Drain(ctx)
}

// apply enqueues what changed from the current snapshot to next.
func (h *Harness) apply(next provider.Snapshot) {
	var events []engine.Event
	if h.loaded {
		events = feed.Changes(h.current, next)
	} else {
		events = []engine.Event{engine.Sync(next.Accounts)}
	}
	for _, ev := range events {
		h.app.Engine.Enqueue(ev)
	}
	h.current = next
	h.loaded = true
}

func (h *Harness) change(c ContactChange) error {
	idx := slices.IndexFunc(h.current.Accounts, func(a provider.Account) bool { return a.Path == c.Account })
	if idx < 0 {
		return fmt.Errorf("account %s is not in the current snapshot", c.Account)
	}
	acct := &h.current.Accounts[idx]

	mask := c.Mask
	i := slices.IndexFunc(acct.Contacts, func(pc provider.Contact) bool { return pc.ID == c.Contact.ID })
	if i < 0 {
		return fmt.Errorf("contact %s is not in account %s", c.Contact.ID, c.Account)
	}
	if mask.Empty() {
		mask = feed.ContactChanges(acct.Contacts[i], c.Contact)
	}
	// Keep the model in step so later snapshots diff against it.
	acct.Contacts = slices.Clone(acct.Contacts)
	acct.Contacts[i] = c.Contact

	if mask.Empty() {
		return nil
	}
	h.app.Engine.Enqueue(engine.ContactChanged(c.Account, c.Contact, mask))
	return nil
}

// capture reads the records the engine wrote.
func (h *Harness) capture(ctx context.Context) (*Result, error) {
	st := h.app.Store
	selfRec, err := h.app.Self.Record(ctx)
	if err != nil {
		return nil, fmt.Errorf("read self contact: %w", err)
	}

	ids, err := st.FindIDs(ctx, store.Filter{SyncTarget: h.config.Sync.SyncTarget})
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	ids = slices.DeleteFunc(ids, func(id contact.ID) bool { return id == selfRec.ID })
	recs, err := st.Contacts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("read contacts: %w", err)
	}
	slices.SortFunc(recs, func(a, b contact.Record) int {
		return cmp.Compare(origin(a), origin(b))
	})

	result := NewResult()
	result.Contacts = recs
	result.Self = selfRec
	result.Totals = h.app.Engine.Totals()
	result.Log = h.logs.String()
	return result, nil
}

func origin(r contact.Record) string {
	if r.Origin == nil {
		return ""
	}
	return r.Origin.ID
}
