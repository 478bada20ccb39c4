package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reqgate/internal/logging"
	"github.com/fyrsmithlabs/reqgate/internal/secrets"
	"github.com/fyrsmithlabs/reqgate/internal/storage"
)

// Errors returned by the collector.
var (
	ErrSessionClosed    = errors.New("session is sealed")
	ErrEventTooLate     = errors.New("event is older than the reorder window")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidSessionID = errors.New("invalid session id")
)

// DefaultReorderWindow is how far behind the newest event a late event may be.
const DefaultReorderWindow = 2 * time.Minute

const (
	collection      = "sessions"
	maxSessionIDLen = 256
)

// Collector records session events to storage.
type Collector struct {
	docs     *storage.Documents
	scrubber secrets.Scrubber
	logger   *logging.Logger
	counters *Counters
	window   time.Duration
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Collector.
type Option func(*Collector)

// WithScrubber sets the scrubber applied to commands and queries.
func WithScrubber(s secrets.Scrubber) Option {
	return func(c *Collector) { c.scrubber = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Collector) { c.logger = l.Named("sessions") }
}

// WithReorderWindow sets the late-event tolerance. Zero disables the check.
func WithReorderWindow(d time.Duration) Option {
	return func(c *Collector) { c.window = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a collector over docs.
func NewCollector(docs *storage.Documents, opts ...Option) *Collector {
	c := &Collector{
		docs:     docs,
		scrubber: secrets.NoopScrubber{},
		logger:   logging.Nop(),
		counters: NewCounters(),
		window:   DefaultReorderWindow,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func docName(sessionID string) string {
	return collection + "/" + storage.Key(sessionID)
}

func validateID(sessionID string) error {
	if sessionID == "" || len(sessionID) > maxSessionIDLen {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	return nil
}

func (c *Collector) lock(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[sessionID] = l
	}
	return l
}

// Start creates the session if it does not exist yet. Starting an existing
// session is a no-op.
func (c *Collector) Start(ctx context.Context, sessionID, branch string, at time.Time) (*Metrics, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = c.now()
	}
	l := c.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	var m Metrics
	err := c.docs.Update(ctx, docName(sessionID), &m, func(exists bool) (bool, error) {
		if exists {
			return false, nil
		}
		m = newMetrics(sessionID, branch, at)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func newMetrics(sessionID, branch string, at time.Time) Metrics {
	return Metrics{
		Version:   documentVersion,
		SessionID: sessionID,
		Branch:    branch,
		StartedAt: at.UTC(),
		Events:    []Event{},
	}
}

// Record appends ev to the session, creating the session on first use.
// Events are kept in timestamp order; equal timestamps keep arrival order.
func (c *Collector) Record(ctx context.Context, sessionID string, ev Event) error {
	if err := validateID(sessionID); err != nil {
		return err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	ev.Command = c.scrubber.Scrub(ev.Command).Scrubbed
	ev.Query = c.scrubber.Scrub(ev.Query).Scrubbed

	l := c.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	var (
		m    Metrics
		late bool
	)
	err := c.docs.Update(ctx, docName(sessionID), &m, func(exists bool) (bool, error) {
		if !exists {
			m = newMetrics(sessionID, ev.Branch, ev.Timestamp)
		}
		if m.Sealed() {
			return false, ErrSessionClosed
		}
		if m.Branch == "" {
			m.Branch = ev.Branch
		}
		if c.window > 0 && len(m.Events) > 0 && ev.Timestamp.Before(m.Latest().Add(-c.window)) {
			m.Dropped++
			late = true
			return true, nil
		}
		i := sort.Search(len(m.Events), func(i int) bool {
			return m.Events[i].Timestamp.After(ev.Timestamp)
		})
		m.Events = append(m.Events, Event{})
		copy(m.Events[i+1:], m.Events[i:])
		m.Events[i] = ev
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("recording event for session %s: %w", sessionID, err)
	}
	if late {
		c.counters.LateEventsTotal.Inc()
		c.logger.Warn(ctx, "dropped late session event",
			zap.String("session_id", sessionID),
			zap.Time("timestamp", ev.Timestamp),
			zap.Duration("window", c.window))
		return fmt.Errorf("%w: %s", ErrEventTooLate, ev.Timestamp.Format(time.RFC3339))
	}
	c.counters.EventsTotal.WithLabelValues(string(ev.EventType)).Inc()
	return nil
}

// Seal closes the session. Sealing twice returns the already sealed session.
func (c *Collector) Seal(ctx context.Context, sessionID string) (*Metrics, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}
	l := c.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	var (
		m      Metrics
		sealed bool
	)
	err := c.docs.Update(ctx, docName(sessionID), &m, func(exists bool) (bool, error) {
		if !exists {
			return false, ErrSessionNotFound
		}
		if m.Sealed() {
			return false, nil
		}
		now := c.now().UTC()
		m.SealedAt = &now
		sealed = true
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("sealing session %s: %w", sessionID, err)
	}
	if sealed {
		c.counters.SealedTotal.Inc()
		c.logger.Info(ctx, "session sealed",
			zap.String("session_id", sessionID), zap.Int("events", len(m.Events)), zap.Int("dropped", m.Dropped))
	}
	return &m, nil
}

// Get returns the recorded session.
func (c *Collector) Get(ctx context.Context, sessionID string) (*Metrics, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}
	var m Metrics
	found, err := c.docs.Read(ctx, docName(sessionID), &m)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return &m, nil
}

// List summarizes every recorded session, newest first.
func (c *Collector) List(ctx context.Context) ([]Summary, error) {
	names, err := c.docs.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(names))
	for _, name := range names {
		var m Metrics
		found, err := c.docs.Read(ctx, name, &m)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, m.summary())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}
