package anomaly

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kubeheal-backend/internal/telemetry"
)

var ErrOutOfOrder = errors.New("sample older than the pod's newest sample")

const (
	ResolutionConditionCleared = "condition cleared"

	defaultQuietCycles       = 3
	defaultWindowSize        = 20
	defaultWindowDuration    = 10 * time.Minute
	defaultResolvedRetention = 24 * time.Hour
)

type Config struct {
	// QuietCycles is how many consecutive polling cycles without a matching
	// candidate resolve a detected anomaly.
	QuietCycles       int
	WindowSize        int
	WindowDuration    time.Duration
	ResolvedRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.QuietCycles <= 0 {
		c.QuietCycles = defaultQuietCycles
	}
	if c.WindowSize <= 0 {
		c.WindowSize = defaultWindowSize
	}
	if c.WindowDuration <= 0 {
		c.WindowDuration = defaultWindowDuration
	}
	if c.ResolvedRetention <= 0 {
		c.ResolvedRetention = defaultResolvedRetention
	}
	return c
}

// Registry owns every anomaly. Mutations for one resource key are serialized
// by that key's shard lock; different pods never contend beyond the short
// index lookup.
type Registry struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	mu        sync.Mutex
	shards    map[string]*shard
	byID      map[string]string
	observers []Observer

	cycle atomic.Uint64
}

type shard struct {
	mu     sync.Mutex
	open   map[Kind]*Anomaly
	all    map[string]*Anomaly
	window []telemetry.Sample
	dead   bool
}

func (sh *shard) idle(now time.Time, window time.Duration) bool {
	if len(sh.all) > 0 || len(sh.open) > 0 {
		return false
	}
	return len(sh.window) == 0 || now.Sub(sh.window[len(sh.window)-1].Timestamp) > window
}

func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
		shards: map[string]*shard{},
		byID:   map[string]string{},
	}
}

func (r *Registry) Subscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Tick starts a new polling cycle for quiet-period accounting.
func (r *Registry) Tick() uint64 {
	return r.cycle.Add(1)
}

// Recent records s in its pod's window and returns the samples that preceded
// it, oldest first.
func (r *Registry) Recent(s telemetry.Sample) ([]telemetry.Sample, error) {
	sh := r.lockShard(s.ResourceKey())
	defer sh.mu.Unlock()
	if n := len(sh.window); n > 0 && s.Timestamp.Before(sh.window[n-1].Timestamp) {
		return nil, ErrOutOfOrder
	}
	cutoff := s.Timestamp.Add(-r.cfg.WindowDuration)
	kept := sh.window[:0]
	for _, prev := range sh.window {
		if !prev.Timestamp.Before(cutoff) {
			kept = append(kept, prev)
		}
	}
	prior := make([]telemetry.Sample, len(kept))
	copy(prior, kept)
	kept = append(kept, s)
	if len(kept) > r.cfg.WindowSize {
		kept = kept[len(kept)-r.cfg.WindowSize:]
	}
	sh.window = kept
	return prior, nil
}

// Ingest refreshes the open anomaly for the candidate's (resource, kind) or
// opens a new one. Severity only ever escalates while an anomaly is open.
func (r *Registry) Ingest(c Candidate) string {
	cycle := r.cycle.Load()
	sh := r.lockShard(c.ResourceKey)
	a, exists := sh.open[c.Kind]
	evType := EventUpdated
	if exists {
		if c.ObservedAt.After(a.LastObserved) {
			a.LastObserved = c.ObservedAt
		}
		if c.Severity > a.Severity {
			a.Severity = c.Severity
			a.Description = c.Description
			if a.Status == StatusDetected {
				a.SuggestedAction = c.SuggestedAction
			}
		}
		if c.NodeName != "" {
			a.NodeName = c.NodeName
		}
		a.lastSeenCycle = cycle
	} else {
		evType = EventDetected
		a = &Anomaly{
			ID:              r.newID(),
			ResourceKey:     c.ResourceKey,
			Namespace:       c.Namespace,
			PodName:         c.PodName,
			NodeName:        c.NodeName,
			Kind:            c.Kind,
			Severity:        c.Severity,
			FirstObserved:   c.ObservedAt,
			LastObserved:    c.ObservedAt,
			Description:     c.Description,
			Status:          StatusDetected,
			SuggestedAction: c.SuggestedAction,
			lastSeenCycle:   cycle,
		}
		sh.open[c.Kind] = a
		sh.all[a.ID] = a
		r.mu.Lock()
		r.byID[a.ID] = c.ResourceKey
		r.mu.Unlock()
	}
	snapshot := *a
	sh.mu.Unlock()

	if evType == EventDetected {
		r.logger.Info("anomaly detected",
			zap.String("id", snapshot.ID),
			zap.String("resource", snapshot.ResourceKey),
			zap.String("kind", string(snapshot.Kind)),
			zap.Stringer("severity", snapshot.Severity))
	}
	r.notify(evType, snapshot)
	return snapshot.ID
}

// StartRemediation claims the anomaly for remediation. Calling it again while
// investigating is allowed and counts another attempt.
func (r *Registry) StartRemediation(id string) error {
	return r.mutate(id, func(a *Anomaly, sh *shard) (EventType, error) {
		if a.Status == StatusResolved {
			return "", ErrAlreadyResolved
		}
		a.Status = StatusInvestigating
		a.Attempts++
		return EventInvestigating, nil
	})
}

// Acknowledge marks a detected anomaly as under investigation by an operator
// without counting a remediation attempt. It is a no-op when already
// investigating.
func (r *Registry) Acknowledge(id string) error {
	return r.mutate(id, func(a *Anomaly, sh *shard) (EventType, error) {
		switch a.Status {
		case StatusResolved:
			return "", ErrAlreadyResolved
		case StatusInvestigating:
			return "", nil
		}
		a.Status = StatusInvestigating
		return EventInvestigating, nil
	})
}

// Resolve closes the anomaly. Resolving twice returns ErrAlreadyResolved and
// leaves the first resolution untouched.
func (r *Registry) Resolve(id, outcome string) error {
	return r.mutate(id, func(a *Anomaly, sh *shard) (EventType, error) {
		if a.Status == StatusResolved {
			return "", ErrAlreadyResolved
		}
		now := r.now().UTC()
		a.Status = StatusResolved
		a.Resolution = outcome
		a.ResolvedAt = &now
		if sh.open[a.Kind] == a {
			delete(sh.open, a.Kind)
		}
		return EventResolved, nil
	})
}

// Reopen returns an investigating anomaly to detected after a failed attempt.
// Its quiet period restarts from the current cycle.
func (r *Registry) Reopen(id, reason string) error {
	cycle := r.cycle.Load()
	return r.mutate(id, func(a *Anomaly, sh *shard) (EventType, error) {
		switch a.Status {
		case StatusResolved:
			return "", ErrAlreadyResolved
		case StatusDetected:
			return "", ErrNotInvestigating
		}
		a.Status = StatusDetected
		a.Resolution = reason
		a.lastSeenCycle = cycle
		return EventReopened, nil
	})
}

func (r *Registry) Get(id string) (Anomaly, error) {
	sh, err := r.lookup(id)
	if err != nil {
		return Anomaly{}, err
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	a, ok := sh.all[id]
	if !ok {
		return Anomaly{}, ErrNotFound
	}
	return *a, nil
}

// ListOpen returns detected and investigating anomalies, most severe first
// and most recently observed first within a severity.
func (r *Registry) ListOpen() []Anomaly {
	return r.List(func(a Anomaly) bool { return a.Status.Open() })
}

// List returns every retained anomaly accepted by keep (nil keeps all), in
// ListOpen order.
func (r *Registry) List(keep func(Anomaly) bool) []Anomaly {
	var out []Anomaly
	for _, sh := range r.snapshotShards() {
		sh.mu.Lock()
		for _, a := range sh.all {
			if keep == nil || keep(*a) {
				out = append(out, *a)
			}
		}
		sh.mu.Unlock()
	}
	SortBySeverity(out)
	return out
}

func SortBySeverity(list []Anomaly) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Severity != list[j].Severity {
			return list[i].Severity > list[j].Severity
		}
		if !list[i].LastObserved.Equal(list[j].LastObserved) {
			return list[i].LastObserved.After(list[j].LastObserved)
		}
		return list[i].ID < list[j].ID
	})
}

// Sweep resolves detected anomalies whose condition has not been re-detected
// for QuietCycles cycles and forgets resolved anomalies past retention. It
// returns the ids it resolved.
func (r *Registry) Sweep() []string {
	cycle := r.cycle.Load()
	quiet := uint64(r.cfg.QuietCycles)
	now := r.now().UTC()
	var (
		resolved []string
		events   []Anomaly
	)
	for key, sh := range r.snapshotShardsByKey() {
		sh.mu.Lock()
		for kind, a := range sh.open {
			if a.Status != StatusDetected || cycle < a.lastSeenCycle+quiet {
				continue
			}
			resolvedAt := now
			a.Status = StatusResolved
			a.Resolution = ResolutionConditionCleared
			a.ResolvedAt = &resolvedAt
			delete(sh.open, kind)
			resolved = append(resolved, a.ID)
			events = append(events, *a)
		}
		for id, a := range sh.all {
			if a.Status == StatusResolved && a.ResolvedAt != nil && now.Sub(*a.ResolvedAt) > r.cfg.ResolvedRetention {
				delete(sh.all, id)
				r.mu.Lock()
				delete(r.byID, id)
				r.mu.Unlock()
			}
		}
		idle := sh.idle(now, r.cfg.WindowDuration)
		sh.mu.Unlock()
		if idle {
			r.dropShardIfIdle(key, sh, now)
		}
	}
	for _, a := range events {
		r.logger.Info("anomaly resolved after quiet period",
			zap.String("id", a.ID),
			zap.String("resource", a.ResourceKey),
			zap.String("kind", string(a.Kind)))
		r.notify(EventResolved, a)
	}
	return resolved
}

func (r *Registry) mutate(id string, fn func(a *Anomaly, sh *shard) (EventType, error)) error {
	sh, err := r.lookup(id)
	if err != nil {
		return err
	}
	sh.mu.Lock()
	a, ok := sh.all[id]
	if !ok {
		sh.mu.Unlock()
		return ErrNotFound
	}
	evType, err := fn(a, sh)
	snapshot := *a
	sh.mu.Unlock()
	if err != nil {
		return err
	}
	if evType != "" {
		r.notify(evType, snapshot)
	}
	return nil
}

func (r *Registry) notify(t EventType, a Anomaly) {
	r.mu.Lock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()
	ev := Event{Type: t, Anomaly: a, At: r.now().UTC()}
	for _, o := range observers {
		o.OnAnomalyEvent(ev)
	}
}

// lockShard returns the key's shard with its lock held, retrying if the shard
// was dropped between lookup and lock.
func (r *Registry) lockShard(key string) *shard {
	for {
		r.mu.Lock()
		sh, ok := r.shards[key]
		if !ok {
			sh = &shard{open: map[Kind]*Anomaly{}, all: map[string]*Anomaly{}}
			r.shards[key] = sh
		}
		r.mu.Unlock()
		sh.mu.Lock()
		if !sh.dead {
			return sh
		}
		sh.mu.Unlock()
	}
}

func (r *Registry) lookup(id string) (*shard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	sh, ok := r.shards[key]
	if !ok {
		return nil, ErrNotFound
	}
	return sh, nil
}

func (r *Registry) snapshotShards() []*shard {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*shard, 0, len(r.shards))
	for _, sh := range r.shards {
		out = append(out, sh)
	}
	return out
}

func (r *Registry) snapshotShardsByKey() map[string]*shard {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*shard, len(r.shards))
	for k, sh := range r.shards {
		out[k] = sh
	}
	return out
}

// dropShardIfIdle removes a shard with nothing left in it. The shard is
// re-checked under both locks since a sample may have arrived meanwhile.
func (r *Registry) dropShardIfIdle(key string, sh *shard, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shards[key] != sh {
		return
	}
	if !sh.mu.TryLock() {
		return
	}
	defer sh.mu.Unlock()
	if sh.idle(now, r.cfg.WindowDuration) {
		sh.dead = true
		delete(r.shards, key)
	}
}
