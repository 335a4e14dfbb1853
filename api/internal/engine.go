package internal

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Snapshot is an immutable view of the merged detection set, ordered by
// ProcessingTimestamp descending (ties by arrival order). Subscribers and
// HTTP handlers get copies; nothing shares the engine's internal state.
type Snapshot struct {
	Detections  []Detection
	LastUpdated time.Time
}

// Engine keeps the process's merged detection set in sync with the remote
// store. On a fixed cadence (and on demand) it asks the fetcher for
// records newer than the last successful cycle, merges them by id, prunes
// ids the store no longer reports, and publishes a fresh snapshot to
// subscribers.
//
// A failed fetch leaves the held set and lastUpdated untouched, so the
// next cycle retries the same window. Stale data beats no data: errors
// never propagate to consumers.
type Engine struct {
	fetcher  *Fetcher
	interval time.Duration
	noPrune  bool
	alerts   *AlertNotifier
	logger   *Logger

	// Single-flight guard: timer tick and manual refresh share it, so two
	// merges can never interleave.
	refreshing atomic.Bool

	mu          sync.RWMutex
	byID        map[string]mergedEntry
	seq         int64
	lastUpdated time.Time

	subMu sync.Mutex
	subs  []func(Snapshot)
}

type mergedEntry struct {
	det Detection
	ts  time.Time
	seq int64
}

func NewEngine(fetcher *Fetcher, interval time.Duration, noPrune bool, alerts *AlertNotifier, logger *Logger) *Engine {
	return &Engine{
		fetcher:  fetcher,
		interval: interval,
		noPrune:  noPrune,
		alerts:   alerts,
		logger:   logger,
		byID:     make(map[string]mergedEntry),
	}
}

// Subscribe registers a callback invoked with a fresh snapshot after every
// successful merge. Callbacks run on the refresh goroutine; keep them
// cheap or hand off.
func (e *Engine) Subscribe(fn func(Snapshot)) {
	e.subMu.Lock()
	e.subs = append(e.subs, fn)
	e.subMu.Unlock()
}

// Refresh runs one fetch-and-merge cycle. Returns ran=false when another
// refresh was already in flight; the caller keeps the previous snapshot.
// A fetch error leaves all held state unchanged.
func (e *Engine) Refresh(ctx context.Context) (ran bool, err error) {
	if !e.refreshing.CompareAndSwap(false, true) {
		return false, nil
	}
	defer e.refreshing.Store(false)

	cycle := uuid.NewString()[:8]

	e.mu.RLock()
	since := e.lastUpdated
	e.mu.RUnlock()

	res, err := e.fetcher.FetchDetections(ctx, 0, since)
	if err != nil {
		e.logger.Error("cycle %s: fetch failed, keeping %d held detections: %v", cycle, e.Count(), err)
		return true, err
	}

	newSevere := e.merge(res, since.IsZero())
	e.logger.Info("cycle %s: merged %d fetched (%d skipped), holding %d", cycle, len(res.Detections), res.Skipped, e.Count())

	snap := e.Snapshot()
	e.subMu.Lock()
	subs := make([]func(Snapshot), len(e.subs))
	copy(subs, e.subs)
	e.subMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}

	if e.alerts != nil && len(newSevere) > 0 {
		go e.alerts.NotifySevere(newSevere)
	}
	return true, nil
}

// merge applies one fetch result to the held set and returns detections
// that are both new to the set and classified Severe.
func (e *Engine) merge(res *FetchResult, full bool) []Detection {
	e.mu.Lock()
	defer e.mu.Unlock()

	var newSevere []Detection

	if full {
		e.byID = make(map[string]mergedEntry, len(res.Detections))
	}

	for _, det := range res.Detections {
		_, existed := e.byID[det.ID]
		e.seq++
		e.byID[det.ID] = mergedEntry{det: det, ts: mergedTime(det), seq: e.seq}
		if !existed && det.Metadata.SeverityBucket == SeveritySevere {
			newSevere = append(newSevere, det)
		}
	}

	// Prune to the latest authoritative listing: an id the store stopped
	// reporting must not survive this cycle.
	if !full && !e.noPrune {
		for id := range e.byID {
			if _, ok := res.PresentIDs[id]; !ok {
				delete(e.byID, id)
			}
		}
	}

	e.lastUpdated = time.Now()
	return newSevere
}

func mergedTime(det Detection) time.Time {
	t, err := time.Parse(time.RFC3339, det.Metadata.ProcessingTimestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Snapshot returns a copy of the merged set in recency order.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entries := make([]mergedEntry, 0, len(e.byID))
	for _, ent := range e.byID {
		entries = append(entries, ent)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ts.Equal(entries[j].ts) {
			return entries[i].ts.After(entries[j].ts)
		}
		return entries[i].seq < entries[j].seq
	})

	dets := make([]Detection, len(entries))
	for i, ent := range entries {
		dets[i] = ent.det
	}
	return Snapshot{Detections: dets, LastUpdated: e.lastUpdated}
}

// Get returns one held detection by id.
func (e *Engine) Get(id string) (Detection, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.byID[id]
	return ent.det, ok
}

// Recent returns the n most recent held detections.
func (e *Engine) Recent(n int) []Detection {
	dets := e.Snapshot().Detections
	if n > 0 && len(dets) > n {
		dets = dets[:n]
	}
	return dets
}

func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.byID)
}

func (e *Engine) LastUpdated() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastUpdated
}

// Run drives the fixed-interval refresh loop until ctx is cancelled. The
// first cycle fires immediately so the map is not empty for a full
// interval after startup.
func (e *Engine) Run(ctx context.Context) {
	e.runCycle(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync loop stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

func (e *Engine) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("refresh cycle panicked: %v", r)
		}
	}()
	// Errors are already logged inside Refresh; the loop just moves on to
	// the next tick.
	_, _ = e.Refresh(ctx)
}
