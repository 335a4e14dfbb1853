package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestEngine(store *fakeStore, noPrune bool, alerts *AlertNotifier) *Engine {
	return NewEngine(newTestFetcher(store), time.Minute, noPrune, alerts, testLogger())
}

func delKey(s *fakeStore, id string) {
	s.mu.Lock()
	delete(s.objects, testFolder+id+".json")
	delete(s.objects, testFolder+id+".jpg")
	s.mu.Unlock()
}

func TestEngineFirstCycleLoadsEverything(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2025, 8, 17, 14, 0, 0, 0, time.UTC)
	putDetection(store, "defect_20250817_140000_001", 14.6, 121.0, 0.7, "pothole", base)
	putDetection(store, "defect_20250817_140500_002", 14.7, 121.1, 0.2, "crack", base.Add(5*time.Minute))

	e := newTestEngine(store, false, nil)
	ran, err := e.Refresh(context.Background())
	if err != nil || !ran {
		t.Fatalf("Refresh: ran=%v err=%v", ran, err)
	}
	if e.Count() != 2 {
		t.Fatalf("held %d, want 2", e.Count())
	}
	if e.LastUpdated().IsZero() {
		t.Error("lastUpdated still zero after a successful cycle")
	}

	snap := e.Snapshot()
	if snap.Detections[0].ID != "defect_20250817_140500_002" {
		t.Errorf("snapshot[0] = %q, want the newer record first", snap.Detections[0].ID)
	}
}

func TestEnginePrunesToLatestListing(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2025, 8, 17, 14, 0, 0, 0, time.UTC)
	putDetection(store, "defect_20250817_140000_A", 14.6, 121.0, 0.2, "pothole", base)
	putDetection(store, "defect_20250817_140100_B", 14.7, 121.1, 0.2, "crack", base.Add(time.Minute))
	putDetection(store, "defect_20250817_140200_C", 14.8, 121.2, 0.2, "patch", base.Add(2*time.Minute))

	e := newTestEngine(store, false, nil)
	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if e.Count() != 3 {
		t.Fatalf("held %d after first cycle, want 3", e.Count())
	}

	// The store now reports only B and a new D. A and C must not survive
	// the next cycle.
	delKey(store, "defect_20250817_140000_A")
	delKey(store, "defect_20250817_140200_C")
	putDetection(store, "defect_20250817_150000_D", 14.9, 121.3, 0.6, "pothole", time.Now().Add(time.Hour).UTC())

	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if e.Count() != 2 {
		t.Fatalf("held %d after prune, want 2", e.Count())
	}
	if _, ok := e.Get("defect_20250817_140100_B"); !ok {
		t.Error("B missing: still-present ids must survive a prune")
	}
	if _, ok := e.Get("defect_20250817_150000_D"); !ok {
		t.Error("D missing: new ids must be merged in")
	}
	if _, ok := e.Get("defect_20250817_140000_A"); ok {
		t.Error("A survived: removed ids must be pruned")
	}
}

func TestEngineNoPruneKeepsRemovedIDs(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2025, 8, 17, 14, 0, 0, 0, time.UTC)
	putDetection(store, "defect_20250817_140000_A", 14.6, 121.0, 0.2, "pothole", base)

	e := newTestEngine(store, true, nil)
	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	delKey(store, "defect_20250817_140000_A")
	putDetection(store, "defect_20250817_150000_B", 14.7, 121.1, 0.2, "crack", time.Now().Add(time.Hour).UTC())

	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if e.Count() != 2 {
		t.Fatalf("held %d, want 2: no-prune mode keeps removed ids", e.Count())
	}
}

func TestEngineFetchErrorKeepsState(t *testing.T) {
	store := newFakeStore()
	putDetection(store, "defect_20250817_140000_A", 14.6, 121.0, 0.2, "pothole",
		time.Date(2025, 8, 17, 14, 0, 0, 0, time.UTC))

	e := newTestEngine(store, false, nil)
	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	before := e.LastUpdated()

	store.mu.Lock()
	store.listErr = errors.New("bucket unavailable")
	store.mu.Unlock()

	ran, err := e.Refresh(context.Background())
	if !ran {
		t.Fatal("refresh should have run")
	}
	if err == nil {
		t.Fatal("expected fetch error to surface")
	}
	if e.Count() != 1 {
		t.Errorf("held %d, want 1: a failed cycle must not change the set", e.Count())
	}
	if !e.LastUpdated().Equal(before) {
		t.Error("lastUpdated moved on a failed cycle")
	}
}

func TestEngineSingleFlight(t *testing.T) {
	store := newFakeStore()
	store.listEntered = make(chan struct{})
	store.listRelease = make(chan struct{})

	e := newTestEngine(store, false, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Refresh(context.Background())
	}()

	// Wait until the first refresh is inside List, then a second call must
	// report not-ran instead of queueing a concurrent merge.
	<-store.listEntered
	ran, err := e.Refresh(context.Background())
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if ran {
		t.Error("second refresh ran while the first was in flight")
	}

	close(store.listRelease)
	<-done
}

func TestEngineNotifiesSubscribers(t *testing.T) {
	store := newFakeStore()
	putDetection(store, "defect_20250817_140000_A", 14.6, 121.0, 0.2, "pothole",
		time.Date(2025, 8, 17, 14, 0, 0, 0, time.UTC))

	e := newTestEngine(store, false, nil)
	var got Snapshot
	calls := 0
	e.Subscribe(func(s Snapshot) {
		got = s
		calls++
	})

	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if calls != 1 {
		t.Fatalf("subscriber called %d times, want 1", calls)
	}
	if len(got.Detections) != 1 || got.Detections[0].ID != "defect_20250817_140000_A" {
		t.Errorf("snapshot = %+v, want the merged detection", got.Detections)
	}
}

func TestEngineAlertsOnNewSevere(t *testing.T) {
	hit := make(chan alertPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p alertPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		hit <- p
	}))
	defer srv.Close()

	store := newFakeStore()
	putDetection(store, "defect_20250817_140000_A", 14.6, 121.0, 0.85, "pothole",
		time.Date(2025, 8, 17, 14, 0, 0, 0, time.UTC))

	alerts := NewAlertNotifier(srv.URL, testLogger())
	e := newTestEngine(store, false, alerts)
	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	select {
	case p := <-hit:
		if p.Kind != "severe_defects" || p.Count != 1 {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never called for a new severe detection")
	}

	// Re-merging the same id must not alert again.
	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	select {
	case <-hit:
		t.Error("webhook called again for an already-held detection")
	case <-time.After(200 * time.Millisecond):
	}
}
