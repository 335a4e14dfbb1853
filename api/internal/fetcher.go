package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rvnztolentino/road-defect-indexing-maps/api/config"
)

// Fetcher reads detection metadata out of the object store and turns it
// into validated Detection records. Stateless; every call re-reads the
// store.
type Fetcher struct {
	store   ObjectStore
	folder  string
	signTTL time.Duration
	logger  *Logger
}

// FetchResult is one bounded read of the store. Skipped counts candidate
// objects that were listed but not returned (failed validation or read).
// PresentIDs holds the id of every valid record in the listing, before
// the since filter: the authoritative set reconciliation prunes against.
type FetchResult struct {
	Detections []Detection
	PresentIDs map[string]struct{}
	Skipped    int
	FetchedAt  time.Time
}

func NewFetcher(store ObjectStore, folder string, signTTL time.Duration, logger *Logger) *Fetcher {
	return &Fetcher{store: store, folder: folder, signTTL: signTTL, logger: logger}
}

// FetchDetections reads up to limit metadata objects (newest-named first),
// validates them, signs their image URLs, and returns them ordered by
// ProcessingTimestamp descending. A non-zero since keeps only records
// strictly newer than it; the since filter is applied after the timestamp
// sort, not after raw key order, so a stale-first listing cannot reorder
// the window.
//
// limit is clamped to [1, MaxFetchLimit]; zero or negative means
// DefaultFetchLimit.
func (f *Fetcher) FetchDetections(ctx context.Context, limit int, since time.Time) (*FetchResult, error) {
	if limit <= 0 {
		limit = config.DefaultFetchLimit
	}
	if limit > config.MaxFetchLimit {
		limit = config.MaxFetchLimit
	}

	result := &FetchResult{FetchedAt: time.Now(), PresentIDs: map[string]struct{}{}}
	if f.store == nil {
		// Store never configured: degrade to empty, never error.
		return result, nil
	}

	keys, err := f.store.List(ctx, f.folder, limit)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}

	var metaKeys []string
	for _, k := range keys {
		if strings.HasSuffix(strings.ToLower(k), config.MetadataExt) {
			metaKeys = append(metaKeys, k)
		}
	}

	records := f.readBatched(ctx, metaKeys)

	var kept []fetchedRecord
	for _, r := range records {
		if r == nil {
			result.Skipped++
			continue
		}
		kept = append(kept, *r)
	}

	// Recency order by processing timestamp, stable so same-timestamp
	// records keep their arrival order.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].ts.After(kept[j].ts)
	})

	for _, r := range kept {
		result.PresentIDs[r.det.ID] = struct{}{}
		if !since.IsZero() && !r.ts.After(since) {
			continue
		}
		result.Detections = append(result.Detections, r.det)
	}
	return result, nil
}

type fetchedRecord struct {
	det Detection
	ts  time.Time
}

// readBatched reads and parses metadata objects in fixed-size batches:
// parallel inside a batch, sequential across batches, so at most
// FetchBatchSize requests are outstanding against the store at once.
// Failed records come back nil.
func (f *Fetcher) readBatched(ctx context.Context, keys []string) []*fetchedRecord {
	records := make([]*fetchedRecord, len(keys))

	for start := 0; start < len(keys); start += config.FetchBatchSize {
		end := start + config.FetchBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						f.logger.Error("panic processing %s: %v", keys[idx], r)
					}
				}()
				records[idx] = f.readOne(ctx, keys[idx])
			}(i)
		}
		wg.Wait()
	}
	return records
}

func (f *Fetcher) readOne(ctx context.Context, key string) *fetchedRecord {
	data, err := f.store.Read(ctx, key)
	if err != nil {
		f.logger.Warn("skipping %s: %v", key, err)
		return nil
	}

	det, err := ParseDetection(f.folder, key, data)
	if err != nil {
		f.logger.Debug("dropping %s: %v", key, err)
		return nil
	}

	// A broken image reference degrades to an empty URL, it does not drop
	// the record. Consumers fall back to a placeholder.
	url, err := f.store.SignURL(ImageKeyFor(key), f.signTTL)
	if err != nil {
		f.logger.Warn("sign image for %s: %v", key, err)
		url = ""
	}
	det.ImageURL = url

	return &fetchedRecord{det: *det, ts: detectionTime(key, det)}
}

// detectionTime is the recency key for ordering: the metadata's
// ProcessingTimestamp, falling back to the key's naming-convention
// timestamp when the field is missing or unparseable.
func detectionTime(key string, det *Detection) time.Time {
	if t, err := time.Parse(time.RFC3339, det.Metadata.ProcessingTimestamp); err == nil {
		return t
	}
	return ParseKeyTimestamp(key)
}

// rawMetadata is the on-bucket JSON schema written by the upstream
// detection pipeline.
type rawMetadata struct {
	GPSLocation         json.RawMessage `json:"GPSLocation"`
	Severity            interface{}     `json:"Severity"`
	DefectCounts        map[string]int  `json:"DefectCounts"`
	DominantDefectType  string          `json:"DominantDefectType"`
	RepairProbability   float64         `json:"RepairProbability"`
	AverageLengthCm     float64         `json:"AverageLengthCm"`
	AverageWidthCm      float64         `json:"AverageWidthCm"`
	AreaM2              float64         `json:"AreaM2"`
	ProcessingTimestamp string          `json:"ProcessingTimestamp"`
}

// ParseDetection parses one metadata object into a Detection. Records
// with missing or malformed GPS data are rejected: every Detection that
// leaves this function has a valid 2-element numeric location. The image
// URL is left empty; signing is the caller's concern.
func ParseDetection(folder, key string, data []byte) (*Detection, error) {
	var raw rawMetadata
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", key, err)
	}

	loc, err := parseGPS(raw.GPSLocation)
	if err != nil {
		return nil, fmt.Errorf("metadata %s: %w", key, err)
	}

	severity := coerceSeverity(raw.Severity)
	counts := raw.DefectCounts
	if counts == nil {
		counts = map[string]int{}
	}

	return &Detection{
		ID:       DetectionIDFromKey(folder, key),
		Location: loc,
		Metadata: DefectMetadata{
			Severity:            severity,
			SeverityBucket:      ClassifySeverity(severity),
			DefectCounts:        counts,
			DominantDefectType:  raw.DominantDefectType,
			RepairProbability:   raw.RepairProbability,
			AvgLengthCm:         raw.AverageLengthCm,
			AvgWidthCm:          raw.AverageWidthCm,
			AreaM2:              raw.AreaM2,
			ProcessingTimestamp: raw.ProcessingTimestamp,
		},
	}, nil
}

// parseGPS accepts the two shapes the pipeline has written over time:
// [lat, lon] and {"Latitude": .., "Longitude": ..}.
func parseGPS(raw json.RawMessage) ([2]float64, error) {
	var loc [2]float64
	if len(raw) == 0 {
		return loc, fmt.Errorf("missing GPSLocation")
	}

	var pair []float64
	if err := json.Unmarshal(raw, &pair); err == nil {
		if len(pair) != 2 {
			return loc, fmt.Errorf("GPSLocation has %d elements, want 2", len(pair))
		}
		loc[0], loc[1] = pair[0], pair[1]
		return loc, validateGPS(loc)
	}

	var obj struct {
		Latitude  *float64 `json:"Latitude"`
		Longitude *float64 `json:"Longitude"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Latitude == nil || obj.Longitude == nil {
		return loc, fmt.Errorf("malformed GPSLocation")
	}
	loc[0], loc[1] = *obj.Latitude, *obj.Longitude
	return loc, validateGPS(loc)
}

func validateGPS(loc [2]float64) error {
	lat, lon := loc[0], loc[1]
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("non-finite GPS coordinates")
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("GPS coordinates out of range: %f, %f", lat, lon)
	}
	return nil
}
