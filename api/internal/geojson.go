package internal

import (
	"strings"
	"sync"
)

// FilterState is the process-wide selected defect type. Empty means no
// filter. It has no lifecycle beyond the process: lost on restart, which
// matches the session-local semantics of the dashboard.
type FilterState struct {
	mu       sync.RWMutex
	selected string
}

func (f *FilterState) Get() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.selected
}

func (f *FilterState) Set(defectType string) {
	f.mu.Lock()
	f.selected = strings.TrimSpace(defectType)
	f.mu.Unlock()
}

// Matches reports whether a detection passes the filter: case-insensitive
// exact match against the dominant defect type.
func (f *FilterState) Matches(det Detection) bool {
	sel := f.Get()
	return sel == "" || strings.EqualFold(sel, det.Metadata.DominantDefectType)
}

// ToFeatureCollection converts detections to the GeoJSON feature list the
// map layer consumes. defectType narrows to one dominant type
// (case-insensitive exact match); empty keeps everything. Note the
// coordinate flip: detections carry [lat, lon], GeoJSON wants [lon, lat].
func ToFeatureCollection(dets []Detection, defectType string) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
	for _, det := range dets {
		if defectType != "" && !strings.EqualFold(defectType, det.Metadata.DominantDefectType) {
			continue
		}
		fc.Features = append(fc.Features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: [2]float64{det.Location[1], det.Location[0]},
			},
			Properties: FeatureProperties{
				ID:                  det.ID,
				Severity:            det.Metadata.Severity,
				SeverityBucket:      det.Metadata.SeverityBucket,
				DefectType:          det.Metadata.DominantDefectType,
				ImageURL:            det.ImageURL,
				ProcessingTimestamp: det.Metadata.ProcessingTimestamp,
			},
		})
	}
	return fc
}
