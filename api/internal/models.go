package internal

// Detection is one recorded road-surface defect event: where it is, what
// the annotated photo looks like, and what the upstream model measured.
type Detection struct {
	ID       string         `json:"id"`
	ImageURL string         `json:"imageUrl"`
	Location [2]float64     `json:"location"` // [latitude, longitude]
	Metadata DefectMetadata `json:"metadata"`
}

// DefectMetadata is the structured bag parsed from the per-detection
// metadata object in the bucket.
type DefectMetadata struct {
	Severity            float64        `json:"severity"`
	SeverityBucket      string         `json:"severityBucket"`
	DefectCounts        map[string]int `json:"defectCounts"`
	DominantDefectType  string         `json:"dominantDefectType"`
	RepairProbability   float64        `json:"repairProbability"` // 0 or 1
	AvgLengthCm         float64        `json:"avgLengthCm"`
	AvgWidthCm          float64        `json:"avgWidthCm"`
	AreaM2              float64        `json:"areaM2"`
	ProcessingTimestamp string         `json:"processingTimestamp"` // ISO-8601
}

// DetectionsResp is the payload of GET /api/defects. Skipped counts
// candidate objects dropped by validation or read errors during the fetch.
type DetectionsResp struct {
	Detections []Detection `json:"detections"`
	Skipped    int         `json:"skipped"`
}

// GeoJSON output consumed by the map layer. Coordinates are GeoJSON
// order: [longitude, latitude].
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Feature struct {
	Type       string            `json:"type"`
	Geometry   Geometry          `json:"geometry"`
	Properties FeatureProperties `json:"properties"`
}

type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

type FeatureProperties struct {
	ID                  string  `json:"id"`
	Severity            float64 `json:"severity"`
	SeverityBucket      string  `json:"severityBucket"`
	DefectType          string  `json:"type"`
	ImageURL            string  `json:"imageUrl"`
	ProcessingTimestamp string  `json:"processingTimestamp"`
}

// ConfigStatus is the readiness probe payload of GET /api/config: presence
// flags only, never values.
type ConfigStatus struct {
	MapboxToken      bool `json:"mapboxToken"`
	ProjectID        bool `json:"projectId"`
	BucketName       bool `json:"bucketName"`
	Region           bool `json:"region"`
	FolderPath       bool `json:"folderPath"`
	Credentials      bool `json:"credentials"`
	LocalStoreMode   bool `json:"localStoreMode"`
	StoreReady       bool `json:"storeReady"`
	AlertsConfigured bool `json:"alertsConfigured"`
}
