package internal

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// AlertNotifier posts newly observed Severe detections to a webhook.
// Fire-and-forget: a slow or failing webhook is logged and forgotten, it
// never blocks or fails a merge.
type AlertNotifier struct {
	url    string
	client *http.Client
	logger *Logger
}

// NewAlertNotifier returns nil when no webhook is configured; callers
// treat a nil notifier as disabled.
func NewAlertNotifier(url string, logger *Logger) *AlertNotifier {
	if url == "" {
		return nil
	}
	return &AlertNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

type alertPayload struct {
	Kind       string       `json:"kind"`
	Count      int          `json:"count"`
	Detections []alertEntry `json:"detections"`
	SentAt     string       `json:"sentAt"`
}

type alertEntry struct {
	ID         string     `json:"id"`
	Location   [2]float64 `json:"location"`
	Severity   float64    `json:"severity"`
	DefectType string     `json:"type"`
	ImageURL   string     `json:"imageUrl,omitempty"`
}

// NotifySevere posts one batch of newly severe detections.
func (a *AlertNotifier) NotifySevere(dets []Detection) {
	payload := alertPayload{
		Kind:   "severe_defects",
		Count:  len(dets),
		SentAt: time.Now().Format(time.RFC3339),
	}
	for _, det := range dets {
		payload.Detections = append(payload.Detections, alertEntry{
			ID:         det.ID,
			Location:   det.Location,
			Severity:   det.Metadata.Severity,
			DefectType: det.Metadata.DominantDefectType,
			ImageURL:   det.ImageURL,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("marshal alert payload: %v", err)
		return
	}

	resp, err := a.client.Post(a.url, "application/json", bytes.NewReader(body))
	if err != nil {
		a.logger.Warn("alert webhook: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		a.logger.Warn("alert webhook returned %d", resp.StatusCode)
		return
	}
	a.logger.Info("alerted webhook about %d severe detections", len(dets))
}
