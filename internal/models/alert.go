package models

import "time"

// Metadata keys set by the pipeline on alerts.
const (
	MetaModelDegraded  = "model_degraded"
	MetaDispatchFailed = "dispatch_failed"
)

// Alert represents a user-facing alert that survived scoring and
// throttling. Alerts are append-only history: after creation only the
// Active flag flips and metadata gains dispatch/degradation markers.
type Alert struct {
	ID             string
	OwnerID        string
	Symbol         string
	Type           EventType
	Message        string
	RelevanceScore float64 // [0, 1]
	ModelVersion   int64   // ModelState version active at scoring time
	CreatedAt      time.Time
	Active         bool
	Metadata       map[string]interface{}
}

// MetaBool reports whether the named metadata flag is set to true.
func (a *Alert) MetaBool(key string) bool {
	if a.Metadata == nil {
		return false
	}
	v, ok := a.Metadata[key].(bool)
	return ok && v
}

// SetMeta sets a metadata entry, allocating the map on first use.
func (a *Alert) SetMeta(key string, value interface{}) {
	if a.Metadata == nil {
		a.Metadata = make(map[string]interface{})
	}
	a.Metadata[key] = value
}
