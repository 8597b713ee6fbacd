package models

import "time"

// ModelMetrics is the evaluation snapshot recorded with a trained model.
type ModelMetrics struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
	Examples  int
}

// ModelState is an immutable, versioned snapshot of learned scoring
// parameters. Exactly one version is current at a time; a retrain
// produces a new version and swaps it in atomically.
type ModelState struct {
	Version    int64
	Parameters map[string]float64 // feature key -> weight adjustment
	TrainedAt  time.Time
	Metrics    ModelMetrics
}

// Clone returns a deep copy. The learner trains on a clone so readers
// of the current version never observe partial updates.
func (m *ModelState) Clone() *ModelState {
	if m == nil {
		return nil
	}
	params := make(map[string]float64, len(m.Parameters))
	for k, v := range m.Parameters {
		params[k] = v
	}
	c := *m
	c.Parameters = params
	return &c
}

// Param returns the learned adjustment for a feature key, or 0 when
// the key has never been trained.
func (m *ModelState) Param(key string) float64 {
	if m == nil || m.Parameters == nil {
		return 0
	}
	return m.Parameters[key]
}
