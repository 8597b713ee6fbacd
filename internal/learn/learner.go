package learn

import (
	"context"
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/models"
	"investor-intelligence/internal/scoring"
	"investor-intelligence/internal/store"
)

// Learner produces new model versions from labeled alerts. Training is
// a single pass of error-driven weight updates over the feature keys
// each alert was scored with; simple, but it moves scores toward the
// owner's judgments and is cheap enough to run on every retrain.
type Learner struct {
	minExamples  int
	learningRate float64
	logger       zerolog.Logger
}

// NewLearner creates a learner.
func NewLearner(minExamples int, learningRate float64, logger zerolog.Logger) *Learner {
	if minExamples < 1 {
		minExamples = 1
	}
	if learningRate <= 0 {
		learningRate = 0.1
	}
	return &Learner{
		minExamples:  minExamples,
		learningRate: learningRate,
		logger:       logger,
	}
}

// Retrain trains a new model version from the corpus, starting from
// prev's parameters (or fresh ones when prev is nil). It never mutates
// prev. Errors leave the caller's current model untouched.
func (l *Learner) Retrain(corpus []store.LabeledAlert, prev *models.ModelState) (*models.ModelState, error) {
	if len(corpus) < l.minExamples {
		return nil, apperrors.Wrapf(apperrors.ErrInsufficientData, "%d labeled examples, need %d", len(corpus), l.minExamples)
	}

	next := prev.Clone()
	if next == nil {
		next = &models.ModelState{Parameters: make(map[string]float64)}
	}

	for _, example := range corpus {
		target := 0.0
		if example.Feedback.Label == models.FeedbackRelevant {
			target = 1.0
		}
		residual := target - example.Alert.RelevanceScore

		keys := featureKeysForAlert(example.Alert)
		step := l.learningRate * residual / float64(len(keys))
		for _, key := range keys {
			next.Parameters[key] += step
		}
	}

	for key, w := range next.Parameters {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, apperrors.NewDataError("model", "", "numerical divergence in parameter "+key, nil)
		}
	}

	metrics, err := l.evaluate(corpus)
	if err != nil {
		return nil, apperrors.Wrap(err, "evaluating retrained model")
	}

	next.Version++
	next.TrainedAt = time.Now()
	next.Metrics = metrics
	return next, nil
}

// featureKeysForAlert reconstructs the parameter keys an alert was
// scored under, from the feature markers the pipeline stored in its
// metadata.
func featureKeysForAlert(alert models.Alert) []string {
	bucket := 0
	if v, ok := alert.Metadata["magnitude_bucket"].(float64); ok {
		bucket = int(v)
	} else if v, ok := alert.Metadata["magnitude_bucket"].(int); ok {
		bucket = v
	}
	fv := scoring.FeatureVector{Type: alert.Type, MagnitudeBucket: bucket}
	return fv.Keys()
}

// evaluate computes the classification snapshot recorded with a model
// version, treating score >= 0.5 as a predicted "relevant".
func (l *Learner) evaluate(corpus []store.LabeledAlert) (models.ModelMetrics, error) {
	var tp, tn, fp, fn float64
	squaredErrors := make([]float64, 0, len(corpus))

	for _, example := range corpus {
		actual := example.Feedback.Label == models.FeedbackRelevant
		predicted := example.Alert.RelevanceScore >= 0.5

		target := 0.0
		if actual {
			target = 1.0
		}
		diff := target - example.Alert.RelevanceScore
		squaredErrors = append(squaredErrors, diff*diff)

		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && actual:
			fn++
		default:
			tn++
		}
	}

	brier, err := stats.Mean(squaredErrors)
	if err != nil {
		return models.ModelMetrics{}, err
	}
	l.logger.Debug().Float64("brier", brier).Int("examples", len(corpus)).Msg("Evaluated retrained model")

	total := tp + tn + fp + fn
	m := models.ModelMetrics{Examples: len(corpus)}
	if total > 0 {
		m.Accuracy = (tp + tn) / total
	}
	if tp+fp > 0 {
		m.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		m.Recall = tp / (tp + fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}

// Service ties the learner to the store and registry: it pulls the
// labeled corpus, retrains, and swaps in the new version. A failed
// retrain is reported as a warning and leaves the previous model
// active; scoring is never left without a usable model.
type Service struct {
	store    store.DataStore
	registry *Registry
	learner  *Learner
	logger   zerolog.Logger
}

// NewService creates a retraining service.
func NewService(st store.DataStore, registry *Registry, learner *Learner, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		registry: registry,
		learner:  learner,
		logger:   logger,
	}
}

// Retrain runs one retraining pass. It is safe to call concurrently
// with scoring: readers keep their captured snapshot and only observe
// the new version on their next capture.
func (s *Service) Retrain(ctx context.Context) (*models.ModelState, error) {
	corpus, err := s.store.GetLabeledCorpus(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "loading labeled corpus")
	}

	next, err := s.learner.Retrain(corpus, s.registry.Current())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Retrain failed, previous model remains active")
		return nil, err
	}

	// After a rollback the current version is older than the highest
	// persisted one; numbering from the persisted maximum keeps the
	// insert collision-free.
	latest, err := s.store.GetLatestModelState(ctx)
	switch {
	case err == nil:
		if latest.Version >= next.Version {
			next.Version = latest.Version + 1
		}
	case !apperrors.Is(err, apperrors.ErrModelNotFound):
		return nil, apperrors.Wrap(err, "resolving next model version")
	}

	if err := s.registry.Swap(ctx, next); err != nil {
		s.logger.Warn().Err(err).Msg("Model swap failed, previous model remains active")
		return nil, err
	}
	return next, nil
}
