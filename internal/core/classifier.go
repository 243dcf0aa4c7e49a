package core

import (
	"math"
	"sync/atomic"

	"go.uber.org/zap"
)

// Classifier serves predictions from the currently active model version.
// The active pointer is swapped atomically on successful retrain; a caller
// that captures a model keeps using that version for its whole operation.
type Classifier struct {
	active atomic.Pointer[ClassifierModel]
	logger *zap.Logger
}

// NewClassifier creates a classifier with no active model (cold start).
func NewClassifier(logger *zap.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// ActiveModel returns the active model, or nil during cold start.
func (c *Classifier) ActiveModel() *ClassifierModel {
	return c.active.Load()
}

// SetActive atomically swaps the active model pointer.
func (c *Classifier) SetActive(m *ClassifierModel) {
	c.active.Store(m)
	if m != nil {
		c.logger.Info("Activated classifier model",
			zap.Int64("version", m.Version),
			zap.Float64("metric", m.Metric),
			zap.Int64("samples", m.SampleCount))
	}
}

// Predict scores a feature vector with the active model. It fails only
// during cold start, when no model has ever been trained.
func (c *Classifier) Predict(v FeatureVector) (*Prediction, error) {
	m := c.active.Load()
	if m == nil {
		return nil, ErrNoModel
	}
	return m.Predict(v), nil
}

// Predict scores a feature vector with this specific model version.
func (m *ClassifierModel) Predict(v FeatureVector) *Prediction {
	return &Prediction{
		Importance:   sigmoid(dot(m.ImportanceWeights, v) + m.ImportanceBias),
		Spam:         sigmoid(dot(m.SpamWeights, v) + m.SpamBias),
		ModelVersion: m.Version,
	}
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

func dot(w [FeatureCount]float64, v FeatureVector) float64 {
	var sum float64
	for i := range w {
		sum += w[i] * v[i]
	}
	return sum
}

// trainHead fits one logistic-regression head by full-batch gradient
// descent. Zero initialization, fixed epoch count, and fixed learning rate
// keep training deterministic for a given sample order.
func trainHead(vecs []FeatureVector, labels []float64, epochs int, learningRate float64) ([FeatureCount]float64, float64) {
	var weights [FeatureCount]float64
	var bias float64
	if len(vecs) == 0 {
		return weights, bias
	}

	n := float64(len(vecs))
	for epoch := 0; epoch < epochs; epoch++ {
		var gradW [FeatureCount]float64
		var gradB float64
		for i, v := range vecs {
			err := sigmoid(dot(weights, v)+bias) - labels[i]
			for j := range gradW {
				gradW[j] += err * v[j]
			}
			gradB += err
		}
		for j := range weights {
			weights[j] -= learningRate * gradW[j] / n
		}
		bias -= learningRate * gradB / n
	}
	return weights, bias
}

// headAccuracy is the share of samples the head classifies correctly at a
// 0.5 decision boundary.
func headAccuracy(weights [FeatureCount]float64, bias float64, vecs []FeatureVector, labels []float64) float64 {
	if len(vecs) == 0 {
		return 0
	}
	correct := 0
	for i, v := range vecs {
		predicted := sigmoid(dot(weights, v)+bias) >= 0.5
		if predicted == (labels[i] >= 0.5) {
			correct++
		}
	}
	return float64(correct) / float64(len(vecs))
}
