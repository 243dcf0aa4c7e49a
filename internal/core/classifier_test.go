package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPredictWithoutModelIsColdStart(t *testing.T) {
	classifier := NewClassifier(zap.NewNop())

	_, err := classifier.Predict(FeatureVector{})
	assert.ErrorIs(t, err, ErrNoModel)
	assert.Nil(t, classifier.ActiveModel())
}

func TestPredictionCarriesModelVersion(t *testing.T) {
	classifier := NewClassifier(zap.NewNop())
	classifier.SetActive(&ClassifierModel{Version: 7, ShapeVersion: FeatureShapeVersion})

	pred, err := classifier.Predict(FeatureVector{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), pred.ModelVersion)
	// Zero weights score everything at the decision boundary.
	assert.Equal(t, 0.5, pred.Importance)
	assert.Equal(t, 0.5, pred.Spam)
}

func TestTrainHeadSeparatesLabelsOnOneFeature(t *testing.T) {
	var vecs []FeatureVector
	var labels []float64
	for i := 0; i < 40; i++ {
		var v FeatureVector
		label := 0.0
		if i%2 == 0 {
			v[featReputation] = 1
			label = 1
		}
		vecs = append(vecs, v)
		labels = append(labels, label)
	}

	weights, bias := trainHead(vecs, labels, 200, 0.5)
	assert.Equal(t, 1.0, headAccuracy(weights, bias, vecs, labels))

	m := &ClassifierModel{Version: 1, ImportanceWeights: weights, ImportanceBias: bias}
	var positive FeatureVector
	positive[featReputation] = 1
	assert.Greater(t, m.Predict(positive).Importance, 0.5)
	assert.Less(t, m.Predict(FeatureVector{}).Importance, 0.5)
}

func TestTrainHeadIsDeterministic(t *testing.T) {
	var vecs []FeatureVector
	var labels []float64
	for i := 0; i < 20; i++ {
		var v FeatureVector
		v[featVolume] = float64(i) / 20.0
		v[featUnsubscribe] = float64(i % 2)
		vecs = append(vecs, v)
		labels = append(labels, float64(i%2))
	}

	w1, b1 := trainHead(vecs, labels, 100, 0.5)
	w2, b2 := trainHead(vecs, labels, 100, 0.5)
	assert.Equal(t, w1, w2)
	assert.Equal(t, b1, b2)
}

func TestHeadAccuracyEmptySet(t *testing.T) {
	var weights [FeatureCount]float64
	assert.Equal(t, 0.0, headAccuracy(weights, 0, nil, nil))
}
