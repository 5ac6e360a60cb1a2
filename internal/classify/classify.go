// Package classify turns a plasma feature vector into a CME decision.
//
// The model itself is a collaborator: anything satisfying Classifier works.
// Logistic is a standardized logistic regression whose parameters are
// exported from the training notebook into YAML.
package classify

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/KI7MT/ki7mt-swis-lab/internal/plasma"
)

// DefaultThreshold is the probability at or above which a window is labeled CME.
const DefaultThreshold = 0.45

// ErrInsufficientData is returned for an all-missing feature vector.
var ErrInsufficientData = errors.New("not enough valid data available for feature computation (~15 min needed)")

// Label is the binary decision.
type Label string

const (
	LabelCME    Label = "CME"
	LabelNonCME Label = "Non-CME"
)

// Classifier maps a complete feature vector to P(CME).
type Classifier interface {
	Probability(fv plasma.FeatureVector) (float64, error)
}

// Prediction is a thresholded classifier output.
type Prediction struct {
	Probability float64 `json:"probability"`
	Threshold   float64 `json:"threshold"`
	Label       Label   `json:"label"`
}

// Confidence returns the probability as a percentage rounded to two places.
func (p Prediction) Confidence() float64 {
	return math.Round(p.Probability*10000) / 100
}

// Decide applies threshold to prob.
func Decide(prob, threshold float64) Label {
	if prob >= threshold {
		return LabelCME
	}
	return LabelNonCME
}

// Predict classifies fv. An incomplete vector is reported as
// ErrInsufficientData without consulting c.
func Predict(c Classifier, fv plasma.FeatureVector, threshold float64) (Prediction, error) {
	if !fv.Complete() {
		return Prediction{}, ErrInsufficientData
	}

	prob, err := c.Probability(fv)
	if err != nil {
		return Prediction{}, fmt.Errorf("classify: %w", err)
	}
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		return Prediction{}, fmt.Errorf("classify: probability %v out of range", prob)
	}

	return Prediction{
		Probability: prob,
		Threshold:   threshold,
		Label:       Decide(prob, threshold),
	}, nil
}

// =============================================================================
// Logistic model
// =============================================================================

// Logistic is P = sigmoid(intercept + sum(coef[i] * (x[i]-mean[i]) / scale[i])).
// Mean and Scale may be omitted for an unscaled model.
type Logistic struct {
	Features     []string  `yaml:"features"`
	Mean         []float64 `yaml:"mean"`
	Scale        []float64 `yaml:"scale"`
	Coefficients []float64 `yaml:"coefficients"`
	Intercept    float64   `yaml:"intercept"`
	Threshold    float64   `yaml:"threshold"`
}

// LoadLogistic reads and validates a model file.
func LoadLogistic(path string) (*Logistic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Logistic
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks dimensions and feature order against the pipeline.
func (m *Logistic) Validate() error {
	n := len(plasma.FeatureNames)
	if len(m.Coefficients) != n {
		return fmt.Errorf("want %d coefficients, got %d", n, len(m.Coefficients))
	}
	if m.Features != nil {
		if len(m.Features) != n {
			return fmt.Errorf("want %d features, got %d", n, len(m.Features))
		}
		for i, name := range plasma.FeatureNames {
			if m.Features[i] != name {
				return fmt.Errorf("feature %d is %q, want %q", i, m.Features[i], name)
			}
		}
	}
	if m.Mean != nil && len(m.Mean) != n {
		return fmt.Errorf("want %d means, got %d", n, len(m.Mean))
	}
	if m.Scale != nil {
		if len(m.Scale) != n {
			return fmt.Errorf("want %d scales, got %d", n, len(m.Scale))
		}
		for i, s := range m.Scale {
			if s == 0 {
				return fmt.Errorf("scale for %s is zero", plasma.FeatureNames[i])
			}
		}
	}
	if m.Threshold < 0 || m.Threshold > 1 {
		return fmt.Errorf("threshold %v out of range", m.Threshold)
	}
	return nil
}

// DecisionThreshold returns the model's own threshold, or DefaultThreshold.
func (m *Logistic) DecisionThreshold() float64 {
	if m.Threshold > 0 {
		return m.Threshold
	}
	return DefaultThreshold
}

// Probability implements Classifier.
func (m *Logistic) Probability(fv plasma.FeatureVector) (float64, error) {
	if !fv.Complete() {
		return 0, ErrInsufficientData
	}

	z := m.Intercept
	for i, x := range fv.Values() {
		if m.Mean != nil {
			x -= m.Mean[i]
		}
		if m.Scale != nil {
			x /= m.Scale[i]
		}
		z += m.Coefficients[i] * x
	}
	return 1 / (1 + math.Exp(-z)), nil
}

var _ Classifier = (*Logistic)(nil)
