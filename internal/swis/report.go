package swis

import (
	"errors"
	"time"

	"github.com/KI7MT/ki7mt-swis-lab/internal/classify"
	"github.com/KI7MT/ki7mt-swis-lab/internal/plasma"
)

// Outcome is how a window left the pipeline.
type Outcome int

const (
	OutcomeComplete     Outcome = iota // complete features, classified if a model was given
	OutcomeInsufficient                // all-missing features
	OutcomeRejected                    // schema or sparse-data error
	OutcomeFailed                      // classifier error
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeInsufficient:
		return "insufficient"
	case OutcomeRejected:
		return "rejected"
	default:
		return "failed"
	}
}

// Evaluation is one window run through extraction and, optionally, the classifier.
type Evaluation struct {
	Source     string
	Result     *plasma.Result // nil when rejected
	Prediction *classify.Prediction
	Err        error
}

// Evaluate extracts features from w and classifies them when c is non-nil.
// A threshold of zero uses classify.DefaultThreshold.
func Evaluate(source string, w plasma.RawWindow, c classify.Classifier, threshold float64) *Evaluation {
	ev := &Evaluation{Source: source}

	res, err := plasma.Extract(w)
	if err != nil {
		ev.Err = err
		return ev
	}
	ev.Result = res

	if res.Insufficient() {
		ev.Err = classify.ErrInsufficientData
		return ev
	}
	if c == nil {
		return ev
	}

	if threshold == 0 {
		threshold = classify.DefaultThreshold
	}
	p, err := classify.Predict(c, res.Features, threshold)
	if err != nil {
		ev.Err = err
		return ev
	}
	ev.Prediction = &p
	return ev
}

func (e *Evaluation) Outcome() Outcome {
	switch {
	case e.Result == nil:
		return OutcomeRejected
	case errors.Is(e.Err, classify.ErrInsufficientData):
		return OutcomeInsufficient
	case e.Err != nil:
		return OutcomeFailed
	default:
		return OutcomeComplete
	}
}

// Report is the JSON line emitted per window.
type Report struct {
	Source      string                `json:"file"`
	Outcome     string                `json:"outcome"`
	WindowStart *time.Time            `json:"window_start,omitempty"`
	WindowEnd   *time.Time            `json:"window_end,omitempty"`
	RawRows     int                   `json:"raw_rows"`
	DerivedRows int                   `json:"derived_rows"`
	CadenceSec  float64               `json:"cadence_s,omitempty"`
	Features    *plasma.FeatureVector `json:"features,omitempty"`
	Probability *float64              `json:"probability,omitempty"`
	Confidence  *float64              `json:"confidence,omitempty"`
	Label       string                `json:"label,omitempty"`
	Error       string                `json:"error,omitempty"`
}

func (e *Evaluation) Report() Report {
	r := Report{Source: e.Source, Outcome: e.Outcome().String()}
	if e.Err != nil {
		r.Error = e.Err.Error()
	}

	if res := e.Result; res != nil {
		r.RawRows = res.Trace.RawRows
		r.DerivedRows = res.Trace.DerivedRows
		r.CadenceSec = res.Trace.Cadence.Seconds()
		if !res.Start.IsZero() {
			start, end := res.Start, res.End
			r.WindowStart, r.WindowEnd = &start, &end
		}
		fv := res.Features
		r.Features = &fv
	}

	if p := e.Prediction; p != nil {
		prob, conf := p.Probability, p.Confidence()
		r.Probability = &prob
		r.Confidence = &conf
		r.Label = string(p.Label)
	}
	return r
}
