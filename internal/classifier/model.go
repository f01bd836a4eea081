// internal/classifier/model.go
package classifier

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/user/shadowshift/internal/types"
)

// Options are the fit hyperparameters.
type Options struct {
	NgramMin  int
	NgramMax  int
	Neighbors int
	MaxDF     float64
}

// DefaultOptions uses word 1- and 2-grams, one neighbor, and drops terms seen
// in more than 95% of training states.
func DefaultOptions() Options {
	return Options{NgramMin: 1, NgramMax: 2, Neighbors: 1, MaxDF: 0.95}
}

func (o Options) validate() error {
	if o.NgramMin < 1 || o.NgramMax < o.NgramMin {
		return &types.ValidationError{Field: "ngram_range", Reason: fmt.Sprintf("invalid range (%d, %d)", o.NgramMin, o.NgramMax)}
	}
	if o.Neighbors < 1 {
		return &types.ValidationError{Field: "neighbors", Reason: "must be at least 1"}
	}
	if o.MaxDF <= 0 || o.MaxDF > 1 {
		return &types.ValidationError{Field: "max_df", Reason: "must be in (0, 1]"}
	}
	return nil
}

// FitSummary describes a fitted model.
type FitSummary struct {
	Count   int            `json:"num_examples"`
	Actions []types.Action `json:"classes"`
}

// Neighbor is one training row close to a query.
type Neighbor struct {
	Index      int          `json:"index"`
	Action     types.Action `json:"action"`
	Confidence float64      `json:"confidence"`
}

// Model is a fitted nearest-neighbor index over TF-IDF vectors of training
// states. A Model never changes after Fit or Load and is safe for concurrent
// use; refitting produces a new Model.
//
// When several training rows are at exactly the same distance from a query,
// the earliest row wins. Callers should not rely on that order; it depends on
// the order of the training set.
type Model struct {
	opts     Options
	vec      *vectorizer
	rows     []sparse
	labels   []types.Action
	digest   string
	fittedAt time.Time
}

// Fit vectorizes the training states and indexes them.
func Fit(examples []types.TrainingExample, opts Options) (*Model, FitSummary, error) {
	if err := opts.validate(); err != nil {
		return nil, FitSummary{}, err
	}
	if len(examples) == 0 {
		return nil, FitSummary{}, &types.ValidationError{Field: "examples", Reason: "training set is empty"}
	}

	docs := make([]string, len(examples))
	labels := make([]types.Action, len(examples))
	for i, ex := range examples {
		var missing []string
		if ex.State == "" {
			missing = append(missing, "state")
		}
		if ex.Action == "" {
			missing = append(missing, "action")
		}
		if len(missing) > 0 {
			return nil, FitSummary{}, &types.SchemaError{Row: i, Missing: missing}
		}
		if !ex.Action.Valid() {
			return nil, FitSummary{}, &types.ValidationError{Field: "action", Reason: fmt.Sprintf("row %d: unknown action %q", i, ex.Action)}
		}
		docs[i] = ex.State
		labels[i] = ex.Action
	}

	vec := &vectorizer{NgramMin: opts.NgramMin, NgramMax: opts.NgramMax, MaxDF: opts.MaxDF}
	m := &Model{
		opts:     opts,
		vec:      vec,
		rows:     vec.fit(docs),
		labels:   labels,
		fittedAt: time.Now().UTC(),
	}
	return m, m.Summary(), nil
}

// Fitted reports whether m can predict.
func (m *Model) Fitted() bool {
	return m != nil && m.vec != nil && len(m.rows) > 0 && len(m.rows) == len(m.labels)
}

// Options returns the hyperparameters m was fitted with.
func (m *Model) Options() Options { return m.opts }

// Digest is the dataset digest recorded with the model, if any.
func (m *Model) Digest() string { return m.digest }

// WithDigest returns a copy of m that records the digest of its training rows.
func (m *Model) WithDigest(d string) *Model {
	cp := *m
	cp.digest = d
	return &cp
}

// FittedAt is when the model was fitted.
func (m *Model) FittedAt() time.Time { return m.fittedAt }

// Summary returns the example count and sorted distinct actions.
func (m *Model) Summary() FitSummary {
	if !m.Fitted() {
		return FitSummary{}
	}
	seen := make(map[types.Action]struct{})
	var actions []types.Action
	for _, a := range m.labels {
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			actions = append(actions, a)
		}
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return FitSummary{Count: len(m.labels), Actions: actions}
}

// Predict returns the action of the nearest training state and a confidence
// of 1 - cosine distance.
func (m *Model) Predict(state string) (types.Prediction, error) {
	nn, err := m.Neighbors(state, 1)
	if err != nil {
		return types.Prediction{}, err
	}
	return types.Prediction{Action: nn[0].Action, Confidence: nn[0].Confidence}, nil
}

// PredictWithThreshold replaces the predicted action with ask_clarification
// when confidence is below threshold. The confidence is reported unchanged.
func (m *Model) PredictWithThreshold(state string, threshold float64) (types.Prediction, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return types.Prediction{}, err
	}
	p, err := m.Predict(state)
	if err != nil {
		return types.Prediction{}, err
	}
	if p.Confidence < threshold {
		p.Action = types.ActionAskClarification
	}
	return p, nil
}

// BatchPredict predicts each state in order.
func (m *Model) BatchPredict(states []string) ([]types.Prediction, error) {
	out := make([]types.Prediction, 0, len(states))
	for _, s := range states {
		p, err := m.Predict(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Neighbors returns up to k training rows closest to state, nearest first.
// k <= 0 uses the model's neighbor count.
func (m *Model) Neighbors(state string, k int) ([]Neighbor, error) {
	if !m.Fitted() {
		return nil, types.ErrNotFitted
	}
	if k <= 0 {
		k = m.opts.Neighbors
	}
	if k > len(m.rows) {
		k = len(m.rows)
	}

	q := m.vec.transform(state)
	all := make([]Neighbor, len(m.rows))
	for i, row := range m.rows {
		all[i] = Neighbor{Index: i, Action: m.labels[i], Confidence: 1 - cosineDistance(q, row)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Confidence > all[j].Confidence })
	return all[:k], nil
}

// ValidateThreshold accepts thresholds in [0, 1].
func ValidateThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return &types.ValidationError{Field: "threshold", Reason: "must be between 0 and 1"}
	}
	return nil
}

// cosineDistance on unit vectors, clipped to [0, 2]. A zero vector is at
// distance 1 from everything.
func cosineDistance(a, b sparse) float64 {
	d := 1 - a.dot(b)
	switch {
	case d < 0:
		return 0
	case d > 2:
		return 2
	}
	return d
}
