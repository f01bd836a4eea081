// internal/classifier/evaluate.go
package classifier

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/user/shadowshift/internal/types"
)

// ClassMetrics are per-label precision, recall and F1. Undefined ratios are 0.
type ClassMetrics struct {
	Label     types.Action `json:"label"`
	Precision float64      `json:"precision"`
	Recall    float64      `json:"recall"`
	F1        float64      `json:"f1"`
	Support   int          `json:"support"`
}

// Report is the outcome of scoring a model on held-out rows.
type Report struct {
	TrainSize int            `json:"train_size"`
	TestSize  int            `json:"test_size"`
	Accuracy  float64        `json:"accuracy"`
	Labels    []types.Action `json:"labels"`
	// Confusion[i][j] counts rows with true label Labels[i] predicted as Labels[j].
	Confusion [][]int        `json:"confusion"`
	PerClass  []ClassMetrics `json:"per_class"`
	MacroF1   float64        `json:"macro_f1"`
}

// Evaluate fits on train and scores raw predictions on test.
func Evaluate(train, test []types.TrainingExample, opts Options) (Report, error) {
	if len(test) == 0 {
		return Report{}, &types.ValidationError{Field: "test", Reason: "no rows to evaluate"}
	}
	m, _, err := Fit(train, opts)
	if err != nil {
		return Report{}, fmt.Errorf("fit: %w", err)
	}

	yTrue := make([]types.Action, len(test))
	yPred := make([]types.Action, len(test))
	for i, ex := range test {
		p, err := m.Predict(ex.State)
		if err != nil {
			return Report{}, err
		}
		yTrue[i] = ex.Action
		yPred[i] = p.Action
	}

	r := Score(yTrue, yPred, unionLabels(train, test))
	r.TrainSize = len(train)
	r.TestSize = len(test)
	return r, nil
}

// Score compares predictions against truth over the given label order.
// Labels seen in yTrue or yPred but missing from labels are appended.
func Score(yTrue, yPred []types.Action, labels []types.Action) Report {
	labels = slices.Clone(labels)
	index := make(map[types.Action]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	for _, ys := range [][]types.Action{yTrue, yPred} {
		for _, l := range ys {
			if _, ok := index[l]; !ok {
				index[l] = len(labels)
				labels = append(labels, l)
			}
		}
	}

	conf := make([][]int, len(labels))
	for i := range conf {
		conf[i] = make([]int, len(labels))
	}
	correct := 0
	for i := range yTrue {
		conf[index[yTrue[i]]][index[yPred[i]]]++
		if yTrue[i] == yPred[i] {
			correct++
		}
	}

	r := Report{Labels: labels, Confusion: conf}
	if len(yTrue) > 0 {
		r.Accuracy = float64(correct) / float64(len(yTrue))
	}

	var f1Sum float64
	for i, l := range labels {
		tp := conf[i][i]
		var predicted, actual int
		for j := range labels {
			predicted += conf[j][i]
			actual += conf[i][j]
		}
		cm := ClassMetrics{Label: l, Support: actual}
		if predicted > 0 {
			cm.Precision = float64(tp) / float64(predicted)
		}
		if actual > 0 {
			cm.Recall = float64(tp) / float64(actual)
		}
		if cm.Precision+cm.Recall > 0 {
			cm.F1 = 2 * cm.Precision * cm.Recall / (cm.Precision + cm.Recall)
		}
		f1Sum += cm.F1
		r.PerClass = append(r.PerClass, cm)
	}
	if len(labels) > 0 {
		r.MacroF1 = f1Sum / float64(len(labels))
	}
	return r
}

// String renders the report as plain text tables.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Train size: %d | Test size: %d\n", r.TrainSize, r.TestSize)
	fmt.Fprintf(&b, "Accuracy: %.3f\n\nConfusion matrix (rows = true):\n", r.Accuracy)

	width := 8
	for _, l := range r.Labels {
		if len(l) > width {
			width = len(l)
		}
	}
	fmt.Fprintf(&b, "%*s", width, "")
	for _, l := range r.Labels {
		fmt.Fprintf(&b, " %*s", width, l)
	}
	b.WriteByte('\n')
	for i, l := range r.Labels {
		fmt.Fprintf(&b, "%*s", width, l)
		for _, c := range r.Confusion[i] {
			fmt.Fprintf(&b, " %*d", width, c)
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "\n%*s %9s %9s %9s %9s\n", width, "", "precision", "recall", "f1-score", "support")
	for _, c := range r.PerClass {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	fmt.Fprintf(&b, "%*s %9s %9s %9.2f %9d\n", width, "macro avg", "", "", r.MacroF1, r.TestSize)
	return b.String()
}

func unionLabels(sets ...[]types.TrainingExample) []types.Action {
	seen := make(map[types.Action]struct{})
	var out []types.Action
	for _, set := range sets {
		for _, ex := range set {
			if _, ok := seen[ex.Action]; !ok {
				seen[ex.Action] = struct{}{}
				out = append(out, ex.Action)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
