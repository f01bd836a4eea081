// internal/classifier/model_test.go
package classifier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/shadowshift/internal/types"
)

func trainingSet() []types.TrainingExample {
	return []types.TrainingExample{
		{ID: "a-3", ThreadID: "a", Action: types.ActionReplyUrgent,
			State: "[Thread: a | Sources: mail]\n2025-01-01 10:00 other: need the report asap before the deadline"},
		{ID: "b-3", ThreadID: "b", Action: types.ActionReply,
			State: "[Thread: b | Sources: chat]\n2025-01-01 10:00 other: could you take a look at the new design?"},
		{ID: "c-3", ThreadID: "c", Action: types.ActionSummarize,
			State: "[Thread: c | Sources: vcs]\n2025-01-01 10:00 other: merged, closes #14 and fixes #15"},
		{ID: "d-3", ThreadID: "d", Action: types.ActionFollowUp,
			State: "[Thread: d | Sources: mail]\n2025-01-01 10:00 other: sent over the invoice last week"},
	}
}

func fitDefault(t *testing.T) *Model {
	t.Helper()
	m, summary, err := Fit(trainingSet(), DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 4, summary.Count)
	return m
}

func TestFitSummary(t *testing.T) {
	_, summary, err := Fit(trainingSet(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []types.Action{
		types.ActionFollowUp, types.ActionReply, types.ActionReplyUrgent, types.ActionSummarize,
	}, summary.Actions)
}

func TestPredictNearest(t *testing.T) {
	m := fitDefault(t)

	p, err := m.Predict("other: the report is needed asap, deadline tomorrow")
	require.NoError(t, err)
	assert.Equal(t, types.ActionReplyUrgent, p.Action)
	assert.Greater(t, p.Confidence, 0.0)
	assert.LessOrEqual(t, p.Confidence, 1.0)

	// a training state matches itself exactly
	p, err = m.Predict(trainingSet()[2].State)
	require.NoError(t, err)
	assert.Equal(t, types.ActionSummarize, p.Action)
	assert.InDelta(t, 1.0, p.Confidence, 1e-9)
}

func TestPredictUnknownVocabulary(t *testing.T) {
	m := fitDefault(t)
	p, err := m.Predict("zzz qqq")
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Confidence)
	// all rows tie; the earliest wins
	assert.Equal(t, types.ActionReplyUrgent, p.Action)
}

func TestPredictWithThreshold(t *testing.T) {
	m := fitDefault(t)
	state := "could you look at the design"

	raw, err := m.Predict(state)
	require.NoError(t, err)
	require.Less(t, raw.Confidence, 1.0)

	p, err := m.PredictWithThreshold(state, 0)
	require.NoError(t, err)
	assert.Equal(t, raw, p)

	p, err = m.PredictWithThreshold(state, 1.0)
	require.NoError(t, err)
	assert.Equal(t, types.ActionAskClarification, p.Action)
	assert.Equal(t, raw.Confidence, p.Confidence)

	_, err = m.PredictWithThreshold(state, 1.5)
	var verr *types.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestSingleActionAlwaysPredicted(t *testing.T) {
	rows := []types.TrainingExample{
		{State: "please review the patch", Action: types.ActionReply},
		{State: "ptal at the patch", Action: types.ActionReply},
	}
	m, _, err := Fit(rows, DefaultOptions())
	require.NoError(t, err)

	for _, q := range []string{"anything at all", "", "patch"} {
		p, err := m.Predict(q)
		require.NoError(t, err)
		assert.Equal(t, types.ActionReply, p.Action)
	}
}

func TestSingleExampleFits(t *testing.T) {
	m, _, err := Fit([]types.TrainingExample{{State: "status update", Action: types.ActionSummarize}}, DefaultOptions())
	require.NoError(t, err)
	p, err := m.Predict("status update")
	require.NoError(t, err)
	assert.Equal(t, types.ActionSummarize, p.Action)
	assert.InDelta(t, 1.0, p.Confidence, 1e-9)
}

func TestFitErrors(t *testing.T) {
	_, _, err := Fit(nil, DefaultOptions())
	var verr *types.ValidationError
	assert.True(t, errors.As(err, &verr))

	_, _, err = Fit([]types.TrainingExample{{State: "x"}, {Action: types.ActionReply}}, DefaultOptions())
	var serr *types.SchemaError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, 0, serr.Row)
	assert.Equal(t, []string{"action"}, serr.Missing)

	_, _, err = Fit([]types.TrainingExample{{State: "x", Action: "archive"}}, DefaultOptions())
	assert.True(t, errors.As(err, &verr))
}

func TestNotFitted(t *testing.T) {
	var m *Model
	_, err := m.Predict("x")
	assert.ErrorIs(t, err, types.ErrNotFitted)

	_, err = (&Model{}).PredictWithThreshold("x", 0.5)
	assert.ErrorIs(t, err, types.ErrNotFitted)

	_, err = (&Model{}).Encode()
	assert.ErrorIs(t, err, types.ErrNotFitted)
}

func TestBatchPredict(t *testing.T) {
	m := fitDefault(t)
	states := []string{trainingSet()[0].State, trainingSet()[1].State}
	preds, err := m.BatchPredict(states)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, types.ActionReplyUrgent, preds[0].Action)
	assert.Equal(t, types.ActionReply, preds[1].Action)
}

func TestNeighborsOrdered(t *testing.T) {
	m := fitDefault(t)
	nn, err := m.Neighbors(trainingSet()[1].State, 3)
	require.NoError(t, err)
	require.Len(t, nn, 3)
	assert.Equal(t, 1, nn[0].Index)
	assert.GreaterOrEqual(t, nn[0].Confidence, nn[1].Confidence)
	assert.GreaterOrEqual(t, nn[1].Confidence, nn[2].Confidence)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"thread", "a1", "sources", "mail", "2025", "01", "can_you", "ok"},
		tokenize("[Thread: a1 | Sources: mail] 2025-01 can_you a OK!"))
}

func TestMaxDFDropsCommonTerms(t *testing.T) {
	v := &vectorizer{NgramMin: 1, NgramMax: 1, MaxDF: 0.95}
	v.fit([]string{"thread alpha", "thread beta", "thread gamma"})
	_, ok := v.Vocab["thread"]
	assert.False(t, ok)
	assert.Len(t, v.Vocab, 3)
}
