// internal/dataset/split.go
package dataset

import (
	"math"
	"math/rand/v2"

	"github.com/user/shadowshift/internal/types"
)

// SplitOptions controls GroupedSplit.
type SplitOptions struct {
	TestSize float64
	MaxTries int
	Seed     uint64
}

// DefaultSplitOptions holds out 40% of threads, trying 25 seeded shuffles.
var DefaultSplitOptions = SplitOptions{TestSize: 0.4, MaxTries: 25, Seed: 42}

// GroupedSplit partitions rows by thread so no thread appears on both sides.
// It tries up to MaxTries seeded shuffles and keeps the first one whose test
// labels are non-empty and all present in train. When none qualifies the
// first shuffle is used as is.
func GroupedSplit(rows []types.TrainingExample, opts SplitOptions) (train, test []types.TrainingExample, err error) {
	if opts.TestSize <= 0 || opts.TestSize >= 1 {
		return nil, nil, &types.ValidationError{Field: "test_size", Reason: "must be in (0, 1)"}
	}
	if opts.MaxTries < 1 {
		opts.MaxTries = 1
	}

	var groups []string
	seen := make(map[string]struct{})
	for _, r := range rows {
		if _, ok := seen[r.ThreadID]; !ok {
			seen[r.ThreadID] = struct{}{}
			groups = append(groups, r.ThreadID)
		}
	}
	if len(groups) < 2 {
		return nil, nil, &types.ValidationError{Field: "thread_id", Reason: "need at least two threads to split"}
	}

	nTest := int(math.Ceil(opts.TestSize * float64(len(groups))))
	if nTest >= len(groups) {
		nTest = len(groups) - 1
	}

	var firstTrain, firstTest []types.TrainingExample
	for try := 0; try < opts.MaxTries; try++ {
		rng := rand.New(rand.NewPCG(opts.Seed, uint64(try)))
		perm := rng.Perm(len(groups))
		held := make(map[string]bool, nTest)
		for _, idx := range perm[:nTest] {
			held[groups[idx]] = true
		}

		tr, te := partition(rows, held)
		if try == 0 {
			firstTrain, firstTest = tr, te
		}
		if labelsCovered(tr, te) {
			return tr, te, nil
		}
	}
	return firstTrain, firstTest, nil
}

func partition(rows []types.TrainingExample, held map[string]bool) (train, test []types.TrainingExample) {
	for _, r := range rows {
		if held[r.ThreadID] {
			test = append(test, r)
		} else {
			train = append(train, r)
		}
	}
	return train, test
}

func labelsCovered(train, test []types.TrainingExample) bool {
	if len(test) == 0 {
		return false
	}
	have := make(map[types.Action]struct{})
	for _, r := range train {
		have[r.Action] = struct{}{}
	}
	for _, r := range test {
		if _, ok := have[r.Action]; !ok {
			return false
		}
	}
	return true
}
