// internal/classifier/vectorizer.go
package classifier

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// sparse is an L2-normalized vector with ascending indices.
type sparse struct {
	Idx []int32   `cbor:"1,keyasint"`
	Val []float64 `cbor:"2,keyasint"`
}

func (a sparse) dot(b sparse) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(a.Idx) && j < len(b.Idx) {
		switch {
		case a.Idx[i] == b.Idx[j]:
			sum += a.Val[i] * b.Val[j]
			i++
			j++
		case a.Idx[i] < b.Idx[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// vectorizer is a TF-IDF model over word n-grams. Words are runs of at least
// two letters, digits or underscores, lowercased.
type vectorizer struct {
	NgramMin int
	NgramMax int
	MaxDF    float64
	Vocab    map[string]int32
	IDF      []float64
}

func tokenize(text string) []string {
	text = strings.ToLower(text)
	var (
		out []string
		cur []rune
	)
	flush := func() {
		if len(cur) >= 2 {
			out = append(out, string(cur))
		}
		cur = cur[:0]
	}
	for _, r := range text {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
			cur = append(cur, r)
			continue
		}
		flush()
	}
	flush()
	return out
}

func (v *vectorizer) terms(text string) []string {
	words := tokenize(text)
	var out []string
	for n := v.NgramMin; n <= v.NgramMax; n++ {
		for i := 0; i+n <= len(words); i++ {
			out = append(out, strings.Join(words[i:i+n], " "))
		}
	}
	return out
}

// fit learns the vocabulary and idf weights and returns the training matrix.
// Terms found in more than MaxDF of the documents are dropped, unless that
// would leave no terms at all.
func (v *vectorizer) fit(docs []string) []sparse {
	n := len(docs)
	df := make(map[string]int)
	counts := make([]map[string]int, n)
	for i, doc := range docs {
		c := make(map[string]int)
		for _, t := range v.terms(doc) {
			c[t]++
		}
		counts[i] = c
		for t := range c {
			df[t]++
		}
	}

	limit := v.MaxDF * float64(n)
	kept := make([]string, 0, len(df))
	for t, d := range df {
		if float64(d) <= limit {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		for t := range df {
			kept = append(kept, t)
		}
	}
	sort.Strings(kept)

	v.Vocab = make(map[string]int32, len(kept))
	v.IDF = make([]float64, len(kept))
	for i, t := range kept {
		v.Vocab[t] = int32(i)
		v.IDF[i] = math.Log(float64(1+n)/float64(1+df[t])) + 1
	}

	rows := make([]sparse, n)
	for i, c := range counts {
		rows[i] = v.weigh(c)
	}
	return rows
}

func (v *vectorizer) transform(text string) sparse {
	c := make(map[string]int)
	for _, t := range v.terms(text) {
		if _, ok := v.Vocab[t]; ok {
			c[t]++
		}
	}
	return v.weigh(c)
}

func (v *vectorizer) weigh(counts map[string]int) sparse {
	type cell struct {
		idx int32
		w   float64
	}
	cells := make([]cell, 0, len(counts))
	var norm float64
	for t, c := range counts {
		idx, ok := v.Vocab[t]
		if !ok {
			continue
		}
		w := float64(c) * v.IDF[idx]
		cells = append(cells, cell{idx: idx, w: w})
		norm += w * w
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].idx < cells[j].idx })

	vec := sparse{Idx: make([]int32, len(cells)), Val: make([]float64, len(cells))}
	norm = math.Sqrt(norm)
	for i, c := range cells {
		vec.Idx[i] = c.idx
		if norm > 0 {
			vec.Val[i] = c.w / norm
		}
	}
	return vec
}
