package markov

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// DefaultTopK is the number of outcomes each distribution keeps after pruning
// when no other width is configured.
const DefaultTopK = 6

// Vector is a probability distribution over the alphabet.
type Vector [AlphabetSize]float64

// Matrix is a row-stochastic transition matrix: row i is the distribution of
// the next symbol given current symbol i. Rows may be all-zero (dead states).
type Matrix [AlphabetSize]Vector

// Sum returns the total probability mass of v.
func (v *Vector) Sum() float64 {
	return floats.Sum(v[:])
}

// Support returns the number of nonzero entries of v.
func (v *Vector) Support() int {
	n := 0
	for _, p := range v {
		if p != 0 {
			n++
		}
	}
	return n
}

// normalizeCounts divides each count by the row total, or returns the zero
// vector when the row is empty.
func normalizeCounts(counts *[AlphabetSize]int) Vector {
	var out Vector
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return out
	}
	s := float64(total)
	for i, c := range counts {
		out[i] = float64(c) / s
	}
	return out
}

// startDistribution normalizes the start counts. With no training data at all
// it falls back to the uniform distribution, so a model always has somewhere
// to start.
func startDistribution(counts *[AlphabetSize]int) Vector {
	out := normalizeCounts(counts)
	if out.Support() == 0 {
		for i := range out {
			out[i] = 1 / float64(AlphabetSize)
		}
	}
	return out
}

// transitionMatrix row-normalizes a count matrix, leaving empty rows at zero.
func transitionMatrix(counts *[AlphabetSize][AlphabetSize]int) Matrix {
	var out Matrix
	for i := range counts {
		out[i] = normalizeCounts(&counts[i])
	}
	return out
}

// PruneTopK keeps the k most probable entries of v, zeroes the rest and
// rescales the kept entries to sum to 1. Entries that tie at the cut keep the
// lowest index first. An all-zero vector is returned unchanged, and k <= 0
// keeps every nonzero entry.
func PruneTopK(v Vector, k int) Vector {
	var out Vector

	kept := make([]int, 0, AlphabetSize)
	for i, p := range v {
		if p > 0 {
			kept = append(kept, i)
		}
	}
	if len(kept) == 0 {
		return out
	}

	// Stable, so equal probabilities stay in ascending index order.
	slices.SortStableFunc(kept, func(a, b int) int {
		return cmp.Compare(v[b], v[a])
	})
	if k > 0 && k < len(kept) {
		kept = kept[:k]
	}

	var s float64
	for _, i := range kept {
		out[i] = v[i]
		s += v[i]
	}
	for _, i := range kept {
		out[i] /= s
	}
	return out
}

// PruneRows applies PruneTopK to every row of m.
func PruneRows(m *Matrix, k int) Matrix {
	var out Matrix
	for i := range m {
		out[i] = PruneTopK(m[i], k)
	}
	return out
}

// BuildDistributions turns frequency tables into a pruned model. It never
// fails: empty rows stay empty and an empty start table becomes uniform.
func BuildDistributions(c *Counts, k int) *Model {
	start := startDistribution(&c.Start)
	interior := transitionMatrix(&c.Interior)
	final := transitionMatrix(&c.Final)

	return &Model{
		Start:    PruneTopK(start, k),
		Interior: PruneRows(&interior, k),
		Final:    PruneRows(&final, k),
		TopK:     k,
	}
}
