package markov

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// NewRand returns a deterministic random source for the given seed. Two
// sources created with the same seed produce the same words from the same
// model.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// FreshRand returns a randomly seeded source. A *rand.Rand is not safe for
// concurrent use, so each goroutine should hold its own.
func FreshRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Generate draws a word of the given length from the model: the first letter
// from the start distribution, the next length-2 letters from the interior
// row of the previous letter, and the last letter from the final row of the
// second-to-last letter. A dead state (all-zero row) falls back to a uniform
// draw over the alphabet, so generation always completes.
//
// A length below MinWordLength fails with ErrInvalidLength before anything is
// drawn. A nil rng uses a freshly seeded source.
func (m *Model) Generate(rng *rand.Rand, length int) (string, error) {
	if length < MinWordLength {
		return "", fmt.Errorf("%w: %d (minimum is %d)", ErrInvalidLength, length, MinWordLength)
	}
	if rng == nil {
		rng = FreshRand()
	}

	word := make([]byte, length)
	current := weightedChoice(rng, &m.Start)
	word[0] = Symbol(current)
	for t := 1; t < length-1; t++ {
		current = weightedChoice(rng, &m.Interior[current])
		word[t] = Symbol(current)
	}
	word[length-1] = Symbol(weightedChoice(rng, &m.Final[current]))

	return string(word), nil
}

// GenerateN generates count words of the given length using the same source.
func (m *Model) GenerateN(rng *rand.Rand, count, length int) ([]string, error) {
	if length < MinWordLength {
		return nil, fmt.Errorf("%w: %d (minimum is %d)", ErrInvalidLength, length, MinWordLength)
	}
	if rng == nil {
		rng = FreshRand()
	}
	words := make([]string, 0, max(count, 0))
	for i := 0; i < count; i++ {
		w, err := m.Generate(rng, length)
		if err != nil {
			return nil, err
		}
		words = append(words, w)
	}
	return words, nil
}

// weightedChoice picks an index with probability proportional to its weight.
// When every weight is zero it picks uniformly over the whole alphabet.
func weightedChoice(rng *rand.Rand, weights *Vector) int {
	if weights.Sum() <= 0 {
		return rng.IntN(AlphabetSize)
	}
	return int(distuv.NewCategorical(weights[:], rng).Rand())
}
