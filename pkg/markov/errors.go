package markov

import "errors"

// Sentinel errors returned by the package. Callers should match them with
// errors.Is, since most are wrapped with additional context.
var (
	// ErrInvalidLength is returned by the generation functions when the
	// requested word length is below MinWordLength.
	ErrInvalidLength = errors.New("markov: invalid word length")

	// ErrMissingArtifact is returned when an imported or loaded model lacks
	// one of its three distributions.
	ErrMissingArtifact = errors.New("markov: missing model artifact")

	// ErrBadShape is returned when an imported distribution does not have
	// shape (V,) or (V,V).
	ErrBadShape = errors.New("markov: invalid distribution shape")

	// ErrAlphabetMismatch is returned when an imported model was built over a
	// different alphabet.
	ErrAlphabetMismatch = errors.New("markov: alphabet mismatch")

	// ErrBadDistribution is returned when a distribution holds values outside
	// [0,1] or a row that sums to neither 0 nor 1.
	ErrBadDistribution = errors.New("markov: invalid probability distribution")
)
