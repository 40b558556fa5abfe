package markov

const (
	// Letters is the ordered symbol set every model is built over. The
	// position of a letter in this string is its index.
	Letters = "abcdefghijklmnopqrstuvwxyz"
	// AlphabetSize is the number of symbols in Letters.
	AlphabetSize = len(Letters)
	// MinWordLength is the shortest word accepted for training and generation.
	MinWordLength = 2
)

// Index returns the index of the symbol c, and false if c is not part of the
// alphabet. Only lowercase letters are accepted.
func Index(c byte) (int, bool) {
	if c < 'a' || c > 'z' {
		return 0, false
	}
	return int(c - 'a'), true
}

// Symbol returns the symbol at index i. It panics if i is outside
// [0, AlphabetSize), which is always a programming error.
func Symbol(i int) byte {
	return Letters[i]
}
