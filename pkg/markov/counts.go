package markov

// Counts holds the three frequency tables accumulated from training words.
// Start counts first letters, Interior counts every bigram except the last
// one of a word, and Final counts the last bigram of each word.
//
// A two-letter word has no interior bigram: it contributes to Start through
// its first letter and to Final through its only bigram.
type Counts struct {
	Start    [AlphabetSize]int
	Interior [AlphabetSize][AlphabetSize]int
	Final    [AlphabetSize][AlphabetSize]int
	// Words is the number of words that contributed to the tables.
	Words int
}

// NewCounts returns empty frequency tables.
func NewCounts() *Counts {
	return &Counts{}
}

// Add records a normalized word. It reports false, leaving the tables
// untouched, when the word is shorter than MinWordLength or holds a byte
// outside the alphabet.
func (c *Counts) Add(word string) bool {
	n := len(word)
	if n < MinWordLength {
		return false
	}
	idx := make([]int, n)
	for i := 0; i < n; i++ {
		var ok bool
		if idx[i], ok = Index(word[i]); !ok {
			return false
		}
	}

	c.Start[idx[0]]++
	for t := 0; t <= n-3; t++ {
		c.Interior[idx[t]][idx[t+1]]++
	}
	c.Final[idx[n-2]][idx[n-1]]++
	c.Words++
	return true
}

// CountWords builds frequency tables from already normalized words.
func CountWords(words []string) *Counts {
	c := NewCounts()
	for _, w := range words {
		c.Add(w)
	}
	return c
}
