/*
Package markov learns a position-sensitive, letter-level Markov model from a
word corpus and generates new pseudo-words of a requested length.

Training splits every word into three regimes: how words start (the first
letter), how they continue (every bigram but the last) and how they end (the
last bigram). Each regime becomes a probability distribution that is pruned to
its k most likely outcomes and renormalized.

	model := markov.Build(lines, markov.WithTopK(6))
	word, err := model.Generate(markov.NewRand(42), 6)

Models are immutable once built and can be shared between goroutines; random
sources cannot, so every goroutine passes its own *rand.Rand.
*/
package markov
