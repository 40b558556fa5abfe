package markov

import (
	"context"
	"fmt"
	"math/rand/v2"
)

// GenerateStream generates count words of the given length and delivers them
// on the returned channel, which is closed once every word has been sent or
// the context is cancelled. The length is validated before the goroutine
// starts, so an invalid length returns ErrInvalidLength and no channel.
//
// The rng is owned by the stream's goroutine until the channel is closed.
func (m *Model) GenerateStream(ctx context.Context, rng *rand.Rand, count, length int) (<-chan string, error) {
	if length < MinWordLength {
		return nil, fmt.Errorf("%w: %d (minimum is %d)", ErrInvalidLength, length, MinWordLength)
	}
	if rng == nil {
		rng = FreshRand()
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for i := 0; i < count; i++ {
			word, err := m.Generate(rng, length)
			if err != nil {
				return
			}
			select {
			case out <- word:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
