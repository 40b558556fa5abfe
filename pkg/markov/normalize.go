package markov

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Normalize cleans a raw corpus line into a training word. The line is
// trimmed and lowercased, and every character outside the alphabet is
// removed. It returns false when the line is blank or the cleaned word is
// shorter than MinWordLength; such lines are skipped, never reported.
func Normalize(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	line = strings.ToLower(line)

	var b strings.Builder
	b.Grow(len(line))
	for i := 0; i < len(line); i++ {
		if _, ok := Index(line[i]); ok {
			b.WriteByte(line[i])
		}
	}
	if b.Len() < MinWordLength {
		return "", false
	}
	return b.String(), true
}

// NormalizeLines applies Normalize to every line and returns the words that
// survived, in input order.
func NormalizeLines(lines []string) []string {
	words := make([]string, 0, len(lines))
	for _, line := range lines {
		if w, ok := Normalize(line); ok {
			words = append(words, w)
		}
	}
	return words
}

// WordStream reads a corpus with one candidate word per line and yields the
// normalized words one at a time. Lines have no length limit.
type WordStream struct {
	reader *bufio.Reader
	lines  int64
	done   bool
}

// NewWordStream returns a WordStream reading from r.
func NewWordStream(r io.Reader) *WordStream {
	return &WordStream{reader: bufio.NewReader(r)}
}

// Next returns the next normalized word. Lines that do not normalize to a
// word are skipped. When the stream is exhausted it returns io.EOF; any other
// error comes from the underlying reader.
func (s *WordStream) Next() (string, error) {
	for !s.done {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return "", err
			}
			s.done = true
			if line == "" {
				break
			}
		}
		s.lines++
		if w, ok := Normalize(line); ok {
			return w, nil
		}
	}
	return "", io.EOF
}

// Lines returns how many raw lines have been read so far, including the ones
// that were dropped.
func (s *WordStream) Lines() int64 {
	return s.lines
}
