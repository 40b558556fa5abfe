package markov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
)

// distTolerance is the slack allowed when checking that a row sums to 1.
const distTolerance = 1e-9

// Model is the trained artifact: the pruned start distribution and the pruned
// interior and final transition matrices. A Model is not modified after it is
// built, so a single Model may be shared by concurrent generators.
type Model struct {
	Start    Vector
	Interior Matrix
	Final    Matrix
	// TopK is the pruning width the model was built with. It is informational
	// only; generation never reads it.
	TopK int
}

// buildOptions configures Build and Train.
type buildOptions struct {
	topK   int
	logger *slog.Logger
}

// BuildOption is a function that configures model building. It's used as a
// variadic argument to Build and Train.
type BuildOption func(*buildOptions)

// WithTopK sets how many outcomes each distribution keeps after pruning.
// A value of 0 or less disables pruning. Default: DefaultTopK.
func WithTopK(k int) BuildOption {
	return func(o *buildOptions) { o.topK = k }
}

// WithLogger sets the logger used while building. By default, all logs are
// discarded.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(o *buildOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newBuildOptions(opts []BuildOption) *buildOptions {
	o := &buildOptions{
		topK:   DefaultTopK,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Build normalizes the raw corpus lines, counts them and returns the pruned
// model. Lines that do not normalize to a word are skipped. Build never fails;
// an empty corpus yields a model that starts uniformly and whose transitions
// are all dead states.
func Build(lines []string, opts ...BuildOption) *Model {
	o := newBuildOptions(opts)
	counts := CountWords(NormalizeLines(lines))
	m := BuildDistributions(counts, o.topK)

	o.logger.Debug("Model built",
		slog.Int("lines", len(lines)),
		slog.Int("words", counts.Words),
		slog.Int("top_k", o.topK),
	)
	return m
}

// Train reads a corpus with one word per line from r and builds a model from
// it. It returns the model together with the frequency tables' word count.
// The context is checked between lines, so a long read can be cancelled.
func Train(ctx context.Context, r io.Reader, opts ...BuildOption) (*Model, int, error) {
	o := newBuildOptions(opts)
	stream := NewWordStream(r)
	counts := NewCounts()

	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		word, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("corpus read error: %w", err)
		}
		counts.Add(word)
	}

	m := BuildDistributions(counts, o.topK)

	o.logger.InfoContext(ctx, "Training completed",
		slog.Int64("lines_read", stream.Lines()),
		slog.Int("words_used", counts.Words),
		slog.Int("top_k", o.topK),
	)
	return m, counts.Words, nil
}

// Clone returns a deep copy of m.
func (m *Model) Clone() *Model {
	c := *m
	return &c
}

// Validate checks that every entry lies in [0,1] and every distribution sums
// to 1 or 0. An all-zero start distribution is accepted; Generate then picks
// the first letter uniformly.
func (m *Model) Validate() error {
	if err := validateVector(&m.Start, true); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	for i := range m.Interior {
		if err := validateVector(&m.Interior[i], true); err != nil {
			return fmt.Errorf("interior row %d: %w", i, err)
		}
	}
	for i := range m.Final {
		if err := validateVector(&m.Final[i], true); err != nil {
			return fmt.Errorf("final row %d: %w", i, err)
		}
	}
	return nil
}

func validateVector(v *Vector, allowEmpty bool) error {
	for i, p := range v {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("%w: entry %d is %v", ErrBadDistribution, i, p)
		}
	}
	s := v.Sum()
	if s == 0 && allowEmpty {
		return nil
	}
	if math.Abs(s-1) > distTolerance {
		return fmt.Errorf("%w: sums to %v", ErrBadDistribution, s)
	}
	return nil
}

// ExportedModel is the serializable representation of a Model, used for
// JSON-based import and export.
type ExportedModel struct {
	Alphabet string      `json:"alphabet"`
	TopK     int         `json:"top_k"`
	Start    []float64   `json:"start"`
	Interior [][]float64 `json:"interior"`
	Final    [][]float64 `json:"final"`
}

// ExportJSON writes m to w as a JSON document. Floating point values are
// written in their shortest exact form, so ImportJSON restores them bit for
// bit.
func (m *Model) ExportJSON(w io.Writer) error {
	exported := ExportedModel{
		Alphabet: Letters,
		TopK:     m.TopK,
		Start:    append([]float64(nil), m.Start[:]...),
		Interior: matrixRows(&m.Interior),
		Final:    matrixRows(&m.Final),
	}
	if err := json.NewEncoder(w).Encode(exported); err != nil {
		return fmt.Errorf("could not encode model: %w", err)
	}
	return nil
}

// ImportJSON reads a model written by ExportJSON. A document without one of
// the three distributions fails with ErrMissingArtifact; shape, alphabet and
// value problems fail with ErrBadShape, ErrAlphabetMismatch and
// ErrBadDistribution respectively.
func ImportJSON(r io.Reader) (*Model, error) {
	var exported ExportedModel
	if err := json.NewDecoder(r).Decode(&exported); err != nil {
		return nil, fmt.Errorf("failed to decode model JSON: %w", err)
	}
	return exported.Model()
}

// Model converts the exported form back into a validated Model.
func (e *ExportedModel) Model() (*Model, error) {
	switch {
	case e.Start == nil:
		return nil, fmt.Errorf("%w: start distribution", ErrMissingArtifact)
	case e.Interior == nil:
		return nil, fmt.Errorf("%w: interior distribution", ErrMissingArtifact)
	case e.Final == nil:
		return nil, fmt.Errorf("%w: final distribution", ErrMissingArtifact)
	}
	if e.Alphabet != "" && e.Alphabet != Letters {
		return nil, fmt.Errorf("%w: %q", ErrAlphabetMismatch, e.Alphabet)
	}

	m := &Model{TopK: e.TopK}
	if err := fillVector(&m.Start, e.Start); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if err := fillMatrix(&m.Interior, e.Interior); err != nil {
		return nil, fmt.Errorf("interior: %w", err)
	}
	if err := fillMatrix(&m.Final, e.Final); err != nil {
		return nil, fmt.Errorf("final: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func matrixRows(m *Matrix) [][]float64 {
	rows := make([][]float64, len(m))
	for i := range m {
		rows[i] = append([]float64(nil), m[i][:]...)
	}
	return rows
}

func fillVector(dst *Vector, src []float64) error {
	if len(src) != AlphabetSize {
		return fmt.Errorf("%w: got %d entries, want %d", ErrBadShape, len(src), AlphabetSize)
	}
	copy(dst[:], src)
	return nil
}

func fillMatrix(dst *Matrix, src [][]float64) error {
	if len(src) != AlphabetSize {
		return fmt.Errorf("%w: got %d rows, want %d", ErrBadShape, len(src), AlphabetSize)
	}
	for i, row := range src {
		if err := fillVector(&dst[i], row); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}
