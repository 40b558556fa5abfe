package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/CTAG07/Logogen/pkg/markov"
	"github.com/CTAG07/Logogen/pkg/store"
	"github.com/cheggaaa/pb/v3"
	"github.com/natefinch/atomic"
)

// openStore opens the database, creating the directory and schema on first use.
func openStore(c *commonFlags) (*sql.DB, *store.Store, error) {
	if dir := filepath.Dir(c.dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("could not create database directory: %w", err)
		}
	}
	db, err := store.Open(c.dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err = store.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("could not set up schema: %w", err)
	}
	st, err := store.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	st.SetLogger(c.logger())
	return db, st, nil
}

func closeStore(db *sql.DB, st *store.Store) {
	st.Close()
	_ = db.Close()
}

func requireName(name string) error {
	if name == "" {
		return errors.New("-name is required")
	}
	return nil
}

func runTrain(ctx context.Context, args []string, stdout io.Writer) error {
	var c commonFlags
	fs := newFlagSet("train", &c)
	name := fs.String("name", "", "model name")
	corpus := fs.String("corpus", "", "corpus file, one word per line")
	topK := fs.Int("k", markov.DefaultTopK, "transitions kept per state (0 keeps all)")
	progress := fs.Bool("progress", true, "show a progress bar on stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireName(*name); err != nil {
		return err
	}
	if *corpus == "" {
		return errors.New("-corpus is required")
	}

	f, err := os.Open(*corpus)
	if err != nil {
		return fmt.Errorf("could not open corpus: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var r io.Reader = f
	var bar *pb.ProgressBar
	if *progress {
		fi, err := f.Stat()
		if err != nil {
			return fmt.Errorf("could not stat corpus: %w", err)
		}
		bar = pb.Full.Start64(fi.Size())
		bar.SetWriter(os.Stderr)
		r = bar.NewProxyReader(f)
	}

	m, words, err := markov.Train(ctx, r, markov.WithTopK(*topK), markov.WithLogger(c.logger()))
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	db, st, err := openStore(&c)
	if err != nil {
		return err
	}
	defer closeStore(db, st)

	info, err := st.SaveModel(ctx, *name, m, words)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "trained %s from %d words (top_k %d, build %s)\n", info.Name, info.WordCount, info.TopK, info.BuildID)
	return err
}

func runGenerate(ctx context.Context, args []string, stdout io.Writer) error {
	var c commonFlags
	fs := newFlagSet("generate", &c)
	name := fs.String("name", "", "model name")
	length := fs.Int("length", 6, "word length")
	count := fs.Int("count", 10, "number of words")
	seed := fs.String("seed", "", "seed for a reproducible run (random when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireName(*name); err != nil {
		return err
	}

	rng := markov.FreshRand()
	if *seed != "" {
		s, err := strconv.ParseUint(*seed, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid -seed: %w", err)
		}
		rng = markov.NewRand(s)
	}

	db, st, err := openStore(&c)
	if err != nil {
		return err
	}
	defer closeStore(db, st)

	m, _, err := st.LoadModel(ctx, *name)
	if err != nil {
		return err
	}
	words, err := m.GenerateN(rng, *count, *length)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, strings.Join(words, "\n"))
	return err
}

func runExport(ctx context.Context, args []string, stdout io.Writer) error {
	var c commonFlags
	fs := newFlagSet("export", &c)
	name := fs.String("name", "", "model name")
	out := fs.String("out", "-", "output file ('-' for stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireName(*name); err != nil {
		return err
	}

	db, st, err := openStore(&c)
	if err != nil {
		return err
	}
	defer closeStore(db, st)

	m, _, err := st.LoadModel(ctx, *name)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err = m.ExportJSON(&buf); err != nil {
		return err
	}
	if *out == "-" {
		_, err = buf.WriteTo(stdout)
		return err
	}
	if err = atomic.WriteFile(*out, &buf); err != nil {
		return fmt.Errorf("could not write %s: %w", *out, err)
	}
	return nil
}

func runImport(ctx context.Context, args []string, stdout io.Writer) error {
	var c commonFlags
	fs := newFlagSet("import", &c)
	name := fs.String("name", "", "model name")
	in := fs.String("in", "", "JSON export to read")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireName(*name); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("-in is required")
	}

	f, err := os.Open(*in)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", *in, err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	m, err := markov.ImportJSON(f)
	if err != nil {
		return err
	}

	db, st, err := openStore(&c)
	if err != nil {
		return err
	}
	defer closeStore(db, st)

	info, err := st.SaveModel(ctx, *name, m, 0)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "imported %s (top_k %d, build %s)\n", info.Name, info.TopK, info.BuildID)
	return err
}

func runList(ctx context.Context, args []string, stdout io.Writer) error {
	var c commonFlags
	fs := newFlagSet("list", &c)
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, st, err := openStore(&c)
	if err != nil {
		return err
	}
	defer closeStore(db, st)

	models, err := st.GetModelInfos(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tTOP_K\tWORDS\tCREATED\tBUILD")
	for _, m := range models {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", m.Name, m.TopK, m.WordCount, m.CreatedAt.Format("2006-01-02 15:04:05"), m.BuildID)
	}
	return tw.Flush()
}

func runStats(ctx context.Context, args []string, stdout io.Writer) error {
	var c commonFlags
	fs := newFlagSet("stats", &c)
	name := fs.String("name", "", "model name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireName(*name); err != nil {
		return err
	}

	db, st, err := openStore(&c)
	if err != nil {
		return err
	}
	defer closeStore(db, st)

	m, info, err := st.LoadModel(ctx, *name)
	if err != nil {
		return err
	}
	s := m.Stats()
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "model\t%s\n", info.Name)
	_, _ = fmt.Fprintf(tw, "top_k\t%d\n", info.TopK)
	_, _ = fmt.Fprintf(tw, "training words\t%d\n", info.WordCount)
	_, _ = fmt.Fprintf(tw, "start symbols\t%d\n", s.StartSymbols)
	_, _ = fmt.Fprintf(tw, "interior links\t%d\n", s.InteriorLinks)
	_, _ = fmt.Fprintf(tw, "final links\t%d\n", s.FinalLinks)
	_, _ = fmt.Fprintf(tw, "dead interior states\t%d\n", s.DeadInterior)
	_, _ = fmt.Fprintf(tw, "dead final states\t%d\n", s.DeadFinal)
	return tw.Flush()
}
