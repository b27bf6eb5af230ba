// Command validate-file checks newline-delimited banner events offline and
// prints a JSON summary of how many passed and why the rest were rejected.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bannerstream/internal/config"
	"bannerstream/internal/entity"
	"bannerstream/internal/logger"
	"bannerstream/internal/pipeline"
)

const maxLineBytes = 1 << 20

type summary struct {
	Total    int                   `json:"total"`
	Valid    int                   `json:"valid"`
	Rejected map[pipeline.Kind]int `json:"rejected"`
}

func newSummary() summary {
	s := summary{Rejected: make(map[pipeline.Kind]int, len(pipeline.Kinds))}
	for _, kind := range pipeline.Kinds {
		s.Rejected[kind] = 0
	}
	return s
}

func main() {
	var (
		patternsPath = flag.String("patterns", "", "YAML file with pattern overrides")
		emitPath     = flag.String("emit", "", "write valid records as JSON lines to this file (- for stdout)")
		logLevel     = flag.String("log-level", "warn", "log level; debug logs every rejection")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [file]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := execute(*patternsPath, *emitPath, *logLevel, flag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, "validate-file:", err)
		os.Exit(1)
	}
}

func execute(patternsPath, emitPath, logLevel, inputPath string) error {
	log, err := logger.New("validate-file", logLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	patterns, err := config.LoadPatterns(patternsPath)
	if err != nil {
		return err
	}
	registry := entity.NewRegistry(patterns.Rules())
	validator, err := pipeline.NewValidator(pipeline.Config{
		Countries:     registry.Countries,
		Languages:     registry.Languages,
		Projects:      registry.Projects,
		BannerPattern: patterns.Banner,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	in := io.Reader(os.Stdin)
	if inputPath != "" && inputPath != "-" {
		f, err := os.Open(inputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var emit io.Writer
	switch emitPath {
	case "":
	case "-":
		emit = os.Stdout
	default:
		f, err := os.Create(emitPath)
		if err != nil {
			return err
		}
		defer f.Close()
		emit = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := run(ctx, in, emit, validator, time.Now)
	if err != nil {
		return err
	}
	out := os.Stdout
	if emit == os.Stdout {
		out = os.Stderr
	}
	log.Debug("validation finished", zap.Int("total", sum.Total), zap.Int("valid", sum.Valid))
	return writeSummary(out, sum)
}

// run validates every non-blank line from r. Valid records are written to
// emit when it is non-nil.
func run(ctx context.Context, r io.Reader, emit io.Writer, v *pipeline.Validator, now func() time.Time) (summary, error) {
	sum := newSummary()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var enc *json.Encoder
	var bw *bufio.Writer
	if emit != nil {
		bw = bufio.NewWriter(emit)
		enc = json.NewEncoder(bw)
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		sum.Total++
		evt, err := v.Validate(ctx, line)
		if err != nil {
			kind := pipeline.KindOf(err)
			if kind == "" {
				return sum, err
			}
			sum.Rejected[kind]++
			continue
		}
		sum.Valid++
		if enc != nil {
			if err := enc.Encode(evt.Record(now())); err != nil {
				return sum, fmt.Errorf("emit record: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return sum, fmt.Errorf("line %d exceeds %d bytes", sum.Total+1, maxLineBytes)
		}
		return sum, err
	}
	if bw != nil {
		if err := bw.Flush(); err != nil {
			return sum, fmt.Errorf("emit record: %w", err)
		}
	}
	return sum, nil
}

func writeSummary(w io.Writer, sum summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
