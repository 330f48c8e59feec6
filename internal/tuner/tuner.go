// Package tuner builds classifier fine-tuning data by contrasting true human
// continuations of a corpus with sampled model continuations.
package tuner

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"autoloom/internal/config"
	"autoloom/internal/llm"
	"autoloom/internal/logging"
	"autoloom/internal/observability"
	"autoloom/internal/token"
)

// Options configures a run.
type Options struct {
	Corpus                     string
	Output                     string
	Model                      string
	MaxTokens                  int
	Temperature                float64
	TopP                       float64
	BreakpointsPerDoc          int
	AICompletionsPerBreakpoint int
	MinTokens                  int
	// Seed fixes breakpoint sampling. Zero seeds from the clock.
	Seed int64
}

// OptionsFromConfig maps the tuner section of the config.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Output:                     cfg.Tuner.Output,
		Model:                      cfg.Tuner.Model,
		MaxTokens:                  cfg.Tuner.MaxTokens,
		Temperature:                cfg.Generation.Temperature,
		TopP:                       cfg.Generation.TopP,
		BreakpointsPerDoc:          cfg.Tuner.BreakpointsPerDoc,
		AICompletionsPerBreakpoint: cfg.Tuner.AICompletionsPerBreakpoint,
		MinTokens:                  cfg.Tuner.MinTokens,
		Seed:                       cfg.Tuner.Seed,
	}
}

func (o *Options) applyDefaults() {
	if o.Output == "" {
		o.Output = config.DefaultOutputFile
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 5
	}
	if o.TopP <= 0 {
		o.TopP = 1
	}
	if o.BreakpointsPerDoc <= 0 {
		o.BreakpointsPerDoc = 3
	}
	if o.AICompletionsPerBreakpoint <= 0 {
		o.AICompletionsPerBreakpoint = 5
	}
	if o.MinTokens <= 0 {
		o.MinTokens = 64
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
}

// Stats summarises a run.
type Stats struct {
	Documents   int `json:"documents"`
	Breakpoints int `json:"breakpoints"`
	Human       int `json:"human"`
	AI          int `json:"ai"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// Tuner generates contrast examples.
type Tuner struct {
	opts      Options
	generator llm.Generator
	tokenizer *token.Tokenizer
	logger    logging.Logger
	tracer    *observability.TracerProvider
	rng       *rand.Rand
}

// Option customises a Tuner.
type Option func(*Tuner)

// WithTokenizer replaces the default cl100k_base tokenizer.
func WithTokenizer(tok *token.Tokenizer) Option {
	return func(t *Tuner) { t.tokenizer = tok }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(t *Tuner) { t.logger = logging.OrNop(logger) }
}

// WithTracer records one span per document.
func WithTracer(tracer *observability.TracerProvider) Option {
	return func(t *Tuner) { t.tracer = tracer }
}

// New builds a Tuner. The generator should be configured without retries;
// a failed breakpoint only loses its AI examples.
func New(generator llm.Generator, opts Options, options ...Option) (*Tuner, error) {
	if generator == nil {
		return nil, fmt.Errorf("tuner: generator is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("tuner: model is required")
	}
	opts.applyDefaults()
	t := &Tuner{
		opts:      opts,
		generator: generator,
		logger:    logging.Nop(),
		rng:       rand.New(rand.NewPCG(uint64(opts.Seed), uint64(opts.Seed)>>1)),
	}
	for _, opt := range options {
		opt(t)
	}
	if t.tokenizer == nil {
		t.tokenizer = token.Default()
	}
	return t, nil
}

// Run reads the corpus and appends records to the output file.
func (t *Tuner) Run(ctx context.Context) (Stats, error) {
	docs, err := ReadCorpus(t.opts.Corpus)
	if err != nil {
		return Stats{}, err
	}
	if err := os.MkdirAll(filepath.Dir(t.opts.Output), 0o755); err != nil {
		return Stats{}, fmt.Errorf("create output dir: %w", err)
	}
	file, err := os.OpenFile(t.opts.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Stats{}, fmt.Errorf("open output: %w", err)
	}
	defer file.Close()

	stats, err := t.Generate(ctx, docs, json.NewEncoder(file))
	t.logger.Info("Tuning run finished: %d documents, %d breakpoints, %d human, %d ai, %d skipped, %d failed (%s)",
		stats.Documents, stats.Breakpoints, stats.Human, stats.AI, stats.Skipped, stats.Failed, t.tokenizer.Name())
	return stats, err
}

// Encoder writes one record.
type Encoder interface {
	Encode(v any) error
}

// Generate emits records for docs through enc.
func (t *Tuner) Generate(ctx context.Context, docs []Document, enc Encoder) (Stats, error) {
	var stats Stats
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := t.document(ctx, doc, enc, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (t *Tuner) document(ctx context.Context, doc Document, enc Encoder, stats *Stats) (err error) {
	bounds := t.tokenizer.Boundaries(doc.Text)
	tokens := len(bounds) - 1
	if tokens < t.opts.MinTokens || tokens <= t.opts.MaxTokens {
		t.logger.Debug("Skipping %s: %d tokens", doc.Name, tokens)
		stats.Skipped++
		return nil
	}
	stats.Documents++

	ctx, span := t.tracer.StartSpan(ctx, observability.SpanTune,
		attribute.String("autoloom.tuner.document", doc.Name),
		attribute.String(observability.AttrModel, t.opts.Model),
	)
	defer func() { observability.EndSpan(span, err) }()

	for _, k := range t.breakpoints(tokens) {
		prefix := doc.Text[:bounds[k]]
		suffix := doc.Text[bounds[k]:bounds[k+t.opts.MaxTokens]]
		stats.Breakpoints++

		if err := enc.Encode(NewExample(t.opts.AICompletionsPerBreakpoint, prefix, suffix, true)); err != nil {
			return fmt.Errorf("write example: %w", err)
		}
		stats.Human++

		completions, genErr := t.generator.GenerateBatch(ctx, llm.BatchRequest{
			Prompt:      prefix,
			Model:       t.opts.Model,
			MaxTokens:   t.opts.MaxTokens,
			Temperature: t.opts.Temperature,
			TopP:        t.opts.TopP,
			N:           t.opts.AICompletionsPerBreakpoint,
		})
		if genErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			t.logger.Warn("Breakpoint %d of %s lost its AI examples: %v", k, doc.Name, genErr)
			stats.Failed++
			continue
		}
		for _, completion := range completions {
			if strings.TrimSpace(completion) == "" || llm.IsErrorMarker(completion) {
				continue
			}
			if err := enc.Encode(NewExample(t.opts.AICompletionsPerBreakpoint, prefix, completion, false)); err != nil {
				return fmt.Errorf("write example: %w", err)
			}
			stats.AI++
		}
	}
	return nil
}

// breakpoints samples token positions in [1, tokens-MaxTokens] so every
// prefix is non-empty and every human suffix has MaxTokens tokens.
func (t *Tuner) breakpoints(tokens int) []int {
	lo, hi := 1, tokens-t.opts.MaxTokens
	out := make([]int, t.opts.BreakpointsPerDoc)
	for i := range out {
		out[i] = lo + t.rng.IntN(hi-lo+1)
	}
	return out
}
