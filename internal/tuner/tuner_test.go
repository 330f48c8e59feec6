package tuner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoloom/internal/config"
	"autoloom/internal/llm"
	"autoloom/internal/logging"
	"autoloom/internal/token"
)

type fakeGenerator struct {
	mu       sync.Mutex
	texts    []string
	err      error
	requests []llm.BatchRequest
}

func (f *fakeGenerator) GenerateBatch(ctx context.Context, req llm.BatchRequest) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.texts...), nil
}

func (f *fakeGenerator) Reset() {}

type sliceEncoder struct {
	examples []Example
}

func (s *sliceEncoder) Encode(v any) error {
	s.examples = append(s.examples, v.(Example))
	return nil
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func testOptions() Options {
	return Options{
		Model:                      "meta-llama/Meta-Llama-3.1-405B",
		MaxTokens:                  5,
		BreakpointsPerDoc:          3,
		AICompletionsPerBreakpoint: 5,
		MinTokens:                  64,
		Seed:                       42,
	}
}

func newTestTuner(t *testing.T, gen llm.Generator, opts Options) *Tuner {
	t.Helper()
	tn, err := New(gen, opts, WithTokenizer(token.Whitespace()))
	require.NoError(t, err)
	return tn
}

func TestReadCorpus(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("plain text"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.md"), []byte("# heading"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.html"), []byte(
		"<html><head><title>t</title><style>p{}</style></head><body><p>Hello   there</p><script>var x;</script>\n<p>second</p></body></html>",
	), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.json"), []byte("{}"), 0o644))

	docs, err := ReadCorpus(dir)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, Document{Name: "a.txt", Text: "plain text"}, docs[0])
	assert.Equal(t, "c.html", docs[1].Name)
	assert.Equal(t, "Hello there\nsecond", docs[1].Text)
	assert.Equal(t, filepath.Join("nested", "b.md"), docs[2].Name)
}

func TestReadCorpusRejectsFiles(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := ReadCorpus(file)
	require.Error(t, err)

	_, err = ReadCorpus(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestGenerateEmitsHumanAndAIExamples(t *testing.T) {
	gen := &fakeGenerator{texts: []string{" one", "", " two", "Error: Maximum retries (1) exceeded", " three"}}
	tn := newTestTuner(t, gen, testOptions())
	doc := Document{Name: "doc.txt", Text: words(100)}
	short := Document{Name: "short.txt", Text: words(10)}

	enc := &sliceEncoder{}
	stats, err := tn.Generate(context.Background(), []Document{short, doc}, enc)
	require.NoError(t, err)

	assert.Equal(t, Stats{Documents: 1, Breakpoints: 3, Human: 3, AI: 9, Skipped: 1}, stats)
	require.Len(t, enc.examples, 12)
	require.Len(t, gen.requests, 3)

	for i := 0; i < 3; i++ {
		human := enc.examples[i*4]
		require.Len(t, human.Messages, 3)
		assert.Equal(t, Message{Role: "system", Content: SystemPrompt}, human.Messages[0])
		assert.Equal(t, "user", human.Messages[1].Role)
		assert.Equal(t, AnswerHuman, human.Messages[2].Content)

		req := gen.requests[i]
		assert.Equal(t, 5, req.N)
		assert.Equal(t, 5, req.MaxTokens)
		assert.Equal(t, 1.0, req.TopP)
		assert.NotEmpty(t, req.Prompt)
		assert.True(t, strings.HasPrefix(doc.Text, req.Prompt))

		suffix := strings.TrimPrefix(doc.Text, req.Prompt)
		trueSuffix := strings.Join(strings.Fields(suffix)[:5], " ")
		assert.Contains(t, human.Messages[1].Content, trueSuffix)

		for j, want := range []string{" one", " two", " three"} {
			ai := enc.examples[i*4+1+j]
			assert.Equal(t, AnswerAI, ai.Messages[2].Content)
			assert.Contains(t, ai.Messages[1].Content, `The suffix is """`+want+`"""`)
		}
	}
}

func TestGenerateIsReproducibleForASeed(t *testing.T) {
	doc := Document{Name: "doc.txt", Text: words(200)}
	prompts := func() []string {
		gen := &fakeGenerator{texts: []string{"x"}}
		_, err := newTestTuner(t, gen, testOptions()).Generate(context.Background(), []Document{doc}, &sliceEncoder{})
		require.NoError(t, err)
		var out []string
		for _, req := range gen.requests {
			out = append(out, req.Prompt)
		}
		return out
	}
	assert.Equal(t, prompts(), prompts())
}

func TestGenerateKeepsHumanExampleWhenGenerationFails(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("generation failed: bad request")}
	logger := &logging.Recorder{}
	tn, err := New(gen, testOptions(), WithTokenizer(token.Whitespace()), WithLogger(logger))
	require.NoError(t, err)

	enc := &sliceEncoder{}
	stats, err := tn.Generate(context.Background(), []Document{{Name: "doc.txt", Text: words(80)}}, enc)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Human)
	assert.Equal(t, 3, stats.Failed)
	assert.Zero(t, stats.AI)
	assert.Len(t, enc.examples, 3)
	assert.True(t, logger.Contains("lost its AI examples"))
}

func TestGenerateStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tn := newTestTuner(t, &fakeGenerator{}, testOptions())

	_, err := tn.Generate(ctx, []Document{{Name: "doc.txt", Text: words(80)}}, &sliceEncoder{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunAppendsJSONL(t *testing.T) {
	corpus := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "doc.txt"), []byte(words(90)), 0o644))
	output := filepath.Join(t.TempDir(), "tunes", "generated_examples.jsonl")

	opts := testOptions()
	opts.Corpus = corpus
	opts.Output = output
	opts.BreakpointsPerDoc = 1
	gen := &fakeGenerator{texts: []string{" a", " b"}}

	for run := 0; run < 2; run++ {
		stats, err := newTestTuner(t, gen, opts).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Human+stats.AI)
	}

	file, err := os.Open(output)
	require.NoError(t, err)
	defer file.Close()

	var lines []Example
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var ex Example
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ex))
		lines = append(lines, ex)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 6)
	assert.Equal(t, AnswerHuman, lines[0].Messages[2].Content)
	assert.Equal(t, AnswerAI, lines[1].Messages[2].Content)
	assert.Equal(t, AnswerHuman, lines[3].Messages[2].Content)
}

func TestInstructionMentionsRatio(t *testing.T) {
	text := Instruction(5, "The cat", " sat")
	assert.Contains(t, text, "there are 5 AI examples")
	assert.Contains(t, text, `The prefix is """The cat"""`)
	assert.Contains(t, text, "say Y x% of the time")
	assert.True(t, strings.HasSuffix(text, "Now answer just Y or N."))
}

func TestOptionsFromConfigCarriesSampling(t *testing.T) {
	var cfg config.Config
	cfg.Generation.Temperature = 0.7
	cfg.Generation.TopP = 0.9
	cfg.Tuner.Model = "meta-llama/Meta-Llama-3.1-405B"

	gen := &fakeGenerator{texts: []string{" x"}}
	opts := OptionsFromConfig(cfg)
	opts.Seed = 7
	_, err := newTestTuner(t, gen, opts).Generate(context.Background(), []Document{{Name: "doc.txt", Text: words(80)}}, &sliceEncoder{})
	require.NoError(t, err)

	require.NotEmpty(t, gen.requests)
	for _, req := range gen.requests {
		assert.Equal(t, 0.7, req.Temperature)
		assert.Equal(t, 0.9, req.TopP)
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, testOptions())
	require.Error(t, err)

	opts := testOptions()
	opts.Model = ""
	_, err = New(&fakeGenerator{}, opts)
	require.Error(t, err)
}
