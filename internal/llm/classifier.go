package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"autoloom/internal/config"
	loomerrors "autoloom/internal/errors"
	"autoloom/internal/httpclient"
	"autoloom/internal/logging"
	"autoloom/internal/observability"
)

// ClassifierInstruction is the fixed scoring instruction sent with every text.
const ClassifierInstruction = "You are a text quality classifier. Rate the quality and coherence of the following text on a scale of 0 to 100. Respond with only a number."

// ClassifierOptions configures a Classifier.
type ClassifierOptions struct {
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Concurrency int
	// Stagger is the pause between dispatching two scoring requests.
	Stagger    time.Duration
	MaxRetries int
	Timeout    time.Duration
	CacheSize  int
	Breaker    *loomerrors.BreakerConfig

	Logger    logging.Logger
	Metrics   *observability.MetricsCollector
	Tracer    *observability.TracerProvider
	Sleep     loomerrors.Sleeper
	Transport http.RoundTripper
}

// Classifier scores texts through an OpenAI-compatible chat completions API.
// Every failure degrades to FallbackScore.
type Classifier struct {
	baseClient
	model       string
	maxTokens   int
	concurrency int
	stagger     time.Duration
	maxRetries  int
	timeout     time.Duration
	cache       *lru.Cache[string, int]
	metrics     *observability.MetricsCollector
	tracer      *observability.TracerProvider
	sleep       loomerrors.Sleeper
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewClassifier builds a classifier from opts.
func NewClassifier(opts ClassifierOptions) (*Classifier, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("classifier model is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultHTTPTimeout
	}
	if opts.BaseURL == "" {
		opts.BaseURL = config.DefaultOpenAIURL
	}
	logger := logging.OrNop(opts.Logger)

	session := httpclient.NewSession(httpclient.SessionOptions{
		Name:    "classifier",
		Breaker: opts.Breaker,
		Base:    opts.Transport,
		Logger:  logger,
	})

	c := &Classifier{
		baseClient:  newBaseClient(opts.APIKey, opts.BaseURL, session, logger),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		concurrency: opts.Concurrency,
		stagger:     opts.Stagger,
		maxRetries:  opts.MaxRetries,
		timeout:     opts.Timeout,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		sleep:       opts.Sleep,
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, int](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("classifier cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// NewClassifierFromConfig builds the classifier described by cfg.Classifier.
func NewClassifierFromConfig(cfg config.Config, deps Deps) (*Classifier, error) {
	cc := cfg.Classifier
	return NewClassifier(ClassifierOptions{
		Model:       cc.Model,
		APIKey:      cfg.Credentials.APIKey(config.ProviderFor(cc.Model)),
		BaseURL:     classifierBaseURL(cfg),
		MaxTokens:   cc.MaxTokens,
		Concurrency: cc.Concurrency,
		Stagger:     cc.Stagger,
		MaxRetries:  cc.MaxRetries,
		Timeout:     cc.Timeout,
		CacheSize:   cc.CacheSize,
		Breaker: &loomerrors.BreakerConfig{
			Threshold: cc.FailureThreshold,
			Cooldown:  cc.CooldownPeriod,
			OnTransition: func(name string, _, to loomerrors.BreakerState) {
				deps.Metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
		Tracer:    deps.Tracer,
		Sleep:     deps.Sleep,
		Transport: deps.Transport,
	})
}

func classifierBaseURL(cfg config.Config) string {
	if config.ProviderFor(cfg.Classifier.Model) == config.ProviderHyperbolic {
		return cfg.Providers.HyperbolicURL
	}
	return cfg.Providers.OpenAIURL
}

// instructionRole picks the role newer OpenAI models expect for instructions.
func instructionRole(model string) string {
	lower := strings.ToLower(model)
	for _, prefix := range []string{"gpt-4.1", "o1", "o3"} {
		if strings.HasPrefix(lower, prefix) {
			return "developer"
		}
	}
	return "system"
}

// ParseScore extracts every digit in content, reads them as one number and
// clamps it to [0,100]. ok is false when content holds no digits.
func ParseScore(content string) (score int, ok bool) {
	var digits strings.Builder
	for _, r := range content {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return FallbackScore, false
	}
	significant := strings.TrimLeft(digits.String(), "0")
	if len(significant) > 3 {
		return 100, true
	}
	if significant == "" {
		return 0, true
	}
	value, err := strconv.Atoi(significant)
	if err != nil {
		return FallbackScore, false
	}
	return min(value, 100), true
}

// ClassifyOne scores a single text. It never fails: any error yields FallbackScore.
func (c *Classifier) ClassifyOne(ctx context.Context, text string) (score int) {
	fallback := false
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Classifier panic: %v", r)
			score, fallback = FallbackScore, true
		}
		c.metrics.RecordScore(ctx, c.model, score, fallback)
	}()

	key := c.model + "\x00" + text
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			return cached
		}
	}

	ctx, span := c.tracer.StartSpan(ctx, observability.SpanClassify,
		attribute.String(observability.AttrModel, c.model),
	)
	start := time.Now()
	policy := loomerrors.RetryPolicy{
		MaxAttempts: c.maxRetries,
		BaseDelay:   time.Second,
		MaxDelay:    8 * time.Second,
		Sleep:       c.sleep,
		OnAttempt: func(ev loomerrors.AttemptEvent) {
			c.metrics.RecordAttempt(ctx, "classifier", ev.Kind.String())
		},
	}
	outcome := loomerrors.Do(ctx, policy, func(ctx context.Context, attempt int) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.request(callCtx, text)
	}, c.logger)
	c.metrics.RecordRequest(ctx, "classifier", c.model, outcome.Kind.String(), time.Since(start))

	if !outcome.OK() {
		c.logger.Warn("Classification failed, using fallback score %d: %s", FallbackScore, outcome.Reason)
		span.SetAttributes(attribute.Int(observability.AttrScore, FallbackScore))
		observability.EndSpan(span, outcome.Err)
		fallback = true
		return FallbackScore
	}

	parsed, ok := ParseScore(outcome.Value)
	if !ok {
		c.logger.Warn("Classifier reply %q has no digits, using fallback score %d", outcome.Value, FallbackScore)
		fallback = true
	} else if c.cache != nil {
		c.cache.Add(key, parsed)
	}
	span.SetAttributes(attribute.Int(observability.AttrScore, parsed))
	observability.EndSpan(span, nil)
	return parsed
}

// request performs one attempt and returns the raw reply content. Only
// transport failures are retryable; a rejected or unreadable reply is final.
func (c *Classifier) request(ctx context.Context, text string) (string, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: instructionRole(c.model), Content: ClassifierInstruction},
			{Role: "user", Content: text},
		},
		Temperature: 0,
		MaxTokens:   c.maxTokens,
	}
	payload.ResponseFormat.Type = "text"
	body, err := json.Marshal(payload)
	if err != nil {
		return "", loomerrors.NewPermanentError(err, "encode classifier request")
	}

	prefix := newRequestPrefix()
	endpoint := c.baseURL + "/chat/completions"
	c.logRequestMeta(prefix, endpoint, c.model, len(body))

	resp, err := c.doPost(ctx, endpoint, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := c.readBody(resp)
	if err != nil {
		return "", err
	}
	c.logResponseStatus(prefix, resp, len(data))

	if resp.StatusCode != http.StatusOK {
		return "", loomerrors.NewPermanentError(
			loomerrors.NewStatusError(resp.StatusCode, string(data)),
			fmt.Sprintf("classifier returned status %d", resp.StatusCode),
		)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", loomerrors.NewPermanentError(err, "decode classifier response")
	}
	if len(parsed.Choices) == 0 {
		return "", loomerrors.NewPermanentError(fmt.Errorf("no choices"), "classifier response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// ClassifyBatch scores every text with at most Concurrency requests in flight,
// pausing Stagger between dispatches. observer sees each score on the calling
// goroutine in completion order. The result is ranked.
func (c *Classifier) ClassifyBatch(ctx context.Context, texts []string, observer ScoreObserver) []Ranked {
	if len(texts) == 0 {
		return nil
	}
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanScoring,
		attribute.Int(observability.AttrCandidates, len(texts)),
	)
	defer observability.EndSpan(span, nil)

	results := make(chan Ranked, len(texts))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var g errgroup.Group
		g.SetLimit(c.concurrency)
		for i, text := range texts {
			if i > 0 && c.stagger > 0 {
				sleep := c.sleep
				if sleep == nil {
					sleep = loomerrors.SleepContext
				}
				_ = sleep(ctx, c.stagger)
			}
			g.Go(func() error {
				results <- Ranked{Index: i, Score: c.ClassifyOne(ctx, text)}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	scored := make([]Ranked, 0, len(texts))
	seen := make([]bool, len(texts))
	for result := range results {
		seen[result.Index] = true
		scored = append(scored, result)
		if observer != nil {
			observer.OnScore(result.Index, result.Score)
		}
	}
	wg.Wait()

	for i, ok := range seen {
		if !ok {
			scored = append(scored, Ranked{Index: i, Score: FallbackScore})
		}
	}
	return Rank(scored)
}

// Reset drops pooled classifier connections.
func (c *Classifier) Reset() {
	c.session.Reset()
}
