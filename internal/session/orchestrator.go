package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	loomerrors "autoloom/internal/errors"
	"autoloom/internal/llm"
	"autoloom/internal/logging"
	"autoloom/internal/observability"
	"autoloom/internal/scoring"
	"autoloom/internal/status"
)

// ErrNoSuccessfulGenerations means the batch held no usable text.
var ErrNoSuccessfulGenerations = errors.New("no successful generations")

// DefaultTick is the countdown tick length.
const DefaultTick = time.Second

// Recorder persists committed rounds. Failures are logged and never abort
// the session.
type Recorder interface {
	RecordRound(ctx context.Context, sessionID string, round *Round) error
	RecordEntry(ctx context.Context, sessionID string, seq int, entry HistoryEntry) error
}

// Options configures an Orchestrator.
type Options struct {
	SessionID string
	Prompt    string
	// History resumes an earlier session. Prompt is ignored when set.
	History *History

	// Request carries the generation parameters; Prompt is filled per round.
	Request   llm.BatchRequest
	WaitTime  int
	MaxRounds int
	Tick      time.Duration

	Generator llm.Generator
	Scorer    llm.Scorer
	Selector  Selector
	Status    status.Reporter
	Hub       *Hub
	Recorder  Recorder
	Interrupt *Interrupt

	Logger  logging.Logger
	Metrics *observability.MetricsCollector
	Tracer  *observability.TracerProvider
	Sleep   loomerrors.Sleeper
	Now     func() time.Time
}

// Snapshot is a consistent view of the session for readers on other goroutines.
type Snapshot struct {
	SessionID string `json:"session_id"`
	State     State  `json:"state"`
	Prompt    string `json:"prompt"`
	Committed int    `json:"committed"`
	Round     *Round `json:"round,omitempty"`
}

// Orchestrator runs rounds strictly one after another and owns the history.
type Orchestrator struct {
	opts        Options
	sessionID   string
	history     *History
	coordinator *scoring.Coordinator
	status      status.Reporter
	hub         *Hub
	interrupt   *Interrupt
	logger      logging.Logger
	sleep       loomerrors.Sleeper
	now         func() time.Time
	resume      chan struct{}

	mu        sync.RWMutex
	state     State
	current   *Round
	rounds    int
	committed int
}

// New validates opts and builds an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Generator == nil {
		return nil, fmt.Errorf("session: generator is required")
	}
	if opts.Scorer == nil {
		return nil, fmt.Errorf("session: scorer is required")
	}
	if opts.History == nil && opts.Prompt == "" {
		return nil, fmt.Errorf("session: prompt is required")
	}
	if opts.WaitTime < 0 {
		return nil, fmt.Errorf("session: wait time must not be negative")
	}
	if opts.Request.N < 1 {
		opts.Request.N = 1
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}

	o := &Orchestrator{
		opts:      opts,
		sessionID: opts.SessionID,
		history:   opts.History,
		status:    status.OrNop(opts.Status),
		hub:       opts.Hub,
		interrupt: opts.Interrupt,
		logger:    logging.OrNop(opts.Logger),
		sleep:     opts.Sleep,
		now:       opts.Now,
		resume:    make(chan struct{}, 1),
	}
	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}
	if o.history == nil {
		o.history = NewHistory(opts.Prompt)
	}
	if o.hub == nil {
		o.hub = NewHub()
	}
	if o.interrupt == nil {
		o.interrupt = &Interrupt{}
	}
	if o.sleep == nil {
		o.sleep = loomerrors.SleepContext
	}
	if o.now == nil {
		o.now = time.Now
	}
	o.committed = o.history.Len()
	o.coordinator = scoring.NewCoordinator(opts.Scorer,
		scoring.WithStatus(o.status),
		scoring.WithLogger(o.logger),
		scoring.WithObserver(llm.ScoreObserverFunc(func(index, score int) {
			o.publish(Event{Type: EventScored, State: StateScoring, Index: index, Score: score})
		})),
	)
	return o, nil
}

// SessionID identifies the session in events and storage.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// History returns the session history.
func (o *Orchestrator) History() *History { return o.history }

// Hub returns the event hub.
func (o *Orchestrator) Hub() *Hub { return o.hub }

// Interrupt returns the token polled during the countdown.
func (o *Orchestrator) Interrupt() *Interrupt { return o.interrupt }

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Snapshot copies the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	snap := Snapshot{
		SessionID: o.sessionID,
		State:     o.state,
		Prompt:    o.history.Current(),
		Committed: o.committed,
	}
	if o.current != nil {
		round := *o.current
		round.Candidates = append([]Candidate(nil), o.current.Candidates...)
		round.Ranked = append([]llm.Ranked(nil), o.current.Ranked...)
		snap.Round = &round
	}
	return snap
}

// Resume wakes Run after a failed round.
func (o *Orchestrator) Resume() {
	select {
	case o.resume <- struct{}{}:
	default:
	}
}

// Run chains rounds until ctx is done or MaxRounds rounds have committed. A
// failed round parks the loop until Resume is called.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if limit := o.opts.MaxRounds; limit > 0 && o.Committed() >= limit {
			o.logger.Info("Session %s reached %d rounds", o.sessionID, limit)
			return nil
		}

		if _, err := o.RunRound(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.logger.Warn("Round failed, waiting for resume: %v", err)
			o.setState(StateIdle)
			select {
			case <-ctx.Done():
				return nil
			case <-o.resume:
			}
		}
	}
}

// Committed returns the number of committed rounds, including restored ones.
func (o *Orchestrator) Committed() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.committed
}

// RunRound runs generate, score, rank, countdown and commit once. The
// interrupt token is cleared when the round starts. On error no history is
// appended and the working prompt is unchanged.
func (o *Orchestrator) RunRound(ctx context.Context) (*Round, error) {
	o.mu.Lock()
	o.rounds++
	round := &Round{Number: o.rounds, Prompt: o.history.Current(), ChosenIndex: -1}
	o.current = round
	o.mu.Unlock()
	o.interrupt.Clear()

	ctx = observability.WithSessionID(ctx, o.sessionID)
	ctx, span := o.opts.Tracer.StartSpan(ctx, observability.SpanRound,
		attribute.String(observability.AttrSessionID, o.sessionID),
		attribute.Int(observability.AttrRound, round.Number),
	)
	start := o.now()
	o.publish(Event{Type: EventRoundStarted, Round: round.Number, State: StateIdle, Text: round.Prompt})

	result, err := o.runRound(ctx, round)
	if err != nil {
		o.fail(round, err)
		result = "error"
	}
	o.opts.Metrics.RecordRound(ctx, result, o.now().Sub(start))
	observability.EndSpan(span, err)
	return round, err
}

func (o *Orchestrator) runRound(ctx context.Context, round *Round) (string, error) {
	if err := o.prepare(ctx, round); err != nil {
		return "", err
	}

	manual, err := o.countdown(ctx, round)
	if err != nil {
		return "", err
	}
	if !manual {
		top := round.Ranked[0]
		o.commit(ctx, round, top.Index, top.Score)
		return "committed", nil
	}

	o.setRoundState(round, StateManualOverride)
	o.publish(Event{Type: EventManualOverride, Round: round.Number, State: StateManualOverride})
	chosen, err := o.override(ctx, round)
	if err != nil {
		return "", err
	}
	o.commit(ctx, round, chosen.Index, ManualScore)
	return "manual", nil
}

// prepare runs the Generating, Scoring and Ranked states. Panics become errors.
func (o *Orchestrator) prepare(ctx context.Context, round *Round) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("round %d panicked: %v", round.Number, r)
		}
	}()

	o.setRoundState(round, StateGenerating)
	o.status.Set("Generating in batch")
	o.opts.Generator.Reset()
	o.opts.Scorer.Reset()

	req := o.opts.Request
	req.Prompt = round.Prompt
	texts, err := o.opts.Generator.GenerateBatch(ctx, req)
	if err != nil {
		return err
	}
	if llm.AllErrorMarkers(texts) {
		return ErrNoSuccessfulGenerations
	}

	candidates := make([]Candidate, len(texts))
	for i, text := range texts {
		candidates[i] = Candidate{Index: i, Text: text}
	}
	o.publish(Event{Type: EventGenerated, Round: round.Number, State: StateGenerating, Index: len(candidates)})

	o.setRoundState(round, StateScoring)
	o.status.Set("Scoring all generations in parallel")
	ranked := o.coordinator.Score(ctx, candidates)
	if len(ranked) == 0 {
		return ErrNoSuccessfulGenerations
	}

	o.mu.Lock()
	round.Candidates = candidates
	round.Ranked = ranked
	round.ChosenIndex = ranked[0].Index
	round.ChosenScore = ranked[0].Score
	o.mu.Unlock()
	o.setRoundState(round, StateRanked)
	o.status.Set("Ranking complete")
	o.publish(Event{Type: EventRanked, Round: round.Number, State: StateRanked, Index: ranked[0].Index, Score: ranked[0].Score})
	o.logger.Info("Round %d ranked %d candidates, top %d scored %d", round.Number, len(ranked), ranked[0].Index, ranked[0].Score)
	return nil
}

// countdown waits WaitTime ticks and reports whether the user interrupted. An
// interrupt raised earlier in the round is honoured at the first tick.
func (o *Orchestrator) countdown(ctx context.Context, round *Round) (bool, error) {
	o.setRoundState(round, StateCountdown)
	for i := o.opts.WaitTime; i > 0; i-- {
		if o.interrupt.Raised() {
			o.interrupt.Clear()
			return o.opts.Selector != nil, nil
		}
		o.status.Set(fmt.Sprintf("Continuing with selected generation in %d", i))
		o.publish(Event{Type: EventCountdownTick, Round: round.Number, State: StateCountdown, Remaining: i})
		if err := o.sleep(ctx, o.opts.Tick); err != nil {
			return false, err
		}
	}
	if o.interrupt.Raised() {
		o.interrupt.Clear()
		return o.opts.Selector != nil, nil
	}
	return false, nil
}

func (o *Orchestrator) override(ctx context.Context, round *Round) (Candidate, error) {
	type stopper interface{ Stop() }
	if s, ok := o.status.(stopper); ok {
		s.Stop()
	}
	o.status.Set("Interrupted! Choose your preferred completion:")
	chosen, err := SelectManually(ctx, o.opts.Selector, round.Selectable())
	if err != nil {
		return Candidate{}, err
	}
	return chosen, nil
}

func (o *Orchestrator) commit(ctx context.Context, round *Round, index, score int) {
	o.mu.Lock()
	round.ChosenIndex = index
	round.ChosenScore = score
	text := round.Chosen()
	entry := o.history.Commit(text, score, o.now())
	o.committed++
	seq := o.committed
	o.mu.Unlock()

	o.setRoundState(round, StateCommitted)
	o.publish(Event{Type: EventCommitted, Round: round.Number, State: StateCommitted, Index: index, Score: score, Text: text})
	o.logger.Info("Round %d committed candidate %d (score %s)", round.Number, index, entry.ScoreLabel())

	if o.opts.Recorder == nil {
		return
	}
	if err := o.opts.Recorder.RecordEntry(ctx, o.sessionID, seq, entry); err != nil {
		o.logger.Warn("Failed to persist history entry %d: %v", seq, err)
	}
	if err := o.opts.Recorder.RecordRound(ctx, o.sessionID, round); err != nil {
		o.logger.Warn("Failed to persist round %d: %v", round.Number, err)
	}
}

func (o *Orchestrator) fail(round *Round, err error) {
	o.mu.Lock()
	round.Err = err
	o.mu.Unlock()
	o.setRoundState(round, StateError)

	msg := "Error: " + loomerrors.Describe(err)
	if errors.Is(err, ErrNoSuccessfulGenerations) {
		msg = "No successful generations"
	}
	o.status.Set(msg)
	o.publish(Event{Type: EventRoundFailed, Round: round.Number, State: StateError, Message: msg})
	o.logger.Warn("Round %d failed: %v", round.Number, err)
}

func (o *Orchestrator) setRoundState(round *Round, state State) {
	o.mu.Lock()
	round.State = state
	o.state = state
	o.mu.Unlock()
}

func (o *Orchestrator) setState(state State) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
}

func (o *Orchestrator) publish(ev Event) {
	ev.SessionID = o.sessionID
	if ev.Round == 0 {
		o.mu.RLock()
		if o.current != nil {
			ev.Round = o.current.Number
		}
		o.mu.RUnlock()
	}
	o.hub.Publish(ev)
}
