// Package grading runs grading passes over the configured questions:
// capture, optional OCR gate, prompt, one or two model calls, verdict
// parsing, score finalization and score entry.
package grading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/emandor/lemme_grader/internal/failure"
	"github.com/emandor/lemme_grader/internal/ocr"
	"github.com/emandor/lemme_grader/internal/providers"
	"github.com/emandor/lemme_grader/internal/question"
	"github.com/emandor/lemme_grader/internal/score"
	"github.com/emandor/lemme_grader/internal/telemetry"
)

var ErrRunActive = errors.New("a grading run is already active")

const (
	stopReason        = "user requested stop"
	captureRetryDelay = 500 * time.Millisecond
)

// RunState is a snapshot of the current or last run.
type RunState struct {
	RunID      string    `json:"run_id,omitempty"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Repetition int       `json:"repetition"`
	Question   int       `json:"question"`
	Completed  int       `json:"completed"`
	Total      int       `json:"total"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Deps are the collaborators a run talks to. OCR may be nil when no
// question uses OCR mode.
type Deps struct {
	Caller   Caller
	Capturer Capturer
	Inputter Inputter
	OCR      RecognizerFor
	Engine   *ocr.Engine
	Sink     Sink
}

type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

func WithBackoff(b failure.Backoff) Option { return func(o *Orchestrator) { o.backoff = b } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithSleep replaces the backoff sleep.
func WithSleep(f func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = f }
}

// WithStagger replaces the delay before the second concurrent evaluation.
func WithStagger(f func() time.Duration) Option { return func(o *Orchestrator) { o.stagger = f } }

// Orchestrator runs one grading run at a time. Stop, SetParameters and
// State are safe to call from other goroutines.
type Orchestrator struct {
	deps    Deps
	log     zerolog.Logger
	tracer  trace.Tracer
	backoff failure.Backoff
	sleep   func(context.Context, time.Duration) error
	stagger func() time.Duration
	now     func() time.Time

	mu     sync.Mutex
	params Params
	state  RunState
	stop   chan struct{}
}

func New(d Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:    d,
		log:     telemetry.Component("grading"),
		tracer:  telemetry.Tracer("grading"),
		backoff: failure.DefaultBackoff(),
		sleep:   sleepCtx,
		stagger: func() time.Duration { return 200*time.Millisecond + rand.N(300*time.Millisecond) },
		now:     time.Now,
		state:   RunState{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.deps.Engine == nil {
		o.deps.Engine = ocr.NewEngine(nil, ocr.DefaultPolicy())
	}
	return o
}

// SetParameters validates p and stores it for the next run. A run in
// progress keeps the snapshot it started with.
func (o *Orchestrator) SetParameters(p Params) error {
	if err := p.Check(); err != nil {
		return err
	}
	o.mu.Lock()
	o.params = p.clone()
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) Parameters() Params {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.params.clone()
}

func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Stop asks the active run to stop at its next checkpoint. It reports
// whether a run was active.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Status != StatusRunning || o.stop == nil {
		return false
	}
	select {
	case <-o.stop:
	default:
		close(o.stop)
		o.log.Info().Str("run_id", o.state.RunID).Msg("run_stop_requested")
	}
	return true
}

// Run grades with the current parameters and blocks until the run ends.
// The returned error is the failure that ended the run, nil on completion.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	r, err := o.prepare()
	if err != nil {
		return Summary{}, err
	}
	return o.execute(ctx, r)
}

// Start launches a run in the background and returns its id.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	r, err := o.prepare()
	if err != nil {
		return "", err
	}
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error().Interface("panic", rec).Msg("run_panic")
				o.finish(r, failure.Newf(failure.CodeUnknown, "run aborted by an internal error: %v", rec))
			}
		}()
		_, _ = o.execute(ctx, r)
	}()
	return r.id, nil
}

type run struct {
	id        string
	p         Params
	qs        []question.Config
	rec       Recognizer
	engine    *ocr.Engine
	stop      <-chan struct{}
	started   time.Time
	attempted int
	completed int
	feedback  string
	log       zerolog.Logger
}

func (r *run) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) prepare() (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Status == StatusRunning {
		return nil, ErrRunActive
	}
	p := o.params.clone()
	if err := p.Check(); err != nil {
		return nil, err
	}
	r := &run{id: uuid.NewString(), p: p, qs: question.Active(p.Questions), engine: o.deps.Engine, started: o.now()}
	if p.OCRTable != nil || p.OCRPolicy != (ocr.Policy{}) {
		r.engine = ocr.NewEngine(ocr.DefaultTable().Merge(p.OCRTable), p.OCRPolicy)
	}
	for _, q := range r.qs {
		if !q.UsesOCR() {
			continue
		}
		if o.deps.OCR != nil {
			r.rec = o.deps.OCR(p)
		}
		if r.rec == nil {
			return nil, failure.Newf(failure.CodeUnsupported, "question %d uses OCR mode but no OCR engine is configured", q.Index)
		}
		break
	}
	stop := make(chan struct{})
	r.stop, o.stop = stop, stop
	r.log = o.log.With().Str("run_id", r.id).Logger()
	o.state = RunState{
		RunID:     r.id,
		Status:    StatusRunning,
		Total:     p.Repetitions * len(r.qs),
		StartedAt: r.started,
	}
	return r, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (Summary, error) {
	r.log.Info().Int("questions", len(r.qs)).Int("repetitions", r.p.Repetitions).Bool("dual", r.p.Dual).Msg("run_started")
	o.note(r, LevelInfo, fmt.Sprintf("grading started: %d question(s) x %d repetition(s)", len(r.qs), r.p.Repetitions))
	err := o.loop(ctx, r)
	return o.finish(r, err), err
}

func (o *Orchestrator) loop(ctx context.Context, r *run) error {
	last := r.p.Repetitions * len(r.qs)
	n := 0
	for rep := 1; rep <= r.p.Repetitions; rep++ {
		for _, q := range r.qs {
			if err := r.checkpoint(ctx); err != nil {
				return err
			}
			n++
			o.position(rep, q.Index)
			r.attempted++
			entered, err := o.gradeQuestion(ctx, r, rep, q)
			if err != nil {
				return err
			}
			if entered {
				r.completed++
				o.progress(r)
			}
			if err := r.checkpoint(ctx); err != nil {
				return err
			}
			if r.p.Wait > 0 && n < last {
				if err := r.pause(ctx, r.p.Wait); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *run) checkpoint(ctx context.Context) error {
	if r.stopped() {
		return failure.New(failure.CodeStopRequested, stopReason)
	}
	if err := ctx.Err(); err != nil {
		return failure.Wrap(failure.CodeStopRequested, err, "run canceled")
	}
	return nil
}

// pause waits between questions; a stop request ends the wait early.
func (r *run) pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return failure.Wrap(failure.CodeStopRequested, ctx.Err(), "run canceled")
	case <-r.stop:
	case <-t.C:
	}
	return nil
}

func (o *Orchestrator) gradeQuestion(ctx context.Context, r *run, rep int, q question.Config) (bool, error) {
	ctx, span := o.tracer.Start(ctx, "grading.question", trace.WithAttributes(
		attribute.String("run_id", r.id),
		attribute.Int("question", q.Index),
		attribute.Int("repetition", rep),
	))
	defer span.End()

	entered, err := o.grade(ctx, r, rep, q)
	if err != nil && failure.CodeOf(err) != failure.CodeStopRequested {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return entered, err
}

func (o *Orchestrator) grade(ctx context.Context, r *run, rep int, q question.Config) (bool, error) {
	log := r.log.With().Int("question", q.Index).Int("repetition", rep).Logger()

	o.note(r, LevelDetail, fmt.Sprintf("repetition %d, question %d: capturing answer area", rep, q.Index))
	image, err := o.capture(ctx, r, q)
	if err != nil {
		return false, err
	}
	if r.stopped() {
		return false, failure.New(failure.CodeStopRequested, stopReason)
	}

	res := Result{RunID: r.id, Repetition: rep, QuestionIndex: q.Index, Dual: r.p.Dual}
	req := providers.Request{Image: image}
	if q.UsesOCR() {
		text, d, err := o.recognize(ctx, r, q, image)
		if err != nil {
			if failure.CodeOf(err) == failure.CodeOCRDeferred {
				r.feedback = d.Reason
			}
			return false, err
		}
		res.OCR, res.OCRText = &d, text
		req = providers.Request{OCRText: text}
		if r.stopped() {
			return false, failure.New(failure.CodeStopRequested, stopReason)
		}
	}

	prompt, fellBack, err := BuildPrompt(q, r.p.Subject)
	if err != nil {
		return false, err
	}
	if fellBack {
		log.Warn().Str("type", string(q.Type)).Msg("unknown_question_type")
		o.note(r, LevelError, fmt.Sprintf("question %d: unknown question type %q, using the point-based template", q.Index, q.Type))
	}
	req.Prompt = prompt

	evals, err := o.evaluate(ctx, r, q, req)
	res.Evaluations = evals
	if len(evals) > 0 {
		res.Itemized = evals[0].Verdict.Itemized
		res.Raw = evals[0].Raw
		res.Rationale = rationale(evals)
	}
	if err != nil {
		switch failure.CodeOf(err) {
		case failure.CodeManualReview:
			r.feedback = manualFeedback(evals)
		case failure.CodeStopRequested:
			if len(evals) > 0 && evals[0].err == nil {
				res.Partial = true
				o.record(r, res)
			}
		}
		return false, err
	}

	b := q.Bounds()
	final := evals[0].Score
	if len(evals) == 2 {
		diff := math.Abs(evals[0].Score - evals[1].Score)
		res.ScoreDifference = &diff
		o.note(r, LevelResult, fmt.Sprintf("question %d: first %s, second %s, difference %s",
			q.Index, fmtScore(evals[0].Score), fmtScore(evals[1].Score), fmtScore(diff)))
		if diff > r.p.Threshold {
			res.Partial = true
			o.record(r, res)
			return false, failure.Newf(failure.CodeDisagreement,
				"dual evaluation difference too large: %.2f > %s", diff, fmtScore(r.p.Threshold))
		}
		final = (evals[0].Score + evals[1].Score) / 2
	}
	final = score.Finalize(final, b)
	res.FinalScore = &final

	if r.stopped() {
		res.Partial = true
		o.record(r, res)
		return false, failure.New(failure.CodeStopRequested, stopReason)
	}

	if err := o.enter(ctx, q, final); err != nil {
		res.InputError = err.Error()
		log.Error().Err(err).Float64("score", final).Msg("score_input_failed")
		o.note(r, LevelError, fmt.Sprintf("question %d: entering score %s failed: %v", q.Index, fmtScore(final), err))
		o.record(r, res)
		if r.p.ContinueOnInputError {
			return false, nil
		}
		return false, err
	}

	o.record(r, res)
	telemetry.QuestionsGraded.Inc()
	log.Info().Float64("score", final).Bool("dual", r.p.Dual).Msg("question_graded")
	return true, nil
}

// capture retries once unless the failure is a configuration problem.
func (o *Orchestrator) capture(ctx context.Context, r *run, q question.Config) (string, error) {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		var image string
		image, err = o.deps.Capturer.Capture(ctx, q.AnswerArea)
		if err == nil && image != "" {
			return image, nil
		}
		if err == nil {
			err = failure.New(failure.CodeCapture, "capture returned an empty image")
		}
		if ctx.Err() != nil {
			return "", failure.Wrap(failure.CodeStopRequested, ctx.Err(), "run canceled")
		}
		if fe := failure.As(err); fe != nil && fe.Kind == failure.KindConfiguration {
			return "", fe
		}
		if attempt == 1 {
			r.log.Warn().Err(err).Int("question", q.Index).Msg("capture_retry")
			if serr := o.sleep(ctx, captureRetryDelay); serr != nil {
				return "", failure.Classify(serr)
			}
		}
	}
	if fe := failure.As(err); fe != nil && fe.Code == failure.CodeCapture {
		return "", fe
	}
	return "", failure.Wrap(failure.CodeCapture, err, fmt.Sprintf("question %d: capturing the answer area failed: %v", q.Index, err))
}

func (o *Orchestrator) recognize(ctx context.Context, r *run, q question.Config, image string) (string, ocr.Decision, error) {
	lines, err := retryOnce(ctx, o, r, "OCR", func(ctx context.Context) ([]ocr.Line, error) {
		return r.rec.Recognize(ctx, image)
	})
	if err != nil {
		telemetry.OCRDecisions.WithLabelValues("error").Inc()
		return "", ocr.Decision{}, err
	}
	text, d := r.engine.Assess(lines, q.Type, q.Quality.Normalize())
	if !d.Proceed {
		telemetry.OCRDecisions.WithLabelValues("deferred").Inc()
		r.log.Warn().Int("question", q.Index).Int("risk", d.Risk).Strs("failed", d.Failed).Msg("ocr_deferred")
		return "", d, failure.Newf(failure.CodeOCRDeferred, "question %d: %s", q.Index, d.Reason)
	}
	telemetry.OCRDecisions.WithLabelValues("proceed").Inc()
	o.note(r, LevelDetail, fmt.Sprintf("question %d: OCR accepted %d line(s), mean confidence %.2f, risk %d/%d",
		q.Index, d.Stats.Lines, d.Stats.Mean, d.Risk, d.Needed))
	return text, d, nil
}

func (o *Orchestrator) evaluate(ctx context.Context, r *run, q question.Config, req providers.Request) ([]Evaluation, error) {
	if !r.p.Dual {
		ev := o.evaluateOne(ctx, r, q, r.p.First, req)
		return []Evaluation{ev}, ev.err
	}

	if r.p.First.Provider == r.p.Second.Provider {
		first := o.evaluateOne(ctx, r, q, r.p.First, req)
		if first.err != nil {
			return []Evaluation{first}, first.err
		}
		if r.stopped() {
			return []Evaluation{first}, failure.New(failure.CodeStopRequested, stopReason)
		}
		second := o.evaluateOne(ctx, r, q, r.p.Second, req)
		return []Evaluation{first, second}, second.err
	}

	evs := make([]Evaluation, 2)
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range []Endpoint{r.p.First, r.p.Second} {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error().Str("provider", ep.Provider.String()).Interface("panic", rec).Msg("evaluation_panic")
					err = failure.Newf(failure.CodeUnknown, "evaluation with %s failed unexpectedly", ep.Provider)
					evs[i].err = err
				}
			}()
			if i == 1 {
				if serr := o.sleep(gctx, o.stagger()); serr != nil {
					evs[i] = Evaluation{Provider: ep.Provider.String(), Model: ep.Model, err: failure.Classify(serr)}
					return evs[i].err
				}
			}
			evs[i] = o.evaluateOne(gctx, r, q, ep, req)
			return evs[i].err
		})
	}
	return evs, g.Wait()
}

func (o *Orchestrator) evaluateOne(ctx context.Context, r *run, q question.Config, ep Endpoint, req providers.Request) Evaluation {
	ev := Evaluation{Provider: ep.Provider.String(), Model: ep.Model}
	req.Provider, req.Credential, req.Model = ep.Provider, ep.Credential, ep.Model

	o.note(r, LevelDetail, fmt.Sprintf("question %d: calling %s", q.Index, ep.label()))
	resp, err := retryOnce(ctx, o, r, "provider "+ep.Provider.String(), func(ctx context.Context) (providers.Response, error) {
		return o.deps.Caller.Call(ctx, req)
	})
	if err != nil {
		ev.err = err
		return ev
	}
	ev.Raw, ev.Latency = resp.Text, resp.Latency

	v, err := ParseVerdict(resp.Text)
	ev.Verdict = v
	if err != nil {
		r.log.Warn().Err(err).Str("provider", ev.Provider).Int("reply_len", len(resp.Text)).Msg("verdict_rejected")
		ev.err = err
		return ev
	}
	o.note(r, LevelResult, fmt.Sprintf("%s summary: %s", ep.label(), v.Summary))
	o.note(r, LevelResult, fmt.Sprintf("%s basis: %s", ep.label(), v.Basis))
	if v.Blank {
		o.note(r, LevelInfo, fmt.Sprintf("question %d: %s reports a blank or unreadable answer, scoring 0", q.Index, ep.label()))
	}
	if q.Criteria > 0 && !v.Blank && len(v.Itemized) != q.Criteria {
		r.log.Warn().Int("question", q.Index).Int("criteria", q.Criteria).Int("items", len(v.Itemized)).Msg("itemized_count_mismatch")
	}

	b := q.Bounds()
	ev.Score = score.Clamp(v.Total, b.Min, b.Max)
	if b.Clamped(v.Total) {
		adv := failure.Advise(failure.New(failure.CodeOutOfRange, ""))
		r.log.Warn().Float64("total", v.Total).Float64("clamped", ev.Score).Str("strategy", string(adv.Strategy)).Msg("score_clamped")
		o.note(r, LevelError, fmt.Sprintf("question %d: total %s is outside [%s, %s], corrected to %s",
			q.Index, fmtScore(v.Total), fmtScore(b.Min), fmtScore(b.Max), fmtScore(ev.Score)))
	}
	return ev
}

// retryOnce runs fn and repeats it once after a backoff when the failure
// is worth retrying.
func retryOnce[T any](ctx context.Context, o *Orchestrator, r *run, what string, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil {
		return v, nil
	}
	fe := failure.Classify(err)
	if ctx.Err() != nil || !failure.Advise(fe).Retry() {
		return v, fe
	}
	d := o.backoff.Delay(fe.Code, 1)
	telemetry.Retries.WithLabelValues(string(fe.Code)).Inc()
	r.log.Warn().Str("call", what).Str("code", string(fe.Code)).Dur("delay", d).Msg("call_retry")
	o.note(r, LevelError, fmt.Sprintf("%s failed (%s), retrying in %s", what, fe.Message, d.Round(time.Millisecond)))
	if serr := o.sleep(ctx, d); serr != nil {
		return v, failure.Classify(serr)
	}
	v, err = fn(ctx)
	if err != nil {
		return v, failure.Classify(err)
	}
	return v, nil
}

func (o *Orchestrator) enter(ctx context.Context, q question.Config, final float64) error {
	in := o.deps.Inputter
	if q.ThreeStep != nil {
		limit := q.ThreeStep.StepMax
		if limit <= 0 {
			limit = DefaultStepMax
		}
		parts, err := score.SplitSteps(final, len(q.ThreeStep.Inputs), limit)
		if err != nil {
			return failure.Wrap(failure.CodeInput, err, fmt.Sprintf("question %d: %v", q.Index, err))
		}
		for i, at := range q.ThreeStep.Inputs {
			if err := in.InputScore(ctx, at, parts[i]); err != nil {
				return failure.Wrap(failure.CodeInput, err, fmt.Sprintf("question %d: step %d input failed: %v", q.Index, i+1, err))
			}
		}
	} else if err := in.InputScore(ctx, *q.ScoreInput, final); err != nil {
		return failure.Wrap(failure.CodeInput, err, fmt.Sprintf("question %d: score input failed: %v", q.Index, err))
	}
	if err := in.ClickConfirm(ctx, *q.Confirm); err != nil {
		return failure.Wrap(failure.CodeInput, err, fmt.Sprintf("question %d: confirm failed: %v", q.Index, err))
	}
	return nil
}

func (o *Orchestrator) finish(r *run, err error) Summary {
	status, term := outcome(err, r.feedback)
	now := o.now()

	o.mu.Lock()
	if o.state.RunID != r.id || o.state.Status != StatusRunning {
		// already finished, e.g. a panic after the summary was written
		o.mu.Unlock()
		return Summary{}
	}
	o.state.Status = status
	o.state.Reason = term.Reason
	o.state.Completed = r.completed
	o.state.FinishedAt = now
	o.stop = nil
	o.mu.Unlock()

	sum := Summary{
		RunID:       r.id,
		Repetitions: r.p.Repetitions,
		Questions:   len(r.qs),
		Attempted:   r.attempted,
		Completed:   r.completed,
		Status:      status,
		Reason:      term.Reason,
		Elapsed:     now.Sub(r.started),
		Dual:        r.p.Dual,
		Threshold:   r.p.Threshold,
		FirstModel:  r.p.First.label(),
		StartedAt:   r.started,
		FinishedAt:  now,
	}
	if r.p.Dual {
		sum.SecondModel = r.p.Second.label()
	}

	telemetry.RunOutcomes.WithLabelValues(string(status)).Inc()
	ev := r.log.Info()
	if status != StatusCompleted {
		ev = r.log.Warn().Str("code", term.Code)
	}
	ev.Str("status", string(status)).Str("reason", term.Reason).Int("completed", r.completed).
		Dur("elapsed", sum.Elapsed).Msg("run_finished")

	if status == StatusCompleted {
		o.note(r, LevelInfo, fmt.Sprintf("grading completed in %.2f s", sum.Elapsed.Seconds()))
	} else {
		o.note(r, LevelError, fmt.Sprintf("grading ended (%s): %s", status, term.Reason))
	}
	o.emit(r, EventSummary, sum)
	o.emit(r, EventTerminal, term)
	return sum
}

// outcome turns the error that ended a run into its terminal state.
func outcome(err error, feedback string) (Status, Terminal) {
	if err == nil {
		return StatusCompleted, Terminal{Signal: SignalCompleted}
	}
	fe := failure.Classify(err)
	t := Terminal{Signal: SignalError, Reason: fe.Message, Code: string(fe.Code), Remedy: fe.Remedy}
	switch fe.Code {
	case failure.CodeDisagreement:
		t.Signal = SignalThresholdExceeded
		return StatusThresholdExceeded, t
	case failure.CodeManualReview, failure.CodeOCRDeferred:
		t.Signal = SignalManualIntervention
		t.RawFeedback = feedback
	}
	return StatusError, t
}

func (o *Orchestrator) position(rep, idx int) {
	o.mu.Lock()
	o.state.Repetition, o.state.Question = rep, idx
	o.mu.Unlock()
}

func (o *Orchestrator) progress(r *run) {
	o.mu.Lock()
	o.state.Completed = r.completed
	total := o.state.Total
	o.mu.Unlock()
	o.emit(r, EventProgress, Progress{Completed: r.completed, Total: total})
}

func (o *Orchestrator) record(r *run, res Result) {
	res.At = o.now()
	o.emit(r, EventResult, res)
}

func (o *Orchestrator) note(r *run, lvl Level, msg string) {
	o.emit(r, EventLog, LogEntry{Message: msg, IsError: lvl == LevelError, Level: lvl})
}

func (o *Orchestrator) emit(r *run, t EventType, data any) {
	if o.deps.Sink == nil {
		return
	}
	o.deps.Sink.Emit(Event{Type: t, RunID: r.id, At: o.now(), Data: data})
}

func (p Params) clone() Params {
	c := p
	c.Questions = append([]question.Config(nil), p.Questions...)
	return c
}

func rationale(evals []Evaluation) string {
	if len(evals) == 1 {
		return evals[0].Verdict.Rationale()
	}
	var b strings.Builder
	for i, ev := range evals {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s/%s] %s", ev.Provider, ev.Model, ev.Verdict.Rationale())
	}
	return b.String()
}

func manualFeedback(evals []Evaluation) string {
	for _, ev := range evals {
		if failure.CodeOf(ev.err) == failure.CodeManualReview {
			return ev.Raw
		}
	}
	return ""
}

func fmtScore(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
