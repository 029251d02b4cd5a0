package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/vidgen/internal/domain"
	"github.com/phrazzld/vidgen/internal/generation"
	"github.com/phrazzld/vidgen/internal/platform/logger"
	"github.com/phrazzld/vidgen/internal/queue"
	"github.com/phrazzld/vidgen/internal/redact"
	"github.com/phrazzld/vidgen/internal/store"
)

// action is the queue-level decision for a message.
type action int

const (
	actionAck action = iota
	actionNack
	// actionNone leaves the message in flight; it returns after its ack deadline.
	actionNone
)

// job carries one message through processing.
type job struct {
	msg      *queue.Message
	payload  *queue.Payload
	req      *domain.GenerationRequest
	topicID  string
	log      *slog.Logger
	claimed  bool
	attempts int
}

// handle processes one message and returns its outcome. The queue decision
// is applied here so every path acks, nacks or deliberately does neither.
func (w *Worker) handle(ctx, runCtx context.Context, exec *execution, msg *queue.Message) Outcome {
	log := w.logger.With(
		slog.String("message_id", msg.ID),
		slog.Int("delivery_attempt", msg.DeliveryAttempt),
	)

	payload, err := msg.Decode()
	if err != nil {
		log.Warn("dropping malformed message",
			slog.String("error", err.Error()),
			slog.String(queue.AttrRequestID, msg.Attr(queue.AttrRequestID)))
		w.apply(ctx, log, msg, actionAck)
		return OutcomeDropped
	}

	log = log.With(slog.String("request_id", payload.RequestID))
	ctx = logger.WithLogger(ctx, log)
	runCtx = logger.WithLogger(runCtx, log)
	if payload.CorrelationID != "" {
		ctx = logger.WithCorrelationID(ctx, payload.CorrelationID)
		runCtx = logger.WithCorrelationID(runCtx, payload.CorrelationID)
		log = logger.FromContext(ctx)
	}

	j := &job{msg: msg, payload: payload, log: log, attempts: msg.DeliveryAttempt}
	j.topicID = payload.TopicID
	if j.topicID == "" {
		j.topicID = domain.TopicKey(payload.Query)
	}

	outcome, act := w.process(ctx, runCtx, exec, j)
	if j.claimed {
		if err := w.deps.Requests.ReleaseLease(ctx, payload.ID(), w.cfg.ConsumerName); err != nil {
			log.Warn("failed to release lease", slog.String("error", err.Error()))
		}
	}
	w.apply(ctx, log, msg, act)

	switch outcome {
	case OutcomeSucceeded, OutcomeCacheHit, OutcomeFailed, OutcomeSkipped:
		exec.seen.Add(payload.ID(), outcome)
	}
	log.Info("message handled", slog.String("outcome", string(outcome)))
	return outcome
}

func (w *Worker) apply(ctx context.Context, log *slog.Logger, msg *queue.Message, act action) {
	var err error
	switch act {
	case actionAck:
		err = w.deps.Queue.Ack(ctx, msg)
	case actionNack:
		err = w.deps.Queue.Nack(ctx, msg)
	default:
		return
	}
	if err != nil {
		log.Warn("queue acknowledgement failed",
			slog.Bool("ack", act == actionAck),
			slog.String("error", err.Error()))
	}
}

func (w *Worker) process(ctx, runCtx context.Context, exec *execution, j *job) (Outcome, action) {
	id := j.payload.ID()

	if prior, ok := exec.seen.Get(id); ok {
		j.log.Debug("duplicate delivery within execution", slog.String("prior_outcome", string(prior)))
		return OutcomeSkipped, actionAck
	}

	req, err := w.deps.Requests.GetStatus(ctx, id)
	if err != nil {
		return w.storeFailure(j, "read status", err)
	}
	j.req = req
	if req.Status.IsTerminal() {
		j.log.Info("request already terminal, skipping", slog.String("status", string(req.Status)))
		return OutcomeSkipped, actionAck
	}

	if outcome, act, served := w.serveFromCache(ctx, j); served {
		return outcome, act
	}

	if w.cfg.LeaseDuration > 0 {
		if _, err := w.deps.Requests.Claim(ctx, id, w.cfg.ConsumerName, w.cfg.LeaseDuration); err != nil {
			if errors.Is(err, store.ErrLeaseHeld) {
				j.log.Info("request leased by another worker, deferring", slog.String("error", err.Error()))
				return OutcomeDeferred, actionNone
			}
			return w.storeFailure(j, "claim", err)
		}
		j.claimed = true
	}

	if err := w.advance(ctx, j, domain.RequestStatusValidating, domain.ProgressValidating, "validating input"); err != nil {
		return w.storeFailure(j, "transition", err)
	}
	if err := w.advance(ctx, j, domain.RequestStatusGenerating, domain.ProgressGenerating, "generating video"); err != nil {
		return w.storeFailure(j, "transition", err)
	}

	result, err := w.generate(runCtx, j)
	if err != nil {
		return w.pipelineFailure(ctx, j, err)
	}

	if err := w.advance(ctx, j, domain.RequestStatusUploading, domain.ProgressUploading, "uploading artifacts"); err != nil {
		return w.storeFailure(j, "transition", err)
	}
	if _, err := w.deps.Requests.SetResults(ctx, id, result.Results); err != nil {
		if errors.Is(err, domain.ErrMissingResults) {
			return w.pipelineFailure(ctx, j, generation.NewPermanentError(generation.DefaultStage, err))
		}
		return w.storeFailure(j, "set results", err)
	}

	j.claimed = false

	w.storeInCache(ctx, j, result)
	j.log.Info("generation completed", slog.String("artifact_ref", result.ArtifactRef))
	return OutcomeSucceeded, actionAck
}

// serveFromCache completes the request from the cache when an entry matches.
// served is false on a miss or a lookup failure.
func (w *Worker) serveFromCache(ctx context.Context, j *job) (Outcome, action, bool) {
	candidates := domain.Candidates(j.payload.PersonalizationHint)
	grade := j.payload.Grade()

	entry, err := w.deps.Cache.Lookup(ctx, j.topicID, grade, candidates)
	switch {
	case errors.Is(err, store.ErrCacheEntryNotFound):
		cacheLookupsTotal.WithLabelValues("miss").Inc()
		return "", 0, false
	case err != nil:
		cacheLookupsTotal.WithLabelValues("error").Inc()
		j.log.Warn("cache lookup failed, generating", slog.String("error", err.Error()))
		return "", 0, false
	}
	cacheLookupsTotal.WithLabelValues("hit").Inc()

	if _, err := w.deps.Requests.CompleteFromCache(ctx, j.payload.ID(), entry.Results); err != nil {
		outcome, act := w.storeFailure(j, "complete from cache", err)
		return outcome, act, true
	}
	if err := w.deps.Cache.RecordHit(ctx, entry.Key); err != nil {
		j.log.Warn("failed to record cache hit", slog.String("error", err.Error()))
	}

	j.log.Info("served from cache",
		slog.String("cache_key", entry.Key.String()),
		slog.Int64("popularity", entry.Popularity))
	return OutcomeCacheHit, actionAck, true
}

// advance moves the request to status unless it is already there or beyond,
// which happens when a redelivered message resumes an earlier attempt.
func (w *Worker) advance(ctx context.Context, j *job, status domain.RequestStatus, progress int, stage string) error {
	if !j.req.Status.Before(status) {
		return nil
	}
	req, err := w.deps.Requests.Transition(ctx, j.req.ID, status, max(progress, j.req.Progress), stage)
	if err != nil {
		return err
	}
	j.req = req
	return nil
}

func (w *Worker) generate(ctx context.Context, j *job) (*generation.Result, error) {
	start := time.Now()
	result, err := w.deps.Pipeline.Generate(ctx, generation.Request{
		RequestID:           j.payload.RequestID,
		StudentID:           j.payload.StudentID,
		Query:               j.payload.Query,
		GradeLevel:          j.payload.Grade(),
		PersonalizationHint: j.payload.PersonalizationHint,
	})
	elapsed := time.Since(start)

	label := "ok"
	if err != nil {
		label = "error"
	} else if result == nil {
		err = generation.NewPermanentError(generation.DefaultStage, generation.ErrInvalidResponse)
		label = "error"
	}
	pipelineDuration.WithLabelValues(label).Observe(elapsed.Seconds())
	j.log.Debug("pipeline call finished", slog.Duration("elapsed", elapsed), slog.String("result", label))
	return result, err
}

// pipelineFailure records a classified pipeline error and routes the message.
func (w *Worker) pipelineFailure(ctx context.Context, j *job, err error) (Outcome, action) {
	info := domain.ErrorInfo{
		Message: redact.Error(err),
		Stage:   generation.StageOf(err),
		Detail:  redact.JSON(generation.DetailOf(err)),
	}
	id := j.payload.ID()

	if generation.IsRetryable(err) {
		if _, recErr := w.deps.Requests.RecordAttemptError(ctx, id, info); recErr != nil {
			return w.storeFailure(j, "record attempt error", recErr)
		}
		j.claimed = false
		attrs := []any{
			slog.String("error", info.Message),
			slog.String("stage", info.Stage),
		}
		if w.cfg.MaxDeliveryAttempts > 0 && j.attempts >= w.cfg.MaxDeliveryAttempts {
			j.log.Warn("final delivery attempt failed, message will be dead-lettered", attrs...)
		} else {
			j.log.Warn("retryable pipeline failure", attrs...)
		}
		return OutcomeRetried, actionNack
	}

	if _, setErr := w.deps.Requests.SetError(ctx, id, info); setErr != nil {
		return w.storeFailure(j, "set error", setErr)
	}
	j.claimed = false
	j.log.Error("permanent pipeline failure",
		slog.String("error", info.Message),
		slog.String("stage", info.Stage))
	return OutcomeFailed, actionAck
}

// storeFailure routes a Request Store error. A missing record means the
// message is orphaned; a domain rejection means another delivery already moved
// the request on; anything else is treated as a transient storage failure.
func (w *Worker) storeFailure(j *job, op string, err error) (Outcome, action) {
	log := j.log.With(slog.String("op", op), slog.String("error", err.Error()))

	switch {
	case errors.Is(err, store.ErrRequestNotFound):
		log.Warn("no request record for message, dropping")
		return OutcomeDropped, actionAck
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidProgress):
		log.Info("request moved on concurrently, skipping")
		return OutcomeSkipped, actionAck
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		log.Error("request store rejected update, dropping")
		return OutcomeDropped, actionAck
	}
	log.Warn("request store unavailable, retrying")
	return OutcomeRetried, actionNack
}

// storeInCache records the result for reuse. Failures only cost future hits.
func (w *Worker) storeInCache(ctx context.Context, j *job, result *generation.Result) {
	value := domain.NormalizeValue(result.SelectedValue)
	if value == "" {
		return
	}
	key := domain.CacheKey{TopicID: j.topicID, GradeLevel: j.payload.Grade(), PersonalizationValue: value}
	if _, err := w.deps.Cache.Store(ctx, key, result.Results, j.payload.ID()); err != nil {
		j.log.Warn("failed to store cache entry",
			slog.String("cache_key", key.String()),
			slog.String("error", err.Error()))
	}
}
