// Package handler provides the synchronous request handler used by the Lambda
// ingress. A request is dispatched onto the in-process engine and the handler
// waits for one terminal outcome per target language.
package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/pricofy/translation-router/internal/domain"
	terrors "github.com/pricofy/translation-router/internal/errors"
	"github.com/pricofy/translation-router/internal/wire"
)

// Request is the inbound wire request.
type Request = wire.Request

// Response carries one outbound message per requested target language, in
// request order.
type Response struct {
	TaskID    string          `json:"taskId,omitempty"`
	Results   []wire.Outbound `json:"results,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
}

// Engine dispatches requests and delivers outcomes for queued subtasks.
type Engine interface {
	Dispatch(req domain.TranslationRequest) (immediate []domain.Outcome, queued int)
	Results() <-chan domain.Outcome
}

// Handler correlates engine outcomes with waiting requests by task id.
type Handler struct {
	engine Engine
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	waiters map[string]chan domain.Outcome
}

// New creates a Handler. Run must be running for queued work to complete.
func New(eng Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:  eng,
		logger:  logger.Named("handler"),
		now:     time.Now,
		waiters: make(map[string]chan domain.Outcome),
	}
}

// Run routes engine outcomes to their waiting requests until ctx is done.
func (h *Handler) Run(ctx context.Context) {
	results := h.engine.Results()
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-results:
			h.deliver(out)
		}
	}
}

func (h *Handler) deliver(out domain.Outcome) {
	h.mu.Lock()
	ch, ok := h.waiters[out.TaskID()]
	h.mu.Unlock()
	if !ok {
		h.logger.Debug("outcome for abandoned task",
			zap.String("task_id", out.TaskID()),
			zap.String("target", out.TargetLanguage()))
		return
	}
	// sized for every target of the task
	ch <- out
}

// Handle translates req into every target language. A missing taskId is
// generated. Invalid requests are reported in the response, not as an error.
func (h *Handler) Handle(ctx context.Context, req Request) (*Response, error) {
	start := h.now()
	if req.TaskID == "" {
		req.TaskID = ulid.Make().String()
	}
	tr, err := req.Validate()
	if err != nil {
		return errorResponse(req.TaskID, err), nil
	}

	ch := make(chan domain.Outcome, len(tr.TargetLanguages))
	h.mu.Lock()
	if _, busy := h.waiters[tr.TaskID]; busy {
		h.mu.Unlock()
		return errorResponse(tr.TaskID, terrors.NewValidation(fmt.Sprintf("task %s is already in flight", tr.TaskID))), nil
	}
	h.waiters[tr.TaskID] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.waiters, tr.TaskID)
		h.mu.Unlock()
	}()

	immediate, queued := h.engine.Dispatch(tr)
	byTarget := make(map[string]domain.Outcome, len(tr.TargetLanguages))
	for _, out := range immediate {
		byTarget[out.TargetLanguage()] = out
	}

collect:
	for ; queued > 0; queued-- {
		select {
		case out := <-ch:
			byTarget[out.TargetLanguage()] = out
		case <-ctx.Done():
			h.logger.Warn("request deadline reached",
				zap.String("task_id", tr.TaskID),
				zap.Int("pending", queued))
			break collect
		}
	}

	now := h.now()
	resp := &Response{TaskID: tr.TaskID, Results: make([]wire.Outbound, 0, len(tr.TargetLanguages))}
	for _, target := range tr.TargetLanguages {
		out, ok := byTarget[target]
		if !ok {
			out = domain.FailureOutcome(tr.TaskID, target, terrors.NewTimeout(now.Sub(start), ctx.Err()))
		}
		resp.Results = append(resp.Results, wire.FromOutcome(out, now))
	}
	return resp, nil
}

func errorResponse(taskID string, err error) *Response {
	return &Response{
		TaskID:    taskID,
		Error:     err.Error(),
		ErrorCode: string(terrors.CodeOf(err)),
	}
}
