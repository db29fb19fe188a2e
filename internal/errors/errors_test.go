package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTranslatorError_Error(t *testing.T) {
	err := &TranslatorError{Code: ErrQueueFull, Message: "normal queue is full (capacity 2)"}
	assert.Equal(t, "QUEUE_FULL: normal queue is full (capacity 2)", err.Error())
}

func TestConstructors(t *testing.T) {
	cause := stderrors.New("boom")

	tests := []struct {
		name string
		err  *TranslatorError
		code ErrorCode
	}{
		{"validation", NewValidation("taskId is required"), ErrValidation},
		{"queue full", NewQueueFull("broadcast", 10), ErrQueueFull},
		{"timeout", NewTimeout(30*time.Second, cause), ErrTimeout},
		{"backend", NewBackend(cause), ErrBackend},
		{"segmentation", NewSegmentation("invalid utf-8"), ErrSegmentation},
		{"cache", NewCacheUnavailable("get", cause), ErrCacheUnavailable},
		{"shutdown", NewShuttingDown("normal"), ErrShuttingDown},
		{"internal", NewInternal(nil), ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestNewQueueFull_Details(t *testing.T) {
	err := NewQueueFull("normal", 5)
	assert.Equal(t, "normal", err.Details["pool"])
	assert.Equal(t, 5, err.Details["capacity"])
}

func TestIsCode_ThroughWrapping(t *testing.T) {
	base := NewBackend(stderrors.New("model offline"))
	wrapped := fmt.Errorf("subtask t1/fr: %w", base)

	assert.True(t, IsCode(wrapped, ErrBackend))
	assert.False(t, IsCode(wrapped, ErrTimeout))
	assert.False(t, IsCode(stderrors.New("plain"), ErrBackend))
	assert.False(t, IsCode(nil, ErrBackend))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrTimeout, CodeOf(NewTimeout(time.Second, nil)))
	assert.Equal(t, ErrInternal, CodeOf(stderrors.New("plain")))
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "model offline", MessageOf(fmt.Errorf("wrap: %w", NewBackend(stderrors.New("model offline")))))
	assert.Equal(t, "plain", MessageOf(stderrors.New("plain")))
	assert.Equal(t, "", MessageOf(nil))
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("deadline")
	err := NewTimeout(time.Second, cause)
	assert.ErrorIs(t, err, cause)
}
