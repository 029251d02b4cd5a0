package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phrazzld/vidgen/internal/generation"
	"github.com/phrazzld/vidgen/internal/platform/logger"
	"github.com/phrazzld/vidgen/internal/platform/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.HandlerFunc) *pipeline.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := pipeline.NewClient(srv.URL+"/", time.Second, logger.Discard())
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresURL(t *testing.T) {
	t.Parallel()
	_, err := pipeline.NewClient(" ", time.Second, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestGenerate_Success(t *testing.T) {
	t.Parallel()

	var got generation.Request
	var correlation string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/generate", r.URL.Path)
		correlation = r.Header.Get("X-Correlation-ID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"completed","artifact_ref":"gs://v/1.mp4","script_text":"Once upon a time","thumbnail_ref":"gs://v/1.png","selected_personalization_value":"basketball"}`))
	})

	ctx := logger.WithCorrelationID(logger.WithLogger(context.Background(), logger.Discard()), "corr-7")
	res, err := c.Generate(ctx, generation.Request{
		RequestID:           "r1",
		StudentID:           "s1",
		Query:               "projectile motion",
		GradeLevel:          10,
		PersonalizationHint: "basketball, music",
	})
	require.NoError(t, err)

	assert.Equal(t, "gs://v/1.mp4", res.ArtifactRef)
	assert.Equal(t, "Once upon a time", res.ScriptText)
	assert.Equal(t, "gs://v/1.png", res.ThumbnailRef)
	assert.Equal(t, "basketball", res.SelectedValue)
	assert.Equal(t, "projectile motion", got.Query)
	assert.Equal(t, 10, got.GradeLevel)
	assert.Equal(t, "corr-7", correlation)
}

func TestGenerate_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		stage     string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"quota"}`, true, "pipeline"},
		{"server error with stage", http.StatusBadGateway, `{"error":"tts down","stage":"synthesis"}`, true, "synthesis"},
		{"request timeout", http.StatusRequestTimeout, ``, true, "pipeline"},
		{"bad request", http.StatusBadRequest, `{"error":"unsupported grade","stage":"validation"}`, false, "validation"},
		{"body overrides kind", http.StatusConflict, `{"error":"busy","kind":"transient"}`, true, "pipeline"},
		{"permanent 500", http.StatusInternalServerError, `{"error":"script refused","kind":"permanent","stage":"script"}`, false, "script"},
		{"missing artifact", http.StatusOK, `{"status":"completed"}`, false, "pipeline"},
		{"not completed", http.StatusOK, `{"status":"running","artifact_ref":"x"}`, false, "pipeline"},
		{"garbage body", http.StatusOK, `<html>`, false, "pipeline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Generate(context.Background(), generation.Request{Query: "q"})
			require.Error(t, err)
			assert.Equal(t, tt.retryable, generation.IsRetryable(err))
			assert.Equal(t, tt.stage, generation.StageOf(err))

			var genErr *generation.Error
			require.True(t, errors.As(err, &genErr))
			if tt.status != http.StatusOK {
				assert.Equal(t, tt.status, genErr.Detail["http_status"])
			}
		})
	}
}

func TestGenerate_NetworkErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := pipeline.NewClient(url, time.Second, logger.Discard())
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), generation.Request{Query: "q"})
	require.Error(t, err)
	assert.True(t, generation.IsRetryable(err))
}

func TestGenerate_ContextDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Generate(ctx, generation.Request{Query: "q"})
	require.Error(t, err)
	assert.True(t, generation.IsRetryable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
