// Package pipeline is the HTTP adapter for the external video generation
// pipeline. It maps HTTP outcomes onto generation.Error kinds.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/vidgen/internal/generation"
	"github.com/phrazzld/vidgen/internal/platform/logger"
)

const (
	generatePath = "/v1/generate"
	// maxBodyBytes bounds how much of a response body is read.
	maxBodyBytes = 1 << 20
)

// Client calls the pipeline's generate endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ generation.Pipeline = (*Client)(nil)

// NewClient creates a client for the pipeline at baseURL. A zero timeout
// leaves the deadline to the caller's context.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: pipeline URL is required", generation.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "pipeline_client")),
	}, nil
}

type generateResponse struct {
	Status        string `json:"status"`
	ArtifactRef   string `json:"artifact_ref"`
	ScriptText    string `json:"script_text"`
	ThumbnailRef  string `json:"thumbnail_ref"`
	SelectedValue string `json:"selected_personalization_value"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Stage string `json:"stage"`
}

// Generate implements generation.Pipeline.
func (c *Client) Generate(ctx context.Context, req generation.Request) (*generation.Result, error) {
	log := logger.FromContextOrDefault(ctx, c.logger)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, generation.NewPermanentError(generation.DefaultStage, fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return nil, generation.NewPermanentError(generation.DefaultStage, fmt.Errorf("%w: %v", generation.ErrInvalidConfig, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if cid := logger.CorrelationID(ctx); cid != "" {
		httpReq.Header.Set("X-Correlation-ID", cid)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Warn("pipeline request failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return nil, generation.NewTransientError(generation.DefaultStage, err).
			WithDetail("network", true)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, generation.NewTransientError(generation.DefaultStage, fmt.Errorf("read response: %w", err))
	}

	log.Debug("pipeline responded",
		slog.Int("http_status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyFailure(resp.StatusCode, raw)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, generation.NewPermanentError(generation.DefaultStage,
			fmt.Errorf("%w: %v", generation.ErrInvalidResponse, err))
	}
	if out.Status != "" && out.Status != "completed" {
		return nil, generation.NewPermanentError(generation.DefaultStage,
			fmt.Errorf("%w: status %q", generation.ErrInvalidResponse, out.Status))
	}
	if out.ArtifactRef == "" {
		return nil, generation.NewPermanentError(generation.DefaultStage,
			fmt.Errorf("%w: missing artifact_ref", generation.ErrInvalidResponse))
	}

	res := &generation.Result{SelectedValue: out.SelectedValue}
	res.ArtifactRef = out.ArtifactRef
	res.ScriptText = out.ScriptText
	res.ThumbnailRef = out.ThumbnailRef
	return res, nil
}

// classifyFailure maps a non-2xx response. 408, 429 and 5xx are transient;
// other statuses are permanent unless the body says otherwise.
func classifyFailure(status int, body []byte) error {
	var parsed errorResponse
	_ = json.Unmarshal(body, &parsed)

	stage := parsed.Stage
	if stage == "" {
		stage = generation.DefaultStage
	}
	msg := parsed.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	cause := fmt.Errorf("pipeline returned %d: %s", status, msg)

	transient := status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
	switch generation.Kind(parsed.Kind) {
	case generation.KindTransient:
		transient = true
	case generation.KindPermanent:
		transient = false
	}

	var genErr *generation.Error
	if transient {
		genErr = generation.NewTransientError(stage, cause)
	} else {
		genErr = generation.NewPermanentError(stage, errors.Join(generation.ErrInvalidInput, cause))
	}
	return genErr.WithDetail("http_status", status)
}
