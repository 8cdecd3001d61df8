package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/docnt/docnt/internal/grading/prompts"
)

const (
	DefaultBaseURL     = "https://api.novita.ai/openai/v1"
	DefaultModel       = "qwen/qwen3-vl-8b-instruct"
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.1
)

var (
	visionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "docnt",
		Subsystem: "grading",
		Name:      "vision_duration_seconds",
		Help:      "Duration of vision model requests",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 90},
	}, []string{"model"})

	visionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docnt",
		Subsystem: "grading",
		Name:      "vision_failures_total",
		Help:      "Number of failed vision model requests",
	}, []string{"model", "kind"})
)

// VisionClient reads the marked options off an exam image.
type VisionClient interface {
	// Grade returns the model's raw text for the image. questionCount is a
	// hint for the prompt and may be zero.
	Grade(ctx context.Context, image string, questionCount int) (string, error)
}

// VisionConfig configures the OpenAI-compatible vision client. Temperature
// is sent as given, zero included; nil means DefaultTemperature.
type VisionConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float32
	Language    prompts.Language
}

// OpenAIVision talks to any OpenAI-compatible chat completion endpoint that
// accepts image parts.
type OpenAIVision struct {
	api    *openai.Client
	cfg    VisionConfig
	tracer trace.Tracer
}

// NewOpenAIVision creates a vision client. The API key is required.
func NewOpenAIVision(cfg VisionConfig) (*OpenAIVision, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("vision api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == nil {
		t := float32(DefaultTemperature)
		cfg.Temperature = &t
	} else if *cfg.Temperature < 0 {
		return nil, fmt.Errorf("vision temperature must not be negative, got %v", *cfg.Temperature)
	}
	if cfg.Language == "" {
		cfg.Language = prompts.LanguageES
	}
	if err := prompts.Load(); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	if !prompts.IsValidLanguage(string(cfg.Language)) {
		return nil, fmt.Errorf("unsupported prompt language %q", cfg.Language)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL
	return &OpenAIVision{
		api:    openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/docnt/docnt/internal/grading/vision"),
	}, nil
}

// wireTemperature keeps an explicit zero on the wire: the request field is
// omitted when zero, which would leave the provider's own default in place.
func wireTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

// Model returns the configured model name.
func (c *OpenAIVision) Model() string {
	return c.cfg.Model
}

// Grade implements VisionClient with a single request; it never retries.
func (c *OpenAIVision) Grade(ctx context.Context, image string, questionCount int) (string, error) {
	ctx, span := c.tracer.Start(ctx, "vision.grade", trace.WithAttributes(
		attribute.String("model", c.cfg.Model),
		attribute.Int("question_count", questionCount),
	))
	defer span.End()

	system, err := prompts.System(c.cfg.Language)
	if err != nil {
		return "", err
	}
	user, err := prompts.User(c.cfg.Language, questionCount)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: user},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: image},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeText,
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: wireTemperature(*c.cfg.Temperature),
	})
	visionDuration.WithLabelValues(c.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		err = classifyVisionError(ctx, err)
		visionFailures.WithLabelValues(c.cfg.Model, string(KindOf(err))).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if len(resp.Choices) == 0 {
		err := &UpstreamError{Err: errors.New("no choices returned")}
		visionFailures.WithLabelValues(c.cfg.Model, string(KindUpstream)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("vision model response", "model", c.cfg.Model, "raw", raw)
	return raw, nil
}

func classifyVisionError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamError{StatusCode: reqErr.HTTPStatusCode, Body: string(reqErr.Body), Err: err}
	}
	return &UpstreamError{Err: err}
}
