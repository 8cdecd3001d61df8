package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds the vision model call.
const DefaultTimeout = 90 * time.Second

var gradingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docnt",
	Subsystem: "grading",
	Name:      "runs_total",
	Help:      "Grading pipeline runs by outcome",
}, []string{"outcome"})

// Grader runs the grading pipeline. It holds no per-call state and is safe
// for concurrent use.
type Grader struct {
	resolver ImageResolver
	vision   VisionClient
	timeout  time.Duration
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewGrader wires the pipeline stages. A non-positive timeout uses
// DefaultTimeout.
func NewGrader(resolver ImageResolver, vision VisionClient, timeout time.Duration) *Grader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Grader{
		resolver: resolver,
		vision:   vision,
		timeout:  timeout,
		validate: validator.New(),
		tracer:   otel.Tracer("github.com/docnt/docnt/internal/grading"),
	}
}

// Run grades one exam image. Stages run in order and the first failure is
// returned unchanged, so errors.Is against the stage sentinel identifies it.
// An empty rubric is rejected up front with KindInvalidRequest and never
// reaches scoring; ErrEmptyRubric only comes from calling ScoreAnswers
// directly. Nothing is persisted.
func (g *Grader) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "grading.run", trace.WithAttributes(
		attribute.Int("rubric.size", len(req.Rubric)),
	))
	defer span.End()

	res, err := g.run(ctx, req)
	if err != nil {
		kind := KindOf(err)
		gradingRuns.WithLabelValues(string(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		attrs := []any{"kind", kind, "error", err}
		var ue *UpstreamError
		if errors.As(err, &ue) {
			attrs = append(attrs, "upstream_status", ue.StatusCode, "upstream_body", ue.Body)
		}
		if raw, ok := RawResponse(err); ok {
			attrs = append(attrs, "raw_response", raw)
		}
		slog.Warn("grading failed", attrs...)
		return nil, err
	}

	gradingRuns.WithLabelValues("success").Inc()
	span.SetAttributes(attribute.Float64("grade", res.Grade))
	slog.Info("grading complete",
		"total_score", res.TotalScore,
		"max_score", res.MaxScore,
		"grade", res.Grade,
	)
	return res, nil
}

func (g *Grader) run(ctx context.Context, req Request) (*Result, error) {
	if err := g.checkRequest(req); err != nil {
		return nil, err
	}

	image, err := g.resolver.Resolve(ctx, req.ImageRef)
	if err != nil {
		return nil, err
	}

	visionCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	raw, err := g.vision.Grade(visionCtx, image, len(req.Rubric))
	if err != nil {
		if !errors.Is(err, ErrTimeout) && errors.Is(visionCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", ErrTimeout, g.timeout, err)
		}
		return nil, err
	}

	answers, err := ParseAnswers(raw)
	if err != nil {
		return nil, err
	}

	score, err := ScoreAnswers(answers, req.Rubric, req.Points)
	if err != nil {
		return nil, err
	}

	return &Result{
		Answers:     answers,
		TotalScore:  score.TotalScore,
		MaxScore:    score.MaxScore,
		Grade:       score.Grade,
		RawResponse: raw,
	}, nil
}

func (g *Grader) checkRequest(req Request) error {
	if strings.TrimSpace(req.ImageRef) == "" {
		return fmt.Errorf("%w: imageUrl is required", ErrInvalidRequest)
	}
	if err := g.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidRequest, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}
