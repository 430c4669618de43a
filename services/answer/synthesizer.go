// Package answer turns an assembled context into a grounded answer with
// citations.
package answer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/achouhan93/ClusterTalk/config"
	"github.com/achouhan93/ClusterTalk/internal/observability"
	"github.com/achouhan93/ClusterTalk/internal/rag"
	"github.com/achouhan93/ClusterTalk/services"
	"github.com/achouhan93/ClusterTalk/services/providers"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultExcerptChars bounds a source excerpt when no limit is configured.
const DefaultExcerptChars = 500

// Synthesizer is the Answer Synthesizer bound to one model profile.
type Synthesizer struct {
	provider     providers.Provider
	profile      config.Profile
	excerptChars int
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewSynthesizer resolves the profile's provider from the registry.
func NewSynthesizer(registry *providers.Registry, profile config.Profile, excerptChars int, metrics *observability.Metrics, logger *zap.Logger) (*Synthesizer, error) {
	provider, err := registry.Lookup(profile.Provider)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", profile.Name, err)
	}
	if excerptChars < 1 {
		excerptChars = DefaultExcerptChars
	}
	return &Synthesizer{
		provider:     provider,
		profile:      profile,
		excerptChars: excerptChars,
		metrics:      metrics,
		logger:       logger,
	}, nil
}

// Synthesize answers question from ac. An empty context yields
// InsufficientContextAnswer with no sources and no model call. Sources are
// exactly the passages of ac, in context order.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, ac rag.AssembledContext) (rag.AnswerResult, error) {
	if ac.Empty() {
		s.logger.Debug("empty context, skipping generation")
		return rag.AnswerResult{Answer: InsufficientContextAnswer, Sources: []rag.Source{}}, nil
	}

	req := s.buildRequest(question, ac.Passages)

	ctx, span := observability.StartSpan(ctx, "answer.generate",
		attribute.String("provider", s.provider.Name()),
		attribute.String("model", s.profile.GenerationModel),
		attribute.Int("passages", len(ac.Passages)))

	start := time.Now()
	resp, err := s.provider.Generate(ctx, req)
	s.metrics.RecordBackendCall(s.provider.Name(), "generate", err, time.Since(start))
	if err != nil {
		observability.EndSpan(span, err)
		s.logger.Warn("generation failed",
			zap.String("provider", s.provider.Name()),
			zap.String("model", s.profile.GenerationModel),
			zap.Error(err))
		return rag.AnswerResult{}, classifyProviderError(ctx, err)
	}

	if resp != nil {
		s.metrics.RecordTokens(s.provider.Name(), s.profile.GenerationModel, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	text, err := extractAnswer(resp)
	observability.EndSpan(span, err)
	if err != nil {
		s.logger.Warn("generation returned unusable output",
			zap.String("provider", s.provider.Name()),
			zap.Error(err))
		return rag.AnswerResult{}, err
	}

	return rag.AnswerResult{Answer: text, Sources: s.sources(ac.Passages)}, nil
}

// Profile returns the profile this synthesizer generates with.
func (s *Synthesizer) Profile() config.Profile {
	return s.profile
}

func (s *Synthesizer) buildRequest(question string, passages []rag.Passage) *providers.Request {
	params := s.profile.Parameters
	req := &providers.Request{
		Model: s.profile.GenerationModel,
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: systemPrompt},
			{Role: providers.RoleUser, Content: BuildPrompt(question, passages)},
		},
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Stop:        params.Stop,
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	return req
}

func (s *Synthesizer) sources(passages []rag.Passage) []rag.Source {
	out := make([]rag.Source, 0, len(passages))
	for _, p := range passages {
		out = append(out, rag.Source{
			DocumentID: p.DocumentID,
			Excerpt:    rag.Excerpt(p.Text, s.excerptChars),
		})
	}
	return out
}

func extractAnswer(c *providers.Completion) (string, error) {
	if c == nil {
		return "", services.WrapGenerationMalformed("generation backend returned no answer", errors.New("nil completion"))
	}
	text, ok := parseAnswer(c.Text)
	if !ok {
		return "", services.WrapGenerationMalformed("generation backend returned an empty answer",
			fmt.Errorf("blank content, finish_reason=%q", c.FinishReason))
	}
	return text, nil
}

// classifyProviderError maps provider failures onto the pipeline taxonomy.
// Rejections the backend will repeat on every call (bad model, bad
// parameters, auth) are internal; everything else is unavailability.
func classifyProviderError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.WrapGenerationUnavailable("generation backend timed out", err)
	}

	var be *providers.BackendError
	if errors.As(err, &be) && !be.Transient {
		return services.WrapInternal("generation request rejected", err)
	}
	return services.WrapGenerationUnavailable("generation backend unavailable", err)
}
