// Package chat answers user questions: it enforces the guest quota, consults the
// semantic cache, falls back to the language model and records the conversation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/blueberrycongee/fincopilot/internal/cache/semantic"
	"github.com/blueberrycongee/fincopilot/internal/cache/semantic/embedding"
	"github.com/blueberrycongee/fincopilot/internal/guest"
	"github.com/blueberrycongee/fincopilot/internal/history"
	"github.com/blueberrycongee/fincopilot/internal/llm"
	"github.com/blueberrycongee/fincopilot/internal/metrics"
)

// TracerName names the spans emitted by the chat flow.
const TracerName = "fincopilot/chat"

// Answer sources.
const (
	SourceCache = "cache"
	SourceLLM   = "llm"
)

var (
	// ErrInvalidRequest is returned for a missing session id, empty message or malformed user id.
	ErrInvalidRequest = errors.New("invalid chat request")
	// ErrLimitReached is returned when a guest session has used its quota.
	ErrLimitReached = guest.ErrLimitReached
	// ErrCompletionFailed wraps language model failures.
	ErrCompletionFailed = errors.New("completion failed")

	ErrSessionRequired = errors.New("session id is required")
	ErrMessageRequired = errors.New("message is required")
	ErrUserRequired    = errors.New("user id is required")
)

// Request is one user question.
type Request struct {
	Message   string
	SessionID string
	UserID    string
}

// Response is the answer and where it came from.
type Response struct {
	Answer     string
	Source     string
	Cached     bool
	CacheID    int64
	Similarity float64
}

// Settings are read on every request so they can change at runtime.
type Settings struct {
	CacheEnabled bool
	Threshold    float64
}

// SettingsFunc returns the current settings.
type SettingsFunc func() Settings

// Service is the chat orchestrator.
type Service struct {
	completer     llm.Completer
	history       history.Store
	cache         *semantic.Cache
	embedder      embedding.Embedder
	limiter       *guest.Limiter
	settings      SettingsFunc
	logger        *slog.Logger
	tracer        trace.Tracer
	historyWindow int
	group         *singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables semantic caching. Both arguments are required for caching to apply.
func WithCache(cache *semantic.Cache, embedder embedding.Embedder) Option {
	return func(s *Service) {
		s.cache = cache
		s.embedder = embedder
	}
}

// WithLimiter enforces the guest quota.
func WithLimiter(l *guest.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithSettings supplies runtime settings.
func WithSettings(fn SettingsFunc) Option {
	return func(s *Service) {
		if fn != nil {
			s.settings = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithHistoryWindow sets how many past messages reach the model.
func WithHistoryWindow(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyWindow = n
		}
	}
}

// WithSingleFlight makes concurrent cache misses for the same normalized
// question share one model call and one cache entry.
func WithSingleFlight(enabled bool) Option {
	return func(s *Service) {
		if enabled {
			s.group = &singleflight.Group{}
		} else {
			s.group = nil
		}
	}
}

// New creates the orchestrator.
func New(completer llm.Completer, store history.Store, opts ...Option) (*Service, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if store == nil {
		return nil, fmt.Errorf("history store is required")
	}
	s := &Service{
		completer:     completer,
		history:       store,
		logger:        slog.Default(),
		tracer:        otel.Tracer(TracerName),
		historyWindow: history.DefaultWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.settings == nil {
		s.settings = s.defaultSettings
	}
	return s, nil
}

func (s *Service) defaultSettings() Settings {
	if s.cache == nil {
		return Settings{}
	}
	return Settings{CacheEnabled: true, Threshold: s.cache.Threshold()}
}

// LimitMessage is the text shown to a guest who reached the quota.
func (s *Service) LimitMessage() string {
	if s.limiter == nil {
		return ""
	}
	return s.limiter.Message()
}

// Handle answers one question.
func (s *Service) Handle(ctx context.Context, req Request) (resp Response, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.handle", trace.WithAttributes(
		attribute.String("chat.session_id", req.SessionID),
		attribute.Bool("chat.guest", req.UserID == ""),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("chat.source", resp.Source))
		}
		span.End()
	}()

	if err := validate(req); err != nil {
		return Response{}, err
	}

	if s.limiter != nil {
		if err := s.limiter.Check(ctx, req.SessionID, req.UserID); err != nil {
			metrics.GuestLimitRejections.Inc()
			return Response{}, err
		}
	}

	settings := s.settings()
	var emb []float32
	if settings.CacheEnabled && s.cache != nil && s.embedder != nil {
		emb = s.embed(ctx, req.Message)
		if emb != nil {
			if hit, ok := s.lookup(ctx, emb, settings.Threshold); ok {
				resp = hit
			}
		}
	}

	if resp.Source == "" {
		resp, err = s.generate(ctx, req, emb)
		metrics.RecordChatRequest(SourceLLM, err)
		if err != nil {
			return Response{}, err
		}
	} else {
		metrics.RecordChatRequest(SourceCache, nil)
	}

	s.appendHistory(ctx, req, resp.Answer)
	if s.limiter != nil {
		s.limiter.Record(ctx, req.SessionID, req.UserID)
	}
	return resp, nil
}

func validate(req Request) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, ErrSessionRequired)
	}
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, ErrMessageRequired)
	}
	if err := history.ValidateUserID(req.UserID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// embed returns nil when the embedding is unavailable; the request then
// proceeds as a miss and nothing is stored.
func (s *Service) embed(ctx context.Context, text string) []float32 {
	ctx, span := s.tracer.Start(ctx, "chat.embed")
	defer span.End()

	start := time.Now()
	emb, err := s.embedder.Embed(ctx, text)
	metrics.ObserveEmbedding(err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("embedding unavailable, skipping semantic cache",
			"error", fmt.Errorf("%w: %w", semantic.ErrEmbeddingUnavailable, err))
		return nil
	}
	return emb
}

func (s *Service) lookup(ctx context.Context, emb []float32, threshold float64) (Response, bool) {
	ctx, span := s.tracer.Start(ctx, "chat.cache_lookup")
	defer span.End()

	res := s.cache.Lookup(ctx, emb, threshold)
	span.SetAttributes(
		attribute.String("cache.outcome", res.Outcome.String()),
		attribute.Float64("cache.similarity", res.Similarity),
	)
	if !res.IsHit() {
		return Response{}, false
	}

	s.cache.RecordHit(ctx, res.Entry.ID)
	return Response{
		Answer:     res.Entry.Answer,
		Source:     SourceCache,
		Cached:     true,
		CacheID:    res.Entry.ID,
		Similarity: res.Similarity,
	}, true
}

// sharedCallTimeout bounds a coalesced model call, which outlives the caller
// that started it.
const sharedCallTimeout = 2 * time.Minute

func (s *Service) generate(ctx context.Context, req Request, emb []float32) (Response, error) {
	if s.group == nil {
		return s.complete(ctx, req, emb)
	}
	ch := s.group.DoChan(semantic.NormalizeQuestion(req.Message), func() (any, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()
		return s.complete(sharedCtx, req, emb)
	})
	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("%w: %w", ErrCompletionFailed, ctx.Err())
	case r := <-ch:
		if r.Shared {
			s.logger.Debug("coalesced concurrent miss", "session_id", req.SessionID)
		}
		if r.Err != nil {
			return Response{}, r.Err
		}
		return r.Val.(Response), nil
	}
}

func (s *Service) complete(ctx context.Context, req Request, emb []float32) (Response, error) {
	past, err := s.history.Recent(ctx, req.SessionID, req.UserID, s.historyWindow)
	if err != nil {
		s.logger.Warn("failed to load chat history", "session_id", req.SessionID, "error", err)
		past = nil
	}

	llmCtx, span := s.tracer.Start(ctx, "chat.llm", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("chat.history_messages", len(past))))
	start := time.Now()
	answer, err := s.completer.Complete(llmCtx, past, req.Message)
	metrics.ObserveLLM(err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}

	if emb != nil {
		s.store(ctx, req.Message, answer, emb)
	}
	return Response{Answer: answer, Source: SourceLLM}, nil
}

func (s *Service) store(ctx context.Context, question, answer string, emb []float32) {
	ctx, span := s.tracer.Start(ctx, "chat.cache_store")
	defer span.End()

	id, err := s.cache.Store(ctx, question, answer, emb)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("failed to cache response", "error", err)
		return
	}
	s.logger.Debug("cached response", "id", id)
}

func (s *Service) appendHistory(ctx context.Context, req Request, answer string) {
	for _, m := range []history.Message{
		{SessionID: req.SessionID, UserID: req.UserID, Type: history.TypeHuman, Content: req.Message},
		{SessionID: req.SessionID, UserID: req.UserID, Type: history.TypeAI, Content: answer},
	} {
		if err := s.history.Add(ctx, m); err != nil {
			s.logger.Warn("failed to save chat message", "session_id", req.SessionID, "type", m.Type, "error", err)
		}
	}
}

// History returns the recent window for display.
func (s *Service) History(ctx context.Context, sessionID, userID string) ([]history.Message, error) {
	if err := history.ValidateUserID(userID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return s.history.Recent(ctx, sessionID, userID, s.historyWindow)
}

// Link assigns a guest session's messages to a signed-in user.
func (s *Service) Link(ctx context.Context, sessionID, userID string) (int64, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRequest, ErrSessionRequired)
	}
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRequest, ErrUserRequired)
	}
	if err := history.ValidateUserID(userID); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return s.history.Link(ctx, sessionID, userID)
}

// CacheStats returns the semantic cache aggregate, or zeros when caching is off.
func (s *Service) CacheStats(ctx context.Context) (semantic.Stats, error) {
	if s.cache == nil {
		return semantic.Stats{}, nil
	}
	return s.cache.Stats(ctx)
}

// Ready pings the stores the chat flow depends on.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.history.Ping(ctx); err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			return fmt.Errorf("vector store: %w", err)
		}
	}
	return nil
}
