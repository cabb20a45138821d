// Package agent composes the defense layers into one pipeline. Cheap local
// checks run before the model call; any layer can terminate the request
// with a safe, generic refusal.
package agent

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonsec/aegis/internal/anomaly"
	"github.com/halcyonsec/aegis/internal/config"
	"github.com/halcyonsec/aegis/internal/filter"
	"github.com/halcyonsec/aegis/internal/gateway"
	"github.com/halcyonsec/aegis/internal/monitor"
	"github.com/halcyonsec/aegis/internal/ratelimit"
	"github.com/halcyonsec/aegis/internal/redact"
	"github.com/halcyonsec/aegis/internal/sanitize"
	"github.com/halcyonsec/aegis/internal/types"
)

// User-facing refusal messages. Deliberately generic: they never reveal
// which pattern matched or why, to avoid coaching attackers.
const (
	msgRateLimited = "Rate limit exceeded. Please wait before trying again."
	msgRestricted  = "Your account has been temporarily restricted due to suspicious activity."
	msgBlocked     = "I'm sorry, but I can't process that request. Please rephrase your question."
	msgUnavailable = "I'm experiencing technical difficulties. Please try again later."
)

// Agent processes requests through the full defense pipeline. Safe for
// concurrent use; per-identity state lives in the layers.
type Agent struct {
	sanitizer *sanitize.Sanitizer
	filter    *filter.Filter
	limiter   *ratelimit.Limiter
	scorer    *anomaly.Scorer
	redactor  *redact.Redactor
	completer gateway.Completer
	monitor   *monitor.Monitor

	systemPrompt   string
	gatewayTimeout time.Duration
	log            zerolog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger overrides the operational logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Agent) { a.log = l }
}

// New builds an Agent from validated configuration. Construction fails on
// any misconfigured layer; the agent refuses to start rather than run with
// partial defenses.
func New(cfg *config.Config, completer gateway.Completer, mon *monitor.Monitor, opts ...Option) (*Agent, error) {
	contentFilter, err := filter.New()
	if err != nil {
		return nil, err
	}
	limiter, err := ratelimit.New(cfg.RateLimit.Rate, cfg.RateLimit.Capacity, cfg.RateLimit.MaxIdentities)
	if err != nil {
		return nil, err
	}
	scorer, err := anomaly.New(cfg.Anomaly.BlockThreshold, cfg.Anomaly.HighThreshold,
		cfg.Anomaly.MediumThreshold, cfg.Anomaly.MaxIdentities)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		sanitizer:      sanitize.New(cfg.MaxInputLength),
		filter:         contentFilter,
		limiter:        limiter,
		scorer:         scorer,
		redactor:       redact.New(cfg.SystemPrompt),
		completer:      completer,
		monitor:        mon,
		systemPrompt:   cfg.SystemPrompt,
		gatewayTimeout: time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second,
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// ProcessRequest runs one request through the pipeline and always returns a
// structured outcome; it never returns an error. Exactly one layer decides
// the result: the first to block, or the final success.
func (a *Agent) ProcessRequest(ctx context.Context, identity, rawInput string) *types.Outcome {
	// Layer 1: rate limiting.
	allowed, rateInfo := a.limiter.Allow(identity)
	if !allowed {
		a.logEvent(types.EventRateLimited, identity,
			map[string]string{"input_preview": preview(rawInput, 50)},
			types.SeverityWarning)
		a.scorer.RecordEvent(identity, types.EventRapidRequests)
		return &types.Outcome{
			Success:   false,
			Response:  msgRateLimited,
			BlockedBy: types.BlockedByRateLimiter,
			RateInfo:  &rateInfo,
		}
	}

	// Layer 2: anomaly-based blocking from accumulated history.
	if a.scorer.ShouldBlock(identity) {
		return &types.Outcome{
			Success:   false,
			Response:  msgRestricted,
			BlockedBy: types.BlockedByAnomaly,
		}
	}

	// Layer 3: input sanitization. Total, always continues.
	sanitized := a.sanitizer.Sanitize(rawInput)

	// Layer 4: content filtering.
	result := a.filter.Filter(sanitized)
	if !result.Passed {
		categories := make([]string, 0, len(result.MatchedCategories))
		for _, c := range result.MatchedCategories {
			categories = append(categories, c.String())
		}
		a.logEvent(types.EventBlockedInjection, identity,
			map[string]string{
				"input_preview": preview(sanitized, 100),
				"patterns":      strings.Join(categories, ", "),
			},
			types.SeverityHigh)
		a.scorer.RecordEvent(identity, types.EventBlockedInjection)
		return &types.Outcome{
			Success:   false,
			Response:  msgBlocked,
			BlockedBy: types.BlockedByContentFilter,
		}
	}

	// Layer 5: the model call, the pipeline's only blocking operation and
	// the only one with a timeout.
	callCtx, cancel := context.WithTimeout(ctx, a.gatewayTimeout)
	defer cancel()

	response, err := a.completer.Complete(callCtx, a.systemPrompt, sanitized)
	if err != nil {
		a.logEvent(types.EventLLMError, identity,
			map[string]string{"error": err.Error()},
			types.SeverityError)
		return &types.Outcome{
			Success:   false,
			Response:  msgUnavailable,
			BlockedBy: types.BlockedByLLMError,
		}
	}

	// Layer 6: output filtering.
	filtered, warnings := a.redactor.Filter(response)
	if len(warnings) > 0 {
		a.logEvent(types.EventOutputFiltered, identity,
			map[string]string{
				"warnings":         strings.Join(warnings, "; "),
				"response_preview": preview(response, 100),
			},
			types.SeverityWarning)
	}

	a.logEvent(types.EventSuccessfulRequest, identity,
		map[string]string{
			"input_length":  strconv.Itoa(len(sanitized)),
			"output_length": strconv.Itoa(len(filtered)),
		},
		types.SeverityInfo)
	a.scorer.RecordEvent(identity, types.EventNormalRequest)

	return &types.Outcome{
		Success:  true,
		Response: filtered,
		Warnings: warnings,
	}
}

// SuspicionLevel reports the identity's current anomaly level.
func (a *Agent) SuspicionLevel(identity string) anomaly.Level {
	return a.scorer.SuspicionLevel(identity)
}

// UserSummary reports the identity's recorded security events.
func (a *Agent) UserSummary(identity string) monitor.Summary {
	return a.monitor.UserSummary(identity)
}

// logEvent writes a security event. A failing log sink never fails the
// request; it is reported operationally instead.
func (a *Agent) logEvent(eventType types.EventType, identity string, details map[string]string, severity types.Severity) {
	if err := a.monitor.LogEvent(eventType, identity, details, severity); err != nil {
		a.log.Error().Err(err).
			Str("event_type", eventType.String()).
			Msg("writing security event")
	}
}

// preview returns the first n runes of s.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
