package slogging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
)

// RedactionAction defines how a sensitive attribute is rendered
type RedactionAction string

const (
	// RedactionOmit drops the attribute
	RedactionOmit RedactionAction = "omit"
	// RedactionObfuscate replaces the value with [REDACTED]
	RedactionObfuscate RedactionAction = "obfuscate"
	// RedactionPartial keeps a short prefix and suffix
	RedactionPartial RedactionAction = "partial"
)

// RedactionRule matches attribute keys by regular expression
type RedactionRule struct {
	FieldPattern string          `yaml:"field_pattern" json:"field_pattern"`
	Action       RedactionAction `yaml:"action" json:"action"`
	// LogLevels limits the rule to these levels; empty means all
	LogLevels []string `yaml:"log_levels,omitempty" json:"log_levels,omitempty"`

	compiled *regexp.Regexp
}

// RedactionConfig holds all redaction rules
type RedactionConfig struct {
	Enabled bool            `yaml:"enabled" json:"enabled"`
	Rules   []RedactionRule `yaml:"rules" json:"rules"`
}

// DefaultRedactionConfig redacts credentials that can appear in upgrade requests
func DefaultRedactionConfig() RedactionConfig {
	return RedactionConfig{
		Enabled: true,
		Rules: []RedactionRule{
			{FieldPattern: `(?i)^(authorization|bearer|token|jwt|access_token)$`, Action: RedactionPartial},
			{FieldPattern: `(?i)(password|secret|api_key|private_key|signing_key)`, Action: RedactionOmit},
			{FieldPattern: `(?i)^(cookie|set-cookie)$`, Action: RedactionObfuscate},
		},
	}
}

// CompileRules compiles every rule pattern
func (rc *RedactionConfig) CompileRules() error {
	for i := range rc.Rules {
		pattern, err := regexp.Compile(rc.Rules[i].FieldPattern)
		if err != nil {
			return fmt.Errorf("failed to compile redaction pattern '%s': %w", rc.Rules[i].FieldPattern, err)
		}
		rc.Rules[i].compiled = pattern
	}
	return nil
}

func (rule *RedactionRule) appliesTo(key string, level slog.Level) bool {
	if rule.compiled == nil || !rule.compiled.MatchString(key) {
		return false
	}
	if len(rule.LogLevels) == 0 {
		return true
	}
	return slices.ContainsFunc(rule.LogLevels, func(l string) bool {
		return strings.EqualFold(l, level.String())
	})
}

func partialRedactValue(value string) string {
	if value == "" {
		return value
	}
	if len(value) <= 12 {
		return "[REDACTED]"
	}
	if strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return value[:7] + partialRedactValue(value[7:])
	}
	if parts := strings.Split(value, "."); len(parts) == 3 && strings.HasPrefix(value, "eyJ") {
		header, signature := parts[0], parts[2]
		if len(header) > 8 {
			header = header[:8] + "..."
		}
		if len(signature) > 4 {
			signature = "..." + signature[len(signature)-4:]
		}
		return header + ".REDACTED." + signature
	}
	head, tail := 6, 4
	if len(value) < head+tail+10 {
		head, tail = 3, 2
	}
	return value[:head] + "...REDACTED..." + value[len(value)-tail:]
}

type redactionHandler struct {
	handler slog.Handler
	config  RedactionConfig
}

// NewRedactionHandler wraps handler so matching attributes are redacted before output
func NewRedactionHandler(handler slog.Handler, config RedactionConfig) (slog.Handler, error) {
	if err := config.CompileRules(); err != nil {
		return nil, err
	}
	return &redactionHandler{handler: handler, config: config}, nil
}

func (h *redactionHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *redactionHandler) Handle(ctx context.Context, record slog.Record) error {
	if !h.config.Enabled {
		return h.handler.Handle(ctx, record)
	}
	out := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		if redacted, keep := h.redact(attr, record.Level); keep {
			out.AddAttrs(redacted)
		}
		return true
	})
	return h.handler.Handle(ctx, out)
}

func (h *redactionHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	kept := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		if redacted, keep := h.redact(attr, slog.LevelInfo); keep {
			kept = append(kept, redacted)
		}
	}
	return &redactionHandler{handler: h.handler.WithAttrs(kept), config: h.config}
}

func (h *redactionHandler) WithGroup(name string) slog.Handler {
	return &redactionHandler{handler: h.handler.WithGroup(name), config: h.config}
}

func (h *redactionHandler) redact(attr slog.Attr, level slog.Level) (slog.Attr, bool) {
	if !h.config.Enabled {
		return attr, true
	}
	for i := range h.config.Rules {
		rule := &h.config.Rules[i]
		if !rule.appliesTo(attr.Key, level) {
			continue
		}
		switch rule.Action {
		case RedactionOmit:
			return slog.Attr{}, false
		case RedactionObfuscate:
			return slog.String(attr.Key, "[REDACTED]"), true
		case RedactionPartial:
			return slog.String(attr.Key, partialRedactValue(attr.Value.String())), true
		}
	}
	return attr, true
}

// SanitizeLogMessage flattens control whitespace so one call produces one log line (CWE-117)
func SanitizeLogMessage(message string) string {
	return strings.Join(strings.Fields(message), " ")
}

// RedactToken renders a credential safe for logging
func RedactToken(token string) string {
	return partialRedactValue(token)
}
