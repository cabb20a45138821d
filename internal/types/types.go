// Package types defines shared types for the aegis defense pipeline.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType identifies a security-relevant event recorded by the monitor
// and, for a subset of types, scored by the anomaly scorer.
type EventType string

const (
	EventBlockedInjection  EventType = "blocked_injection"
	EventBlockedPattern    EventType = "blocked_pattern"
	EventRateLimited       EventType = "rate_limited"
	EventRapidRequests     EventType = "rapid_requests"
	EventOutputFiltered    EventType = "output_filtered"
	EventSuccessfulRequest EventType = "successful_request"
	EventNormalRequest     EventType = "normal_request"
	EventLLMError          EventType = "llm_error"
)

func (e EventType) String() string {
	return string(e)
}

func (e EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(e))
}

func (e *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*e = EventType(s)
	return nil
}

// validEventTypes maps lowercase event strings to their EventType constants.
var validEventTypes = map[string]EventType{
	"blocked_injection":  EventBlockedInjection,
	"blocked_pattern":    EventBlockedPattern,
	"rate_limited":       EventRateLimited,
	"rapid_requests":     EventRapidRequests,
	"output_filtered":    EventOutputFiltered,
	"successful_request": EventSuccessfulRequest,
	"normal_request":     EventNormalRequest,
	"llm_error":          EventLLMError,
}

// ParseEventType parses a string into an EventType.
// Case-insensitive. Returns an error for unknown values.
func ParseEventType(s string) (EventType, error) {
	if e, ok := validEventTypes[strings.ToLower(s)]; ok {
		return e, nil
	}
	return "", fmt.Errorf("invalid event type: %q", s)
}

// Severity indicates how serious a security event is.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityHigh    Severity = "high"
	SeverityError   Severity = "error"
)

func (s Severity) String() string {
	return string(s)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Severity(str)
	return nil
}

// validSeverities maps lowercase severity strings to their Severity constants.
var validSeverities = map[string]Severity{
	"info":    SeverityInfo,
	"warning": SeverityWarning,
	"high":    SeverityHigh,
	"error":   SeverityError,
}

// ParseSeverity parses a string into a Severity.
// Case-insensitive. Returns an error for unknown values.
func ParseSeverity(s string) (Severity, error) {
	if sev, ok := validSeverities[strings.ToLower(s)]; ok {
		return sev, nil
	}
	return "", fmt.Errorf("invalid severity: %q", s)
}

// AttackCategory classifies the injection technique a content-filter rule
// set targets.
type AttackCategory string

const (
	CategoryInstructionOverride AttackCategory = "instruction_override"
	CategoryPersonaManipulation AttackCategory = "persona_manipulation"
	CategoryDelimiterAbuse      AttackCategory = "delimiter_abuse"
	CategoryDataExtraction      AttackCategory = "data_extraction"
	CategoryAuthorityClaims     AttackCategory = "authority_claims"
	CategoryEncodingBypass      AttackCategory = "encoding_bypass"
)

func (c AttackCategory) String() string {
	return string(c)
}

func (c AttackCategory) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(c))
}

func (c *AttackCategory) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = AttackCategory(s)
	return nil
}

// Description returns a human-readable description of the attack category.
func (c AttackCategory) Description() string {
	descriptions := map[AttackCategory]string{
		CategoryInstructionOverride: "Instruction override",
		CategoryPersonaManipulation: "Persona manipulation",
		CategoryDelimiterAbuse:      "Delimiter abuse",
		CategoryDataExtraction:      "Data extraction",
		CategoryAuthorityClaims:     "Authority claims",
		CategoryEncodingBypass:      "Encoding bypass",
	}
	if desc, ok := descriptions[c]; ok {
		return desc
	}
	return fmt.Sprintf("Unknown category: %s", c)
}

// validAttackCategories maps lowercase category strings to their constants.
var validAttackCategories = map[string]AttackCategory{
	"instruction_override": CategoryInstructionOverride,
	"persona_manipulation": CategoryPersonaManipulation,
	"delimiter_abuse":      CategoryDelimiterAbuse,
	"data_extraction":      CategoryDataExtraction,
	"authority_claims":     CategoryAuthorityClaims,
	"encoding_bypass":      CategoryEncodingBypass,
}

// ParseAttackCategory parses a string into an AttackCategory.
// Case-insensitive. Returns an error for unknown values.
func ParseAttackCategory(s string) (AttackCategory, error) {
	if c, ok := validAttackCategories[strings.ToLower(s)]; ok {
		return c, nil
	}
	return "", fmt.Errorf("invalid attack category: %q", s)
}

// BlockSource names the pipeline layer that terminated a request.
type BlockSource string

const (
	BlockedByRateLimiter   BlockSource = "rate_limiter"
	BlockedByAnomaly       BlockSource = "anomaly_detection"
	BlockedByContentFilter BlockSource = "content_filter"
	BlockedByLLMError      BlockSource = "llm_error"
)

func (b BlockSource) String() string {
	return string(b)
}

// RateInfo reports token-bucket state back to the caller.
type RateInfo struct {
	TokensRemaining int     `json:"tokens_remaining"`
	ResetInSeconds  float64 `json:"reset_in_seconds"`
}

// Outcome is the envelope returned for every processed request. Exactly one
// of Success or BlockedBy is meaningful: a blocked request has Success false
// and a non-empty BlockedBy; a successful one has Success true and an empty
// BlockedBy.
type Outcome struct {
	Success   bool        `json:"success"`
	Response  string      `json:"response"`
	BlockedBy BlockSource `json:"blocked_by,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	RateInfo  *RateInfo   `json:"rate_info,omitempty"`
}
