// Package monitor records security events to an append-only JSONL log and
// raises alerts when an identity trips the same event type repeatedly.
package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/halcyonsec/aegis/internal/types"
)

const (
	// DefaultAlertThreshold is how many same-type events from one identity
	// within the alert window raise an alert.
	DefaultAlertThreshold = 5

	// alertWindow is the trailing period alert counting looks at.
	alertWindow = 5 * time.Minute

	// maxTrackedIdentities bounds the in-memory alert and summary state.
	maxTrackedIdentities = 10000

	maxLogFieldLength = 4096
)

// Event is one line of the security log.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventID   string            `json:"event_id"`
	EventType types.EventType   `json:"event_type"`
	UserID    string            `json:"user_id"`
	Severity  types.Severity    `json:"severity"`
	Details   map[string]string `json:"details,omitempty"`
}

// Summary aggregates an identity's recorded events.
type Summary struct {
	TotalEvents  int                     `json:"total_events"`
	ByType       map[types.EventType]int `json:"by_type"`
	HighSeverity int                     `json:"high_severity"`
}

// userStats holds the running counters behind a Summary.
type userStats struct {
	total        int
	byType       map[types.EventType]int
	highSeverity int
}

// Monitor writes security events as JSONL and tracks per-identity activity
// for alerting and summaries. Safe for concurrent use.
type Monitor struct {
	logPath string
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex

	alerter        zerolog.Logger
	alertThreshold int
	recent         *lru.Cache[string, []time.Time]
	stats          *lru.Cache[string, *userStats]

	now func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithAlertLogger overrides the logger alerts are written to.
func WithAlertLogger(l zerolog.Logger) Option {
	return func(m *Monitor) { m.alerter = l }
}

// New creates a Monitor appending to logPath. An empty logPath defaults to
// ~/.aegis/logs/security.log; parent directories are created as needed.
func New(logPath string, alertThreshold int, opts ...Option) (*Monitor, error) {
	if logPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		logPath = filepath.Join(homeDir, ".aegis", "logs", "security.log")
	}
	if alertThreshold < 1 {
		alertThreshold = DefaultAlertThreshold
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	recent, err := lru.New[string, []time.Time](maxTrackedIdentities)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("creating alert cache: %w", err)
	}
	stats, err := lru.New[string, *userStats](maxTrackedIdentities)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("creating stats cache: %w", err)
	}

	m := &Monitor{
		logPath:        logPath,
		file:           file,
		encoder:        json.NewEncoder(file),
		alerter:        zerolog.New(os.Stderr).With().Timestamp().Logger(),
		alertThreshold: alertThreshold,
		recent:         recent,
		stats:          stats,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// LogEvent writes one event line and updates alert and summary state.
// Detail values and the user ID are sanitized against log injection.
func (m *Monitor) LogEvent(eventType types.EventType, userID string, details map[string]string, severity types.Severity) error {
	cleanDetails := make(map[string]string, len(details))
	for k, v := range details {
		cleanDetails[sanitizeLogField(k)] = sanitizeLogField(v)
	}

	event := Event{
		Timestamp: m.now().UTC(),
		EventID:   uuid.NewString(),
		EventType: eventType,
		UserID:    sanitizeLogField(userID),
		Severity:  severity,
		Details:   cleanDetails,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.encoder.Encode(event); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}

	m.recordStats(event)
	m.checkAlerts(event)
	return nil
}

// UserSummary aggregates the identity's events seen so far.
func (m *Monitor) UserSummary(userID string) Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stats.Get(sanitizeLogField(userID))
	if !ok {
		return Summary{ByType: map[types.EventType]int{}}
	}

	byType := make(map[types.EventType]int, len(s.byType))
	for k, v := range s.byType {
		byType[k] = v
	}
	return Summary{
		TotalEvents:  s.total,
		ByType:       byType,
		HighSeverity: s.highSeverity,
	}
}

// Close flushes and closes the log file.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != nil {
		return m.file.Close()
	}
	return nil
}

// LogPath returns the path events are written to.
func (m *Monitor) LogPath() string {
	return m.logPath
}

// recordStats updates the per-identity counters. Caller holds m.mu.
func (m *Monitor) recordStats(event Event) {
	s, ok := m.stats.Get(event.UserID)
	if !ok {
		s = &userStats{byType: make(map[types.EventType]int)}
		m.stats.Add(event.UserID, s)
	}
	s.total++
	s.byType[event.EventType]++
	if event.Severity == types.SeverityHigh {
		s.highSeverity++
	}
}

// checkAlerts counts same-type events for the identity inside the trailing
// window and raises an alert once the threshold is reached. Caller holds
// m.mu.
func (m *Monitor) checkAlerts(event Event) {
	key := event.UserID + "\x00" + event.EventType.String()
	cutoff := event.Timestamp.Add(-alertWindow)

	timestamps, _ := m.recent.Get(key)
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, event.Timestamp)
	m.recent.Add(key, kept)

	if len(kept) >= m.alertThreshold {
		m.alerter.Warn().
			Str("user_id", event.UserID).
			Str("event_type", event.EventType.String()).
			Int("count", len(kept)).
			Msg("alert threshold reached")
	}
}

// ansiEscapePattern matches ANSI escape sequences.
var ansiEscapePattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// sanitizeLogField strips ANSI escapes and control characters, replaces
// newlines with spaces, and truncates to maxLogFieldLength to prevent log
// injection.
func sanitizeLogField(s string) string {
	s = ansiEscapePattern.ReplaceAllString(s, "")

	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)

	if len(s) > maxLogFieldLength {
		s = s[:maxLogFieldLength]
	}

	return s
}
