// Package redteam replays a library of labelled attack payloads through the
// defense pipeline and reports which layer caught each one.
package redteam

import (
	"context"
	"strings"

	"github.com/halcyonsec/aegis/internal/agent"
	"github.com/halcyonsec/aegis/internal/types"
)

// VectorResult records how the pipeline handled one vector.
type VectorResult struct {
	Vector    Vector            `json:"vector"`
	Blocked   bool              `json:"blocked"`
	BlockedBy types.BlockSource `json:"blocked_by,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// CategoryStats aggregates results per attack category.
type CategoryStats struct {
	Total   int `json:"total"`
	Blocked int `json:"blocked"`
}

// Report is the outcome of a full assessment run.
type Report struct {
	Results    []VectorResult                         `json:"results"`
	Total      int                                    `json:"total"`
	Blocked    int                                    `json:"blocked"`
	ByCategory map[types.AttackCategory]CategoryStats `json:"by_category"`
}

// BlockedRatio is the fraction of vectors stopped before the model.
func (r *Report) BlockedRatio() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Blocked) / float64(r.Total)
}

// OverallRisk grades the run by the most severe vector that got through.
func (r *Report) OverallRisk() Risk {
	risk := RiskLow
	for _, res := range r.Results {
		if res.Blocked {
			continue
		}
		switch res.Vector.Severity {
		case RiskHigh:
			return RiskHigh
		case RiskMedium:
			risk = RiskMedium
		}
	}
	return risk
}

// Engine runs assessments against a pipeline.
type Engine struct {
	agent   *agent.Agent
	vectors []Vector
}

// NewEngine creates an Engine over the built-in vector library.
func NewEngine(a *agent.Agent) *Engine {
	return &Engine{agent: a, vectors: Vectors}
}

// NewEngineWithVectors creates an Engine over a custom vector set.
func NewEngineWithVectors(a *agent.Agent, vectors []Vector) *Engine {
	return &Engine{agent: a, vectors: vectors}
}

// Run feeds every vector through the pipeline under a fresh identity per
// vector, so rate limiting and accumulated suspicion from one payload never
// skew the next.
func (e *Engine) Run(ctx context.Context) *Report {
	report := &Report{
		Total:      len(e.vectors),
		ByCategory: make(map[types.AttackCategory]CategoryStats),
	}

	for _, v := range e.vectors {
		identity := "redteam-" + strings.ToLower(v.ID)
		outcome := e.agent.ProcessRequest(ctx, identity, v.Payload)

		result := VectorResult{
			Vector:    v,
			Blocked:   outcome.BlockedBy != "",
			BlockedBy: outcome.BlockedBy,
			Warnings:  outcome.Warnings,
		}
		report.Results = append(report.Results, result)

		stats := report.ByCategory[v.Category]
		stats.Total++
		if result.Blocked {
			stats.Blocked++
			report.Blocked++
		}
		report.ByCategory[v.Category] = stats
	}

	return report
}
