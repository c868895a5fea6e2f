// Package verify implements C14 Verification Gateway: seven independent
// gates applied to a retrieval result set before it is returned to a
// caller, adapted from the teacher's internal/verification result-checking
// pipeline shape (itself generalized here from task-quality checks to
// memory-result checks).
package verify

import (
	"context"
	"time"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/logging"
	"github.com/athena-core/memory/internal/retrieval"
	"github.com/athena-core/memory/internal/types"
)

// Severity distinguishes gates that drop offending candidates (soft) from
// gates that fail the whole request (hard).
type Severity string

const (
	SeveritySoft Severity = "soft"
	SeverityHard Severity = "hard"
)

// Violation records one gate's objection to one candidate (or the batch).
type Violation struct {
	Gate        string
	Severity    Severity
	CandidateID string
	Detail      string
}

// Report is the outcome of running the gateway over a candidate set.
type Report struct {
	Passed     []retrieval.Candidate
	Violations []Violation
}

// Gateway is C14 Verification Gateway.
type Gateway struct {
	cfg config.VerifyConfig
}

// New constructs a Gateway.
func New(cfg config.VerifyConfig) *Gateway { return &Gateway{cfg: cfg} }

// Verify runs every enabled gate in spec.md §4.C14 order. A hard violation
// aborts the request with an error; soft violations drop the offending
// candidate and continue.
func (g *Gateway) Verify(ctx context.Context, candidates []retrieval.Candidate) (*Report, error) {
	report := &Report{Passed: candidates}

	gates := map[string]func([]retrieval.Candidate) ([]retrieval.Candidate, []Violation, error){
		"cardinality":      g.gateCardinality,
		"dimension":        g.gateDimension,
		"confidence_floor": g.gateConfidenceFloor,
		"freshness":        g.gateFreshness,
		"grounding":        g.gateGrounding,
		"consistency":      g.gateConsistency,
		"quota":            g.gateQuota,
	}

	for _, name := range g.cfg.EnabledGates {
		gate, ok := gates[name]
		if !ok {
			continue
		}
		surviving, violations, err := gate(report.Passed)
		if err != nil {
			return report, err
		}
		report.Passed = surviving
		report.Violations = append(report.Violations, violations...)
	}

	logging.Get(logging.CategoryVerification).Info("verified %d candidates, %d violations",
		len(report.Passed), len(report.Violations))
	return report, nil
}

// gateCardinality rejects the whole batch (hard) if it exceeds max_batch_size.
func (g *Gateway) gateCardinality(cs []retrieval.Candidate) ([]retrieval.Candidate, []Violation, error) {
	if g.cfg.MaxBatchSize > 0 && len(cs) > g.cfg.MaxBatchSize {
		return nil, nil, erring.IntegrityViolation("verify.cardinality",
			"candidate batch exceeds max_batch_size")
	}
	return cs, nil, nil
}

// gateDimension (soft) drops semantic candidates whose embedding dimension
// disagrees with the first observed dimension in the set.
func (g *Gateway) gateDimension(cs []retrieval.Candidate) ([]retrieval.Candidate, []Violation, error) {
	var dim int
	var out []retrieval.Candidate
	var violations []Violation
	for _, c := range cs {
		if c.Memory == nil || len(c.Memory.Embedding) == 0 {
			out = append(out, c)
			continue
		}
		if dim == 0 {
			dim = len(c.Memory.Embedding)
		}
		if len(c.Memory.Embedding) != dim {
			violations = append(violations, Violation{Gate: "dimension", Severity: SeveritySoft, CandidateID: c.ID,
				Detail: "embedding dimension mismatch against batch"})
			continue
		}
		out = append(out, c)
	}
	return out, violations, nil
}

// gateConfidenceFloor (soft) drops semantic candidates below confidence_floor.
func (g *Gateway) gateConfidenceFloor(cs []retrieval.Candidate) ([]retrieval.Candidate, []Violation, error) {
	var out []retrieval.Candidate
	var violations []Violation
	for _, c := range cs {
		if c.Memory != nil && c.Memory.Confidence < g.cfg.ConfidenceFloor {
			violations = append(violations, Violation{Gate: "confidence_floor", Severity: SeveritySoft, CandidateID: c.ID,
				Detail: "confidence below floor"})
			continue
		}
		out = append(out, c)
	}
	return out, violations, nil
}

// gateFreshness (soft) drops semantic candidates whose last_accessed is
// older than freshness_ttl_s.
func (g *Gateway) gateFreshness(cs []retrieval.Candidate) ([]retrieval.Candidate, []Violation, error) {
	if g.cfg.FreshnessTTLS <= 0 {
		return cs, nil, nil
	}
	cutoff := time.Now().Add(-time.Duration(g.cfg.FreshnessTTLS) * time.Second)
	var out []retrieval.Candidate
	var violations []Violation
	for _, c := range cs {
		if c.Memory != nil && c.Memory.LastAccessed.Before(cutoff) {
			violations = append(violations, Violation{Gate: "freshness", Severity: SeveritySoft, CandidateID: c.ID,
				Detail: "last_accessed older than freshness_ttl_s"})
			continue
		}
		out = append(out, c)
	}
	return out, violations, nil
}

// gateGrounding (soft) drops consolidated semantic candidates that carry no
// provenance, per the same invariant the semantic store enforces on write.
// Unconsolidated memories (e.g. straight from a direct remember) are exempt:
// provenance is only required once a memory claims to be consolidated.
func (g *Gateway) gateGrounding(cs []retrieval.Candidate) ([]retrieval.Candidate, []Violation, error) {
	var out []retrieval.Candidate
	var violations []Violation
	for _, c := range cs {
		if c.Memory != nil && c.Kind == "semantic" && c.Memory.ConsolidationState == types.ConsolidationConsolidated &&
			len(c.Memory.Provenance) == 0 {
			violations = append(violations, Violation{Gate: "grounding", Severity: SeveritySoft, CandidateID: c.ID,
				Detail: "consolidated semantic result has no provenance"})
			continue
		}
		out = append(out, c)
	}
	return out, violations, nil
}

// gateConsistency (hard) rejects a set containing duplicate (kind, id)
// pairs — the planner's own merge/dedup should make this unreachable in
// practice, so a violation here indicates a planner defect.
func (g *Gateway) gateConsistency(cs []retrieval.Candidate) ([]retrieval.Candidate, []Violation, error) {
	seen := map[string]bool{}
	for _, c := range cs {
		key := c.Kind + ":" + c.ID
		if seen[key] {
			return nil, nil, erring.IntegrityViolation("verify.consistency", "duplicate (kind, id) in result set")
		}
		seen[key] = true
	}
	return cs, nil, nil
}

// gateQuota (soft, truncating) caps the result set at global_result_cap.
func (g *Gateway) gateQuota(cs []retrieval.Candidate) ([]retrieval.Candidate, []Violation, error) {
	if g.cfg.GlobalResultCap <= 0 || len(cs) <= g.cfg.GlobalResultCap {
		return cs, nil, nil
	}
	var violations []Violation
	for _, c := range cs[g.cfg.GlobalResultCap:] {
		violations = append(violations, Violation{Gate: "quota", Severity: SeveritySoft, CandidateID: c.ID,
			Detail: "truncated by global_result_cap"})
	}
	return cs[:g.cfg.GlobalResultCap], violations, nil
}
