// Package observer implements C15 Observer & Metrics: a ring-buffered
// decision log with trend classification, anomaly detection, and a
// weighted health score, adapted from the teacher's internal/transparency
// decision-logging pattern.
package observer

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/types"
)

// Trend classifies the recent direction of decision confidence.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// Health summarizes the observer's current assessment.
type Health struct {
	Score        float64
	Trend        Trend
	AnomalyCount int
	SampleSize   int
}

// Observer is C15 Observer & Metrics.
type Observer struct {
	pool *dbpool.Pool

	mu         sync.Mutex
	ring       []types.DecisionRecord
	ringCap    int
	anomalies  int
}

// New constructs an Observer with a ring buffer of the given capacity.
func New(pool *dbpool.Pool, ringCapacity int) *Observer {
	if ringCapacity <= 0 {
		ringCapacity = 1000
	}
	return &Observer{pool: pool, ringCap: ringCapacity}
}

// RecordDecision persists a DecisionRecord and appends it to the in-memory
// ring buffer, evicting the oldest entry once at capacity. Returns true if
// the record's confidence was flagged as an anomaly (outside mean ± 2σ of
// the current window).
func (o *Observer) RecordDecision(ctx context.Context, rec *types.DecisionRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	gatesJSON, _ := json.Marshal(rec.GatesRun)
	violationsJSON, _ := json.Marshal(rec.Violations)
	_, err := o.pool.Exec(ctx, `INSERT INTO decision_records
		(id, operation, timestamp, gates_run, violations, confidence, outcome, correct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Operation, rec.Timestamp, string(gatesJSON), string(violationsJSON), rec.Confidence,
		rec.Outcome, nullableBool(rec.Correct))
	if err != nil {
		return false, erring.BackendUnavailable("observer.RecordDecision", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	isAnomaly := o.isAnomalyLocked(rec.Confidence)
	o.ring = append(o.ring, *rec)
	if len(o.ring) > o.ringCap {
		o.ring = o.ring[1:]
	}
	if isAnomaly {
		o.anomalies++
	}
	return isAnomaly, nil
}

// RecordOutcome closes the feedback loop: once the real-world outcome of a
// decision is known, it is written back for later accuracy analysis.
func (o *Observer) RecordOutcome(ctx context.Context, id, outcome string, correct bool) error {
	_, err := o.pool.Exec(ctx, `UPDATE decision_records SET outcome = ?, correct = ? WHERE id = ?`, outcome, correct, id)
	if err != nil {
		return erring.BackendUnavailable("observer.RecordOutcome", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.ring {
		if o.ring[i].ID == id {
			o.ring[i].Outcome = &outcome
			o.ring[i].Correct = &correct
		}
	}
	return nil
}

// isAnomalyLocked reports whether confidence falls outside mean ± 2σ of the
// current ring buffer. Must be called with o.mu held.
func (o *Observer) isAnomalyLocked(confidence float64) bool {
	if len(o.ring) < 5 {
		return false
	}
	mean, stddev := meanStddev(o.ring)
	if stddev == 0 {
		return confidence != mean
	}
	return math.Abs(confidence-mean) > 2*stddev
}

func meanStddev(records []types.DecisionRecord) (float64, float64) {
	var sum float64
	for _, r := range records {
		sum += r.Confidence
	}
	mean := sum / float64(len(records))

	var variance float64
	for _, r := range records {
		d := r.Confidence - mean
		variance += d * d
	}
	variance /= float64(len(records))
	return mean, math.Sqrt(variance)
}

// Trend classifies the confidence series' direction via the sign and
// magnitude of an ordinary-least-squares slope over the ring buffer.
func (o *Observer) Trend() Trend {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.trendLocked()
}

// olsSlope fits confidence against sample index via ordinary least squares.
func olsSlope(records []types.DecisionRecord) float64 {
	n := float64(len(records))
	var sumX, sumY, sumXY, sumXX float64
	for i, r := range records {
		x := float64(i)
		y := r.Confidence
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// Health computes the current weighted health score: mean confidence
// scaled down by the anomaly rate over the ring buffer.
func (o *Observer) Health() Health {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.ring) == 0 {
		return Health{Score: 1.0, Trend: TrendStable}
	}
	mean, _ := meanStddev(o.ring)
	anomalyRate := float64(o.anomalies) / float64(len(o.ring))
	score := mean * (1 - anomalyRate)
	if score < 0 {
		score = 0
	}

	return Health{
		Score:        score,
		Trend:        o.trendLocked(),
		AnomalyCount: o.anomalies,
		SampleSize:   len(o.ring),
	}
}

func (o *Observer) trendLocked() Trend {
	if len(o.ring) < 3 {
		return TrendStable
	}
	slope := olsSlope(o.ring)
	switch {
	case slope > 0.01:
		return TrendImproving
	case slope < -0.01:
		return TrendDegrading
	default:
		return TrendStable
	}
}

func nullableBool(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return *b
}
