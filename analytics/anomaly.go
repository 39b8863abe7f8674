package analytics

import (
	"math"
	"sync"
)

// AnomalyResult reports whether a new observation deviates from the
// rolling mean by more than threshold standard deviations.
type AnomalyResult struct {
	IsAnomaly bool
	ZScore    float64
	Value     float64
	Mean      float64
	StdDev    float64
	Direction string // "spike" or "drop"
}

// AnomalyDetector flags traffic spikes or drops per link via a rolling
// Z-score, the same technique the gateway used for spend anomalies.
type AnomalyDetector struct {
	mu         sync.Mutex
	windowSize int
	threshold  float64
	history    map[int64][]float64
}

// NewAnomalyDetector builds a detector over the last windowSize samples
// (default 24, i.e. one day of hourly rollups), flagging deviations past
// threshold standard deviations (default 2.0).
func NewAnomalyDetector(windowSize int, threshold float64) *AnomalyDetector {
	if windowSize <= 0 {
		windowSize = 24
	}
	if threshold <= 0 {
		threshold = 2.0
	}
	return &AnomalyDetector{windowSize: windowSize, threshold: threshold, history: make(map[int64][]float64)}
}

// Check records value for linkID and reports whether it is anomalous
// relative to the rolling window observed so far (the new value itself
// excluded from the mean/stddev computation). A window whose earlier values
// are all equal has zero spread and is never reported as anomalous.
func (d *AnomalyDetector) Check(linkID int64, value float64) AnomalyResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := append(d.history[linkID], value)
	if len(h) > d.windowSize {
		h = h[len(h)-d.windowSize:]
	}
	d.history[linkID] = h

	if len(h) < 5 {
		return AnomalyResult{Value: value}
	}

	n := float64(len(h) - 1)
	var sum float64
	for _, v := range h[:len(h)-1] {
		sum += v
	}
	mean := sum / n

	var variance float64
	for _, v := range h[:len(h)-1] {
		diff := v - mean
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / n)
	if stdDev == 0 {
		return AnomalyResult{Value: value, Mean: mean}
	}

	zScore := (value - mean) / stdDev
	direction := "spike"
	if zScore < 0 {
		direction = "drop"
	}

	return AnomalyResult{
		IsAnomaly: math.Abs(zScore) > d.threshold,
		ZScore:    zScore,
		Value:     value,
		Mean:      mean,
		StdDev:    stdDev,
		Direction: direction,
	}
}
