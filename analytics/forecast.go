package analytics

import (
	"math"
	"sort"
	"time"
)

// VolumeDataPoint is one day's observed click count, the input series to
// Forecaster — the same shape the gateway used for daily spend, relabeled
// for click volume.
type VolumeDataPoint struct {
	Date   time.Time
	Clicks float64
}

// ForecastResult reports a linear-regression projection of future daily
// click volume.
type ForecastResult struct {
	PredictedDailyClicks float64
	Trend                string // "increasing", "decreasing", "stable", "insufficient_data"
	Confidence           float64 // R²
	Forecast             []VolumeDataPoint
}

// Forecaster projects future click volume from a recent history window.
type Forecaster struct {
	windowDays int
}

// NewForecaster builds a Forecaster over the last windowDays of history
// (default 14).
func NewForecaster(windowDays int) *Forecaster {
	if windowDays <= 0 {
		windowDays = 14
	}
	return &Forecaster{windowDays: windowDays}
}

// Forecast fits a linear trend to history and projects the next 7 days.
func (f *Forecaster) Forecast(history []VolumeDataPoint) *ForecastResult {
	if len(history) < 3 {
		return &ForecastResult{Trend: "insufficient_data"}
	}

	sorted := make([]VolumeDataPoint, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	if len(sorted) > f.windowDays {
		sorted = sorted[len(sorted)-f.windowDays:]
	}

	n := float64(len(sorted))
	var sumX, sumY, sumXY, sumX2 float64
	baseDate := sorted[0].Date
	for i, dp := range sorted {
		x := float64(i)
		sumX += x
		sumY += dp.Clicks
		sumXY += x * dp.Clicks
		sumX2 += x * x
	}

	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		avg := sumY / n
		return &ForecastResult{PredictedDailyClicks: avg, Trend: "stable", Confidence: 1.0}
	}

	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for i, dp := range sorted {
		predicted := slope*float64(i) + intercept
		ssRes += (dp.Clicks - predicted) * (dp.Clicks - predicted)
		ssTot += (dp.Clicks - meanY) * (dp.Clicks - meanY)
	}
	rSquared := 0.0
	if ssTot > 0 {
		rSquared = 1 - ssRes/ssTot
	}

	nextDay := int(n)
	var forecast []VolumeDataPoint
	for i := 0; i < 7; i++ {
		predicted := slope*float64(nextDay+i) + intercept
		if predicted < 0 {
			predicted = 0
		}
		forecast = append(forecast, VolumeDataPoint{Date: baseDate.AddDate(0, 0, nextDay+i), Clicks: predicted})
	}

	predictedDaily := slope*float64(nextDay) + intercept
	if predictedDaily < 0 {
		predictedDaily = 0
	}

	trend := "stable"
	if slope > 0.01*meanY {
		trend = "increasing"
	} else if slope < -0.01*meanY {
		trend = "decreasing"
	}

	return &ForecastResult{
		PredictedDailyClicks: predictedDaily,
		Trend:                trend,
		Confidence:           math.Max(0, rSquared),
		Forecast:             forecast,
	}
}
