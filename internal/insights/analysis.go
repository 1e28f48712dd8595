package insights

import (
	"fmt"
	"strings"

	"theravox/internal/health"
)

const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"

	smoothingWindow = 3
)

// Smooth applies a trailing moving average over window samples.
func Smooth(data []float64, window int) []float64 {
	out := make([]float64, len(data))
	for i := range data {
		lo := max(0, i-window+1)
		var sum float64
		for _, v := range data[lo : i+1] {
			sum += v
		}
		out[i] = sum / float64(i+1-lo)
	}
	return out
}

// Trend is increasing when the series never goes down, decreasing when it
// never goes up, and stable otherwise. Series with fewer than two points
// count as increasing.
func Trend(data []float64) string {
	up, down := true, true
	for i := 1; i < len(data); i++ {
		if data[i] < data[i-1] {
			up = false
		}
		if data[i] > data[i-1] {
			down = false
		}
	}
	switch {
	case up:
		return TrendIncreasing
	case down:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

type Trends struct {
	HeartRate string `json:"heart_rate"`
	Sleep     string `json:"sleep"`
}

func Analyze(req health.AnalyzeRequest) Trends {
	bpm := make([]float64, len(req.HeartRate))
	for i, p := range req.HeartRate {
		bpm[i] = p.BPM
	}
	hours := make([]float64, len(req.Sleep))
	for i, s := range req.Sleep {
		hours[i] = s.End.Sub(s.Start).Hours()
	}
	return Trends{
		HeartRate: Trend(Smooth(bpm, smoothingWindow)),
		Sleep:     Trend(hours),
	}
}

// Prompt asks the chat backend for a structured JSON analysis of trends.
func Prompt(t Trends) string {
	var b strings.Builder
	b.WriteString("Analyze the following health data trends:\n")
	fmt.Fprintf(&b, "- Heart rate trend: %s (based on recent measurements and averages)\n", t.HeartRate)
	fmt.Fprintf(&b, "- Sleep trend: %s (considering recent nightly durations and patterns)\n\n", t.Sleep)
	b.WriteString("Generate a structured analysis in JSON format with the following fields:\n\n")
	b.WriteString("1. 'summary': A brief overview of the observed trends in heart rate and sleep data.\n\n")
	b.WriteString("2. 'health_implications': The potential impact of these trends on physical and mental well-being, " +
		"covering how heart rate relates to activity, stress or cardiovascular health and how sleep patterns " +
		"affect energy, cognition and mood.\n\n")
	b.WriteString("3. 'recommendations': Specific, achievable lifestyle adjustments such as relaxation techniques, " +
		"sleep hygiene changes and appropriate physical activity.\n\n")
	b.WriteString("4. 'risk_assessment': Potential health risks associated with the trends, rated low, moderate or high.\n\n")
	b.WriteString("5. 'data_quality': Reliability of the provided data and any inconsistencies worth monitoring.\n\n")
	b.WriteString("6. 'additional_notes': Other observations that could help a care provider understand the user's health status.\n\n")
	b.WriteString("Ensure the output is a valid JSON object with these fields.")
	return b.String()
}
