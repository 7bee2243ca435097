// Package metrics extracts training metrics from job log output. Training
// frameworks print an iteration summary block between separator lines; the
// parser turns those into per-iteration series plus a set of latest-only
// values.
package metrics

import (
	"regexp"
	"strconv"
	"strings"
)

// Data holds parsed metrics for one job log
type Data struct {
	LatestFixedMetrics map[string]string            `json:"latest_fixed_metrics"`
	HistoricalMetrics  map[string][]HistoricalPoint `json:"historical_metrics"`
}

// HistoricalPoint is one metric sample at a learning iteration
type HistoricalPoint struct {
	Iteration int64   `json:"iteration"`
	Value     float64 `json:"value"`
}

const blockSeparator = "################################################################################"

// Metrics that only ever show their latest value.
var fixedMetrics = map[string]bool{
	"Computation":              true,
	"Mean action noise std":    true,
	"Mean value_function loss": true,
	"Mean surrogate loss":      true,
	"Mean entropy loss":        true,
	"Mean reward":              true,
	"Mean episode length":      true,
	"Total timesteps":          true,
	"Iteration time":           true,
	"Time elapsed":             true,
	"ETA":                      true,
}

// Noise lines that look like metrics but are setup output.
var excludedMetrics = []string{
	"physics step-size",
	"rendering step-size",
	"environment step-size",
	"active action terms",
	"environment seed",
	"environment spacing",
	"setting seed",
	"number of environments",
}

var (
	iterationRe = regexp.MustCompile(`Learning iteration (\d+)/\d+`)
	metricRe    = regexp.MustCompile(`^\s*([^:]+):\s+(.+)`)
)

// ParseLog extracts metrics from raw log content
func ParseLog(content string) Data {
	data := Data{
		LatestFixedMetrics: make(map[string]string),
		HistoricalMetrics:  make(map[string][]HistoricalPoint),
	}

	var currentIteration int64
	for _, block := range strings.Split(content, blockSeparator) {
		if strings.TrimSpace(block) == "" {
			continue
		}

		if m := iterationRe.FindStringSubmatch(block); m != nil {
			if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				currentIteration = n
			}
		}

		for _, line := range strings.Split(block, "\n") {
			m := metricRe.FindStringSubmatch(strings.TrimSpace(line))
			if m == nil {
				continue
			}
			key := strings.TrimSpace(m[1])
			raw := strings.TrimSpace(m[2])
			if isExcluded(key) {
				continue
			}

			value, err := strconv.ParseFloat(raw, 64)
			switch {
			case err == nil && fixedMetrics[key]:
				data.LatestFixedMetrics[key] = raw
			case err == nil:
				data.HistoricalMetrics[key] = append(data.HistoricalMetrics[key], HistoricalPoint{
					Iteration: currentIteration,
					Value:     value,
				})
			case fixedMetrics[key]:
				// Non-numeric fixed metrics like ETA still surface.
				data.LatestFixedMetrics[key] = raw
			}
		}
	}
	return data
}

func isExcluded(key string) bool {
	lower := strings.ToLower(key)
	for _, excluded := range excludedMetrics {
		if strings.Contains(lower, excluded) {
			return true
		}
	}
	return false
}
