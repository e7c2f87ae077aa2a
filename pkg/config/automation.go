package config

import "time"

// AutomationConfig tunes the automation dispatcher (pkg/automation): the
// percolation pass over registered RobotAutomation queries and the
// per-robot aggregation window that follows a match.
type AutomationConfig struct {
	// AggregationWindow bounds how long matched reference ids accumulate
	// for one robot before being flushed as a single EnhancementRequest.
	AggregationWindow time.Duration `yaml:"aggregation_window"`
}

// DefaultAutomationConfig returns the built-in automation defaults.
func DefaultAutomationConfig() *AutomationConfig {
	return &AutomationConfig{
		AggregationWindow: 2 * time.Minute,
	}
}
