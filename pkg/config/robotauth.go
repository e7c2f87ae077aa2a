package config

import "time"

// RobotAuthConfig configures HMAC request authentication for the robot
// polling protocol (pkg/orchestrator), including the replay-window nonce
// cache backed by redis.
type RobotAuthConfig struct {
	// ReplayWindow bounds how long a request signature is accepted after
	// its declared timestamp, and how long its nonce is held in the cache
	// to reject a resubmission.
	ReplayWindow time.Duration `yaml:"replay_window"`

	// SignatureHeader names the HTTP header carrying the HMAC signature.
	SignatureHeader string `yaml:"signature_header"`

	// TimestampHeader names the HTTP header carrying the request's
	// originating timestamp, signed along with the body.
	TimestampHeader string `yaml:"timestamp_header"`
}

// DefaultRobotAuthConfig returns the built-in robot auth defaults.
func DefaultRobotAuthConfig() *RobotAuthConfig {
	return &RobotAuthConfig{
		ReplayWindow:    5 * time.Minute,
		SignatureHeader: "X-Destiny-Signature",
		TimestampHeader: "X-Destiny-Timestamp",
	}
}
