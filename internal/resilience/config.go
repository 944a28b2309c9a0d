package resilience

import "time"

// PolicyFrom builds a Policy from config values. Non-positive values keep
// the DefaultPolicy setting.
func PolicyFrom(attempts, initialMs, maxMs int) Policy {
	p := DefaultPolicy()
	if attempts > 0 {
		p.Attempts = attempts
	}
	if initialMs > 0 {
		p.Initial = time.Duration(initialMs) * time.Millisecond
	}
	if maxMs > 0 {
		p.Max = time.Duration(maxMs) * time.Millisecond
	}
	return p
}

// BreakerFrom builds a BreakerConfig from config values.
func BreakerFrom(failureThreshold, cooldownSecs int) BreakerConfig {
	cfg := BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second, Probes: 1}
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}
