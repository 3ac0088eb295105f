package resilience

import (
	"time"
)

// FromCircuitConfig converts config values to a named CircuitBreakerConfig.
// Non-positive values keep the defaults.
func FromCircuitConfig(name string, failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	cfg.Name = name
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// DecoderBreakerConfig is the decoder breaker: only upstream outages trip
// it, so a burst of unknown VINs cannot open the circuit.
func DecoderBreakerConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := FromCircuitConfig(BreakerDecoder, failureThreshold, resetTimeoutSecs)
	cfg.ShouldTrip = IsUpstreamOutage
	return cfg
}

// AssistantBreakerConfig is the enrichment breaker: every failure trips it.
func AssistantBreakerConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	return FromCircuitConfig(BreakerAssistant, failureThreshold, resetTimeoutSecs)
}
