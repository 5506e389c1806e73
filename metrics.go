package authkit

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricChallengeRequested MetricID = iota
	MetricChallengeResent
	MetricChallengeRateLimited
	MetricChallengeVerified
	MetricChallengeFailed
	MetricChallengeBlocked
	MetricChallengeDeliveryFailed
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginRateLimited
	MetricRefreshSuccess
	MetricRefreshReplayDetected
	MetricRefreshFailure
	MetricRefreshRateLimited
	MetricTicketConsumed
	MetricTicketRejected
	MetricPasswordSet
	MetricPasswordChanged
	MetricSessionCreated
	MetricSessionRevoked
	MetricLogout
	MetricLogoutAll
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricChallengeRequested:      "challenge_requested",
	MetricChallengeResent:         "challenge_resent",
	MetricChallengeRateLimited:    "challenge_rate_limited",
	MetricChallengeVerified:       "challenge_verified",
	MetricChallengeFailed:         "challenge_failed",
	MetricChallengeBlocked:        "challenge_blocked",
	MetricChallengeDeliveryFailed: "challenge_delivery_failed",
	MetricLoginSuccess:            "login_success",
	MetricLoginFailure:            "login_failure",
	MetricLoginRateLimited:        "login_rate_limited",
	MetricRefreshSuccess:          "refresh_success",
	MetricRefreshReplayDetected:   "refresh_replay_detected",
	MetricRefreshFailure:          "refresh_failure",
	MetricRefreshRateLimited:      "refresh_rate_limited",
	MetricTicketConsumed:          "ticket_consumed",
	MetricTicketRejected:          "ticket_rejected",
	MetricPasswordSet:             "password_set",
	MetricPasswordChanged:         "password_changed",
	MetricSessionCreated:          "session_created",
	MetricSessionRevoked:          "session_revoked",
	MetricLogout:                  "logout",
	MetricLogoutAll:               "logout_all",
}

// Name returns the stable snake_case name of the metric.
func (id MetricID) Name() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// Metrics is a fixed set of in-process atomic counters. Increment is a
// single atomic add on the hot path; exporters read through Snapshot.
type Metrics struct {
	counters [metricIDCount]atomic.Uint64
}

func newMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) inc(id MetricID) {
	if m == nil || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Get returns the current value of one counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot returns a point-in-time copy of every counter keyed by name.
// Counters are read one at a time; the snapshot is not a consistent cut.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, metricIDCount)
	if m == nil {
		return out
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		out[metricNames[id]] = m.counters[id].Load()
	}
	return out
}
