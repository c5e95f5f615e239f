package agentpool

import (
	"time"

	"github.com/swarmcore/swarm/internal/clock"
)

// cbState is a circuit breaker's position: closed (normal), open
// (agent blocked from new assignments), or half-open (probing after
// a cooldown).
type cbState string

const (
	cbClosed   cbState = "closed"
	cbOpen     cbState = "open"
	cbHalfOpen cbState = "half_open"
)

// defaultFailureThreshold trips the breaker after this many
// consecutive FailAssignment calls for the same agent.
const defaultFailureThreshold = 3

// defaultCooldown is how long a tripped breaker stays open before
// isAllowed reports true again (half-open). Pool.FailAssignment moves
// an agent whose breaker trips to Blocked, and Pool.Idle lists only
// Idle agents, so the pool offers a tripped agent no further work.
const defaultCooldown = 2 * time.Minute

// circuitBreaker guards one agent against being repeatedly reassigned
// work it keeps failing.
type circuitBreaker struct {
	agentID          string
	failureCount     int
	failureThreshold int
	cooldown         time.Duration
	state            cbState
	lastTripped      time.Time
	clk              clock.Clock
}

func newCircuitBreaker(agentID string, clk clock.Clock) *circuitBreaker {
	return &circuitBreaker{
		agentID:          agentID,
		failureThreshold: defaultFailureThreshold,
		cooldown:         defaultCooldown,
		state:            cbClosed,
		clk:              clk,
	}
}

// recordFailure increments the failure count and reports whether this
// call tripped the breaker.
func (cb *circuitBreaker) recordFailure() bool {
	cb.failureCount++
	if cb.failureCount >= cb.failureThreshold {
		cb.state = cbOpen
		cb.lastTripped = cb.clk.Now()
		return true
	}
	return false
}

func (cb *circuitBreaker) recordSuccess() {
	cb.failureCount = 0
	cb.state = cbClosed
}

// isAllowed reports whether the agent may currently accept a new
// assignment.
func (cb *circuitBreaker) isAllowed() bool {
	switch cb.state {
	case cbClosed:
		return true
	case cbOpen:
		if cb.clk.Now().Sub(cb.lastTripped) > cb.cooldown {
			cb.state = cbHalfOpen
			return true
		}
		return false
	case cbHalfOpen:
		return true
	default:
		return true
	}
}
