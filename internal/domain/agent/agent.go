// Package agent defines the Agent domain entity and its roles.
package agent

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Status represents the current state of an agent.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusBusy, StatusOffline, StatusError:
		return true
	}
	return false
}

// Available reports whether an agent in this status may take new work.
func (s Status) Available() bool {
	return s == StatusIdle || s == StatusBusy
}

// Outcome is the result recorded when an agent releases a phase.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// historyWindow bounds the success-rate history per agent.
const historyWindow = 20

// Agent is a registered worker in the pool.
type Agent struct {
	ID            string             `json:"id"`
	Role          Role               `json:"role"`
	Capabilities  mapset.Set[string] `json:"capabilities"`
	Status        Status             `json:"status"`
	Capacity      float64            `json:"capacity"`
	Load          float64            `json:"load"`
	ReportedLoad  float64            `json:"reported_load"`
	Health        float64            `json:"health"`
	History       []bool             `json:"history"`
	ActivePhases  map[string]float64 `json:"active_phases"`
	LastHeartbeat time.Time          `json:"last_heartbeat"`
	RegisteredAt  time.Time          `json:"registered_at"`
}

// Workload returns the normalized load (0..1) against capacity.
func (a *Agent) Workload() float64 {
	if a.Capacity <= 0 {
		return 1
	}
	w := a.Load / a.Capacity
	if w > 1 {
		return 1
	}
	return w
}

// SuccessRate returns the success ratio over the bounded history.
// Agents with no history score a neutral 0.5.
func (a *Agent) SuccessRate() float64 {
	if len(a.History) == 0 {
		return 0.5
	}
	ok := 0
	for _, h := range a.History {
		if h {
			ok++
		}
	}
	return float64(ok) / float64(len(a.History))
}

// Fits reports whether weight more load fits under capacity.
func (a *Agent) Fits(weight float64) bool {
	return a.Load+weight <= a.Capacity+1e-9
}

// UnderCapacity reports whether the agent may admit another phase. The last
// admitted phase may overshoot capacity; Overloaded agents are drained by
// rebalancing.
func (a *Agent) UnderCapacity() bool {
	return a.Load < a.Capacity-1e-9
}

// Overloaded reports whether reserved load exceeds capacity.
func (a *Agent) Overloaded() bool {
	return a.Load > a.Capacity+1e-9
}

// Record appends an outcome to the bounded history.
func (a *Agent) Record(success bool) {
	a.History = append(a.History, success)
	if len(a.History) > historyWindow {
		a.History = a.History[len(a.History)-historyWindow:]
	}
}

// Clone returns a deep copy safe to hand across component boundaries.
func (a *Agent) Clone() *Agent {
	c := *a
	c.Capabilities = a.Capabilities.Clone()
	c.History = append([]bool(nil), a.History...)
	c.ActivePhases = make(map[string]float64, len(a.ActivePhases))
	for k, v := range a.ActivePhases {
		c.ActivePhases[k] = v
	}
	return &c
}

// RegisterRequest holds the fields for registering an agent.
type RegisterRequest struct {
	ID           string   `json:"id,omitempty"`
	Role         Role     `json:"role"`
	Capabilities []string `json:"capabilities,omitempty"`
	Capacity     float64  `json:"capacity,omitempty"`
}
