package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/null2264/MoodleBot/pkg/circuitbreaker"
)

type stubBot struct{}

func (stubBot) GetStats() map[string]any { return map[string]any{"running": true} }

type stubRegistrations int

func (s stubRegistrations) ActiveCount() int { return int(s) }

type stubBreaker circuitbreaker.State

func (s stubBreaker) BreakerState() circuitbreaker.State { return circuitbreaker.State(s) }

func TestCollectStats(t *testing.T) {
	stats := collectStats(stubBot{}, stubRegistrations(2), stubBreaker(circuitbreaker.StateOpen))()

	assert.Equal(t, true, stats["running"])
	assert.Equal(t, 2, stats["active_registrations"])
	assert.Equal(t, "open", stats["moodle_circuit"])
}
