// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state string
type event string

const (
	idle    state = "idle"
	running state = "running"

	start event = "start"
	stop  event = "stop"
)

func table(guard error) []Transition[state, event] {
	return []Transition[state, event]{
		{From: idle, Event: start, To: running, Guard: func(context.Context, state, event) error { return guard }},
		{From: running, Event: stop, To: idle},
	}
}

func TestFire(t *testing.T) {
	m, err := New(idle, table(nil))
	require.NoError(t, err)

	var seen []string
	m.OnTransition(func(from, to state, ev event) {
		seen = append(seen, string(from)+">"+string(to))
	})

	assert.True(t, m.Can(start))
	assert.False(t, m.Can(stop))

	to, err := m.Fire(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, running, to)
	assert.Equal(t, running, m.State())

	_, err = m.Fire(context.Background(), start)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = m.Fire(context.Background(), stop)
	require.NoError(t, err)
	assert.Equal(t, []string{"idle>running", "running>idle"}, seen)
}

func TestGuardRejects(t *testing.T) {
	boom := errors.New("boom")
	m, err := New(idle, table(boom))
	require.NoError(t, err)

	_, err = m.Fire(context.Background(), start)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, idle, m.State())
}

func TestDuplicateTransition(t *testing.T) {
	trs := append(table(nil), Transition[state, event]{From: idle, Event: start, To: idle})
	_, err := New(idle, trs)
	assert.Error(t, err)
}
