package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjc/reencodarr-sub000/internal/config"
)

func TestStartRejectsInvalidCron(t *testing.T) {
	s := New(config.SchedulerConfig{
		MissingPathSweep: "not a cron expression",
	}, nil, nil, nil)

	err := s.Start(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-path sweep")
}

func TestStartIsIdempotentGuarded(t *testing.T) {
	s := New(config.SchedulerConfig{}, nil, nil, nil)

	require.NoError(t, s.Start(t.Context()))
	assert.Error(t, s.Start(t.Context()), "second start must fail")
	s.Stop()
}

func TestCleanupRequiresRetention(t *testing.T) {
	// A cleanup schedule without a retention window registers nothing,
	// so the bogus repo is never touched.
	s := New(config.SchedulerConfig{
		FailureCleanup:   "0 3 * * *",
		FailureRetention: 0,
	}, nil, nil, nil)

	require.NoError(t, s.Start(t.Context()))
	s.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	s := New(config.SchedulerConfig{}, nil, nil, nil)
	assert.NotPanics(t, func() { s.Stop() })
}
