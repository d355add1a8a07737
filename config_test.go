package sfsmonitor_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sfsmonitor "github.com/KnowMeGit/SFSMonitor"
)

func TestParseConfig(t *testing.T) {
	config, err := sfsmonitor.ParseConfig(strings.NewReader(`
max-monitored: 16
paths:
  - path: /var/log/syslog
    events: [write, size-increase]
  - path: /etc
`))
	require.NoError(t, err)
	assert.Equal(t, 16, config.MaxMonitored)
	require.Len(t, config.Paths, 2)

	mask, err := config.Paths[0].EventMask()
	require.NoError(t, err)
	assert.Equal(t, sfsmonitor.Write|sfsmonitor.SizeIncrease, mask)

	// An empty event list selects everything.
	mask, err = config.Paths[1].EventMask()
	require.NoError(t, err)
	assert.Equal(t, sfsmonitor.AllEvents, mask)
}

func TestParseConfig_Defaults(t *testing.T) {
	config, err := sfsmonitor.ParseConfig(strings.NewReader(``))
	require.NoError(t, err)
	assert.Equal(t, sfsmonitor.DefaultMaxMonitored, config.MaxMonitored)
	assert.Empty(t, config.Paths)
}

func TestParseConfig_Errors(t *testing.T) {
	t.Run("UnknownField", func(t *testing.T) {
		_, err := sfsmonitor.ParseConfig(strings.NewReader(`max-watchers: 3`))
		require.Error(t, err)
	})

	t.Run("UnknownEventFlag", func(t *testing.T) {
		_, err := sfsmonitor.ParseConfig(strings.NewReader(`
paths:
  - path: /etc
    events: [written]
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown event flag")
	})

	t.Run("MissingPath", func(t *testing.T) {
		_, err := sfsmonitor.ParseConfig(strings.NewReader(`
paths:
  - events: [write]
`))
		require.Error(t, err)
	})
}

func TestMonitor_ApplyConfig(t *testing.T) {
	m, _ := newTestMonitor(t, nil)
	pathA, pathB := mkfile(t, "a"), mkfile(t, "b")

	config := sfsmonitor.Config{
		MaxMonitored: 8,
		Paths: []sfsmonitor.PathConfig{
			{Path: pathA, Events: []string{"write"}},
			{Path: pathB},
		},
	}

	require.NoError(t, m.ApplyConfig(config))
	assert.Equal(t, 8, m.MaxMonitored())
	assert.Equal(t, 2, m.Count())
	assert.True(t, m.IsWatched(pathA))
	assert.True(t, m.IsWatched(pathB))

	// Re-applying the same config is idempotent.
	require.NoError(t, m.ApplyConfig(config))
	assert.Equal(t, 2, m.Count())
}
