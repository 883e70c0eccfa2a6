package mode

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yatrt/internal/kernel"
	"yatrt/internal/kernel/kerneltest"
)

func TestParseStats(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Stats
		ok    bool
	}{
		{
			name:  "kernel format",
			input: "real-time tasks   = 4\nready for release = 2\n",
			want:  Stats{RealTimeTasks: 4, ReadyForRelease: 2},
			ok:    true,
		},
		{
			name:  "reordered without trailing newline",
			input: "ready for release = 0\nreal-time tasks = 1",
			want:  Stats{RealTimeTasks: 1},
			ok:    true,
		},
		{
			name:  "extra labels ignored",
			input: "real-time tasks = 3\nplugin = GSN-EDF\nready for release = 1\n\n",
			want:  Stats{RealTimeTasks: 3, ReadyForRelease: 1},
			ok:    true,
		},
		{name: "empty", input: ""},
		{name: "missing ready", input: "real-time tasks = 3\n"},
		{name: "repeated label", input: "real-time tasks = 3\nreal-time tasks = 4\nready for release = 1\n"},
		{name: "negative", input: "real-time tasks = -1\nready for release = 1\n"},
		{name: "not a number", input: "real-time tasks = many\nready for release = 1\n"},
		{name: "unlabeled line", input: "real-time tasks = 3\nready for release = 1\ngarbage\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStats([]byte(tt.input))
			if !tt.ok {
				assert.ErrorIs(t, err, kernel.ErrUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadStats(t *testing.T) {
	sim := kerneltest.New(2)
	path := filepath.Join(t.TempDir(), "stats")
	require.NoError(t, os.WriteFile(path, []byte(sim.Stats()), 0o644))

	st, err := ReadStats(path)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	require.NoError(t, os.WriteFile(path, []byte("real-time tasks   = 5\nready for release = 3\n"), 0o644))
	n, err := PendingWaiters(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
}

func TestReadStats_Oversized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats")
	counts := "real-time tasks   = 5\nready for release = 3\n"
	pad := func(n int) []byte {
		return []byte(counts + strings.Repeat("\n", n-len(counts)))
	}

	require.NoError(t, os.WriteFile(path, pad(maxStatsBytes), 0o644))
	st, err := ReadStats(path)
	require.NoError(t, err)
	assert.Equal(t, Stats{RealTimeTasks: 5, ReadyForRelease: 3}, st)

	require.NoError(t, os.WriteFile(path, pad(maxStatsBytes+1), 0o644))
	_, err = ReadStats(path)
	assert.ErrorIs(t, err, kernel.ErrUnavailable)
}

func TestReadStats_Missing(t *testing.T) {
	_, err := ReadStats(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, kernel.ErrUnavailable)

	_, err = PendingWaiters(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, kernel.ErrUnavailable)
}
