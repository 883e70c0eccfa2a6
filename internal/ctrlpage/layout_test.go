package ctrlpage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckLayout(t *testing.T) {
	require.NoError(t, CheckLayout(Offsets))

	t.Run("moved field", func(t *testing.T) {
		table := append([]Field(nil), Offsets...)
		table[len(table)-1].Offset = 52
		err := CheckLayout(table)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "job_index")
	})

	t.Run("resized field", func(t *testing.T) {
		table := append([]Field(nil), Offsets...)
		table[0].Size = 8
		assert.Error(t, CheckLayout(table))
	})

	t.Run("missing field", func(t *testing.T) {
		assert.Error(t, CheckLayout(Offsets[:3]))
	})
}

func TestLayout_Offsets(t *testing.T) {
	want := map[string]uintptr{
		"sched":             0,
		"irq_count":         8,
		"ts_syscall_start":  16,
		"irq_syscall_start": 24,
		"deadline":          32,
		"release":           40,
		"job_index":         48,
	}
	for _, f := range Offsets {
		assert.Equal(t, want[f.Name], f.Offset, f.Name)
	}
	assert.GreaterOrEqual(t, Size, uintptr(52))
}

func TestView(t *testing.T) {
	_, err := view(make([]byte, 8))
	assert.Error(t, err)

	mem := make([]byte, 4096)
	_, err = view(mem[1:])
	assert.Error(t, err)

	_, err = view(mem)
	assert.NoError(t, err)
}
