package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
page_size: 16
request_timeout: 250ms
workers: 0
store:
  kind: mapped
  path: /tmp/vm.slots
  slot_size: 8KB
log:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, int64(16), cfg.PageSize)
	assert.Equal(t, 250*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, time.Second, cfg.AllocateTimeout, "unset fields keep defaults")
	assert.Equal(t, 0, cfg.Workers)
	assert.Equal(t, StoreMapped, cfg.Store.Kind)
	assert.Equal(t, 8*datasize.KB, cfg.Store.SlotSize)
	assert.True(t, cfg.Store.Compress)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, PolicyBestEffort, cfg.FailurePolicy)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero page size", "page_size: 0"},
		{"negative timeout", "request_timeout: -1s"},
		{"unknown store", "store: {kind: tape}"},
		{"bolt without path", "store: {kind: bolt}"},
		{"tiny slots", "store: {kind: mapped, path: x, slot_size: 10B}"},
		{"unknown policy", "failure_policy: sometimes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParse_ReportsEveryProblem(t *testing.T) {
	_, err := Parse([]byte("page_size: 0\nworkers: -2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page_size")
	assert.Contains(t, err.Error(), "workers")
}

func TestParse_BadYAML(t *testing.T) {
	_, err := Parse([]byte("page_size: [1"))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_resident_pages: 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxResidentPages)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestMarshal_RoundTrips(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
