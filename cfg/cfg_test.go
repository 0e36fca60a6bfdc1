package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmarten/ssvepd/detect"
	"github.com/jmarten/ssvepd/rx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	settings, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 250.0, settings.SampleRate)
	assert.Equal(t, 8, settings.Channels)
	assert.Equal(t, []float64{10, 12, 15}, settings.TargetFrequencies)
	assert.Equal(t, "psd", settings.DetectorKind)
	assert.Equal(t, 5.0, settings.Bandpass.Low)
	assert.Equal(t, 45.0, settings.Bandpass.High)

	// The defaults must form a valid session configuration.
	_, err = rx.NewSession(settings.SessionConfig(), nil)
	assert.NoError(t, err)
}

func TestLoadFile(t *testing.T) {
	content := `
sample_rate: 125
channels: 4
target_frequencies: [8.0, 13.0]
detector_kind: cca
notch_freq: 60
filter_bank:
  enabled: true
  n_subbands: 3
vote_hold_ms: 300
`
	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(content), 0644))

	settings, err := Load(filename)
	require.NoError(t, err)

	assert.Equal(t, 125.0, settings.SampleRate)
	assert.Equal(t, 4, settings.Channels)
	assert.Equal(t, []float64{8, 13}, settings.TargetFrequencies)
	assert.Equal(t, 60.0, settings.NotchFreq)
	assert.True(t, settings.FilterBank.Enabled)
	assert.Equal(t, 3, settings.FilterBank.Subbands)
	// Options absent from the file keep their defaults.
	assert.Equal(t, 4, settings.FilterBank.Order)
	assert.Equal(t, 2.0, settings.WindowSeconds)

	config := settings.SessionConfig()
	assert.Equal(t, 300*time.Millisecond, config.VoteHold)
	assert.Equal(t, detect.CCA, config.DetectorKind)
	assert.True(t, config.FilterBank.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("sample_rate: ["), 0644))
	_, err := Load(filename)
	assert.Error(t, err)
}
