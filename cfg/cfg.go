// Package cfg loads the session configuration from a YAML file with viper.
// All options have defaults, a missing config file is not an error.
package cfg

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/jmarten/ssvepd/detect"
	"github.com/jmarten/ssvepd/rx"
)

const (
	AppName    = "ssvepd"
	ConfigType = "yaml"
)

// Bandpass holds the passband of the session filter.
type Bandpass struct {
	Low  float64 `mapstructure:"low"`
	High float64 `mapstructure:"high"`
}

// FilterBank holds the FBCCA sub-band options.
type FilterBank struct {
	Enabled  bool `mapstructure:"enabled"`
	Subbands int  `mapstructure:"n_subbands"`
	Order    int  `mapstructure:"order"`
}

// Settings holds the complete configuration surface.
type Settings struct {
	SampleRate        float64    `mapstructure:"sample_rate"`
	Channels          int        `mapstructure:"channels"`
	TargetFrequencies []float64  `mapstructure:"target_frequencies"`
	Harmonics         int        `mapstructure:"harmonics"`
	Bandpass          Bandpass   `mapstructure:"bandpass"`
	NotchFreq         float64    `mapstructure:"notch_freq"`
	NotchQ            float64    `mapstructure:"notch_q"`
	WindowSeconds     float64    `mapstructure:"window_seconds"`
	StepSeconds       float64    `mapstructure:"step_seconds"`
	BufferSeconds     float64    `mapstructure:"buffer_seconds"`
	VoteHoldMs        int        `mapstructure:"vote_hold_ms"`
	MinScoreThreshold float64    `mapstructure:"min_score_threshold"`
	MarginRatio       float64    `mapstructure:"margin_ratio"`
	SmoothingAlpha    float64    `mapstructure:"smoothing_alpha"`
	DetectorKind      string     `mapstructure:"detector_kind"`
	FilterBank        FilterBank `mapstructure:"filter_bank"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sample_rate", 250)
	v.SetDefault("channels", 8)
	v.SetDefault("target_frequencies", []float64{10, 12, 15})
	v.SetDefault("harmonics", 2)
	v.SetDefault("bandpass.low", 5)
	v.SetDefault("bandpass.high", 45)
	v.SetDefault("notch_freq", 50)
	v.SetDefault("notch_q", 30)
	v.SetDefault("window_seconds", 2)
	v.SetDefault("step_seconds", 0.25)
	v.SetDefault("buffer_seconds", 10)
	v.SetDefault("vote_hold_ms", 500)
	v.SetDefault("min_score_threshold", 1.5)
	v.SetDefault("margin_ratio", 1.5)
	v.SetDefault("smoothing_alpha", 0.3)
	v.SetDefault("detector_kind", "psd")
	v.SetDefault("filter_bank.enabled", false)
	v.SetDefault("filter_bank.n_subbands", 5)
	v.SetDefault("filter_bank.order", 4)
}

// Load reads the settings from the given file. An empty filename loads the
// defaults only.
func Load(filename string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType(ConfigType)
	setDefaults(v)

	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &s, nil
}

// SessionConfig maps the settings onto a session configuration. The session
// constructor validates it.
func (s *Settings) SessionConfig() rx.Config {
	return rx.Config{
		SampleRate:        s.SampleRate,
		ChannelCount:      s.Channels,
		TargetFrequencies: s.TargetFrequencies,
		Harmonics:         s.Harmonics,
		BandpassLow:       s.Bandpass.Low,
		BandpassHigh:      s.Bandpass.High,
		NotchFrequency:    s.NotchFreq,
		NotchQ:            s.NotchQ,
		WindowSeconds:     s.WindowSeconds,
		StepSeconds:       s.StepSeconds,
		BufferSeconds:     s.BufferSeconds,
		VoteHold:          time.Duration(s.VoteHoldMs) * time.Millisecond,
		MinScoreThreshold: s.MinScoreThreshold,
		MarginRatio:       s.MarginRatio,
		SmoothingAlpha:    s.SmoothingAlpha,
		DetectorKind:      detect.Kind(s.DetectorKind),
		FilterBank: rx.FilterBank{
			Enabled:  s.FilterBank.Enabled,
			Subbands: s.FilterBank.Subbands,
			Order:    s.FilterBank.Order,
		},
	}
}
