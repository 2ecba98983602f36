// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "flowreplay", cfg.Logger().ServiceName)
	assert.Equal(t, "playwright", cfg.Browser().Driver)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, ViewportConfig{Width: 1366, Height: 768}, cfg.Browser().Viewport)
	assert.Equal(t, ViewportConfig{Width: 1280, Height: 720}, cfg.Browser().VideoSize)
	assert.Equal(t, 5*time.Minute, cfg.Runner().ScenarioTimeout)
	assert.False(t, cfg.Runner().StrictMode)
	assert.False(t, cfg.Runner().SoftAssertions)
	assert.Equal(t, time.Second, cfg.Runner().Delays.ClickSettle)
	assert.Equal(t, 3*time.Second, cfg.Runner().Delays.ComboBox)
	assert.Equal(t, 50, cfg.Poll().RefreshMaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Poll().RefreshInterval)
	assert.Equal(t, 20, cfg.Navigation().MaxAttempts)
	assert.Equal(t, []string{"Test timeout", "exceeded"}, cfg.Supervisor().TimeoutMarkers)
	assert.Equal(t, ":8080", cfg.Server().Addr)
	assert.Empty(t, cfg.Events().NATSURL)

	require.NoError(t, cfg.Validate(), "defaults must validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		bad := *cfg
		bad.PollCfg.RefreshMaxAttempts = 0
		err := bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "poll.refresh_max_attempts must be a positive integer")

		bad = *cfg
		bad.NavigationCfg.MaxAttempts = -1
		err = bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "navigation.max_attempts must be a positive integer")

		bad = *cfg
		bad.ArtifactsCfg.Dir = ""
		assert.ErrorContains(t, bad.Validate(), "artifacts.dir")
	})

	t.Run("Browser Validation", func(t *testing.T) {
		b := NewDefaultConfig().Browser()
		require.NoError(t, b.Validate())

		b.Driver = "selenium"
		assert.ErrorContains(t, b.Validate(), "driver must be")

		b = NewDefaultConfig().Browser()
		b.Viewport.Width = 0
		assert.ErrorContains(t, b.Validate(), "viewport")
	})

	t.Run("Runner Validation", func(t *testing.T) {
		r := NewDefaultConfig().Runner()
		r.ScenarioTimeout = 0
		assert.ErrorContains(t, r.Validate(), "scenario_timeout")

		r = NewDefaultConfig().Runner()
		r.AssertionTimeout = -time.Second
		assert.ErrorContains(t, r.Validate(), "assertion_timeout")
	})
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("yaml overrides defaults", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		yamlCfg := []byte(`
browser:
  driver: chromedp
  headless: false
runner:
  soft_assertions: true
  scenario_timeout: 90s
poll:
  refresh_max_attempts: 10
navigation:
  max_attempts: 5
supervisor:
  timeout_markers: ["Timed out"]
`)
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlCfg)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "chromedp", cfg.Browser().Driver)
		assert.False(t, cfg.Browser().Headless)
		assert.True(t, cfg.Runner().SoftAssertions)
		assert.Equal(t, 90*time.Second, cfg.Runner().ScenarioTimeout)
		assert.Equal(t, 10, cfg.Poll().RefreshMaxAttempts)
		assert.Equal(t, 5, cfg.Navigation().MaxAttempts)
		assert.Equal(t, []string{"Timed out"}, cfg.Supervisor().TimeoutMarkers)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("browser.driver", "lynx")

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("database url from environment", func(t *testing.T) {
		t.Setenv("FLOWREPLAY_DATABASE_URL", "postgres://replay@db/flowreplay")
		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "postgres://replay@db/flowreplay", cfg.Database().URL)
	})
}
