package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                "development",
		Port:               "8080",
		JWTSecret:          "secure-secret-at-least-32-chars-long",
		DBPassword:         "secure-password",
		DBSSLMode:          "require",
		BusBackend:         "redis",
		SubscriberBuffer:   256,
		NotificationWindow: 50,
		RetentionCron:      "0 * * * *",
	}
}

func TestConfig_ValidateSSLMode(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		sslMode     string
		expectError bool
	}{
		{"Production with empty SSL mode", "production", "", true},
		{"Production with disable SSL mode", "production", "disable", true},
		{"Production with require SSL mode", "production", "require", false},
		{"Prod with verify-full SSL mode", "prod", "verify-full", false},
		{"Development with disable SSL mode", "development", "disable", false},
		{"Test with empty SSL mode", "test", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Env = tt.env
			c.DBSSLMode = tt.sslMode

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateRealtimeSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"window below minimum", func(c *Config) { c.NotificationWindow = 10 }},
		{"window above maximum", func(c *Config) { c.NotificationWindow = 51 }},
		{"unknown bus backend", func(c *Config) { c.BusBackend = "kafka" }},
		{"zero subscriber buffer", func(c *Config) { c.SubscriberBuffer = 0 }},
		{"invalid cron", func(c *Config) { c.RetentionCron = "every hour" }},
		{"missing port", func(c *Config) { c.Port = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	t.Run("memory bus and lower window bound are accepted", func(t *testing.T) {
		c := validConfig()
		c.BusBackend = "memory"
		c.NotificationWindow = MinNotificationWindow
		assert.NoError(t, c.Validate())
	})
}

func TestConfig_ProductionRejectsDefaultSecret(t *testing.T) {
	c := validConfig()
	c.Env = "production"
	c.JWTSecret = defaultJWTSecret
	assert.Error(t, c.Validate())
}

func TestLoadConfig_Normalization(t *testing.T) {
	defer os.Unsetenv("APP_ENV")
	defer os.Unsetenv("DB_SSLMODE")
	defer os.Unsetenv("BUS_BACKEND")
	defer viper.Reset()

	os.Setenv("APP_ENV", "development")
	os.Setenv("DB_SSLMODE", "  DISABLE  ")
	os.Setenv("BUS_BACKEND", " Memory ")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, "memory", c.BusBackend)
	assert.Equal(t, MaxNotificationWindow, c.NotificationWindow)
	assert.Equal(t, "8375", c.Port)
}
