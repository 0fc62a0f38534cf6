package internal

import (
	"testing"
	"time"

	"github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	req := require.New(t)
	var config Config
	err := env.Unmarshal(env.EnvSet{
		"BADGER_FILEPATH": t.TempDir(),
		"JWT_SECRET":      "a_test_secret_that_is_long_enough",
	}, &config)
	req.NoError(err)
	req.NoError(config.Validate())

	req.Equal("0.0.0.0:8000", config.Address())
	req.False(config.RedisEnabled())
	req.Equal("chat_room_", config.RedisChannelPrefix)
	req.Equal(5000, config.MaxContentLength)
	req.Equal(5*time.Second, config.CollaboratorTimeout)
	req.Equal([]string{"http://localhost:3000"}, config.AllowedOriginList())
}

func TestConfig_RequiredKeys(t *testing.T) {
	var config Config
	err := env.Unmarshal(env.EnvSet{"BADGER_FILEPATH": "/tmp/badger"}, &config)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:                 8000,
			JWTSecret:            "a_test_secret_that_is_long_enough",
			AllowedOrigins:       "http://localhost:3000, https://chat.example.com",
			ConnectionBufferSize: 64,
			MaxFrameSize:         65536,
			MaxContentLength:     5000,
			CollaboratorTimeout:  time.Second,
			WriteTimeout:         time.Second,
			PongTimeout:          time.Second,
			RateLimitBurst:       10,
			RateLimitInterval:    time.Millisecond,
			HeartbeatInterval:    time.Second,
			ShutdownTimeout:      time.Second,
			CharReplacement:      "*",
		}
	}
	zero := 0

	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"port out of range", func(c *Config) { c.Port = 70000 }, false},
		{"short secret", func(c *Config) { c.JWTSecret = "short" }, false},
		{"no origin", func(c *Config) { c.AllowedOrigins = " , " }, false},
		{"zero buffer", func(c *Config) { c.ConnectionBufferSize = 0 }, false},
		{"negative timeout", func(c *Config) { c.CollaboratorTimeout = -time.Second }, false},
		{"zero page size", func(c *Config) { c.LimitMessages = &zero }, false},
		{"multi rune replacement", func(c *Config) { c.CharReplacement = "**" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)
			err := config.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}

func TestConfig_AllowedOriginList(t *testing.T) {
	config := Config{AllowedOrigins: " http://a.test ,https://b.test,, "}
	require.Equal(t, []string{"http://a.test", "https://b.test"}, config.AllowedOriginList())
}
