package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

type Config struct {
	Host     string `env:"HOST,default=0.0.0.0"`
	Port     int    `env:"PORT,default=8000"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	LimitMessages  *int   `env:"LIMIT_MESSAGES"`

	// Empty means a single process with the in-memory bus
	RedisAddr          string `env:"REDIS_ADDR"`
	RedisPassword      string `env:"REDIS_PASSWORD"`
	RedisDB            int    `env:"REDIS_DB,default=0"`
	RedisChannelPrefix string `env:"REDIS_CHANNEL_PREFIX,default=chat_room_"`

	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	JWTIssuer         string        `env:"JWT_ISSUER"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	// Comma separated, * accepts any origin
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	MaxFrameSize         int64         `env:"MAX_FRAME_SIZE,default=65536"`
	MaxContentLength     int           `env:"MAX_CONTENT_LENGTH,default=5000"`
	CollaboratorTimeout  time.Duration `env:"COLLABORATOR_TIMEOUT,default=5s"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	PongTimeout          time.Duration `env:"PONG_TIMEOUT,default=60s"`
	RateLimitBurst       int           `env:"RATE_LIMIT_BURST,default=20"`
	RateLimitInterval    time.Duration `env:"RATE_LIMIT_INTERVAL,default=100ms"`

	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	CensoredWordsFile string `env:"CENSORED_WORDS_FILE"`
	CharReplacement   string `env:"CHARACTER_REPLACEMENT,default=*"`
}

// Validate checks the rules the env tags cannot express.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.LimitMessages != nil && *c.LimitMessages <= 0 {
		return fmt.Errorf("LIMIT_MESSAGES must be positive, got %d", *c.LimitMessages)
	}
	positives := []lo.Tuple2[string, int64]{
		lo.T2("CONNECTION_BUFFER_SIZE", int64(c.ConnectionBufferSize)),
		lo.T2("MAX_FRAME_SIZE", c.MaxFrameSize),
		lo.T2("MAX_CONTENT_LENGTH", int64(c.MaxContentLength)),
		lo.T2("RATE_LIMIT_BURST", int64(c.RateLimitBurst)),
		lo.T2("COLLABORATOR_TIMEOUT", int64(c.CollaboratorTimeout)),
		lo.T2("WRITE_TIMEOUT", int64(c.WriteTimeout)),
		lo.T2("PONG_TIMEOUT", int64(c.PongTimeout)),
		lo.T2("RATE_LIMIT_INTERVAL", int64(c.RateLimitInterval)),
		lo.T2("HEARTBEAT_INTERVAL", int64(c.HeartbeatInterval)),
		lo.T2("SHUTDOWN_TIMEOUT", int64(c.ShutdownTimeout)),
	}
	if invalid, found := lo.Find(positives, func(p lo.Tuple2[string, int64]) bool { return p.B <= 0 }); found {
		return fmt.Errorf("%s must be positive", invalid.A)
	}
	if len(c.AllowedOriginList()) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS must list at least one origin")
	}
	if _, err := CharacterRune(c.CharReplacement); err != nil {
		return err
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) RedisEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

func (c Config) AllowedOriginList() []string {
	return lo.Compact(lo.Map(strings.Split(c.AllowedOrigins, ","), func(origin string, _ int) string {
		return strings.TrimSpace(origin)
	}))
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
