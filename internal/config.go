// Package internal holds the server configuration read from the environment.
package internal

import (
	"fmt"
	"net"
	"presence-lab/errors"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

type Config struct {
	Host                 string        `env:"HOST,default=localhost" validate:"required"`
	Port                 int           `env:"PORT,default=8765" validate:"min=1,max=65535"`
	GrpcPort             int           `env:"GRPC_PORT,default=8766" validate:"min=1,max=65535"`
	CleanupInterval      time.Duration `env:"CLEANUP_INTERVAL,default=1s" validate:"gt=0"`
	InactivityThreshold  time.Duration `env:"INACTIVITY_THRESHOLD,default=5s" validate:"gt=0"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64" validate:"min=1"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=2s" validate:"gt=0"`
	MaxMessageSize       int64         `env:"MAX_MESSAGE_SIZE,default=4096" validate:"min=64"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=5s" validate:"gt=0"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JournalFilepath      string        `env:"JOURNAL_FILEPATH"`
	JournalLimit         int           `env:"JOURNAL_LIMIT,default=100" validate:"min=1"`
	JournalBufferSize    int           `env:"JOURNAL_BUFFER_SIZE,default=256" validate:"min=1"`
	CensorNames          bool          `env:"CENSOR_NAMES,default=true"`
	CharReplacement      string        `env:"CHARACTER_REPLACEMENT,default=*"`
	AllowedOrigins       string        `env:"ALLOWED_ORIGINS"`
}

// Load reads an optional .env file then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks the field constraints and the relations between fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	if c.InactivityThreshold < c.CleanupInterval {
		return fmt.Errorf("%w: INACTIVITY_THRESHOLD (%s) is shorter than CLEANUP_INTERVAL (%s)",
			errors.ErrInvalidConfig, c.InactivityThreshold, c.CleanupInterval)
	}
	if c.Port == c.GrpcPort {
		return fmt.Errorf("%w: PORT and GRPC_PORT are both %d", errors.ErrInvalidConfig, c.Port)
	}
	if _, err := CharacterRune(c.CharReplacement); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) GrpcAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.GrpcPort))
}

// Origins splits ALLOWED_ORIGINS, empty means any origin.
func (c Config) Origins() []string {
	var origins []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
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
