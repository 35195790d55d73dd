// Package config loads server and CLI settings from flags and the environment.
// Flags win over environment variables; the master key is read from the
// environment only so it never shows up in a process listing.
package config

import (
	"flag"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"evoting-core/encryption"
	"evoting-core/keyvault"
)

const (
	DriverMemory   = "memory"
	DriverJSON     = "json"
	DriverPostgres = "postgres"
)

const (
	EnvMasterKey     = "MASTER_KEY"
	EnvDatabaseURL   = "DATABASE_URL"
	EnvPort          = "EVOTE_PORT"
	EnvStorage       = "EVOTE_STORAGE"
	EnvStorageDir    = "EVOTE_STORAGE_DIR"
	EnvKeyBits       = "EVOTE_KEY_BITS"
	EnvKDFIterations = "EVOTE_KDF_ITERATIONS"
	EnvTallyWorkers  = "EVOTE_TALLY_WORKERS"
	EnvLogLevel      = "EVOTE_LOG_LEVEL"
)

var ErrMissingMasterKey = errors.New(EnvMasterKey + " is not set")

type Config struct {
	Port          int
	StorageDriver string
	StorageDir    string
	DatabaseURL   string
	KeyBits       int
	KDFIterations int
	TallyWorkers  int
	LogLevel      string
	ShutdownGrace time.Duration
	MasterKey     []byte
}

func defaults() *Config {
	return &Config{
		Port:          8080,
		StorageDriver: DriverJSON,
		StorageDir:    "data",
		KeyBits:       encryption.DefaultKeySize,
		KDFIterations: keyvault.MinIterations,
		LogLevel:      "info",
		ShutdownGrace: 10 * time.Second,
	}
}

// Load parses args (without the program name) on top of environment values.
// getenv is usually os.Getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := defaults()
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("evoting", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "invalid flags")
	}

	master, err := ParseMasterKey(getenv(EnvMasterKey))
	if err != nil {
		return nil, err
	}
	cfg.MasterKey = master

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RegisterFlags binds every option to fs using the current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "Server port")
	fs.StringVar(&c.StorageDriver, "storage", c.StorageDriver, "Storage driver: memory, json or postgres")
	fs.StringVar(&c.StorageDir, "storage-dir", c.StorageDir, "Directory for the json storage driver")
	fs.StringVar(&c.DatabaseURL, "database-url", c.DatabaseURL, "PostgreSQL connection string")
	fs.IntVar(&c.KeyBits, "key-bits", c.KeyBits, "Paillier modulus size for new elections")
	fs.IntVar(&c.KDFIterations, "kdf-iterations", c.KDFIterations, "PBKDF2 iterations for sealing election keys")
	fs.IntVar(&c.TallyWorkers, "tally-workers", c.TallyWorkers, "Decryption workers per tally (0 = number of CPUs)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn, error")
	fs.DurationVar(&c.ShutdownGrace, "shutdown-grace", c.ShutdownGrace, "Time allowed for in-flight requests on shutdown")
}

func (c *Config) applyEnv(getenv func(string) string) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{EnvPort, &c.Port},
		{EnvKeyBits, &c.KeyBits},
		{EnvKDFIterations, &c.KDFIterations},
		{EnvTallyWorkers, &c.TallyWorkers},
	}
	for _, v := range ints {
		raw := strings.TrimSpace(getenv(v.name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return errors.Wrapf(err, "%s", v.name)
		}
		*v.dst = n
	}

	if s := strings.TrimSpace(getenv(EnvStorage)); s != "" {
		c.StorageDriver = s
	}
	if s := strings.TrimSpace(getenv(EnvStorageDir)); s != "" {
		c.StorageDir = s
	}
	if s := strings.TrimSpace(getenv(EnvDatabaseURL)); s != "" {
		c.DatabaseURL = s
	}
	if s := strings.TrimSpace(getenv(EnvLogLevel)); s != "" {
		c.LogLevel = s
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	switch c.StorageDriver {
	case DriverMemory:
	case DriverJSON:
		if c.StorageDir == "" {
			return errors.New("storage-dir is required for the json driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.Errorf("%s or -database-url is required for the postgres driver", EnvDatabaseURL)
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.KeyBits < encryption.MinKeySize || c.KeyBits%2 != 0 {
		return errors.Errorf("key-bits must be an even number >= %d, got %d", encryption.MinKeySize, c.KeyBits)
	}
	if c.KDFIterations < keyvault.MinIterations {
		return errors.Errorf("kdf-iterations must be at least %d, got %d", keyvault.MinIterations, c.KDFIterations)
	}
	if c.TallyWorkers < 0 {
		return errors.Errorf("tally-workers must not be negative, got %d", c.TallyWorkers)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log-level")
	}
	if len(c.MasterKey) != keyvault.MasterKeySize {
		return errors.Errorf("master key must be %d bytes", keyvault.MasterKeySize)
	}
	return nil
}

// ParseMasterKey decodes the hex master secret. A 0x prefix is optional.
func ParseMasterKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingMasterKey
	}
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	key, err := hexutil.Decode(strings.ToLower(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "%s is not valid hex", EnvMasterKey)
	}
	if len(key) != keyvault.MasterKeySize {
		return nil, errors.Errorf("%s must decode to %d bytes, got %d", EnvMasterKey, keyvault.MasterKeySize, len(key))
	}
	return key, nil
}

// Logger builds the process logger. Console output is meant for terminals.
func (c *Config) Logger(out io.Writer, console bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if out == nil {
		out = os.Stderr
	}
	if console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
