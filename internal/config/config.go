// Package config loads the hostcrypto configuration file.
//
// The file is YAML. Values missing from the file keep the defaults of
// Default. Secrets never appear in the file: the HSM PIN is read from the
// environment variable named by engine.pkcs11.pin_env.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/remiblancher/hostcrypto/internal/engine/pkcs11"
	"github.com/remiblancher/hostcrypto/internal/hostrpc"
)

// Environment variables consulted when the matching flag is not set.
const (
	EnvConfig   = "HOSTCRYPTO_CONFIG"
	EnvAuditLog = "HOSTCRYPTO_AUDIT_LOG"
)

// Engine types
const (
	EngineSoft   = "soft"
	EnginePKCS11 = "pkcs11"
	EngineRemote = "remote"
)

// Log formats
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Config is the root of the configuration file.
type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Server ServerConfig `yaml:"server"`
	Audit  AuditConfig  `yaml:"audit"`
	Log    LogConfig    `yaml:"log"`
}

// EngineConfig selects and configures the host crypto engine.
type EngineConfig struct {
	Type   string        `yaml:"type" validate:"required,oneof=soft pkcs11 remote"`
	Soft   SoftConfig    `yaml:"soft"`
	PKCS11 pkcs11.Config `yaml:"pkcs11"`
	Remote RemoteConfig  `yaml:"remote"`
}

// SoftConfig configures the software engine. An empty StoreDir keeps saved
// keys in memory.
type SoftConfig struct {
	StoreDir string `yaml:"store_dir"`
}

// RemoteConfig configures the remote engine.
type RemoteConfig struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	H2C     bool          `yaml:"h2c"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// ServerConfig configures the host RPC server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"gte=0,lte=65535"`
	TLSCert         string        `yaml:"tls_cert" validate:"required_with=TLSKey"`
	TLSKey          string        `yaml:"tls_key" validate:"required_with=TLSCert"`
	H2C             bool          `yaml:"h2c"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// AuditConfig configures the audit trail. An empty Log disables it.
type AuditConfig struct {
	Log string `yaml:"log"`
}

// LogConfig configures technical logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"required,oneof=trace debug info warn error disabled"`
	Format string `yaml:"format" validate:"required,oneof=console json"`
}

// Default returns the configuration used when no file is given: the
// software engine with an in-memory store.
func Default() *Config {
	srv := hostrpc.DefaultConfig()
	return &Config{
		Engine: EngineConfig{
			Type:   EngineSoft,
			Remote: RemoteConfig{Timeout: 30 * time.Second},
		},
		Server: ServerConfig{
			Host:            srv.Host,
			Port:            srv.Port,
			ReadTimeout:     srv.ReadTimeout,
			WriteTimeout:    srv.WriteTimeout,
			IdleTimeout:     srv.IdleTimeout,
			ShutdownTimeout: srv.ShutdownTimeout,
		},
		Log: LogConfig{Level: "info", Format: LogFormatConsole},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve loads the file named by path, or by $HOSTCRYPTO_CONFIG when path
// is empty, or returns Default when neither is set. $HOSTCRYPTO_AUDIT_LOG
// fills audit.log when the file leaves it empty.
func Resolve(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if cfg.Audit.Log == "" {
		cfg.Audit.Log = os.Getenv(EnvAuditLog)
	}
	return cfg, nil
}

// Validate checks field constraints and the section of the selected engine.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	switch c.Engine.Type {
	case EnginePKCS11:
		if err := c.Engine.PKCS11.Validate(); err != nil {
			return err
		}
	case EngineRemote:
		if c.Engine.Remote.URL == "" {
			return fmt.Errorf("engine.remote.url is required for the remote engine")
		}
	}
	return nil
}

// RPC returns the host RPC server configuration.
func (s ServerConfig) RPC() *hostrpc.Config {
	return &hostrpc.Config{
		Host:            s.Host,
		Port:            s.Port,
		TLSCert:         s.TLSCert,
		TLSKey:          s.TLSKey,
		H2C:             s.H2C,
		ReadTimeout:     s.ReadTimeout,
		WriteTimeout:    s.WriteTimeout,
		IdleTimeout:     s.IdleTimeout,
		ShutdownTimeout: s.ShutdownTimeout,
	}
}

// Client returns the remote engine client configuration.
func (r RemoteConfig) Client() hostrpc.ClientConfig {
	return hostrpc.ClientConfig{URL: r.URL, H2C: r.H2C, Timeout: r.Timeout}
}
