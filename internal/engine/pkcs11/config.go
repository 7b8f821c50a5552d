// Package pkcs11 implements a host crypto engine backed by a PKCS#11 token.
//
// Keys are token objects whose CKA_ID is the key id. Unsaved keys are
// session objects; saving copies them to the token under CKA_LABEL = alias
// together with a CKO_DATA object holding the key descriptor. Without cgo
// the package builds a stub whose constructor fails.
package pkcs11

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config selects the PKCS#11 module and token.
type Config struct {
	// Lib is the path to the PKCS#11 library (.so/.dylib/.dll)
	Lib string `yaml:"lib"`

	// Token identifies the token by label (recommended)
	Token string `yaml:"token"`

	// TokenSerial identifies the token by serial number (more precise)
	TokenSerial string `yaml:"token_serial"`

	// Slot identifies the token by slot ID (less portable)
	Slot *uint `yaml:"slot"`

	// PinEnv is the name of the environment variable containing the PIN
	PinEnv string `yaml:"pin_env"`
}

// LoadConfig loads a token configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PKCS#11 config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse PKCS#11 config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PKCS#11 config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration names a library, a token and a
// PIN variable.
func (c *Config) Validate() error {
	if c.Lib == "" {
		return fmt.Errorf("pkcs11.lib is required")
	}

	if c.Token == "" && c.TokenSerial == "" && c.Slot == nil {
		return fmt.Errorf("at least one of pkcs11.token, pkcs11.token_serial, or pkcs11.slot is required")
	}

	if c.PinEnv == "" {
		return fmt.Errorf("pkcs11.pin_env is required (PIN must be provided via environment variable)")
	}

	return nil
}

// PIN reads the user PIN from the configured environment variable.
func (c *Config) PIN() (string, error) {
	pin := os.Getenv(c.PinEnv)
	if pin == "" {
		return "", fmt.Errorf("environment variable %s is not set or empty", c.PinEnv)
	}
	return pin, nil
}

// SlotInfo describes one slot of a PKCS#11 module.
type SlotInfo struct {
	ID           uint
	Description  string
	TokenLabel   string
	TokenSerial  string
	Manufacturer string
	HasToken     bool
}

// ModuleInfo lists the slots of a PKCS#11 module.
type ModuleInfo struct {
	ModulePath string
	Slots      []SlotInfo
}
