package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ihavespoons/ctxai/internal/embedding"
	"github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used in the OS keychain
const KeyringService = "ctxai"

// Where an API key was found
const (
	KeySourceConfig  = "config"
	KeySourceEnv     = "env"
	KeySourceKeyring = "keyring"
	KeySourceNone    = ""
)

func keyringUser(provider string) string {
	return provider + "-api-key"
}

func apiKeyEnv(cfg *embedding.Config) string {
	if cfg.APIKeyEnv != "" {
		return cfg.APIKeyEnv
	}
	if def, ok := embedding.DefaultConfigs[cfg.Provider]; ok {
		return def.APIKeyEnv
	}
	return ""
}

// LookupAPIKey finds the key for cfg's provider: the literal config value,
// then the environment variable, then the OS keychain.
func LookupAPIKey(cfg *embedding.Config) (key, source string) {
	if cfg.APIKey != "" {
		return cfg.APIKey, KeySourceConfig
	}
	if env := apiKeyEnv(cfg); env != "" {
		if v := os.Getenv(env); v != "" {
			return v, KeySourceEnv
		}
	}

	v, err := keyring.Get(KeyringService, keyringUser(cfg.Provider))
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			logrus.WithError(err).Debug("keychain lookup failed")
		}
		return "", KeySourceNone
	}
	return v, KeySourceKeyring
}

// ResolveAPIKey fills cfg.APIKey from the keychain when neither the config
// nor the environment provide one. Providers without keys are left alone.
// Call it on a copy that is never saved, or the key lands in config.yaml.
func ResolveAPIKey(cfg *embedding.Config) {
	if !embedding.NeedsAPIKey(cfg.Provider) {
		return
	}
	key, source := LookupAPIKey(cfg)
	if source == KeySourceKeyring {
		cfg.APIKey = key
	}
}

// SetAPIKey stores a provider's API key in the OS keychain
func SetAPIKey(provider, key string) error {
	if key == "" {
		return fmt.Errorf("api key cannot be empty")
	}
	if err := keyring.Set(KeyringService, keyringUser(provider), key); err != nil {
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}
	logrus.WithField("provider", provider).Info("api key saved to keychain")
	return nil
}

// DeleteAPIKey removes a provider's API key from the OS keychain
func DeleteAPIKey(provider string) error {
	err := keyring.Delete(KeyringService, keyringUser(provider))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}
	return nil
}
