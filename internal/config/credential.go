package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrNoCredential is returned when neither credential variable is set
var ErrNoCredential = errors.New("no API key: set MURMUR_API_KEY or OPENAI_API_KEY")

// Env holds the secrets read from the environment rather than the config file
type Env struct {
	APIKey       string `envconfig:"MURMUR_API_KEY"`
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`
	BaseURL      string `envconfig:"MURMUR_BASE_URL"`
}

// Credential returns the API key, preferring murmur's own variable
func (e Env) Credential() (string, error) {
	if e.APIKey != "" {
		return e.APIKey, nil
	}
	if e.OpenAIAPIKey != "" {
		return e.OpenAIAPIKey, nil
	}
	return "", ErrNoCredential
}

// LoadEnv reads the environment after loading a .env file, if one exists.
// Variables already set in the environment win over the file.
func LoadEnv(dotenvPaths ...string) (Env, error) {
	if len(dotenvPaths) == 0 {
		dotenvPaths = []string{".env"}
	}
	for _, path := range dotenvPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return Env{}, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return Env{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return env, nil
}
