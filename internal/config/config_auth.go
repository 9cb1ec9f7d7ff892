package config

import (
	"time"

	"github.com/haasonsaas/tandem/internal/auth"
)

type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}

// ServiceConfig converts the YAML section into the auth service config.
func (c AuthConfig) ServiceConfig() auth.Config {
	keys := make([]auth.APIKeyConfig, 0, len(c.APIKeys))
	for _, key := range c.APIKeys {
		keys = append(keys, auth.APIKeyConfig{
			Key:    key.Key,
			UserID: key.UserID,
			Email:  key.Email,
			Name:   key.Name,
		})
	}
	return auth.Config{
		JWTSecret:   c.JWTSecret,
		TokenExpiry: c.TokenExpiry,
		APIKeys:     keys,
	}
}
