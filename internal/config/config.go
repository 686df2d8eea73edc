package config

import (
	"encoding/base64"
	"fmt"
)

const (
	AuthModeJWT     = "jwt"
	AuthModeSession = "session"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AuthMode       string
	AllowedOrigins []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret, authMode string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if authMode != AuthModeJWT && authMode != AuthModeSession {
		return nil, fmt.Errorf("unknown auth mode %q", authMode)
	}
	if authMode == AuthModeJWT && base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty in jwt mode")
	}

	var signingKey []byte
	if base64Secret != "" {
		var err error
		signingKey, err = decodeSigningSecret(base64Secret)
		if err != nil {
			return nil, fmt.Errorf("decode signing secret: %w", err)
		}
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AuthMode:       authMode,
		AllowedOrigins: allowedOrigins,
	}, nil
}
