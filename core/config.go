package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Debug   bool
	Env     string // DEV (default), TEST, QA, PROD
	AppName string
	Build   string

	// Credential Store (Cognito-compatible identity provider)
	CredentialEndpoint string
	CredentialClientID string

	// Course backend API
	APIBaseURL  string
	HTTPTimeout time.Duration

	// Session lifecycle
	TokenCachePath   string
	TokenExpiration  time.Duration // access/id token lifetime at the provider
	RefreshThreshold time.Duration // refresh this long before expiration; also the check interval
	SessionMaxAge    time.Duration // hard ceiling; refresh cannot extend it

	// Sign-up policy
	RequiredEmailSuffix string

	// Submissions
	MaxUploadBytes         int64
	DefaultApproveFeedback string

	RollbarToken string
}

func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Maabara")
	v.SetDefault("build", "dev")
	v.SetDefault("credentialEndpoint", "https://cognito-idp.us-east-1.amazonaws.com/")
	v.SetDefault("credentialClientId", "")
	v.SetDefault("apiBaseUrl", "http://localhost:3000/api")
	v.SetDefault("httpTimeout", 30*time.Second)
	v.SetDefault("tokenCachePath", defaultCachePath())
	v.SetDefault("tokenExpiration", time.Hour)
	v.SetDefault("refreshThreshold", 10*time.Minute)
	v.SetDefault("sessionMaxAge", 7*24*time.Hour)
	v.SetDefault("requiredEmailSuffix", "@gatech.edu")
	v.SetDefault("maxUploadBytes", int64(500*1024*1024))
	v.SetDefault("defaultApproveFeedback", "Great job!")
	v.SetDefault("rollbarToken", "")

	env := os.Getenv("ENV")
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Debug:                  v.GetBool("debug") && env != "PROD",
		Env:                    env,
		AppName:                v.GetString("appName"),
		Build:                  v.GetString("build"),
		CredentialEndpoint:     v.GetString("credentialEndpoint"),
		CredentialClientID:     v.GetString("credentialClientId"),
		APIBaseURL:             v.GetString("apiBaseUrl"),
		HTTPTimeout:            v.GetDuration("httpTimeout"),
		TokenCachePath:         v.GetString("tokenCachePath"),
		TokenExpiration:        v.GetDuration("tokenExpiration"),
		RefreshThreshold:       v.GetDuration("refreshThreshold"),
		SessionMaxAge:          v.GetDuration("sessionMaxAge"),
		RequiredEmailSuffix:    v.GetString("requiredEmailSuffix"),
		MaxUploadBytes:         v.GetInt64("maxUploadBytes"),
		DefaultApproveFeedback: v.GetString("defaultApproveFeedback"),
		RollbarToken:           v.GetString("rollbarToken"),
	}
}

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maabara.db"
	}
	return filepath.Join(home, ".maabara", "session.db")
}
