package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName  string
		Env      string
		Debug    bool
		TestMode bool
		Build    string

		SecretKey        string
		DefaultFromEmail mail.Address
		AdminEmail       mail.Address
		RollbarToken     string
		SendgridApiKey   string

		Learner LearnerConfig
		Server  ServerConfig
		Sync    SyncConfig
		Storage StorageConfig
	}

	// LearnerConfig identifies the learner session this agent records progress for.
	LearnerConfig struct {
		ID    string
		Email string
	}

	ServerConfig struct {
		Host            string
		Addr            string
		DebugAddr       string
		ShutdownTimeout time.Duration
	}

	SyncConfig struct {
		BaseURL          string
		MaxQueueSize     int
		MaxRetryAttempts int
		RetryDelay       time.Duration
		Interval         time.Duration
		BatchSize        int
		RequestTimeout   time.Duration
		TokenTTL         time.Duration
		ProbeURL         string
		ProbeInterval    time.Duration
	}

	StorageConfig struct {
		Engine string // "sqlite" | "inmem"
		Path   string
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Maendeleo")
	v.SetDefault("build", "dev")
	v.SetDefault("secretKey", "k3u$!mwanafunzi+hakuna((matata))x7=vigumu&sana")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("adminEmail", "ops@localhost")
	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddr", ":8050")
	v.SetDefault("serverDebugAddr", ":8060")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("syncBaseUrl", "http://localhost:8000")
	v.SetDefault("syncMaxQueueSize", 100)
	v.SetDefault("syncMaxRetryAttempts", 3)
	v.SetDefault("syncRetryDelay", 5*time.Second)
	v.SetDefault("syncInterval", 60*time.Second)
	v.SetDefault("syncBatchSize", 10)
	v.SetDefault("syncRequestTimeout", 15*time.Second)
	v.SetDefault("syncTokenTtl", 4*time.Hour)
	v.SetDefault("syncProbeInterval", 30*time.Second)
	v.SetDefault("storageEngine", "sqlite")
	v.SetDefault("storagePath", filepath.Join(Getwd(), "maendeleo.db"))

	var testMode bool
	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		testMode = true
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		AppName:          v.GetString("appName"),
		Env:              env,
		Debug:            v.GetBool("debug"),
		TestMode:         testMode,
		Build:            v.GetString("build"),
		SecretKey:        v.GetString("secretKey"),
		DefaultFromEmail: mail.Address{Name: v.GetString("appName"), Address: v.GetString("defaultFromEmail")},
		AdminEmail:       mail.Address{Address: v.GetString("adminEmail")},
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		Learner: LearnerConfig{
			ID:    v.GetString("learnerId"),
			Email: v.GetString("learnerEmail"),
		},
		Server: ServerConfig{
			Host:            v.GetString("serverHost"),
			Addr:            v.GetString("serverAddr"),
			DebugAddr:       v.GetString("serverDebugAddr"),
			ShutdownTimeout: v.GetDuration("serverShutdownTimeout"),
		},
		Sync: SyncConfig{
			BaseURL:          v.GetString("syncBaseUrl"),
			MaxQueueSize:     v.GetInt("syncMaxQueueSize"),
			MaxRetryAttempts: v.GetInt("syncMaxRetryAttempts"),
			RetryDelay:       v.GetDuration("syncRetryDelay"),
			Interval:         v.GetDuration("syncInterval"),
			BatchSize:        v.GetInt("syncBatchSize"),
			RequestTimeout:   v.GetDuration("syncRequestTimeout"),
			TokenTTL:         v.GetDuration("syncTokenTtl"),
			ProbeURL:         v.GetString("syncProbeUrl"),
			ProbeInterval:    v.GetDuration("syncProbeInterval"),
		},
		Storage: StorageConfig{
			Engine: v.GetString("storageEngine"),
			Path:   v.GetString("storagePath"),
		},
	}
}
