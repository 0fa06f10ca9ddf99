package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Host          string
		Port          string
		Name          string
		DisableTLS    bool
	}

	PollerConfig struct {
		Enabled  bool
		Schedule string
		// WindowBefore and WindowAfter bound the class start times picked up by a tick.
		WindowBefore time.Duration
		WindowAfter  time.Duration
		// AnyDate makes a record of any day count in the existence check.
		// When unset, only records of the session day count.
		AnyDate bool
	}

	Config struct {
		Debug        bool
		TestMode     bool
		Env          string
		Build        string
		AppName      string
		SecretKey    string
		RollbarToken string
		Timezone     string
		Server       ServerConfig
		Database     DatabaseConfig
		Poller       PollerConfig

		location *time.Location
	}
)

func (dbc DatabaseConfig) Address() string {
	if dbc.Port == "" {
		return dbc.Host
	}
	return dbc.Host + ":" + dbc.Port
}

// Location returns the business timezone used to derive calendar days.
func (conf *Config) Location() *time.Location {
	if conf.location == nil {
		loc, err := time.LoadLocation(conf.Timezone)
		if err != nil {
			return time.UTC
		}
		conf.location = loc
	}
	return conf.location
}

func (conf *Config) Validate() error {
	if conf.SecretKey == "" {
		return errors.New("secretKey is empty")
	}
	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		return errors.Wrapf(err, "loading timezone %q", conf.Timezone)
	}
	conf.location = loc
	if _, err = cron.ParseStandard(conf.Poller.Schedule); err != nil {
		return errors.Wrapf(err, "parsing poller schedule %q", conf.Poller.Schedule)
	}
	if conf.Poller.WindowBefore < 0 || conf.Poller.WindowAfter < 0 {
		return errors.New("poller window bounds must not be negative")
	}
	return nil
}

func newViper() (*viper.Viper, string) {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Mahudhurio")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "x7!q2m$kd0w+3ne@v8zr)pt#4uy(hs9c*gl^1bfa6oj_5ix")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.user", "mahudhurio")
	v.SetDefault("database.password", "mahudhurio")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "mahudhurio")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("poller.enabled", true)
	v.SetDefault("poller.schedule", "* * * * *")
	v.SetDefault("poller.windowBefore", 30*time.Second)
	v.SetDefault("poller.windowAfter", 60*time.Second)
	v.SetDefault("poller.anyDate", true)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

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
	return v, env
}

// NewConfig loads the app configuration from defaults, the optional .env.<env> file and the environment.
func NewConfig() *Config {
	v, env := newViper()
	conf := &Config{
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		Env:          env,
		Build:        v.GetString("build"),
		AppName:      v.GetString("appName"),
		SecretKey:    v.GetString("secretKey"),
		RollbarToken: v.GetString("rollbarToken"),
		Timezone:     v.GetString("timezone"),
		Server: ServerConfig{
			Host:               v.GetString("server.host"),
			DebugHost:          v.GetString("server.debugHost"),
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Poller: PollerConfig{
			Enabled:      v.GetBool("poller.enabled"),
			Schedule:     v.GetString("poller.schedule"),
			WindowBefore: v.GetDuration("poller.windowBefore"),
			WindowAfter:  v.GetDuration("poller.windowAfter"),
			AnyDate:      v.GetBool("poller.anyDate"),
		},
	}
	if err := conf.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	return conf
}

// NewTestConfig returns a Config suitable for unit tests. It never reads the environment.
func NewTestConfig() *Config {
	conf := &Config{
		Debug:     false,
		TestMode:  true,
		Env:       "TEST",
		Build:     "test",
		AppName:   "Mahudhurio",
		SecretKey: "test-secret",
		Timezone:  "UTC",
		Server: ServerConfig{
			Host:               ":0",
			ShutdownTimeout:    time.Second,
			JWTExpirationDelta: time.Hour,
		},
		Database: DatabaseConfig{Engine: "postgres"},
		Poller: PollerConfig{
			Enabled:      true,
			Schedule:     "* * * * *",
			WindowBefore: 30 * time.Second,
			WindowAfter:  60 * time.Second,
			AnyDate:      true,
		},
	}
	conf.location = time.UTC
	return conf
}
