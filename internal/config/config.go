package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version information - set by GoReleaser during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("hublink version %s, commit %s, built at %s", version, commit, date)
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	HubSpot HubSpotConfig `mapstructure:"hubspot"`
	Session SessionConfig `mapstructure:"session"`
	Store   StoreConfig   `mapstructure:"store"`
	Flow    FlowConfig    `mapstructure:"flow"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	AllowOrigins []string      `mapstructure:"allow_origins"`
}

type LoggingConfig struct {
	Level             string `mapstructure:"level"`
	Format            string `mapstructure:"format"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

// HubSpotConfig holds the OAuth application settings for HubSpot.
// ClientID, ClientSecret and RedirectURI come from the app registration;
// the URL fields exist so tests can point the provider at a local server.
type HubSpotConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURI  string   `mapstructure:"redirect_uri"`
	Scopes       []string `mapstructure:"scopes"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	APIBaseURL   string   `mapstructure:"api_base_url"`
}

// SessionConfig configures the signed session context that carries
// user/org identity across request boundaries.
type SessionConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// StoreConfig configures the ephemeral key-value store. Address is kept
// for a future networked store; the in-memory store ignores it.
type StoreConfig struct {
	Address       string        `mapstructure:"address"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// FlowConfig bounds the lifetime of pending OAuth flow entries.
type FlowConfig struct {
	StateTTL      time.Duration `mapstructure:"state_ttl"`
	CredentialTTL time.Duration `mapstructure:"credential_ttl"`
}

// InitFlags initializes command line flags (without parsing)
func InitFlags() {
	pflag.String("config", "", "Path to the config file")
	pflag.Int("port", 0, "Server port (overrides config)")
	// Note: no pflag.Parse() here as it's called in main.go
}

func Load() (*Config, error) {
	viper.Reset() // Ensure clean state

	viper.SetEnvPrefix("HUBLINK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	setDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hublink")
	}

	if err := viper.ReadInConfig(); err != nil {
		// A config file is optional; env vars alone can configure the service
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if port := viper.GetInt("port"); port != 0 {
		config.Server.Port = port
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.allow_origins", []string{"http://localhost:3000"})
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
	viper.SetDefault("hubspot.scopes", []string{"crm.objects.contacts.read"})
	viper.SetDefault("hubspot.auth_url", "https://app.hubspot.com/oauth/authorize")
	viper.SetDefault("hubspot.token_url", "https://api.hubapi.com/oauth/v1/token")
	viper.SetDefault("hubspot.api_base_url", "https://api.hubapi.com")
	viper.SetDefault("session.ttl", time.Hour)
	viper.SetDefault("store.sweep_interval", time.Minute)
	viper.SetDefault("flow.state_ttl", 10*time.Minute)
	viper.SetDefault("flow.credential_ttl", 10*time.Minute)
}

func (c *Config) validate() error {
	if c.HubSpot.ClientID == "" {
		return fmt.Errorf("hubspot.client_id is required, please adjust the config or set HUBLINK_HUBSPOT_CLIENT_ID")
	}
	if c.HubSpot.ClientSecret == "" {
		return fmt.Errorf("hubspot.client_secret is required, please adjust the config or set HUBLINK_HUBSPOT_CLIENT_SECRET")
	}
	if c.HubSpot.RedirectURI == "" {
		return fmt.Errorf("hubspot.redirect_uri is required, please adjust the config or set HUBLINK_HUBSPOT_REDIRECT_URI")
	}
	if c.Session.Secret == "" {
		return fmt.Errorf("session.secret is required, please adjust the config or set HUBLINK_SESSION_SECRET")
	}
	return nil
}
