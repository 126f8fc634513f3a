package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"artfightwatch/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Origin  OriginConfig  `yaml:"origin" mapstructure:"origin"`
	Auth    AuthConfig    `yaml:"auth" mapstructure:"auth"`
	Poll    PollConfig    `yaml:"poll" mapstructure:"poll"`
	Teams   TeamsConfig   `yaml:"teams" mapstructure:"teams"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Feed    FeedConfig    `yaml:"feed" mapstructure:"feed"`
	Discord DiscordConfig `yaml:"discord" mapstructure:"discord"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`

	Subjects  []model.Subject `yaml:"subjects" mapstructure:"subjects"`
	Whitelist []string        `yaml:"whitelist" mapstructure:"whitelist"`
}

// OriginConfig points at the scraped site.
type OriginConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// URL returns the base URL without a trailing slash.
func (o OriginConfig) URL() string {
	return strings.TrimRight(o.BaseURL, "/")
}

// AuthConfig holds the session cookies sent with every origin request.
// The values are opaque credential blobs; refresh is an external concern.
type AuthConfig struct {
	LaravelSession string `yaml:"laravel_session" mapstructure:"laravel_session"`
	CFClearance    string `yaml:"cf_clearance" mapstructure:"cf_clearance"`
	RememberWeb    string `yaml:"remember_web" mapstructure:"remember_web"`
}

// PollConfig controls poll cadence and politeness toward the origin.
type PollConfig struct {
	RequestIntervalSecs   int     `yaml:"request_interval_secs" mapstructure:"request_interval_secs"`
	TeamIntervalSecs      int     `yaml:"team_interval_secs" mapstructure:"team_interval_secs"`
	PageDelaySecs         float64 `yaml:"page_delay_secs" mapstructure:"page_delay_secs"`
	PageDelayWobble       float64 `yaml:"page_delay_wobble" mapstructure:"page_delay_wobble"`
	MaxPages              int     `yaml:"max_pages" mapstructure:"max_pages"`
	CacheTTLSecs          int     `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	CacheCleanupIntervalS int     `yaml:"cache_cleanup_interval_secs" mapstructure:"cache_cleanup_interval_secs"`
}

// RequestInterval returns the per-bucket minimum spacing between requests.
func (p PollConfig) RequestInterval() time.Duration {
	return time.Duration(p.RequestIntervalSecs) * time.Second
}

// TeamInterval returns the standings poll interval.
func (p PollConfig) TeamInterval() time.Duration {
	return time.Duration(p.TeamIntervalSecs) * time.Second
}

// PageDelay returns the base delay between pages of one pagination walk.
func (p PollConfig) PageDelay() time.Duration {
	return time.Duration(p.PageDelaySecs * float64(time.Second))
}

// CacheTTL returns the lifetime of ephemeral cache entries.
func (p PollConfig) CacheTTL() time.Duration {
	return time.Duration(p.CacheTTLSecs) * time.Second
}

// CacheCleanupInterval returns how often expired cache rows are purged.
func (p PollConfig) CacheCleanupInterval() time.Duration {
	return time.Duration(p.CacheCleanupIntervalS) * time.Second
}

// TeamConfig describes one of the two event teams.
type TeamConfig struct {
	Name     string `yaml:"name" mapstructure:"name"`
	Color    string `yaml:"color" mapstructure:"color"`
	ImageURL string `yaml:"image_url" mapstructure:"image_url"`
}

// TeamsConfig holds both teams plus the color-match tolerance used when a
// progress bar's fill color is close to, but not exactly, a reference color.
type TeamsConfig struct {
	Team1          TeamConfig `yaml:"team1" mapstructure:"team1"`
	Team2          TeamConfig `yaml:"team2" mapstructure:"team2"`
	ColorTolerance float64    `yaml:"color_tolerance" mapstructure:"color_tolerance"`
}

// Configured reports whether reference colors are available for both teams.
func (t TeamsConfig) Configured() bool {
	return t.Team1.Color != "" && t.Team2.Color != ""
}

// DisplayName resolves a side to its configured name, falling back to a
// generic label when teams are not configured.
func (t TeamsConfig) DisplayName(team model.Team) string {
	switch team {
	case model.Team1:
		if t.Team1.Name != "" {
			return t.Team1.Name
		}
		return "Team 1"
	case model.Team2:
		if t.Team2.Name != "" {
			return t.Team2.Name
		}
		return "Team 2"
	case model.TeamTied:
		return "Tied"
	default:
		return "Unknown"
	}
}

// StoreConfig configures the persistence layer.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// FeedConfig bounds outward feed generation.
type FeedConfig struct {
	MaxItems        int `yaml:"max_items" mapstructure:"max_items"`
	MaxUsersPerFeed int `yaml:"max_users_per_feed" mapstructure:"max_users_per_feed"`
}

// DiscordConfig configures the webhook notifier. An empty URL disables it.
type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/artfightwatch")

	// Environment
	v.SetEnvPrefix("ARTFIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("origin.base_url", "https://artfight.net")
	v.SetDefault("poll.request_interval_secs", 300)
	v.SetDefault("poll.team_interval_secs", 3600)
	v.SetDefault("poll.page_delay_secs", 3.0)
	v.SetDefault("poll.page_delay_wobble", 0.2)
	v.SetDefault("poll.max_pages", 20)
	v.SetDefault("poll.cache_ttl_secs", 3600)
	v.SetDefault("poll.cache_cleanup_interval_secs", 1800)
	v.SetDefault("teams.color_tolerance", 30.0)
	v.SetDefault("store.path", "data/artfightwatch.db")
	v.SetDefault("feed.max_items", 50)
	v.SetDefault("feed.max_users_per_feed", 5)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the poller cannot operate with.
func (c *Config) Validate() error {
	if c.Feed.MaxItems < 1 {
		return eris.Errorf("config: feed.max_items must be at least 1, got %d", c.Feed.MaxItems)
	}
	if c.Feed.MaxUsersPerFeed < 1 {
		return eris.Errorf("config: feed.max_users_per_feed must be at least 1, got %d", c.Feed.MaxUsersPerFeed)
	}
	if c.Poll.MaxPages < 1 {
		return eris.Errorf("config: poll.max_pages must be at least 1, got %d", c.Poll.MaxPages)
	}
	if c.Poll.PageDelayWobble < 0 || c.Poll.PageDelayWobble >= 1 {
		return eris.Errorf("config: poll.page_delay_wobble must be in [0,1), got %g", c.Poll.PageDelayWobble)
	}
	return nil
}

// EnabledSubjects filters the configured subject list down to active ones.
func (c *Config) EnabledSubjects() []string {
	var names []string
	for _, s := range c.Subjects {
		if s.Enabled {
			names = append(names, s.Username)
		}
	}
	return names
}

// Whitelisted reports whether feed access for the username is allowed.
// An empty whitelist allows everyone.
func (c *Config) Whitelisted(username string) bool {
	if len(c.Whitelist) == 0 {
		return true
	}
	for _, w := range c.Whitelist {
		if w == username {
			return true
		}
	}
	return false
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
