package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Config holds all configuration for the application
type Config struct {
	Archive   ArchiveConfig
	Resolver  ResolverConfig
	Media     MediaConfig
	Filter    FilterConfig
	Output    OutputConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Server    ServerConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig

	// DryRun suppresses every filesystem mutation (writes, deletes, renames)
	DryRun bool
}

// ArchiveConfig locates the unzipped archive and the files derived from it
type ArchiveConfig struct {
	Dir        string
	OutputDir  string
	TweetsFile string
	UsersFile  string
	URLsFile   string
}

// ResolverConfig holds URL resolution configuration
type ResolverConfig struct {
	ConnectTimeout time.Duration
	MaxTime        time.Duration
	SaveEvery      int
	SleepUnder     time.Duration
	Sleep          time.Duration
	Force          bool
	Offline        bool
	ProbeStatus    bool
	Seed           int64
	Expand         bool
	Resolve        bool
}

// MediaConfig holds local media association configuration
type MediaConfig struct {
	Local      bool
	PathPrefix string
	Delete     bool
}

// FilterConfig holds record filter configuration
type FilterConfig struct {
	DateFrom     string
	DateTo       string
	Regexp       string
	RegexpSave   string
	NoRetweets   bool
	NoMentions   bool
	RequiredKeys []string
	KeysFilter   []string
	KeysRemove   []string
}

// OutputConfig holds output configuration
type OutputConfig struct {
	Format          string // "json", "csv" or "txt"
	Filename        string
	GrailbirdDir    string
	GrailbirdImport string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL     string
	Enabled bool
	TTL     time.Duration
}

// DatabaseConfig holds the optional SQL export configuration
type DatabaseConfig struct {
	URL     string
	Enabled bool
}

// ServerConfig holds preview server configuration
type ServerConfig struct {
	Port int
	Host string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string
	Format       string // "json" or "text"
	ScalyrFormat bool   // Enable Scalyr-compatible JSON format
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled           bool
	JaegerURL         string
	PrometheusEnabled bool
	PrometheusPort    int
	ServiceName       string
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	// Set defaults
	setDefaults()

	// Load from environment
	viper.SetEnvPrefix("TWEETS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Load from config file if exists
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.tweets")
	viper.AddConfigPath("/etc/tweets")

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found; this is OK if we have env vars or flags
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	offline := getBool("offline", false)
	resolve := getBool("urls_resolve", false)

	cfg := &Config{
		Archive: ArchiveConfig{
			Dir:        getString("dir", "."),
			OutputDir:  getString("dir_output", ""),
			TweetsFile: getString("tweets_file", "tweet.js"),
			UsersFile:  getString("users_file", "users.json"),
			URLsFile:   getString("urls_file", "urls.json"),
		},
		Resolver: ResolverConfig{
			ConnectTimeout: getDuration("connect_timeout", 3*time.Second),
			MaxTime:        getDuration("max_time", 30*time.Second),
			SaveEvery:      getInt("save_every", defaultSaveEvery(offline)),
			SleepUnder:     getDuration("sleep_under", 300*time.Millisecond),
			Sleep:          getDuration("sleep", 100*time.Millisecond),
			Force:          getBool("force", false),
			Offline:        offline,
			ProbeStatus:    getBool("probe_status", true),
			Seed:           int64(getInt("seed", 0)),
			// resolving implies expanding
			Expand:  resolve || getBool("urls_expand", false),
			Resolve: resolve,
		},
		Media: MediaConfig{
			Local:      getBool("local", false),
			PathPrefix: getString("path_prefix", ""),
			Delete:     getBool("delete", false),
		},
		Filter: FilterConfig{
			DateFrom:     getString("date_from", ""),
			DateTo:       getString("date_to", ""),
			Regexp:       getString("regexp", ""),
			RegexpSave:   getString("regexp_save", ""),
			NoRetweets:   getBool("no_retweets", false),
			NoMentions:   getBool("no_mentions", false),
			RequiredKeys: getList("keys_required"),
			KeysFilter:   getList("keys_filter"),
			KeysRemove:   getList("keys_remove"),
		},
		Output: OutputConfig{
			Format:          strings.ToLower(getString("format", "json")),
			Filename:        getString("filename", ""),
			GrailbirdDir:    getString("grailbird", ""),
			GrailbirdImport: getString("grailbird_import", ""),
		},
		Redis: RedisConfig{
			URL:     getString("redis_url", ""),
			Enabled: getString("redis_url", "") != "",
			TTL:     getDuration("redis_ttl", 30*24*time.Hour),
		},
		Database: DatabaseConfig{
			URL:     getString("database_url", ""),
			Enabled: getString("database_url", "") != "",
		},
		Server: ServerConfig{
			Port: getInt("http_server_port", 8080),
			Host: getString("http_server_host", "127.0.0.1"),
		},
		Logging: LoggingConfig{
			Level:        getString("log_level", "INFO"),
			Format:       getString("log_format", "text"),
			ScalyrFormat: getBool("log_scalyr_format", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:           getBool("telemetry_enabled", false),
			JaegerURL:         getString("jaeger_url", ""),
			PrometheusEnabled: getBool("prometheus_enabled", false),
			PrometheusPort:    getInt("prometheus_port", 9090),
			ServiceName:       getString("service_name", "tweets"),
		},
		DryRun: getBool("test", false),
	}

	if cfg.Archive.OutputDir == "" {
		cfg.Archive.OutputDir = cfg.Archive.Dir
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaultSaveEvery(offline bool) int {
	if offline {
		return 500
	}
	return 125
}

func setDefaults() {
	viper.SetDefault("dir", ".")
	viper.SetDefault("tweets_file", "tweet.js")
	viper.SetDefault("users_file", "users.json")
	viper.SetDefault("urls_file", "urls.json")
	viper.SetDefault("format", "json")
	viper.SetDefault("connect_timeout", 3*time.Second)
	viper.SetDefault("max_time", 30*time.Second)
	viper.SetDefault("sleep_under", 300*time.Millisecond)
	viper.SetDefault("sleep", 100*time.Millisecond)
	viper.SetDefault("probe_status", true)
	viper.SetDefault("redis_ttl", 30*24*time.Hour)
	viper.SetDefault("http_server_port", 8080)
	viper.SetDefault("http_server_host", "127.0.0.1")
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("log_scalyr_format", false)
	viper.SetDefault("telemetry_enabled", false)
	viper.SetDefault("prometheus_enabled", false)
	viper.SetDefault("prometheus_port", 9090)
	viper.SetDefault("service_name", "tweets")
}

func getString(key, defaultValue string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	// Also check environment variable directly
	if val := os.Getenv("TWEETS_" + toEnvKey(key)); val != "" {
		return val
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	if val := os.Getenv("TWEETS_" + toEnvKey(key)); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	if val := os.Getenv("TWEETS_" + toEnvKey(key)); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	if val := os.Getenv("TWEETS_" + toEnvKey(key)); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultValue
}

// getList reads a comma-separated list, e.g. "id,created_at,text"
func getList(key string) []string {
	raw := viper.GetStringSlice(key)
	if len(raw) == 0 {
		if val := os.Getenv("TWEETS_" + toEnvKey(key)); val != "" {
			raw = []string{val}
		}
	}
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func toEnvKey(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}

// Validate validates the configuration, collecting every problem found
func (c *Config) Validate() error {
	var errs error

	if c.Archive.Dir == "" {
		errs = multierr.Append(errs, fmt.Errorf("you must specify a valid directory"))
	} else if fi, err := os.Stat(c.Archive.Dir); err != nil || !fi.IsDir() {
		errs = multierr.Append(errs, fmt.Errorf("you must specify a valid directory: %s", c.Archive.Dir))
	}
	if c.Archive.OutputDir != "" && c.Archive.OutputDir != c.Archive.Dir {
		if fi, err := os.Stat(c.Archive.OutputDir); err != nil || !fi.IsDir() {
			errs = multierr.Append(errs, fmt.Errorf("you must specify a valid output directory: %s", c.Archive.OutputDir))
		}
	}
	if c.Output.GrailbirdDir != "" {
		if fi, err := os.Stat(c.Output.GrailbirdDir); err != nil || !fi.IsDir() {
			errs = multierr.Append(errs, fmt.Errorf("you must specify a valid grailbird output directory: %s", c.Output.GrailbirdDir))
		}
	}
	if c.Output.GrailbirdImport != "" {
		if fi, err := os.Stat(c.Output.GrailbirdImport); err != nil || !fi.IsDir() {
			errs = multierr.Append(errs, fmt.Errorf("you must specify a valid grailbird import directory: %s", c.Output.GrailbirdImport))
		}
	}
	switch c.Output.Format {
	case "json", "csv", "txt":
	default:
		errs = multierr.Append(errs, fmt.Errorf("format must be one of json, csv, txt: %q", c.Output.Format))
	}
	if c.Resolver.SaveEvery <= 0 || c.Resolver.SaveEvery > 100000 {
		errs = multierr.Append(errs, fmt.Errorf("save_every must be between 1 and 100000"))
	}
	if c.Resolver.ConnectTimeout <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("connect_timeout must be positive"))
	}
	if c.Resolver.MaxTime < c.Resolver.ConnectTimeout {
		errs = multierr.Append(errs, fmt.Errorf("max_time must not be shorter than connect_timeout"))
	}
	if c.Filter.RegexpSave != "" && c.Filter.Regexp == "" {
		errs = multierr.Append(errs, fmt.Errorf("regexp_save requires regexp"))
	}
	errs = multierr.Append(errs, c.Filter.check(time.Now()))
	return errs
}
