package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/django-entrypoint/internal/readiness"
	"github.com/eugenenazirov/django-entrypoint/internal/settings"
)

const (
	defaultProjectName  = "app"
	defaultSecretKey    = "django-insecure-change-me"
	defaultServerPort   = 20059
	defaultDBEngine     = "postgresql"
	defaultDBName       = "app"
	defaultDBUser       = "postgres"
	defaultDBPassword   = "postgres"
	defaultDBHost       = "db"
	defaultDBPort       = 5432
	defaultSQLiteDBName = "db.sqlite3"
	defaultPython       = "python3"
	defaultLogLevel     = "info"
	defaultLogFormat    = "console"
	defaultStatusRate   = 25
	defaultStatusBurst  = 50

	configFileEnv = "ENTRYPOINT_CONFIG"
)

var projectNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > Environment variables > YAML config > Defaults
type Config struct {
	ProjectDir          string        `yaml:"project_dir" env:"ENTRYPOINT_PROJECT_DIR"`
	Python              string        `yaml:"python" env:"ENTRYPOINT_PYTHON"`
	Requirements        string        `yaml:"requirements" env:"ENTRYPOINT_REQUIREMENTS"`
	InstallPackages     []string      `yaml:"install_packages" env:"ENTRYPOINT_INSTALL_PACKAGES"`
	SkipInstall         bool          `yaml:"skip_install" env:"ENTRYPOINT_SKIP_INSTALL"`
	CollectStatic       bool          `yaml:"collectstatic" env:"ENTRYPOINT_COLLECTSTATIC"`
	ServerCommand       []string      `yaml:"server_command" env:"ENTRYPOINT_SERVER_COMMAND" envSeparator:" "`
	StatusAddr          string        `yaml:"status_addr" env:"ENTRYPOINT_STATUS_ADDR"`
	StatusRateLimit     float64       `yaml:"status_rate_limit" env:"ENTRYPOINT_STATUS_RATE_LIMIT"`
	StatusBurst         int           `yaml:"status_burst" env:"ENTRYPOINT_STATUS_BURST"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period" env:"ENTRYPOINT_SHUTDOWN_GRACE_PERIOD"`
	LogLevel            string        `yaml:"log_level" env:"ENTRYPOINT_LOG_LEVEL"`
	LogFormat           string        `yaml:"log_format" env:"ENTRYPOINT_LOG_FORMAT"`
	Wait                Wait          `yaml:"wait" envPrefix:"ENTRYPOINT_WAIT_"`
	Django              Django        `yaml:"django" envPrefix:"DJANGO_"`
}

// Wait holds the readiness retry policy.
type Wait struct {
	MaxAttempts int           `yaml:"attempts" env:"ATTEMPTS"`
	Delay       time.Duration `yaml:"delay" env:"DELAY"`
	Multiplier  float64       `yaml:"multiplier" env:"MULTIPLIER"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Jitter      time.Duration `yaml:"jitter" env:"JITTER"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Django holds the values written into the project's settings module.
type Django struct {
	ProjectName  string   `yaml:"project_name" env:"PROJECT_NAME"`
	SecretKey    string   `yaml:"secret_key" env:"SECRET_KEY"`
	Debug        bool     `yaml:"debug" env:"DEBUG"`
	AllowedHosts []string `yaml:"allowed_hosts" env:"ALLOWED_HOSTS"`
	Port         int      `yaml:"port" env:"PORT"`
	OriginPort   int      `yaml:"origin_port" env:"ORIGIN_PORT"`
	TimeZone     string   `yaml:"time_zone" env:"TIME_ZONE"`
	UseTZ        bool     `yaml:"use_tz" env:"USE_TZ"`
	StaticURL    string   `yaml:"static_url" env:"STATIC_URL"`
	StaticRoot   string   `yaml:"static_root" env:"STATIC_ROOT"`
	RedisURL     string   `yaml:"redis_url" env:"REDIS_URL"`
	DB           Database `yaml:"db" envPrefix:"DB_"`
}

// Database holds connection settings for the application database.
type Database struct {
	Engine   string `yaml:"engine" env:"ENGINE"`
	Name     string `yaml:"name" env:"NAME"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile   string
	ProjectDir   *string
	ProjectName  *string
	Port         *int
	AllowedHosts *string
	WaitAttempts *int
	WaitDelay    *time.Duration
	StatusAddr   *string
	SkipInstall  *bool
	LogLevel     *string
	LogFormat    *string
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > Environment variables > YAML config > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	configFile := strings.TrimSpace(os.Getenv(configFileEnv))
	if overrides != nil && overrides.ConfigFile != "" {
		configFile = overrides.ConfigFile
	}
	if configFile != "" {
		if err := loadFromFile(configFile, &cfg); err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, envOptions()); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if overrides != nil {
		if err := applyCLIOverrides(&cfg, overrides); err != nil {
			return Config{}, err
		}
	}

	normalize(&cfg)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// envOptions reads booleans with the same spellings the patched settings
// module accepts for DJANGO_DEBUG, so DJANGO_DEBUG=yes means the same thing
// to both.
func envOptions() env.Options {
	return env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(false): func(v string) (any, error) {
				return settings.ParseFlag(v), nil
			},
		},
	}
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	policy := readiness.DefaultPolicy()
	return Config{
		ProjectDir:          ".",
		Python:              defaultPython,
		Requirements:        "requirements.txt",
		InstallPackages:     []string{"django", "psycopg2-binary"},
		ShutdownGracePeriod: 5 * time.Second,
		StatusRateLimit:     defaultStatusRate,
		StatusBurst:         defaultStatusBurst,
		LogLevel:            defaultLogLevel,
		LogFormat:           defaultLogFormat,
		Wait: Wait{
			MaxAttempts: policy.MaxAttempts,
			Delay:       policy.Delay,
			Multiplier:  policy.Multiplier,
			Timeout:     2 * time.Second,
		},
		Django: Django{
			ProjectName:  defaultProjectName,
			SecretKey:    defaultSecretKey,
			Debug:        true,
			AllowedHosts: []string{"localhost", "127.0.0.1"},
			Port:         defaultServerPort,
			OriginPort:   settings.DefaultOriginPort,
			TimeZone:     "UTC",
			UseTZ:        true,
			StaticURL:    "/static/",
			StaticRoot:   "staticfiles",
			DB: Database{
				Engine:   defaultDBEngine,
				Name:     defaultDBName,
				User:     defaultDBUser,
				Password: defaultDBPassword,
				Host:     defaultDBHost,
				Port:     defaultDBPort,
			},
		},
	}
}

// loadFromFile decodes a YAML file on top of the values already in cfg.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}

	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) error {
	if overrides.ProjectDir != nil && *overrides.ProjectDir != "" {
		cfg.ProjectDir = *overrides.ProjectDir
	}

	if overrides.ProjectName != nil && *overrides.ProjectName != "" {
		cfg.Django.ProjectName = *overrides.ProjectName
	}

	if overrides.Port != nil && *overrides.Port > 0 {
		cfg.Django.Port = *overrides.Port
	}

	if overrides.AllowedHosts != nil && *overrides.AllowedHosts != "" {
		hosts, err := parseHosts(*overrides.AllowedHosts)
		if err != nil {
			return fmt.Errorf("parse allowed hosts: %w", err)
		}
		cfg.Django.AllowedHosts = hosts
	}

	if overrides.WaitAttempts != nil && *overrides.WaitAttempts > 0 {
		cfg.Wait.MaxAttempts = *overrides.WaitAttempts
	}

	if overrides.WaitDelay != nil && *overrides.WaitDelay > 0 {
		cfg.Wait.Delay = *overrides.WaitDelay
	}

	if overrides.StatusAddr != nil && *overrides.StatusAddr != "" {
		cfg.StatusAddr = *overrides.StatusAddr
	}

	if overrides.SkipInstall != nil && *overrides.SkipInstall {
		cfg.SkipInstall = true
	}

	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}

	if overrides.LogFormat != nil && *overrides.LogFormat != "" {
		cfg.LogFormat = *overrides.LogFormat
	}

	return nil
}

// normalize trims list values and fills fallbacks that must never be blank.
func normalize(cfg *Config) {
	cfg.Django.AllowedHosts = cleanHosts(cfg.Django.AllowedHosts)
	cfg.Django.ProjectName = strings.TrimSpace(cfg.Django.ProjectName)

	db := &cfg.Django.DB
	db.Engine = normalizeEngine(db.Engine)
	if strings.TrimSpace(db.Host) == "" {
		db.Host = defaultDBHost
	}
	if db.Port <= 0 {
		db.Port = defaultDBPort
	}
	if db.Engine == settings.EngineSQLite && (db.Name == "" || db.Name == defaultDBName) {
		db.Name = defaultSQLiteDBName
	}

	if cfg.Django.OriginPort <= 0 {
		cfg.Django.OriginPort = settings.DefaultOriginPort
	}
	if cfg.Wait.Multiplier == 0 {
		cfg.Wait.Multiplier = 1
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if !projectNamePattern.MatchString(cfg.Django.ProjectName) {
		return fmt.Errorf("%w: %q", ErrInvalidProjectName, cfg.Django.ProjectName)
	}
	if cfg.Django.Port <= 0 || cfg.Django.Port > 65535 {
		return fmt.Errorf("%w: server port %d", ErrInvalidPort, cfg.Django.Port)
	}
	if cfg.Django.OriginPort > 65535 {
		return fmt.Errorf("%w: origin port %d", ErrInvalidPort, cfg.Django.OriginPort)
	}
	if cfg.Django.DB.Port > 65535 {
		return fmt.Errorf("%w: database port %d", ErrInvalidPort, cfg.Django.DB.Port)
	}
	if cfg.Django.DB.Engine != settings.EnginePostgres && cfg.Django.DB.Engine != settings.EngineSQLite {
		return fmt.Errorf("%w: %q", ErrUnsupportedEngine, cfg.Django.DB.Engine)
	}
	if err := validateHosts(cfg.Django.AllowedHosts); err != nil {
		return err
	}
	if cfg.Python == "" {
		return ErrMissingPython
	}
	if err := cfg.WaitPolicy().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWaitPolicy, err)
	}
	return nil
}

// WaitPolicy converts the wait section into a readiness policy.
func (c Config) WaitPolicy() readiness.Policy {
	return readiness.Policy{
		MaxAttempts: c.Wait.MaxAttempts,
		Delay:       c.Wait.Delay,
		Multiplier:  c.Wait.Multiplier,
		MaxDelay:    c.Wait.MaxDelay,
		Jitter:      c.Wait.Jitter,
	}
}

// SettingsValues returns the typed values the settings patcher writes.
func (c Config) SettingsValues() settings.Values {
	hosts := make([]string, len(c.Django.AllowedHosts))
	copy(hosts, c.Django.AllowedHosts)

	return settings.Values{
		ProjectName:  c.Django.ProjectName,
		SecretKey:    c.Django.SecretKey,
		Debug:        c.Django.Debug,
		AllowedHosts: hosts,
		OriginPort:   c.Django.OriginPort,
		StaticURL:    c.Django.StaticURL,
		StaticRoot:   c.Django.StaticRoot,
		TimeZone:     c.Django.TimeZone,
		UseTZ:        c.Django.UseTZ,
		Database: settings.Database{
			Engine:   c.Django.DB.Engine,
			Name:     c.Django.DB.Name,
			User:     c.Django.DB.User,
			Password: c.Django.DB.Password,
			Host:     c.Django.DB.Host,
			Port:     c.Django.DB.Port,
		},
	}
}

// parseHosts parses a comma-separated host list, dropping blank entries.
func parseHosts(raw string) ([]string, error) {
	hosts := cleanHosts(strings.Split(raw, ","))
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no hosts provided")
	}
	if err := validateHosts(hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

// validateHosts rejects entries that would turn into malformed origins.
func validateHosts(hosts []string) error {
	for _, host := range hosts {
		if strings.Contains(host, "://") {
			return fmt.Errorf("%w: %q includes a scheme", ErrInvalidHost, host)
		}
		if strings.ContainsAny(host, "/ \t") {
			return fmt.Errorf("%w: %q", ErrInvalidHost, host)
		}
	}
	return nil
}

func cleanHosts(raw []string) []string {
	hosts := make([]string, 0, len(raw))
	for _, host := range raw {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts
}

func normalizeEngine(engine string) string {
	engine = strings.ToLower(strings.TrimSpace(engine))
	engine = strings.TrimPrefix(engine, "django.db.backends.")
	switch engine {
	case "", "postgres", "postgresql", "psql":
		return settings.EnginePostgres
	case "sqlite", "sqlite3":
		return settings.EngineSQLite
	default:
		return engine
	}
}
