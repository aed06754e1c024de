package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unklstewy/flightglobe/pkg/flights"
	"github.com/unklstewy/flightglobe/pkg/opensky"
)

// Config represents the complete application configuration.
// Files may be JSON or YAML; the format is chosen by extension.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	OpenSky  OpenSkyConfig  `json:"opensky" yaml:"opensky"`
	Poll     PollConfig     `json:"poll" yaml:"poll"`
	Regions  []Region       `json:"regions" yaml:"regions"`
	Scene    SceneConfig    `json:"scene" yaml:"scene"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	RefData  RefDataConfig  `json:"refdata" yaml:"refdata"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port" yaml:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host" yaml:"host"`

	// StaticDir holds the globe front-end; empty disables static serving
	StaticDir string `json:"static_dir" yaml:"static_dir"`

	// AllowedOrigins for CORS; empty allows any origin
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// OpenSkyConfig contains the upstream credential and feed settings.
type OpenSkyConfig struct {
	// AuthURL is the OAuth2 token endpoint
	AuthURL string `json:"auth_url" yaml:"auth_url"`

	// FeedURL is the API host; /api/states/all is appended
	FeedURL string `json:"feed_url" yaml:"feed_url"`

	// ClientID and ClientSecret should come from the environment
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret" yaml:"client_secret"`

	// RequestsPerMinute caps upstream feed calls (0 = no limit)
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`

	// TimeoutSeconds bounds each upstream call
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// PollConfig controls the globe's poll loop.
type PollConfig struct {
	// IntervalSeconds is the time between cycles (default: 10)
	IntervalSeconds int `json:"interval_seconds" yaml:"interval_seconds"`

	// Direct fetches through the in-process credential cache instead of
	// calling a separate gateway over HTTP
	Direct bool `json:"direct" yaml:"direct"`

	// GatewayURL is the /api/flights endpoint used when Direct is false
	GatewayURL string `json:"gateway_url" yaml:"gateway_url"`
}

// Region is a named bounding box that can be switched off without being
// removed from the file.
type Region struct {
	flights.BoundingBox `yaml:",inline"`

	// Enabled determines if flights inside this region are kept
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// SceneConfig contains the render scene settings.
type SceneConfig struct {
	// TemplateID names the aircraft model template
	TemplateID string `json:"template_id" yaml:"template_id"`

	// ModelPath is the binary glTF file loaded as the template
	ModelPath string `json:"model_path" yaml:"model_path"`

	// SendQueue is the per-client frame buffer; slower clients are dropped
	SendQueue int `json:"send_queue" yaml:"send_queue"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Enabled reads reference data from Postgres instead of the .dat files
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Host is the database server hostname
	Host string `json:"host" yaml:"host"`

	// Port is the database server port
	Port int `json:"port" yaml:"port"`

	// Database is the database name
	Database string `json:"database" yaml:"database"`

	// Username for database authentication
	Username string `json:"username" yaml:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password" yaml:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode" yaml:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns"`
}

// RefDataConfig points at the OpenFlights reference files.
type RefDataConfig struct {
	AirportsPath string   `json:"airports_path" yaml:"airports_path"`
	RoutesPath   string   `json:"routes_path" yaml:"routes_path"`
	Countries    []string `json:"countries" yaml:"countries"`
}

// LoggingConfig controls log level, format and the optional rotated file.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Load reads configuration from a JSON or YAML file.
// If the file doesn't exist, returns a default configuration.
// Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// A regions list in the file replaces the defaults rather than merging
	// into them element by element
	defaultRegions := cfg.Regions
	cfg.Regions = nil

	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Regions == nil {
		cfg.Regions = defaultRegions
	}

	// Override with environment variables
	cfg.applyEnvironmentOverrides()

	return cfg, nil
}

// Save writes the configuration to a JSON or YAML file.
func (c *Config) Save(path string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	regions := make([]Region, 0, 2)
	for _, b := range flights.DefaultBoxes() {
		regions = append(regions, Region{BoundingBox: b, Enabled: true})
	}

	return &Config{
		Server: ServerConfig{
			Port:      "8080",
			Host:      "0.0.0.0",
			StaticDir: "web",
		},
		OpenSky: OpenSkyConfig{
			AuthURL:           opensky.DefaultAuthURL,
			FeedURL:           opensky.DefaultFeedURL,
			RequestsPerMinute: 12,
			TimeoutSeconds:    10,
		},
		Poll: PollConfig{
			IntervalSeconds: 10,
			Direct:          true,
			GatewayURL:      "http://localhost:3001/api/flights",
		},
		Regions: regions,
		Scene: SceneConfig{
			TemplateID: "airplane",
			ModelPath:  "assets/airplane.glb",
			SendQueue:  64,
		},
		Database: DatabaseConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         5432,
			Database:     "flightglobe",
			Username:     "flightglobe",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		RefData: RefDataConfig{
			AirportsPath: "data/airports.dat",
			RoutesPath:   "data/routes.dat",
			Countries:    []string{"Morocco", "France"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  32,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Boxes returns the enabled regions as bounding boxes.
func (c *Config) Boxes() []flights.BoundingBox {
	boxes := make([]flights.BoundingBox, 0, len(c.Regions))
	for _, r := range c.Regions {
		if r.Enabled {
			boxes = append(boxes, r.BoundingBox)
		}
	}
	return boxes
}

// PollInterval returns the poll interval as a duration.
func (c *PollConfig) PollInterval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Timeout returns the upstream call timeout as a duration.
func (c *OpenSkyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HasCredentials reports whether both client id and secret are set.
func (c *OpenSkyConfig) HasCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Validate reports configuration errors that prevent startup.
func (c *Config) Validate() error {
	var errs []error

	boxes := c.Boxes()
	if len(boxes) == 0 {
		errs = append(errs, errors.New("no enabled regions"))
	}
	for _, b := range boxes {
		if err := b.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Poll.IntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval_seconds must be positive, got %d", c.Poll.IntervalSeconds))
	}
	if !c.Poll.Direct && c.Poll.GatewayURL == "" {
		errs = append(errs, errors.New("poll.gateway_url is required when poll.direct is false"))
	}
	if c.OpenSky.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("opensky.timeout_seconds must not be negative"))
	}
	if c.Scene.TemplateID == "" {
		errs = append(errs, errors.New("scene.template_id is required"))
	}

	return errors.Join(errs...)
}

// ValidateGateway additionally requires upstream credentials, which any
// process that talks to OpenSky directly needs.
func (c *Config) ValidateGateway() error {
	if !c.OpenSky.HasCredentials() {
		return errors.New("opensky client_id and client_secret are required (set FLIGHTGLOBE_OPENSKY_CLIENT_ID and FLIGHTGLOBE_OPENSKY_CLIENT_SECRET)")
	}
	if c.OpenSky.AuthURL == "" || c.OpenSky.FeedURL == "" {
		return errors.New("opensky auth_url and feed_url are required")
	}
	return nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows secrets like the OpenSky client secret to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("FLIGHTGLOBE_PORT"); port != "" {
		c.Server.Port = port
	}
	if id := os.Getenv("FLIGHTGLOBE_OPENSKY_CLIENT_ID"); id != "" {
		c.OpenSky.ClientID = id
	}
	if secret := os.Getenv("FLIGHTGLOBE_OPENSKY_CLIENT_SECRET"); secret != "" {
		c.OpenSky.ClientSecret = secret
	}
	if gw := os.Getenv("FLIGHTGLOBE_GATEWAY_URL"); gw != "" {
		c.Poll.GatewayURL = gw
		c.Poll.Direct = false
	}
	if dbHost := os.Getenv("FLIGHTGLOBE_DB_HOST"); dbHost != "" {
		c.Database.Host = dbHost
	}
	if dbPassword := os.Getenv("FLIGHTGLOBE_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if level := os.Getenv("FLIGHTGLOBE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
