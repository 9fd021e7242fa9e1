// Package config loads the server configuration.
//
// Values are layered: built-in defaults, then the YAML file, then CCS_*
// environment variables, then command-line overrides. The result is
// validated before use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v2"
)

// EnvConfigFile names the environment variable holding the config file path.
const EnvConfigFile = "CCS_CONFIG"

// Config represents the complete server configuration.
type Config struct {
	System   SystemConfig   `yaml:"system"`
	Command  CommandConfig  `yaml:"command"`
	Web      WebConfig      `yaml:"web"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Logging  LoggingConfig  `yaml:"logging"`
	Audit    AuditConfig    `yaml:"audit"`
	Detector DetectorConfig `yaml:"detector"`
	Header   HeaderConfig   `yaml:"header"`
	Tools    ToolsConfig    `yaml:"tools"`
}

// SystemConfig identifies the camera system and its folders.
type SystemConfig struct {
	Name         string `yaml:"name"`
	SystemFolder string `yaml:"systemFolder"`
	DataFolder   string `yaml:"dataFolder"` // defaults to <systemFolder>/datafolder
	ParFile      string `yaml:"parFile"`    // defaults to <dataFolder>/parameters/parameters_server_<name>.toml
}

// CommandConfig holds control protocol listener settings.
type CommandConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedCIDRs   []string `yaml:"allowedCidrs"`
	IdleTimeoutSec int      `yaml:"idleTimeoutSec"`
	LogCommands    bool     `yaml:"logCommands"`
}

// WebConfig holds HTTP server settings.
type WebConfig struct {
	Enabled           bool       `yaml:"enabled"`
	Host              string     `yaml:"host"`
	Port              int        `yaml:"port"`
	LogCommands       bool       `yaml:"logCommands"`
	LogStatus         bool       `yaml:"logStatus"`
	StatusIntervalSec int        `yaml:"statusIntervalSec"`
	ReadTimeoutSec    int        `yaml:"readTimeoutSec"`
	WriteTimeoutSec   int        `yaml:"writeTimeoutSec"`
	IdleTimeoutSec    int        `yaml:"idleTimeoutSec"`
	HeartbeatSec      int        `yaml:"heartbeatSec"`
	EventBufferSize   int        `yaml:"eventBufferSize"`
	Auth              AuthConfig `yaml:"auth"`
}

// AuthConfig enables bearer token checks on the HTTP API.
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Secret        string `yaml:"secret"`        // HS256 shared secret
	PublicKeyFile string `yaml:"publicKeyFile"` // RS256 PEM public key
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
}

// MonitorConfig points at the fleet monitor.
type MonitorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeoutSec"`
}

// LoggingConfig holds logger settings. An empty File logs to stderr only.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // console or json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// AuditConfig holds the command log settings. An empty File puts the log
// under the data folder.
type AuditConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
}

// DetectorConfig describes the detector geometry applied to the exposure tool.
type DetectorConfig struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	RefPixel    []int         `yaml:"refPixel"`
	Format      []int         `yaml:"format"`
	Focalplane  []interface{} `yaml:"focalplane"`
	ROI         []int         `yaml:"roi"`
	ExtPosition [][]int       `yaml:"extPosition"`
	JpgOrder    []int         `yaml:"jpgOrder"`
	Gains       []float64     `yaml:"gains"`
	RdNoises    []float64     `yaml:"rdnoises"`
}

// HeaderConfig seeds the system header tool.
type HeaderConfig struct {
	Title    string          `yaml:"title"`
	Template string          `yaml:"template"` // defaults to <dataFolder>/templates/fits_template_<name>.txt
	Keywords []KeywordConfig `yaml:"keywords"`
}

// KeywordConfig is one header keyword.
type KeywordConfig struct {
	Name    string `yaml:"name"`
	Value   string `yaml:"value"`
	Comment string `yaml:"comment"`
}

// ToolsConfig holds construction defaults for the mock tools.
type ToolsConfig struct {
	Tempcon    TempconConfig    `yaml:"tempcon"`
	Exposure   ExposureConfig   `yaml:"exposure"`
	Instrument InstrumentConfig `yaml:"instrument"`
	Display    DisplayConfig    `yaml:"display"`
}

// TempconConfig holds temperature controller defaults.
type TempconConfig struct {
	ControlTemperature float64 `yaml:"controlTemperature"`
}

// ExposureConfig holds exposure defaults.
type ExposureConfig struct {
	Filetype     string `yaml:"filetype"`
	DisplayImage bool   `yaml:"displayImage"`
}

// InstrumentConfig holds instrument defaults.
type InstrumentConfig struct {
	Filters []string `yaml:"filters"`
}

// DisplayConfig holds display defaults.
type DisplayConfig struct {
	InitDelayMs int `yaml:"initDelayMs"`
}

// Overrides are command-line values applied after the file and environment.
// Zero values leave the configuration untouched.
type Overrides struct {
	SystemName  string
	DataFolder  string
	ParFile     string
	CommandPort int
	WebPort     int
	LogLevel    string
}

// Load builds the configuration from defaults, the file at path (or
// $CCS_CONFIG when path is empty), the environment and overrides.
func Load(path string, overrides Overrides) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration of the mock camera system.
func Default() *Config {
	return &Config{
		System: SystemConfig{
			Name:         "mock",
			SystemFolder: ".",
		},
		Command: CommandConfig{
			Enabled: true,
			Port:    2402,
		},
		Web: WebConfig{
			Enabled:           true,
			Port:              2403,
			LogCommands:       false,
			LogStatus:         false,
			StatusIntervalSec: 10,
			ReadTimeoutSec:    30,
			WriteTimeoutSec:   30,
			IdleTimeoutSec:    120,
			HeartbeatSec:      15,
			EventBufferSize:   50,
		},
		Monitor: MonitorConfig{
			Enabled:    false,
			URL:        "http://localhost:2400/register",
			TimeoutSec: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Audit: AuditConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Detector: DetectorConfig{
			Name:        "mock4k",
			Description: "STA0500 4064x4064 CCD",
			RefPixel:    []int{2032, 2032},
			Format:      []int{4064, 7, 0, 20, 4064, 0, 0, 0, 0},
			Focalplane:  []interface{}{1, 1, 1, 2, []interface{}{2, 0}},
			ROI:         []int{1, 4064, 1, 4064, 2, 2},
			ExtPosition: [][]int{{1, 2}, {1, 1}},
			JpgOrder:    []int{1, 2},
			Gains:       []float64{1.0, 1.0},
			RdNoises:    []float64{4.0, 4.0},
		},
		Header: HeaderConfig{
			Title: "Mock",
			Keywords: []KeywordConfig{
				{Name: "DEWAR", Value: "mock_dewar", Comment: "Dewar name"},
			},
		},
		Tools: ToolsConfig{
			Tempcon:  TempconConfig{ControlTemperature: -100.0},
			Exposure: ExposureConfig{Filetype: "MEF", DisplayImage: false},
			Instrument: InstrumentConfig{
				Filters: []string{"clear", "u", "g", "r", "i", "z"},
			},
		},
	}
}

// loadFromFile loads configuration from a YAML file onto cfg.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies CCS_* environment variable overrides.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CCS_SYSTEM_NAME"); v != "" {
		cfg.System.Name = v
	}
	if v := os.Getenv("CCS_DATA_FOLDER"); v != "" {
		cfg.System.DataFolder = v
	}
	if v := os.Getenv("CCS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CCS_COMMAND_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CCS_COMMAND_PORT %q: %w", v, err)
		}
		cfg.Command.Port = port
	}
	if v := os.Getenv("CCS_WEB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CCS_WEB_PORT %q: %w", v, err)
		}
		cfg.Web.Port = port
	}
	return nil
}

// applyOverrides merges the non-zero command-line values into cfg.
func applyOverrides(cfg *Config, o Overrides) error {
	partial := Config{
		System: SystemConfig{
			Name:       o.SystemName,
			DataFolder: o.DataFolder,
			ParFile:    o.ParFile,
		},
		Command: CommandConfig{Port: o.CommandPort},
		Web:     WebConfig{Port: o.WebPort},
		Logging: LoggingConfig{Level: o.LogLevel},
	}
	if err := mergo.Merge(cfg, partial, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to apply overrides: %w", err)
	}
	return nil
}
