package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Filetypes lists the image file types the exposure tool accepts.
var Filetypes = []string{"FITS", "MEF", "BIN", "ASM"}

// Validate checks the configuration and reports every problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// System identity ends up in file names
	if cfg.System.Name == "" {
		add("system name is required")
	} else if strings.ContainsAny(cfg.System.Name, " \t/\\") {
		add("system name %q must not contain whitespace or path separators", cfg.System.Name)
	}

	if err := validatePort("command", cfg.Command.Port); err != nil {
		errs = append(errs, err)
	}
	for _, cidr := range cfg.Command.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			add("invalid command allowed CIDR %q", cidr)
		}
	}
	if cfg.Command.IdleTimeoutSec < 0 {
		add("command idle timeout must be non-negative, got %d", cfg.Command.IdleTimeoutSec)
	}

	if err := validatePort("web", cfg.Web.Port); err != nil {
		errs = append(errs, err)
	}
	if cfg.Command.Enabled && cfg.Web.Enabled && cfg.Command.Port != 0 &&
		cfg.Command.Port == cfg.Web.Port && cfg.Command.Host == cfg.Web.Host {
		add("command and web servers cannot share port %d", cfg.Web.Port)
	}
	if cfg.Web.LogStatus && cfg.Web.StatusIntervalSec <= 0 {
		add("web status interval must be positive when logStatus is on, got %d", cfg.Web.StatusIntervalSec)
	}
	if cfg.Web.HeartbeatSec <= 0 {
		add("web heartbeat must be positive, got %d", cfg.Web.HeartbeatSec)
	}
	if cfg.Web.EventBufferSize < 0 {
		add("web event buffer size must be non-negative, got %d", cfg.Web.EventBufferSize)
	}
	if cfg.Web.Auth.Enabled && cfg.Web.Auth.Secret == "" && cfg.Web.Auth.PublicKeyFile == "" {
		add("web auth requires a secret or a public key file")
	}

	if cfg.Monitor.Enabled {
		if cfg.Monitor.URL == "" {
			add("monitor url is required when the monitor is enabled")
		}
		if cfg.Monitor.TimeoutSec <= 0 {
			add("monitor timeout must be positive, got %d", cfg.Monitor.TimeoutSec)
		}
	}

	if _, err := zapcore.ParseLevel(cfg.Logging.Level); err != nil {
		add("invalid log level %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "console" && cfg.Logging.Format != "json" {
		add("invalid log format %q, must be console or json", cfg.Logging.Format)
	}

	if !slices.Contains(Filetypes, strings.ToUpper(cfg.Tools.Exposure.Filetype)) {
		add("invalid exposure filetype %q, must be one of: %v", cfg.Tools.Exposure.Filetype, Filetypes)
	}
	if len(cfg.Detector.Gains) != len(cfg.Detector.RdNoises) {
		add("detector gains (%d) and rdnoises (%d) must have the same length",
			len(cfg.Detector.Gains), len(cfg.Detector.RdNoises))
	}

	for i, kw := range cfg.Header.Keywords {
		if kw.Name == "" {
			add("header keyword %d has no name", i)
		}
	}

	return errors.Join(errs...)
}

func validatePort(name string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s port %d is outside range [0, 65535]", name, port)
	}
	return nil
}
