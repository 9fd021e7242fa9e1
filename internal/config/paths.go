package config

import (
	"fmt"
	"path/filepath"
)

// Paths are the file locations derived from the system name and folders.
type Paths struct {
	SystemFolder string
	DataFolder   string
	ParFile      string
	LogFolder    string
	LogFile      string // empty when logging to stderr only, relative names live in LogFolder
	AuditFile    string
	TemplateFile string
	LockFile     string
}

// Paths resolves every derived location.
func (c *Config) Paths() Paths {
	p := Paths{SystemFolder: c.System.SystemFolder}
	if p.SystemFolder == "" {
		p.SystemFolder = "."
	}

	p.DataFolder = c.System.DataFolder
	if p.DataFolder == "" {
		p.DataFolder = filepath.Join(p.SystemFolder, "datafolder")
	}

	p.ParFile = c.System.ParFile
	if p.ParFile == "" {
		p.ParFile = filepath.Join(p.DataFolder, "parameters",
			fmt.Sprintf("parameters_server_%s.toml", c.System.Name))
	}

	p.LogFolder = filepath.Join(p.DataFolder, "logs")
	p.LogFile = c.Logging.File
	if p.LogFile != "" && !filepath.IsAbs(p.LogFile) {
		p.LogFile = filepath.Join(p.LogFolder, p.LogFile)
	}

	p.AuditFile = c.Audit.File
	if p.AuditFile == "" {
		p.AuditFile = filepath.Join(p.LogFolder, "commands.jsonl")
	}

	p.TemplateFile = c.Header.Template
	if p.TemplateFile == "" {
		p.TemplateFile = filepath.Join(p.DataFolder, "templates",
			fmt.Sprintf("fits_template_%s.txt", c.System.Name))
	}

	p.LockFile = filepath.Join(p.DataFolder, fmt.Sprintf("ccs-%s.lock", c.System.Name))
	return p
}
