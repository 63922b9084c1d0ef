package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	dterrors "github.com/davidroman0O/dutssh/errors"
)

// Config file names and locations
const (
	EnvConfigPath      = "DUT_SSH_CONFIG"
	DUTConfigName      = "dut-ssh.conf"
	FastbootConfigName = "fastboot-ssh.conf"
	SystemConfigDir    = "/etc"
)

// SearchPaths returns the ordered candidate paths for a config file named
// name: the override (if any), the working directory, then /etc.
func SearchPaths(override, cwd, name string) []string {
	paths := make([]string, 0, 3)
	if override != "" {
		paths = append(paths, override)
	}
	if cwd != "" {
		paths = append(paths, filepath.Join(cwd, name))
	}
	return append(paths, filepath.Join(SystemConfigDir, name))
}

// Load parses the first existing file among paths. It returns the parsed file
// and the path it was read from, or a ConfigNotFound error when none exists.
func Load(paths []string) (*File, string, error) {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to stat config file "+path)
		}
		if info.IsDir() {
			continue
		}

		log.Printf("[CONFIG] Loading device configuration from %s", path)
		cfg, err := LoadFile(path)
		if err != nil {
			return nil, path, err
		}
		return cfg, path, nil
	}

	return nil, "", dterrors.Newf(dterrors.ErrConfigNotFound,
		"no configuration file found (searched %s)", strings.Join(paths, ", "))
}

// LoadFile loads a configuration file and returns the parsed File struct.
// Files ending in .json are parsed as JSON, everything else as YAML.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to read config file")
	}

	cfg, err := Parse(data, filepath.Ext(path) == ".json")
	if err != nil {
		return nil, dterrors.WithOp(err, path)
	}
	return cfg, nil
}

// Parse decodes configuration content and applies defaults
func Parse(data []byte, isJSON bool) (*File, error) {
	cfg := &File{}

	if isJSON {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to parse JSON config")
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to parse YAML config")
		}
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// Describe returns a short human summary, used by --list
func (f *File) Describe() string {
	var b strings.Builder
	for _, d := range f.Devices {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", d.Board, d.Host, strings.Join(d.Commands.Names(), ","))
	}
	return b.String()
}
