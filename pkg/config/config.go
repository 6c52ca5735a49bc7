// Package config reads the INI configuration shared by the cpupower front ends.
// Files are merged in discovery order, later files override earlier ones.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/go-logr/logr"
	"golang.org/x/exp/slices"
	"gopkg.in/ini.v1"
)

const (
	AppName = "cpupower_gui"

	profileSection = "Profile"
	profileKey     = "profile"
	guiSection     = "GUI"

	DefaultProfileName = "Balanced"

	confExtension = ".conf"
	userConfFile  = AppName + confExtension
)

var log = logr.Discard()

func SetLogger(logger logr.Logger) {
	log = logger
}

// Paths locates the configuration and profile files
type Paths struct {
	SystemFile   string
	SystemDropIn string
	UserDir      string
}

// DefaultPaths returns the system locations under /etc and the user directory under
// $XDG_CONFIG_HOME
func DefaultPaths() Paths {
	return Paths{
		SystemFile:   filepath.Join("/etc", userConfFile),
		SystemDropIn: filepath.Join("/etc", AppName+".d"),
		UserDir:      filepath.Join(xdg.ConfigHome, AppName),
	}
}

// Files lists the existing configuration files in the order they are merged
func (p Paths) Files() []string {
	files := []string{}
	if p.SystemFile != "" {
		if _, err := os.Stat(p.SystemFile); err == nil {
			files = append(files, p.SystemFile)
		}
	}
	files = append(files, globSorted(p.SystemDropIn, "*"+confExtension)...)
	files = append(files, globSorted(p.UserDir, "*"+confExtension)...)
	return files
}

func (p Paths) SystemProfileDir() string {
	return p.SystemDropIn
}

func (p Paths) UserProfileDir() string {
	return p.UserDir
}

func globSorted(dir, pattern string) []string {
	if dir == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		log.V(1).Info("config glob failed", "dir", dir, "error", err.Error())
		return nil
	}
	slices.Sort(matches)
	return matches
}

type Config struct {
	paths Paths
	file  *ini.File
}

var defaults = []byte(fmt.Sprintf("[%s]\n%s = %s\n\n[%s]\n", profileSection, profileKey, DefaultProfileName, guiSection))

// Load merges the defaults with every discovered configuration file
func Load(paths Paths) (*Config, error) {
	files := paths.Files()
	sources := make([]interface{}, 0, len(files))
	for _, file := range files {
		sources = append(sources, file)
	}
	file, err := ini.LoadSources(ini.LoadOptions{Loose: true, AllowBooleanKeys: true}, defaults, sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log.V(1).Info("configuration loaded", "files", strings.Join(files, ","))
	return &Config{paths: paths, file: file}, nil
}

func (c *Config) Paths() Paths {
	return c.paths
}

// DefaultProfile is the profile applied on start and by -apply-config
func (c *Config) DefaultProfile() string {
	value := strings.TrimSpace(c.file.Section(profileSection).Key(profileKey).String())
	if value == "" {
		return DefaultProfileName
	}
	return value
}

func (c *Config) SetDefaultProfile(name string) {
	c.file.Section(profileSection).Key(profileKey).SetValue(name)
}

// GUI returns the front end preferences as plain strings
func (c *Config) GUI() map[string]string {
	return c.file.Section(guiSection).KeysHash()
}

func (c *Config) GUIBool(key string, fallback bool) bool {
	return c.file.Section(guiSection).Key(key).MustBool(fallback)
}

func (c *Config) SetGUI(key, value string) {
	c.file.Section(guiSection).Key(key).SetValue(value)
}

// Save writes the merged configuration to the user file
func (c *Config) Save() error {
	if c.paths.UserDir == "" {
		return fmt.Errorf("no user configuration directory")
	}
	if err := os.MkdirAll(c.paths.UserDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", c.paths.UserDir, err)
	}
	target := filepath.Join(c.paths.UserDir, userConfFile)
	if err := c.file.SaveTo(target); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	log.Info("configuration saved", "file", target)
	return nil
}
