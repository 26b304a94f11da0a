// Package config handles loading of the debugger configuration file.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".mdbg"
	configFile string = "config.yml"

	// HistoryFile is kept next to the config file and holds the REPL
	// command history.
	HistoryFile string = ".history"
)

// Config defines all configuration options available to be set through
// the config file.
type Config struct {
	// Aliases maps a command name to additional command aliases.
	Aliases map[string][]string `yaml:"aliases"`
	// SourceListLineCount is the number of source lines printed above
	// and below the current line by the list command.
	SourceListLineCount int `yaml:"source-list-line-count"`
}

// LoadConfig attempts to populate a Config object from the config.yml
// file. A missing or unreadable file yields the defaults.
func LoadConfig() *Config {
	defaults := &Config{SourceListLineCount: 5}

	if err := createConfigPath(); err != nil {
		fmt.Printf("Could not create config directory: %v.\n", err)
		return defaults
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.\n", err)
		return defaults
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		createDefaultConfig(fullConfigFile)
		return defaults
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.\n", err)
		return defaults
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		fmt.Printf("Unable to decode config file: %v.\n", err)
		return defaults
	}
	if c.SourceListLineCount <= 0 {
		c.SourceListLineCount = defaults.SourceListLineCount
	}
	return &c
}

func createDefaultConfig(path string) {
	f, err := os.Create(path)
	if err != nil {
		fmt.Printf("Unable to create config file: %v.\n", err)
		return
	}
	defer f.Close()
	if err := writeDefaultConfig(f); err != nil {
		fmt.Printf("Unable to write default configuration: %v.\n", err)
	}
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the mdbg debugger.

# This is the default configuration. Uncomment and edit to change.

# Provided aliases will be added to the default aliases for a given
# command.
# aliases:
#   command: ["alias1", "alias2"]

# Number of lines printed above and below the current line by the list
# command.
# source-list-line-count: 5
`)
	return err
}

// createConfigPath creates the directory structure at which all config
// files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	usr, err := user.Current()
	if err != nil {
		return "", err
	}
	return path.Join(usr.HomeDir, configDir, file), nil
}
