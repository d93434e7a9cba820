package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"git.sr.ht/~mango/osh/state"
)

// config is the file read at startup:
//
//	options:
//	  errexit: true
//	shopt:
//	  strict_errexit: true
//	env:
//	  EDITOR: vi
type config struct {
	Options map[string]bool   `yaml:"options"`
	Shopt   map[string]bool   `yaml:"shopt"`
	Env     map[string]string `yaml:"env"`
}

func defaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "osh", "config.yaml")
}

// loadConfig reads the config file at path.  A missing file is only an
// error when the user named it.
func loadConfig(path string, explicit bool) (*config, error) {
	if path == "" {
		return &config{}, nil
	}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		return &config{}, nil
	case err != nil:
		return nil, err
	}

	var c config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// apply sets the options named in c.
func (c *config) apply(opts *state.Options) error {
	for _, m := range []map[string]bool{c.Options, c.Shopt} {
		for name, b := range m {
			if err := opts.SetByName(name, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// environ builds the initial environment: the process environment, then the
// variables of the config file, then those of the env files, each
// overriding the ones before.
func environ(c *config, envFiles []string) ([]string, error) {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for k, v := range c.Env {
		env[k] = v
	}
	if len(envFiles) > 0 {
		vars, err := godotenv.Read(envFiles...)
		if err != nil {
			return nil, err
		}
		for k, v := range vars {
			env[k] = v
		}
	}

	xs := make([]string, 0, len(env))
	for k, v := range env {
		xs = append(xs, k+"="+v)
	}
	slices.Sort(xs)
	return xs, nil
}
