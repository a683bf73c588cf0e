package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// LoadDotEnv exports the variables of a KEY=VALUE file into the process
// environment. Variables already set are left alone, so the real
// environment always wins. Keys are upper-cased. A missing file is only an
// error when required is true.
func LoadDotEnv(path string, required bool) ([]string, error) {
	return loadDotEnv(path, required, os.LookupEnv, os.Setenv)
}

func loadDotEnv(path string, required bool, lookup func(string) (string, bool), setenv func(string, string) error) ([]string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil, nil
		}
		return nil, fmt.Errorf("env file %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}

	keys := v.AllKeys()
	sort.Strings(keys)

	var loaded []string
	for _, key := range keys {
		name := strings.ToUpper(key)
		if _, ok := lookup(name); ok {
			continue
		}
		if err := setenv(name, v.GetString(key)); err != nil {
			return loaded, fmt.Errorf("set %s: %w", name, err)
		}
		loaded = append(loaded, name)
	}
	return loaded, nil
}
