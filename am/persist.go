package am

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/teranos/gemstore/errors"
)

// Output formats understood by Encode
const (
	FormatTOML = "toml"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Encode renders the configuration in the given format
func Encode(cfg *Config, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatTOML, "":
		var buf bytes.Buffer
		enc := toml.NewEncoder(&buf)
		enc.SetIndentTables(true)
		if err := enc.Encode(cfg); err != nil {
			return nil, errors.Wrap(err, "failed to encode config as toml")
		}
		return buf.Bytes(), nil
	case FormatJSON:
		data, err := json.MarshalIndent(cfg, "", "    ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode config as json")
		}
		return append(data, '\n'), nil
	case FormatYAML, "yml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode config as yaml")
		}
		return data, nil
	default:
		return nil, errors.Newf("unknown config format %q (use toml, json or yaml)", format)
	}
}

// FormatForPath picks the output format from a file extension, defaulting to toml
func FormatForPath(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case FormatJSON:
		return FormatJSON
	case FormatYAML, "yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// WriteFile writes the configuration to path in the format implied by its extension.
// If a watcher is registered, the write is marked as our own to avoid a reload loop.
func WriteFile(cfg *Config, path string) error {
	data, err := Encode(cfg, FormatForPath(path))
	if err != nil {
		return err
	}

	if w := GetGlobalWatcher(); w != nil {
		w.MarkOwnWrite()
	}

	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write config to %s", path)
	}
	return nil
}
