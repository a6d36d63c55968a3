package linq

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/gottscj/Serialize.Linq/pkg/factory"
)

// ConfigFile is the name ResolveConfig looks for.
const ConfigFile = "linq.toml"

// Config represents a linq.toml file.
type Config struct {
	Serializer SerializerConfig `toml:"serializer"`
	Service    ServiceConfig    `toml:"service"`
	Client     ClientConfig     `toml:"client"`
	Data       DataConfig       `toml:"data"`
}

type SerializerConfig struct {
	// RelaxedTypeNames writes short package-qualified type names.
	RelaxedTypeNames        bool `toml:"relaxed_type_names"`
	AllowPrivateFieldAccess bool `toml:"allow_private_field_access"`
}

// Settings returns the factory settings the section describes.
func (c SerializerConfig) Settings() factory.Settings {
	return factory.Settings{
		UseRelaxedTypeNames:     c.RelaxedTypeNames,
		AllowPrivateFieldAccess: c.AllowPrivateFieldAccess,
	}
}

type ServiceConfig struct {
	// Listen is the host:port of the HTTP API and the hub.
	Listen string `toml:"listen"`
	// Debug is the host:port of an optional second listener serving only
	// the schema. Empty disables it.
	Debug string `toml:"debug,omitempty"`
}

type ClientConfig struct {
	// Endpoint is the base URL of the HTTP API.
	Endpoint string `toml:"endpoint"`
	// Hub is the websocket URL of the hub.
	Hub string `toml:"hub"`
}

type DataConfig struct {
	// CSV is a person file to load instead of the built-in sample. Relative
	// paths are relative to the config file.
	CSV string `toml:"csv,omitempty"`
	// Encoding is the charset of CSV, e.g. "windows-1252".
	Encoding string `toml:"encoding,omitempty"`
}

// DefaultConfig is the configuration used when no file is found.
func DefaultConfig() *Config {
	return &Config{
		Serializer: SerializerConfig{RelaxedTypeNames: true},
		Service:    ServiceConfig{Listen: "localhost:5000"},
		Client: ClientConfig{
			Endpoint: "http://localhost:5000",
			Hub:      "ws://localhost:5000/hub",
		},
	}
}

// LoadConfig loads a linq.toml file from the given path. Settings absent from
// the file keep their defaults; unknown keys are an error.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	md, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		var keys []string
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		slices.Sort(keys)
		return nil, errors.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if config.Data.CSV != "" && !filepath.IsAbs(config.Data.CSV) {
		config.Data.CSV = filepath.Join(filepath.Dir(path), config.Data.CSV)
	}
	return config, nil
}

// ResolveConfig returns the configuration a command runs with and the file
// it came from. An explicit path must load. Otherwise the nearest linq.toml
// in dir or one of its parents is used, stopping at the repository root (a
// directory holding .git); with none found the result is DefaultConfig and
// an empty path.
func ResolveConfig(path, dir string) (string, *Config, error) {
	if path == "" {
		var err error
		if path, err = nearestConfig(dir); err != nil {
			return "", nil, err
		}
		if path == "" {
			return "", DefaultConfig(), nil
		}
	}
	config, err := LoadConfig(path)
	if err != nil {
		return "", nil, err
	}
	return path, config, nil
}

func nearestConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for ; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil || filepath.Dir(dir) == dir {
			return "", nil
		}
	}
}
