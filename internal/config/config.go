// Package config loads the offline cache configuration from a YAML file,
// with environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. OFFLINE_CACHE_VERSION.
const EnvPrefix = "OFFLINE_CACHE_"

const (
	ProviderMemory = "memory"
	ProviderSQLite = "sqlite"
	ProviderRedis  = "redis"
)

type Config struct {
	Listen  string `yaml:"listen" env:"LISTEN"`
	Origin  string `yaml:"origin" env:"ORIGIN"`
	Host    string `yaml:"host" env:"HOST"`
	Version string `yaml:"version" env:"VERSION"`

	OfflinePage string   `yaml:"offlinePage" env:"OFFLINE_PAGE"`
	Manifest    []string `yaml:"manifest" env:"MANIFEST" envSeparator:","`

	// "all" or "success"
	NavigationPolicy   string `yaml:"navigationPolicy" env:"NAVIGATION_POLICY"`
	InstallConcurrency int    `yaml:"installConcurrency" env:"INSTALL_CONCURRENCY"`

	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	Contact ContactConfig `yaml:"contact" envPrefix:"CONTACT_"`
}

type StorageConfig struct {
	Provider string `yaml:"provider" env:"PROVIDER"`
	// SQLite database file, empty for a shared in-memory database
	SQLite string `yaml:"sqlite" env:"SQLITE"`
	// Redis URL, e.g. redis://localhost:6379/0
	Redis string `yaml:"redis" env:"REDIS"`
	// Size in bytes of the in-process read cache. Zero disables it.
	Memoize int64 `yaml:"memoize" env:"MEMOIZE"`
}

type ContactConfig struct {
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	Email    string `yaml:"email" env:"EMAIL"`
	Site     string `yaml:"site" env:"SITE"`
}

// Default returns the configuration of the DCT Entertainment site.
func Default() Config {
	return Config{
		Listen:      ":8080",
		Version:     "dct-entertainment-v1.1",
		OfflinePage: "/offline.html",
		Manifest: []string{
			"/",
			"/index.html",
			"/about.html",
			"/services.html",
			"/portfolio.html",
			"/events.html",
			"/contact.html",
			"/css/style.css",
			"/js/app.js",
			"/assets/Dct logo-01.jpg",
			"/assets/Favicon/favicon.ico",
			"/manifest.json",
			"/offline.html",
		},
		NavigationPolicy:   "all",
		InstallConcurrency: 4,
		Storage: StorageConfig{
			Provider: ProviderSQLite,
			SQLite:   "offline-cache.db",
		},
		Contact: ContactConfig{
			Site: "DCT Entertainment",
		},
	}
}

// Load reads the config and validates it.
func Load(filename string) (Config, error) {
	config, err := Read(filename)
	if err != nil {
		return config, err
	}
	return config, config.Validate()
}

// Read applies the YAML file (if filename is not empty) and then the
// environment on top of the defaults.
func Read(filename string) (Config, error) {
	config := Default()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse %s: %w", filename, err)
		}
	}
	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Origin == "" {
		errs = append(errs, errors.New("origin is required"))
	} else if u, err := url.Parse(c.Origin); err != nil || !u.IsAbs() {
		errs = append(errs, fmt.Errorf("origin %q is not an absolute URL", c.Origin))
	}
	if c.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if c.OfflinePage == "" {
		errs = append(errs, errors.New("offlinePage is required"))
	} else if !slices.Contains(c.Manifest, c.OfflinePage) {
		errs = append(errs, fmt.Errorf("offline page %s is not in the manifest", c.OfflinePage))
	}
	switch c.NavigationPolicy {
	case "", "all", "success":
	default:
		errs = append(errs, fmt.Errorf("unknown navigation policy %q", c.NavigationPolicy))
	}
	if c.InstallConcurrency < 0 {
		errs = append(errs, errors.New("installConcurrency must not be negative"))
	}
	switch c.Storage.Provider {
	case ProviderMemory, ProviderSQLite:
	case ProviderRedis:
		if c.Storage.Redis == "" {
			errs = append(errs, errors.New("storage.redis is required for the redis provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage provider %q", c.Storage.Provider))
	}
	if c.Storage.Memoize < 0 {
		errs = append(errs, errors.New("storage.memoize must not be negative"))
	}
	return errors.Join(errs...)
}
