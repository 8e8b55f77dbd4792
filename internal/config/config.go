// Package config provides configuration management for folio sites using
// Viper for loading from files, environment variables and command-line
// flags.
//
// The configuration supports YAML files (.folio.yml by default), environment
// variable overrides with the FOLIO_ prefix, defaults and validation. It
// describes where the site lives on disk, the active template, the route
// table and before-hooks, the development server and static publishing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/folio/internal/composer"
	"github.com/conneroisu/folio/internal/dispatch"
	folioerrors "github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/router"
)

// EnvPrefix is the prefix of environment overrides, e.g. FOLIO_SERVER_PORT.
const EnvPrefix = "FOLIO"

// DefaultConfigName is the configuration file looked up without --config.
const DefaultConfigName = ".folio"

type Config struct {
	Site        SiteConfig        `mapstructure:"site" yaml:"site"`
	Template    composer.Config   `mapstructure:"template" yaml:"template"`
	Router      RouterConfig      `mapstructure:"router" yaml:"router"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch" yaml:"dispatch"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Development DevelopmentConfig `mapstructure:"development" yaml:"development"`
	Publish     PublishConfig     `mapstructure:"publish" yaml:"publish"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

type SiteConfig struct {
	Root         string `mapstructure:"root" yaml:"root"`
	BaseURL      string `mapstructure:"base_url" yaml:"base_url"`
	ModulesDir   string `mapstructure:"modules_dir" yaml:"modules_dir"`
	TemplatesDir string `mapstructure:"templates_dir" yaml:"templates_dir"`
}

type RouterConfig struct {
	Routes            []RouteEntry      `mapstructure:"routes" yaml:"routes"`
	RoutesFile        string            `mapstructure:"routes_file" yaml:"routes_file,omitempty"`
	Before            []string          `mapstructure:"before" yaml:"before,omitempty"`
	BeforeFalse       string            `mapstructure:"before_false" yaml:"before_false,omitempty"`
	BeforeFalseParams map[string]string `mapstructure:"before_false_params" yaml:"before_false_params,omitempty"`
}

// RouteEntry is one row of the route table. Patterns are case sensitive,
// which is why routes are a list rather than a map: viper lowercases keys.
type RouteEntry struct {
	Pattern string            `mapstructure:"pattern" yaml:"pattern"`
	Module  string            `mapstructure:"module" yaml:"module"`
	Params  map[string]string `mapstructure:"params" yaml:"params,omitempty"`
}

type DispatchConfig struct {
	MaxDepth int `mapstructure:"max_depth" yaml:"max_depth"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	Host           string   `mapstructure:"host" yaml:"host"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
	Metrics        bool     `mapstructure:"metrics" yaml:"metrics"`
}

type DevelopmentConfig struct {
	Debug        bool `mapstructure:"debug" yaml:"debug"`
	HotReload    bool `mapstructure:"hot_reload" yaml:"hot_reload"`
	ErrorOverlay bool `mapstructure:"error_overlay" yaml:"error_overlay"`
}

type PublishConfig struct {
	Output string   `mapstructure:"output" yaml:"output"`
	Paths  []string `mapstructure:"paths" yaml:"paths,omitempty"`
	Bucket string   `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix string   `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Region string   `mapstructure:"region" yaml:"region,omitempty"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Dir    string `mapstructure:"dir" yaml:"dir,omitempty"`
}

// SetDefaults registers folio's defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("site.root", ".")
	v.SetDefault("site.modules_dir", "modules")
	v.SetDefault("site.templates_dir", "templates")
	v.SetDefault("template.name", "default")
	v.SetDefault("dispatch.max_depth", dispatch.DefaultMaxDepth)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.metrics", true)
	v.SetDefault("development.hot_reload", true)
	v.SetDefault("development.error_overlay", true)
	v.SetDefault("publish.output", "public")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Init wires v to the configuration file and the environment. An empty file
// searches for .folio.yml in the working directory. A missing default file is
// not an error.
func Init(v *viper.Viper, file string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file == "" {
		file = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return folioerrors.WrapConfig(err, folioerrors.ErrCodeInvalidConfig, "read configuration")
	}
	return nil
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, folioerrors.WrapConfig(err, folioerrors.ErrCodeInvalidConfig, "decode configuration")
	}

	applyDefaults(&config)

	if result := ValidateConfigWithDetails(&config); result.HasErrors() {
		first := result.Errors[0]
		return nil, folioerrors.ConfigurationError(first.Field, "invalid "+first.Field+": "+first.Message, first.Value)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Site.Root == "" {
		config.Site.Root = "."
	}
	if config.Site.ModulesDir == "" {
		config.Site.ModulesDir = "modules"
	}
	if config.Site.TemplatesDir == "" {
		config.Site.TemplatesDir = "templates"
	}
	if config.Dispatch.MaxDepth <= 0 {
		config.Dispatch.MaxDepth = dispatch.DefaultMaxDepth
	}
	if config.Publish.Output == "" {
		config.Publish.Output = "public"
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// Addr is the listen address of the development server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SitePath joins elem onto the site root.
func (c *Config) SitePath(elem ...string) string {
	return filepath.Join(append([]string{c.Site.Root}, elem...)...)
}

// RouteTable builds the route table from the routes file, if any, and the
// inline routes. Inline routes win on a repeated pattern.
func (c *Config) RouteTable() (router.Table, error) {
	table := router.Table{}

	if c.Router.RoutesFile != "" {
		file := c.SitePath(c.Router.RoutesFile)
		fromFile, err := LoadRoutesFile(file)
		if err != nil {
			return nil, err
		}
		for pattern, route := range fromFile {
			table[pattern] = route
		}
	}

	for _, entry := range c.Router.Routes {
		table[entry.Pattern] = router.Route{Module: entry.Module, Params: entry.Params}
	}
	return table, nil
}

// LoadRoutesFile reads a YAML mapping of pattern to route.
func LoadRoutesFile(file string) (router.Table, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, folioerrors.FileOperationError("read routes file", file, err)
	}
	var table router.Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, folioerrors.WrapConfig(err, folioerrors.ErrCodeInvalidConfig, "parse routes file").WithFile(file)
	}
	if table == nil {
		table = router.Table{}
	}
	return table, nil
}

// Entries converts a table back to sorted route entries.
func Entries(table router.Table) []RouteEntry {
	patterns := make([]string, 0, len(table))
	for p := range table {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	entries := make([]RouteEntry, 0, len(patterns))
	for _, p := range patterns {
		entries = append(entries, RouteEntry{Pattern: p, Module: table[p].Module, Params: table[p].Params})
	}
	return entries
}
