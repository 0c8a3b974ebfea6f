// Package config loads layered configuration: compiled defaults, an
// optional YAML file, MATHDRILL_* environment variables and finally
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/mathdrill/internal/difficulty"
	"github.com/conorfennell/mathdrill/internal/queue"
	"github.com/conorfennell/mathdrill/internal/sm2"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nesting levels: MATHDRILL_STORE__PATH sets store.path.
const EnvPrefix = "MATHDRILL_"

// Config is the root application configuration.
type Config struct {
	Log        LogConfig         `koanf:"log"`
	Store      StoreConfig       `koanf:"store"`
	Server     ServerConfig      `koanf:"server"`
	Sources    SourcesConfig     `koanf:"sources"`
	Scheduler  sm2.Config        `koanf:"scheduler"`
	Difficulty difficulty.Config `koanf:"difficulty"`
	Queue      queue.Config      `koanf:"queue"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// StoreConfig holds the SQLite settings.
type StoreConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// SourcesConfig controls catalog synchronisation.
type SourcesConfig struct {
	ReposDir    string `koanf:"repos_dir" validate:"required"`
	Concurrency int    `koanf:"concurrency" validate:"gte=1,lte=32"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Path: "mathdrill.db",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Sources: SourcesConfig{
			ReposDir:    "repos",
			Concurrency: 4,
		},
		Scheduler:  sm2.DefaultConfig(),
		Difficulty: difficulty.DefaultConfig(),
		Queue:      queue.DefaultConfig(),
	}
}

// flagKeys maps the flags registered by RegisterFlags to config keys.
var flagKeys = map[string]string{
	"db":          "store.path",
	"addr":        "server.addr",
	"log-level":   "log.level",
	"log-format":  "log.format",
	"repos-dir":   "sources.repos_dir",
	"concurrency": "sources.concurrency",
}

// RegisterFlags adds the flags that override configuration keys.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("db", def.Store.Path, "Path to the SQLite database file")
	fs.String("addr", def.Server.Addr, "Address for the HTTP server")
	fs.String("log-level", def.Log.Level, "Log level: debug, info, warn or error")
	fs.String("log-format", def.Log.Format, "Log format: json or text")
	fs.String("repos-dir", def.Sources.ReposDir, "Directory for git source checkouts")
	fs.Int("concurrency", def.Sources.Concurrency, "Number of sources synced in parallel")
}

// Load builds the configuration. path may be empty, in which case no file
// is read; a path that does not exist is an error. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config: file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	envKey := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config: read env: %w", err)
	}

	if fs != nil {
		flagKey := func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		}
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagKey), nil); err != nil {
			return Config{}, fmt.Errorf("config: read flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks every section against its struct tags.
func (c Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
