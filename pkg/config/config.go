package config

import (
	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config describes all configuration options
type Config struct {
	Tasks  string `default:"tasks.star" usage:"Name of the task script to look for"`
	Coffee struct {
		Src      string `default:"src/*.coffee" usage:"Glob matching the CoffeeScript sources"`
		Dest     string `default:"dist" usage:"Output directory"`
		Ext      string `default:".js" usage:"Extension of the generated files"`
		Bare     bool   `default:"true" usage:"Compile without the top-level function safety wrapper"`
		Compiler string `default:"coffee" usage:"Command used to run the CoffeeScript compiler"`
	}
	Log struct {
		Level string `default:"info"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	Deps struct {
		File   string `default:"DEPS.yml" usage:"Dependency list used by fetch-deps"`
		Stamps string `default:".tools/DEPS.stamps"`
	}
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object
func Loader(files ...string) (*Config, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{"coffeetask.toml"}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "COFFEETASK",
		SkipFlags: true,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the configuration from the given files (coffeetask.toml by default) and the
// environment and validates the result.
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.Coffee.Src == "" {
		return eris.New(`coffee.src must not be empty`)
	}

	if cfg.Coffee.Dest == "" {
		return eris.New(`coffee.dest must not be empty`)
	}

	if cfg.Coffee.Ext == "" || cfg.Coffee.Ext[0] != '.' {
		return eris.Errorf(`Invalid value for coffee.ext: %q (must start with a dot)`, cfg.Coffee.Ext)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}
