// Package config loads the dispatch service's configuration: environment
// variables first (grounded on the reference config.Load's env-struct
// pattern, built on this module's internal/env.Load), then CLI flags
// layered on top since flags are the collaborator interface the
// specification calls out by name.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strconv"

	"github.com/segin/distconv/internal/env"
)

// ErrHelpRequested is returned by Load when --help was passed, so main
// can print usage text and exit 0 instead of treating it as a failure.
var ErrHelpRequested = errors.New("help requested")

// DefaultPort is used when neither DISTCONV_PORT nor --port is set.
const DefaultPort = "8080"

// DefaultDatabasePath selects the in-memory repository when empty;
// any non-empty value is treated as a SQLite file path.
const DefaultDatabasePath = ""

// Config holds the resolved server configuration: environment variables
// read first, then CLI flags override anything they explicitly set.
type Config struct {
	APIKey   string `env:"DISTCONV_API_KEY"`
	Database string `env:"DISTCONV_DATABASE"`
	Port     string `env:"DISTCONV_PORT"`
}

// Load reads environment variables, then parses args (typically
// os.Args[1:]) on top, applying defaults for anything still unset.
// Unknown flags are ignored without error, matching the collaborator
// contract; an invalid --port value is reported as an error so main can
// exit 1 with a diagnostic.
func Load(args []string) (Config, error) {
	cfg := Config{}
	if err := env.Load(&cfg); err != nil {
		return Config{}, fmt.Errorf("load environment config: %w", err)
	}

	fs := flag.NewFlagSet("distconv", flag.ContinueOnError)
	fs.Usage = func() {}
	fs.SetOutput(discardWriter{})

	apiKey := fs.String("api-key", cfg.APIKey, "shared secret required via X-API-Key on every request except the health check")
	database := fs.String("database", cfg.Database, "path to a SQLite database file; empty uses the in-memory repository")
	port := fs.String("port", cfg.Port, "TCP port to listen on")
	help := fs.Bool("help", false, "print usage and exit")

	if err := fs.Parse(filterKnownFlags(fs, args)); err != nil {
		return Config{}, err
	}
	if *help {
		return Config{}, ErrHelpRequested
	}

	cfg.APIKey = *apiKey
	cfg.Database = *database
	cfg.Port = *port

	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return Config{}, fmt.Errorf("invalid --port %q: %w", cfg.Port, err)
	}

	return cfg, nil
}

// filterKnownFlags drops any --flag (and, for unary flags, its value)
// that fs does not define, so unrecognized flags are ignored rather than
// rejected by fs.Parse.
func filterKnownFlags(fs *flag.FlagSet, args []string) []string {
	known := map[string]bool{}
	fs.VisitAll(func(f *flag.Flag) { known[f.Name] = true })

	isBoolFlag := func(name string) bool {
		f := fs.Lookup(name)
		if f == nil {
			return false
		}
		bv, ok := f.Value.(interface{ IsBoolFlag() bool })
		return ok && bv.IsBoolFlag()
	}

	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, hasValue, inlineValue := parseFlagName(arg)
		if name == "" {
			out = append(out, arg)
			continue
		}
		if !known[name] {
			if hasValue || isBoolFlag(name) {
				continue
			}
			// Unknown flag with a separate value argument: skip both.
			if i+1 < len(args) && len(args[i+1]) > 0 && args[i+1][0] != '-' {
				i++
			}
			continue
		}
		if hasValue {
			out = append(out, "-"+name+"="+inlineValue)
		} else {
			out = append(out, arg)
		}
	}
	return out
}

// parseFlagName extracts the flag name from "-x", "--x", "-x=v", "--x=v".
// Returns name="" for anything that is not flag-shaped.
func parseFlagName(arg string) (name string, hasValue bool, value string) {
	if len(arg) < 2 || arg[0] != '-' {
		return "", false, ""
	}
	trimmed := arg[1:]
	if len(trimmed) > 0 && trimmed[0] == '-' {
		trimmed = trimmed[1:]
	}
	for i, r := range trimmed {
		if r == '=' {
			return trimmed[:i], true, trimmed[i+1:]
		}
	}
	return trimmed, false, ""
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
