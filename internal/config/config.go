// Package config builds the Config value the core (index, conn,
// listener) assumes as already constructed (spec §6): port, database
// directory, and charset, resolved from command-line flags and an
// optional key=value file, following minimega's flag-based CLI
// (cmd/minimega/main.go's f_* vars) for flags and
// github.com/joho/godotenv for the key=value file.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Config is the pre-built value the core components consume.
type Config struct {
	Port     int
	DBDir    string
	Charset  string
	Encoding encoding.Encoding
}

const (
	DefaultPort    = 4242
	DefaultCharset = "UTF-8"
)

// FlagSet registers the flags understood by cmd/textboardd, mirroring
// minimega's flat, package-level flag.* calls.
type FlagSet struct {
	port       *int
	dbDir      *string
	charset    *string
	configFile *string
}

func RegisterFlags(fs *flag.FlagSet) *FlagSet {
	wd, _ := os.Getwd()

	return &FlagSet{
		port:       fs.Int("port", DefaultPort, "TCP port to listen on"),
		dbDir:      fs.String("db", wd, "database directory"),
		charset:    fs.String("charset", DefaultCharset, "character encoding for the wire protocol"),
		configFile: fs.String("config", "", "optional key=value configuration file"),
	}
}

// Resolve builds the final Config: config file values (if given)
// establish a base, any flag explicitly set on the command line
// overrides them, and compiled-in defaults fill anything left unset.
func (f *FlagSet) Resolve(fs *flag.FlagSet) (Config, error) {
	cfg := Config{
		Port:    *f.port,
		DBDir:   *f.dbDir,
		Charset: *f.charset,
	}

	if *f.configFile != "" {
		values, err := godotenv.Read(*f.configFile)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %v: %w", *f.configFile, err)
		}

		set := flagsExplicitlySet(fs)

		if v, ok := values["port"]; ok && !set["port"] {
			var port int
			if _, err := fmt.Sscanf(v, "%d", &port); err != nil {
				return Config{}, fmt.Errorf("config: invalid port %q in %v", v, *f.configFile)
			}
			cfg.Port = port
		}
		if v, ok := values["database_directory"]; ok && !set["db"] {
			cfg.DBDir = v
		}
		if v, ok := values["charset"]; ok && !set["charset"] {
			cfg.Charset = v
		}
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("config: port %d out of range [0, 65535]", cfg.Port)
	}

	enc, err := htmlindex.Get(cfg.Charset)
	if err != nil {
		return Config{}, fmt.Errorf("config: unknown charset %q: %w", cfg.Charset, err)
	}
	cfg.Encoding = enc

	return cfg, nil
}

func flagsExplicitlySet(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}
