package config

import (
	"errors"
	"fmt"
	"io/fs"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Options are the command line options shared by livesub binaries.
type Options struct {
	ConfigPath string `short:"c" long:"config" default:"configs/livesub.yaml" description:"Path to the YAML config file"`
	EnvFile    string `long:"env-file" default:".env" description:"Dotenv file loaded before the config (missing file is ignored)"`
	Debug      bool   `long:"debug" description:"Enable debug logging"`
	JSON       bool   `long:"json" description:"Log as JSON instead of text"`
	Version    bool   `long:"version" description:"Print version and exit"`
}

// ParseOptions parses args and loads the dotenv file they name.
// A help request is returned as a *flags.Error of type flags.ErrHelp.
func ParseOptions(args []string) (Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return Options{}, err
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Options{}, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}
	return opts, nil
}

// IsHelp reports whether err is a help request from ParseOptions.
func IsHelp(err error) bool {
	var flagErr *flags.Error
	return errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp
}
