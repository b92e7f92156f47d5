package config

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Flags are the command line options of the server binary
type Flags struct {
	ConfigFile     string
	GenerateConfig bool
}

// ParseFlags parses args (without the program name). It returns pflag.ErrHelp
// after printing usage when --help is given.
func ParseFlags(name string, args []string, usage io.Writer) (Flags, error) {
	var flags Flags

	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(usage)
	flagSet.StringVarP(&flags.ConfigFile, "config", "c", "", "path to YAML configuration file")
	flagSet.BoolVar(&flags.GenerateConfig, "generate-config", false, "print a configuration file with default values and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(usage, "Usage: %s [flags]\n\nEvery setting can also be supplied through its environment variable,\noptionally prefixed with SCANCOLLAB_.\n\nFlags:\n", name)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		return Flags{}, err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return Flags{}, fmt.Errorf("unexpected argument: %s", extra[0])
	}
	return flags, nil
}

// GenerateExampleConfig writes the default configuration as YAML
func GenerateExampleConfig(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(Default()); err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	return encoder.Close()
}
