// e2asm assembles Intel-syntax 8086 source into a flat binary image.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/moesay/e2asm/assembler"
	"github.com/moesay/e2asm/diag"
)

// fileConfig is the optional TOML configuration (e2asm.toml or --config).
type fileConfig struct {
	Origin       string   `toml:"origin"`
	IncludePaths []string `toml:"include_paths"`
	Warnings     *bool    `toml:"warnings"`
}

type options struct {
	output      string
	origin      string
	includes    []string
	listing     bool
	symbols     bool
	noWarnings  bool
	configPath  string
	verbose     bool
}

func main() {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "e2asm [flags] <input.asm>",
		Short: "Assemble Intel-syntax 8086 source into a flat binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(opts, args[0])
		},
		SilenceErrors: true,
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "", "output file (default: input with .bin extension, - for stdout)")
	flags.StringVar(&opts.origin, "origin", "", "load origin when the source has no ORG (e.g. 0x7C00)")
	flags.StringArrayVarP(&opts.includes, "include", "I", nil, "directory to search for %include files")
	flags.BoolVarP(&opts.listing, "listing", "l", false, "print the listing to stdout")
	flags.BoolVarP(&opts.symbols, "symbols", "s", false, "print the symbol table to stdout")
	flags.BoolVar(&opts.noWarnings, "no-warnings", false, "suppress warning diagnostics")
	flags.StringVar(&opts.configPath, "config", "", "TOML configuration file (default: ./e2asm.toml if present)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "e2asm:", err)
		os.Exit(1)
	}
}

func run(opts *options, input string) error {
	if opts.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	asm := assembler.New()

	warnings := !opts.noWarnings
	if cfg.Warnings != nil && !opts.noWarnings {
		warnings = *cfg.Warnings
	}
	asm.EnableWarnings(warnings)

	origin := opts.origin
	if origin == "" {
		origin = cfg.Origin
	}
	if origin != "" {
		value, err := assembler.Evaluate(origin)
		if err != nil {
			return errors.Wrapf(err, "invalid origin %q", origin)
		}
		asm.SetOrigin(uint64(value))
	}

	asm.SetIncludePaths(append(cfg.IncludePaths, opts.includes...))

	result := asm.AssembleFile(input)
	for _, d := range result.Errors {
		fmt.Fprintln(os.Stderr, d.String())
	}
	if !result.Success {
		return errors.Errorf("assembly failed with %d error(s)", countErrors(result.Errors))
	}

	if opts.listing {
		fmt.Print(result.ListingText())
	}
	if opts.symbols {
		for _, name := range result.SortedSymbols() {
			fmt.Printf("%04X  %s\n", result.Symbols[name], name)
		}
	}

	return writeOutput(opts, input, result)
}

func writeOutput(opts *options, input string, result *assembler.Result) error {
	output := opts.output
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + ".bin"
	}

	if output == "-" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("refusing to write binary output to a terminal; redirect stdout or use -o")
		}
		_, err := os.Stdout.Write(result.Binary)
		return errors.Wrap(err, "writing binary to stdout")
	}

	if err := result.WriteBinary(output); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"output": output, "bytes": len(result.Binary)}).
		Debug("binary written")
	return nil
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		if _, err := os.Stat("e2asm.toml"); err != nil {
			return cfg, nil
		}
		path = "e2asm.toml"
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "loading config %s", path)
	}
	return cfg, nil
}

func countErrors(diags []diag.Diagnostic) int {
	n := 0
	for _, d := range diags {
		if d.IsError() {
			n++
		}
	}
	return n
}
