// crx3 packages a browser extension into a signed CRX3 file.
//
// Given an extension directory, or its manifest.json, it zips the files and
// signs the archive with a private key that is created on first use and
// reused afterwards, so the extension keeps its ID. A zip archive can also be
// piped in on stdin. Optionally a copy of the zip and an update manifest are
// written next to the package.
//
// The verify subcommand checks the signatures of existing packages.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/storacha/go-crx3/config"
	"github.com/storacha/go-crx3/crx"
	"github.com/storacha/go-crx3/pack"
	"github.com/storacha/go-crx3/version"
)

const program = "crx3"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	crxPath    string
	keyPath    string
	zipPath    string
	xmlPath    string
	crxURL     string
	appVersion string
	name       string
	configPath string
	verbose    bool
	version    bool
	help       bool
}

func (f *flags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.crxPath, "crx", "o", "", "create CRX file at path")
	flagSet.StringVarP(&f.keyPath, "key", "p", "", "read from or create private key file at path")
	flagSet.StringVarP(&f.zipPath, "zip", "z", "", "create ZIP file too")
	flagSet.StringVarP(&f.xmlPath, "xml", "x", "", "create update manifest too")
	for _, name := range []string{"crx", "key", "zip", "xml"} {
		flagSet.Lookup(name).NoOptDefVal = config.Auto
	}
	flagSet.StringVar(&f.crxURL, "crx-url", "", "URL to write into the update manifest")
	flagSet.StringVar(&f.appVersion, "app-version", "", "version to write into the update manifest")
	flagSet.StringVar(&f.name, "name", "", "name output files after name")
	flagSet.StringVar(&f.configPath, "config", "", "read settings from a YAML file")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "log progress to stderr")
	flagSet.BoolVar(&f.version, "version", false, "print version and exit")
	flagSet.BoolVarP(&f.help, "help", "h", false, "show help")
}

// apply overrides cfg with the flags given on the command line.
func (f *flags) apply(flagSet *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, dst *string, value string) {
		if flagSet.Changed(name) {
			*dst = value
		}
	}
	set("crx", &cfg.CRXPath, f.crxPath)
	set("key", &cfg.KeyPath, f.keyPath)
	set("zip", &cfg.ZipPath, f.zipPath)
	set("xml", &cfg.XMLPath, f.xmlPath)
	set("crx-url", &cfg.CRXURL, f.crxURL)
	set("app-version", &cfg.AppVersion, f.appVersion)
	set("name", &cfg.Name, f.name)
	if args := flagSet.Args(); len(args) > 0 {
		cfg.SrcPaths = args
	}
}

// pathFlags take an optional path. Bare, they name the file after the
// extension.
var pathFlags = map[string]bool{
	"-o": true, "--crx": true,
	"-p": true, "--key": true,
	"-z": true, "--zip": true,
	"-x": true, "--xml": true,
}

// attachPaths joins a path flag with the argument that follows it, so
// "-z backup.zip" reads as "-z=backup.zip". The flag stays bare when it is
// last or followed by "--" or another flag.
func attachPaths(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if pathFlags[arg] && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			arg += "=" + args[i+1]
			i++
		}
		out = append(out, arg)
	}
	return out
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "verify" {
		return runVerify(args[1:], stdout)
	}

	var f flags
	flagSet := pflag.NewFlagSet(program, pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	f.register(flagSet)
	if err := flagSet.Parse(attachPaths(args)); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fmt.Fprint(stdout, config.HelpText(program))
			return nil
		}
		return fmt.Errorf("%w (see %s --help)", err, program)
	}

	if f.help {
		fmt.Fprint(stdout, config.HelpText(program))
		return nil
	}
	if f.version {
		fmt.Fprintf(stdout, "%s %s\n", program, version.Full())
		return nil
	}

	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(f.configPath); err != nil {
			return err
		}
	}
	f.apply(flagSet, cfg)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	cfg.Sanitize(cwd)

	var info *pack.Info
	switch {
	case len(cfg.SrcPaths) > 0:
		info, err = pack.FromFiles(cfg, nil, pack.WithLogger(logger))
	case isTerminal(stdin):
		fmt.Fprint(stdout, config.HelpText(program))
		return nil
	default:
		info, err = pack.FromZip(cfg, stdin, pack.WithLogger(logger))
	}
	if err != nil {
		return err
	}

	if info.KeyCreated && info.KeyPath != "" {
		fmt.Fprintf(stdout, "Private key file created at %q\n", info.KeyPath)
	}
	fmt.Fprintf(stdout, "CRX file created at %q\n", info.CRXPath)
	if info.ZipPath != "" {
		fmt.Fprintf(stdout, "ZIP file created at %q\n", info.ZipPath)
	}
	if info.XMLPath != "" {
		fmt.Fprintf(stdout, "XML file created at %q\n", info.XMLPath)
	}
	return nil
}

func runVerify(args []string, stdout io.Writer) error {
	flagSet := pflag.NewFlagSet(program+" verify", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	paths := flagSet.Args()
	if len(paths) == 0 {
		return fmt.Errorf("usage: %s verify file.crx...", program)
	}

	var failed int
	for _, path := range paths {
		v, err := verifyFile(path)
		if err != nil {
			fmt.Fprintf(stdout, "%s: %v\n", filepath.Base(path), err)
			failed++
			continue
		}
		fmt.Fprintf(stdout, "%s: OK\n  id: %s\n  archive: %s (%d bytes)\n  key: %s\n",
			filepath.Base(path), v.ID, v.BodyCID, v.BodySize, v.PublicKeyString())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d packages failed verification", failed, len(paths))
	}
	return nil
}

func verifyFile(path string) (*crx.Verified, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return crx.Verify(f)
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
