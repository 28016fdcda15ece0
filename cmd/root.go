package cmd

import (
	"context"
	"emperror.dev/errors"
	"fmt"
	"github.com/NYTimes/logrotate"
	"github.com/apex/log"
	"github.com/apex/log/handlers/multi"
	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"
	"github.com/vsdock/vintagestory-server/config"
	"github.com/vsdock/vintagestory-server/loggers/cli"
	"github.com/vsdock/vintagestory-server/server"
	"github.com/vsdock/vintagestory-server/system"
	"os"
	"path/filepath"
)

var (
	debug       = false
	showVersion = false
)

var root = &cobra.Command{
	Use:   "vsentry [--debug] [--] [server arguments]",
	Short: "Prepares and supervises a Vintage Story dedicated server inside of a container",
	Long: `Creates the data directory, renders serverconfig.json from the settings template
and any VS_CFG_* overrides, then starts the server as the service user and
forwards its log files to the container output. Arguments after the flags are
passed to the server unchanged.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	// Server arguments look like flags and must reach the server untouched, so
	// the entrypoint flags are read by splitArgs instead.
	DisableFlagParsing: true,
	Run:                rootCmdRun,
}

// entrypoint runs the supervisor with the arguments meant for the server.
var entrypoint = runEntrypoint

func init() {
	root.PersistentFlags().BoolVar(&showVersion, "version", false, "show the version and exit")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "pass in order to run the entrypoint in debug mode")
	root.AddCommand(newGenerateCommand())
	root.AddCommand(newDiagnosticsCommand())
}

// Execute calls cobra to handle cli commands
func Execute() error {
	return root.Execute()
}

// readConfiguration builds the configuration from the process environment. The
// entrypoint cannot do anything useful without one, so failures are fatal.
func readConfiguration() *config.Configuration {
	c, err := config.FromEnviron(os.Environ())
	if err != nil {
		log.WithField("error", err).Fatal("failed to load configuration from environment")
	}
	return c
}

// splitArgs reads the entrypoint flags at the start of args and returns what
// follows them. A "--" ends the entrypoint flags and is dropped, the first
// argument that is not an entrypoint flag starts the server arguments.
func splitArgs(args []string) (rest []string, help bool) {
	for i, a := range args {
		switch a {
		case "--debug":
			debug = true
		case "--version":
			showVersion = true
		case "-h", "--help":
			help = true
		case "--":
			return args[i+1:], help
		default:
			return args[i:], help
		}
	}
	return nil, help
}

func rootCmdRun(cmd *cobra.Command, args []string) {
	args, help := splitArgs(args)
	if help {
		_ = cmd.Help()
		return
	}
	if showVersion {
		fmt.Println(system.Version)
		os.Exit(0)
	}
	entrypoint(args)
}

func runEntrypoint(args []string) {
	log.SetHandler(cli.Default)
	c := readConfiguration()

	printLogo()
	closer, err := configureLogging(c.Logging.File, debug)
	if err != nil {
		log.WithField("error", err).Fatal("failed to configure logging")
	}

	log.WithFields(log.Fields{
		"server_path": c.ServerPath,
		"data_path":   c.DataPath,
		"uid":         c.User.Uid,
		"gid":         c.User.Gid,
	}).Info("loaded configuration from environment")
	if debug {
		log.Debug("running in debug mode")
	}

	err = server.New(c).Run(context.Background(), args)
	var se *server.StepError
	if errors.As(err, &se) && se.Step == "configure" && errors.Is(err, os.ErrNotExist) {
		closer()
		exitWithTemplateNotice(c.TemplatePath())
	}
	code := exitCode(err)
	closer()
	os.Exit(code)
}

// exitCode returns the code the entrypoint exits with. The code of the server
// is passed through as is, anything that went wrong before or around it is a 1.
func exitCode(err error) int {
	if ee, ok := server.IsExitError(err); ok && ee.Err == nil {
		return ee.Code
	}
	if err != nil {
		log.WithField("error", err).Error("entrypoint failed")
	}
	return 1
}

// Configures the global logger so that it can be called from any location in
// the code without having to pass around a logger instance. If a file is given
// every entry is also written to it, and the file is reopened on SIGHUP so that
// it can be rotated.
func configureLogging(file string, debug bool) (func(), error) {
	if debug {
		log.SetLevel(log.DebugLevel)
		cli.Default.Traces = true
	} else {
		log.SetLevel(log.InfoLevel)
	}

	if file == "" {
		log.SetHandler(cli.Default)
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, errors.WithMessage(err, "failed to create log directory")
	}
	w, err := logrotate.NewFile(file)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to open process log file")
	}

	fh := cli.New(w.File, false)
	fh.Traces = true
	log.SetHandler(multi.New(cli.Default, fh))
	log.WithField("path", file).Info("writing log files to disk")

	return func() { _ = w.Close() }, nil
}

// Prints the entrypoint banner, nothing special here!
func printLogo() {
	fmt.Fprintf(os.Stderr, colorstring.Color(`
[green][bold]Vintage Story[reset] dedicated server container [bold]v%s[reset]
%s`), system.Version, "\n")
}

func exitWithTemplateNotice(path string) {
	fmt.Fprint(os.Stderr, colorstring.Color(fmt.Sprintf(`
[_red_][white][bold]Error: Settings Template Not Found[reset]

The server configuration is rendered from a settings template, and no
template could be found at:

    %s

Mount a server-config.yaml into the data directory, or make sure the image
ships one in the home directory.

`, path)))
	os.Exit(1)
}
