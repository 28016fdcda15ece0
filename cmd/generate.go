package cmd

import (
	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/vsdock/vintagestory-server/loggers/cli"
	"github.com/vsdock/vintagestory-server/parser"
	"os"
)

func newGenerateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config [output]",
		Short: "Render the server configuration from the settings template and VS_CFG_* overrides",
		Long: `Renders the server configuration without starting the server. The output
defaults to serverconfig.json inside of the data directory and is always
overwritten, the previous file is kept as serverconfig.json.backup.`,
		Args: cobra.MaximumNArgs(1),
		PreRun: func(cmd *cobra.Command, args []string) {
			log.SetHandler(cli.Default)
			if debug {
				log.SetLevel(log.DebugLevel)
				cli.Default.Traces = true
			}
		},
		Run: generateCmdRun,
	}
}

func generateCmdRun(_ *cobra.Command, args []string) {
	c := readConfiguration()

	output := c.ConfigPath()
	if len(args) > 0 {
		output = args[0]
	}

	if _, err := parser.Generate(c, output); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			exitWithTemplateNotice(c.TemplatePath())
		}
		log.WithField("error", err).Fatal("failed to generate server configuration")
	}
}
