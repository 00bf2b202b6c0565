package commands

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"paperreader/internal/config"
	"paperreader/pkg/logger"
)

var (
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "paperctl",
	Short: "Convert PDFs to Markdown and inspect conversion state",
	Long: `paperctl runs the paperreader conversion pipeline from the command line.
It reads the same environment as the server, so documents converted here
land in the same processed directory.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newContainer wires the application with console logs on stderr, keeping
// stdout for command output.
func newContainer() (*config.Container, error) {
	cfg := config.NewConfig()
	level := cfg.GetLogLevel()
	if verbose {
		level = "debug"
	}
	return config.NewContainerWith(cfg, logger.NewLoggerWithFormat(level, "console", os.Stderr))
}
