package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verbosity int
var host string
var port int

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "A CLI tool to talk to a fleetd control plane",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger(verbosity)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"the internal log level to print (e.g., -v will print WARNING, -vv will print INFO, -vvv will print DEBUG)",
	)
	rootCmd.PersistentFlags().StringVar(&host, "host", "127.0.0.1", "fleetd control plane host")
	rootCmd.PersistentFlags().IntVar(&port, "port", 3000, "fleetd control plane port")

	rootCmd.AddCommand(
		newListCommand(),
		newCreateCommand(),
		newExecCommand(),
	)
}

func setupLogger(verbose int) {
	var level slog.LevelVar
	switch {
	case verbose == 1:
		level.Set(slog.LevelWarn)
	case verbose == 2:
		level.Set(slog.LevelInfo)
	case verbose >= 3:
		level.Set(slog.LevelDebug)
	default:
		level.Set(slog.LevelError)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})
	slog.SetDefault(slog.New(handler))
}
