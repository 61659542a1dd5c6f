package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "marionette",
		Short: "Branching conversation and streaming-orchestration engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			viper.SetEnvPrefix("MARIONETTE")
			viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			viper.AutomaticEnv()

			level, err := zerolog.ParseLevel(viper.GetString("log-level"))
			if err != nil {
				level = zerolog.InfoLevel
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
			return nil
		},
	}

	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db", defaultDBPath(), "path to the session database")

	rootCmd.AddCommand(NewReplayCmd())
	rootCmd.AddCommand(NewSessionsCmd())

	return rootCmd
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return home + "/.marionette/sessions.db"
}
