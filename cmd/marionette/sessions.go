package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/marionette/pkg/history"
	"github.com/go-go-golems/marionette/pkg/history/sqlitestore"
)

func openBackend() (*sqlitestore.Store, error) {
	path := viper.GetString("db")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create database directory")
	}
	return sqlitestore.Open(path)
}

func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and move persisted sessions",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	cmd.AddCommand(newSessionsExportCmd())
	cmd.AddCommand(newSessionsImportCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer func() {
				_ = backend.Close()
			}()

			sessions, err := backend.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range sessions {
				cmd.Println(fmt.Sprintf("%s  %s  %s", s.ID, s.CreatedAt.Format("2006-01-02 15:04"), s.Title))
			}
			return nil
		},
	}
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the active thread of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer func() {
				_ = backend.Close()
			}()

			sess, err := backend.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Println("# " + sess.Title)
			for _, m := range sess.Messages {
				cmd.Println(fmt.Sprintf("[%s] %s", m.Role, m.ActiveText()))
			}
			return nil
		},
	}
}

func newSessionsExportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Write a session, including every branch, to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer func() {
				_ = backend.Close()
			}()

			sess, err := backend.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sess)
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				defer func() {
					_ = enc.Close()
				}()
				return enc.Encode(sess)
			default:
				return errors.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format (json or yaml)")
	return cmd
}

func newSessionsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <session.json|session.yaml>",
		Short: "Import a previously exported session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(err, "read session file")
			}
			var sess history.ChatSession
			switch filepath.Ext(args[0]) {
			case ".yaml", ".yml":
				err = yaml.Unmarshal(data, &sess)
			default:
				err = json.Unmarshal(data, &sess)
			}
			if err != nil {
				return errors.Wrap(err, "parse session file")
			}

			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer func() {
				_ = backend.Close()
			}()

			if _, err := backend.CreateSession(cmd.Context(), &sess); err != nil {
				return err
			}
			cmd.Println("imported " + sess.ID)
			return nil
		},
	}
}
