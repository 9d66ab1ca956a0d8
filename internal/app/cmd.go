package app

import (
	"fmt"
	"io"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/cobra"
)

// healthcheckEnv はhealthcheckサブコマンドが参照する環境変数。
// healthcheckはフル初期化をスキップするため、必要な値だけを読む。
type healthcheckEnv struct {
	Port string `env:"SERVER_PORT" env-default:"8080"`
}

// NewRootCommand はtodomanのコマンドツリーを構築する。
// サブコマンドを省略した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	serve := newServeCommand(w)

	root := &cobra.Command{
		Use:           "todoman",
		Short:         "ToDoタスクAPIサーバー",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(serve)
	root.AddCommand(newMigrateCommand(w))
	root.AddCommand(newHealthcheckCommand())
	return root
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "APIサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runServe(cmd.Context(), cfg, l)
		},
	}
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	var (
		down        int
		showVersion bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "データベースマイグレーションを適用する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if down < 0 {
				return fmt.Errorf("--down must not be negative: %d", down)
			}
			cfg, l, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cmd.OutOrStdout(), cfg, l, down, showVersion)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back the given number of migrations")
	cmd.Flags().BoolVar(&showVersion, "version", false, "print the current schema version and exit")
	return cmd
}

func newHealthcheckCommand() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "起動中のサーバーの /health を確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				var env healthcheckEnv
				if err := cleanenv.ReadEnv(&env); err != nil {
					return fmt.Errorf("failed to read environment: %w", err)
				}
				url = "http://localhost:" + env.Port
			}
			return runHealthcheck(cmd.Context(), url)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "base URL of the server (default http://localhost:$SERVER_PORT)")
	return cmd
}
