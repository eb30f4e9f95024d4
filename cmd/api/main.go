package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"ideaforge/api/internal/config"
)

var (
	rootCmd = &cobra.Command{
		Use:   "ideaforge-api",
		Short: "IdeaForge API server",
		Long:  `Serves the IdeaForge HTTP API: projects, ideas, reactions, collaborators, comments and idea promotion.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return config.LoadDotenv(envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, false)
		},
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			memory, _ := cmd.Flags().GetBool("memory")
			return runServe(cmd, memory)
		},
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			down, _ := cmd.Flags().GetBool("down")
			return runMigrate(cmd, down)
		},
	}
	reindexCmd = &cobra.Command{
		Use:   "reindex",
		Short: "Push every public project and idea to Meilisearch",
		RunE:  runReindex,
	}
)

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "Env file to load before reading configuration")
	serveCmd.Flags().Bool("memory", false, "Run on the in-memory store instead of PostgreSQL (data is lost on exit)")
	migrateCmd.Flags().Bool("down", false, "Roll back the most recently applied migration")
	rootCmd.AddCommand(serveCmd, migrateCmd, reindexCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("ideaforge-api: %v", err)
	}
}
