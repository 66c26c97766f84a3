package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/surfacer/internal/config"
	"github.com/lazypower/surfacer/internal/engine"
	"github.com/lazypower/surfacer/internal/store"
)

var (
	evalQuery    string
	evalUser     string
	evalPlatform string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one surfacing evaluation against the local database",
	RunE:  runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVarP(&evalQuery, "query", "q", "", "free-text input to evaluate")
	evaluateCmd.Flags().StringVarP(&evalUser, "user", "u", "", "requesting user id")
	evaluateCmd.Flags().StringVarP(&evalPlatform, "platform", "p", "slack", "platform (slack, email, form, browser)")
	evaluateCmd.MarkFlagRequired("query")
	evaluateCmd.MarkFlagRequired("user")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	logger := zap.NewNop()
	embedder := newEmbedder(cfg.Embedding, db, logger)
	if embedder == nil {
		return fmt.Errorf("no embedder available, seed memories first")
	}

	eng := engine.New(db, embedder, cfg, logger, nil)
	eng.Ingestor().Start()
	defer eng.Ingestor().Stop()

	decision, err := eng.Evaluate(cmd.Context(), engine.RawEvent{
		Platform: evalPlatform,
		RawInput: evalQuery,
		UserID:   evalUser,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(decision)
}
