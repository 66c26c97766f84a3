package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/surfacer/internal/config"
	"github.com/lazypower/surfacer/internal/engine"
	"github.com/lazypower/surfacer/internal/store"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load users and approved memories from a YAML file",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML seed file")
	seedCmd.MarkFlagRequired("file")
}

type seedDoc struct {
	Users []struct {
		ID         string `yaml:"id"`
		Role       string `yaml:"role"`
		Department string `yaml:"department"`
		Clearance  string `yaml:"clearance"`
	} `yaml:"users"`
	Memories []struct {
		CanonicalQuestion string   `yaml:"canonical_question"`
		SemanticVariants  []string `yaml:"semantic_variants"`
		Answer            string   `yaml:"answer"`
		Departments       []string `yaml:"departments"`
		MinClearance      string   `yaml:"min_clearance"`
		AllowedRoles      []string `yaml:"allowed_roles"`
		RedactBelow       bool     `yaml:"redact_below"`
		Sensitivity       string   `yaml:"sensitivity"`
		RelatedWorkflows  []string `yaml:"related_workflows"`
		WorkflowStep      int      `yaml:"workflow_step"`
		ExpiresInDays     int      `yaml:"expires_in_days"`
		ReconfirmInDays   int      `yaml:"reconfirm_in_days"`
		AuthorityScore    float64  `yaml:"authority_score"`
	} `yaml:"memories"`
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(seedFile)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var doc seedDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
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

	for _, u := range doc.Users {
		if err := db.PutUser(store.User{
			ID: u.ID, Role: u.Role, Department: u.Department, Clearance: u.Clearance,
		}); err != nil {
			return err
		}
	}

	now := time.Now()
	for _, m := range doc.Memories {
		var expiresAt, reconfirmBy int64
		if m.ExpiresInDays > 0 {
			expiresAt = now.AddDate(0, 0, m.ExpiresInDays).UnixMilli()
		}
		if m.ReconfirmInDays > 0 {
			reconfirmBy = now.AddDate(0, 0, m.ReconfirmInDays).UnixMilli()
		}
		mem := &store.Memory{
			CanonicalQuestion: m.CanonicalQuestion,
			SemanticVariants:  m.SemanticVariants,
			Answer:            m.Answer,
			Departments:       m.Departments,
			MinClearance:      m.MinClearance,
			AllowedRoles:      m.AllowedRoles,
			RedactBelow:       m.RedactBelow,
			Sensitivity:       m.Sensitivity,
			RelatedWorkflows:  m.RelatedWorkflows,
			WorkflowStep:      m.WorkflowStep,
			ExpiresAt:         expiresAt,
			ReconfirmBy:       reconfirmBy,
			AuthorityScore:    m.AuthorityScore,
			Status:            store.StatusApproved,
		}
		if err := db.CreateMemory(mem); err != nil {
			return err
		}
	}

	// Vocabulary depends on the corpus, so embed after every memory exists.
	embedder := newEmbedder(cfg.Embedding, db, zap.NewNop())
	if embedder == nil {
		return fmt.Errorf("no embedder available")
	}

	ctx := context.Background()
	memories, err := db.ListApproved(now.UnixMilli())
	if err != nil {
		return err
	}
	embedded := 0
	for i := range memories {
		vec, err := embedder.Embed(ctx, engine.EmbeddingText(&memories[i]))
		if err != nil {
			return fmt.Errorf("embed %s: %w", memories[i].ID, err)
		}
		if err := db.SaveVector(memories[i].ID, vec, embedder.Model()); err != nil {
			return err
		}
		embedded++
	}

	fmt.Fprintf(os.Stderr, "seeded %d users, %d memories (%d embedded)\n",
		len(doc.Users), len(doc.Memories), embedded)
	return nil
}
