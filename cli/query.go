package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/palisade-ai/palisade/engine/audit"
	"github.com/palisade-ai/palisade/engine/auth"
	"github.com/palisade-ai/palisade/engine/billing"
	"github.com/palisade-ai/palisade/engine/core"
	"github.com/palisade-ai/palisade/engine/model"
	"github.com/palisade-ai/palisade/engine/orchestrator"
	"github.com/palisade-ai/palisade/engine/pii"
	"github.com/palisade-ai/palisade/engine/retrieval"
	"github.com/palisade-ai/palisade/engine/retrieval/embedder"
	"github.com/palisade-ai/palisade/engine/retrieval/graphdb"
	"github.com/palisade-ai/palisade/engine/retrieval/vectordb"
	"github.com/palisade-ai/palisade/engine/router"
	"github.com/palisade-ai/palisade/pkg/config"
	"github.com/palisade-ai/palisade/pkg/logger"
)

type queryFlags struct {
	userID           string
	roleID           string
	division         string
	department       string
	personaID        string
	modelID          string
	targetDivision   string
	targetDepartment string
	topK             int
	stream           bool
}

func QueryCmd() *cobra.Command {
	flags := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Run one query through the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), flags, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&flags.userID, "user", "", "acting user id")
	cmd.Flags().StringVar(&flags.roleID, "role", "", "acting role id")
	cmd.Flags().StringVar(&flags.division, "division", "", "principal division")
	cmd.Flags().StringVar(&flags.department, "department", "", "principal department")
	cmd.Flags().StringVar(&flags.personaID, "persona", "", "persona id")
	cmd.Flags().StringVar(&flags.modelID, "model", "", "requested model id")
	cmd.Flags().StringVar(&flags.targetDivision, "target-division", "", "retrieval target division")
	cmd.Flags().StringVar(&flags.targetDepartment, "target-department", "", "retrieval target department")
	cmd.Flags().IntVar(&flags.topK, "top-k", 0, "context items to retrieve")
	cmd.Flags().BoolVar(&flags.stream, "stream", false, "stream the response")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("division")
	return cmd
}

func runQuery(ctx context.Context, flags *queryFlags, queryText string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.SetupLogger(cfg.Log.Level, cfg.Log.JSON)
	ctx = logger.ContextWithLogger(ctx, log)

	pipeline, cleanup, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	req := orchestrator.Request{
		Principal: core.Principal{
			UserID: flags.userID,
			RoleID: flags.roleID,
			Scope:  core.Scope{DivisionID: flags.division, DepartmentID: flags.department},
		},
		PersonaID: flags.personaID,
		ModelID:   flags.modelID,
		Query:     queryText,
		TopK:      flags.topK,
	}
	if flags.targetDivision != "" {
		req.TargetScope = &core.Scope{
			DivisionID:   flags.targetDivision,
			DepartmentID: flags.targetDepartment,
		}
	}

	var result *orchestrator.Result
	if flags.stream {
		result, err = pipeline.ProcessStream(ctx, req, func(_ context.Context, chunk string) error {
			fmt.Fprint(os.Stdout, chunk)
			return nil
		})
		fmt.Fprintln(os.Stdout)
	} else {
		result, err = pipeline.Process(ctx, req)
		if result != nil {
			fmt.Fprintln(os.Stdout, result.Text)
		}
	}
	if err != nil {
		return err
	}
	log.Info("query completed",
		"request_id", result.RequestID,
		"model", result.ModelUsed,
		"tokens", result.TokensUsed,
		"cost", result.Cost.String(),
		"context_items", result.ContextItems,
		"degraded", result.Degraded,
		"redacted_kinds", strings.Join(result.RedactedKinds, ","),
		"duration_ms", result.Duration.Milliseconds(),
	)
	return nil
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*orchestrator.Orchestrator, func(), error) {
	roleCatalog, err := loadRoles(cfg)
	if err != nil {
		return nil, nil, err
	}
	gate, err := auth.NewGate(roleCatalog)
	if err != nil {
		return nil, nil, err
	}
	policy, err := loadPIIPolicy(cfg)
	if err != nil {
		return nil, nil, err
	}
	modelCatalog, err := loadModels(cfg)
	if err != nil {
		return nil, nil, err
	}
	personas, err := loadPersonas(cfg)
	if err != nil {
		return nil, nil, err
	}

	vectors, err := buildVectorStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	coordinator, err := retrieval.NewCoordinator(
		embedder.NewStatic(cfg.Redis.Dimension),
		vectors,
		graphdb.NewMemoryStore(),
		&retrieval.Options{
			DefaultTopK:   cfg.Retrieval.TopK,
			MaxHops:       cfg.Retrieval.MaxHops,
			MinScore:      cfg.Retrieval.MinScore,
			VectorTimeout: cfg.Retrieval.VectorTimeout,
			GraphTimeout:  cfg.Retrieval.GraphTimeout,
		},
	)
	if err != nil {
		return nil, nil, err
	}

	modelRouter, err := router.New(modelCatalog, nil, &router.Config{
		AttemptTimeout: cfg.Router.AttemptTimeout,
		MaxRetries:     cfg.Router.MaxRetries,
		RetryBackoff:   cfg.Router.RetryBackoff,
	})
	if err != nil {
		return nil, nil, err
	}

	log := logger.FromContext(ctx)
	recorder := audit.NewAsyncRecorder(audit.NewMemoryStore(), cfg.Audit.QueueSize, log)
	pipeline, err := orchestrator.New(
		gate,
		pii.NewScanner(policy),
		coordinator,
		modelRouter,
		personas,
		recorder,
		billing.NewMemoryLedger(),
		orchestrator.Options{
			MaxTokens:   cfg.Router.MaxTokens,
			Temperature: cfg.Router.Temperature,
			DefaultTopK: cfg.Retrieval.TopK,
		},
	)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		recorder.Close()
		if closeErr := modelRouter.Close(); closeErr != nil {
			log.Warn("router close failed", "error", core.RedactError(closeErr))
		}
		if closeErr := vectors.Close(context.Background()); closeErr != nil {
			log.Warn("vector store close failed", "error", core.RedactError(closeErr))
		}
	}
	return pipeline, cleanup, nil
}

func loadRoles(cfg *config.Config) (auth.Catalog, error) {
	if cfg.Catalogs.RolesFile != "" {
		return auth.LoadCatalog(cfg.Catalogs.RolesFile)
	}
	return auth.NewStaticCatalog([]auth.Role{
		{ID: "analyst", Permissions: []string{auth.ActionQuery}},
		{ID: "director", Permissions: []string{auth.ActionQuery}, CrossDivision: true, CrossDepartment: true},
	})
}

func loadPIIPolicy(cfg *config.Config) (*pii.Policy, error) {
	if cfg.Catalogs.PIIFile != "" {
		return pii.LoadPolicy(cfg.Catalogs.PIIFile)
	}
	return pii.NewPolicy([]pii.Rule{
		{Kind: "email", Pattern: `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`},
		{Kind: "ssn", Pattern: `\b\d{3}-\d{2}-\d{4}\b`},
		{Kind: "credit_card", Pattern: `\b\d{13,16}\b`, Method: pii.MethodMaskPartial, KeepPrefix: 4, KeepSuffix: 4},
	})
}

func loadModels(cfg *config.Config) (*model.Catalog, error) {
	if cfg.Catalogs.ModelsFile != "" {
		return model.LoadCatalog(cfg.Catalogs.ModelsFile)
	}
	// Without a catalog file only the built-in noop model is routable.
	return model.NewCatalog(nil)
}

func loadPersonas(cfg *config.Config) (*model.PersonaRegistry, error) {
	if cfg.Catalogs.PersonasFile != "" {
		return model.LoadPersonas(cfg.Catalogs.PersonasFile)
	}
	return model.NewPersonaRegistry(nil)
}

func buildVectorStore(ctx context.Context, cfg *config.Config) (vectordb.Store, error) {
	if cfg.Redis.DSN == "" {
		return vectordb.NewMemoryStore(), nil
	}
	return vectordb.NewRedisStore(ctx, &vectordb.RedisConfig{
		DSN:       cfg.Redis.DSN,
		KeyPrefix: cfg.Redis.KeyPrefix,
		Dimension: cfg.Redis.Dimension,
	})
}
