package bottleneck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"bottleneck/internal/deploy"
	"bottleneck/internal/domain"
	"bottleneck/internal/model"
	"bottleneck/internal/resolver"
	"bottleneck/internal/stats"
	"bottleneck/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "bottleneck.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Engine       resolver.Config
	Logger       *slog.Logger
}

// Client owns a store and a resolver engine. Run artifacts are written under
// ArtifactsDir so that later invocations can list, export and deploy them.
type Client struct {
	store     storage.Store
	storeKind string
	engine    *resolver.Engine
	planner   *deploy.Planner
	catalog   *domain.Catalog
	logger    *slog.Logger

	artifactsDir string
	exportsDir   string

	initMu      sync.Mutex
	initialized bool
}

type ResolveRequest struct {
	// Definition is used when DefinitionPath is empty.
	Definition     model.Definition
	DefinitionPath string
	Options        resolver.Options
}

type ResolveSummary struct {
	Result       *resolver.Result
	ArtifactsDir string
}

type DomainItem struct {
	Name          string
	DisplayName   string
	Description   string
	Complexity    string
	Variables     []model.VariableSpec
	KeyIndicators []string
	Preferred     []string
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID         string
	CreatedAtUTC  string
	Domain        string
	Strategy      string
	Status        string
	Seed          int64
	MaxIterations int
	BestScore     float64
	BestAttractor string
	TimedOut      bool
}

type DeployRequest struct {
	RunID  string
	Latest bool
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind
	}
	dbPath := opts.DBPath
	if dbPath == "" && storeKind == "sqlite" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	catalog := domain.DefaultCatalog()
	engineCfg := opts.Engine
	engineCfg.Logger = logger

	return &Client{
		store:        store,
		storeKind:    storeKind,
		engine:       resolver.New(store, catalog, engineCfg),
		planner:      deploy.NewPlanner(store, catalog),
		catalog:      catalog,
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Init prepares the store. Other calls initialize on first use.
func (c *Client) Init(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("init %s store: %w", c.storeKind, err)
	}
	c.initialized = true
	return nil
}

func (c *Client) Resolve(ctx context.Context, req ResolveRequest) (ResolveSummary, error) {
	def := req.Definition
	if req.DefinitionPath != "" {
		loaded, err := domain.LoadDefinition(req.DefinitionPath)
		if err != nil {
			return ResolveSummary{}, err
		}
		def = loaded
	}
	if err := c.Init(ctx); err != nil {
		return ResolveSummary{}, err
	}

	result, err := c.engine.Resolve(ctx, def, req.Options)
	if err != nil {
		return ResolveSummary{}, err
	}

	checkpoints, err := c.store.ListCheckpoints(ctx, result.RunID)
	if err != nil {
		c.logger.Warn("list checkpoints failed", slog.String("run_id", result.RunID), slog.String("error", err.Error()))
		checkpoints = nil
	}
	kinds := make([]string, 0, len(req.Options.Kinds))
	for _, k := range req.Options.Kinds {
		kinds = append(kinds, string(k))
	}
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:                result.RunID,
			BottleneckID:         result.BottleneckID,
			Domain:               result.Domain,
			Strategy:             string(result.Strategy),
			MaxIterations:        req.Options.MaxIterations,
			ConvergenceThreshold: req.Options.ConvergenceThreshold,
			TimeoutMS:            req.Options.Timeout.Milliseconds(),
			Kinds:                kinds,
			Seed:                 c.engine.Seed(),
			Store:                c.storeKind,
		},
		Result:      result,
		Checkpoints: checkpoints,
	})
	if err != nil {
		return ResolveSummary{}, fmt.Errorf("write run artifacts: %w", err)
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:         result.RunID,
		BottleneckID:  result.BottleneckID,
		Domain:        result.Domain,
		Strategy:      string(result.Strategy),
		Status:        string(result.Status),
		MaxIterations: req.Options.MaxIterations,
		Seed:          c.engine.Seed(),
		BestScore:     result.Best.Score,
		BestAttractor: string(result.Best.Attractor),
		TimedOut:      result.TimedOut,
		CreatedAtUTC:  result.Timestamp.Format(time.RFC3339Nano),
	}); err != nil {
		return ResolveSummary{}, fmt.Errorf("append run index: %w", err)
	}
	return ResolveSummary{Result: result, ArtifactsDir: runDir}, nil
}

// History lists the stored runs of a bottleneck, newest first.
func (c *Client) History(ctx context.Context, bottleneckID string) ([]model.ExplorationRun, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.engine.History(ctx, bottleneckID)
}

func (c *Client) Solution(ctx context.Context, id string) (model.Solution, error) {
	if err := c.Init(ctx); err != nil {
		return model.Solution{}, err
	}
	sol, ok, err := c.engine.Solution(ctx, id)
	if err != nil {
		return model.Solution{}, err
	}
	if !ok {
		return model.Solution{}, fmt.Errorf("solution %s: %w", id, storage.ErrNotFound)
	}
	return sol, nil
}

func (c *Client) Checkpoints(ctx context.Context, runID string) ([]model.Checkpoint, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.ListCheckpoints(ctx, runID)
}

func (c *Client) Domains() []DomainItem {
	names := c.catalog.Names()
	out := make([]DomainItem, 0, len(names))
	for _, name := range names {
		t, err := c.catalog.Get(name)
		if err != nil {
			continue
		}
		item := DomainItem{
			Name:          t.Name,
			DisplayName:   t.Metadata.DisplayName,
			Description:   t.Metadata.Description,
			Complexity:    t.Metadata.Complexity,
			Variables:     t.Variables,
			KeyIndicators: t.Metadata.KeyIndicators,
		}
		for _, k := range t.PreferredKinds() {
			item.Preferred = append(item.Preferred, string(k))
		}
		out = append(out, item)
	}
	return out
}

// Deploy builds a deployment plan from a recorded run's artifacts, saves it
// in the store and next to the run's artifacts.
func (c *Client) Deploy(ctx context.Context, req DeployRequest) (model.DeploymentPlan, error) {
	runID, err := c.pickRun(req.RunID, req.Latest)
	if err != nil {
		return model.DeploymentPlan{}, err
	}
	result, ok, err := stats.ReadResult(c.artifactsDir, runID)
	if err != nil {
		return model.DeploymentPlan{}, err
	}
	if !ok {
		return model.DeploymentPlan{}, fmt.Errorf("run %s: %w", runID, storage.ErrNotFound)
	}
	if err := c.Init(ctx); err != nil {
		return model.DeploymentPlan{}, err
	}
	plan, err := c.planner.Plan(ctx, result)
	if err != nil {
		return model.DeploymentPlan{}, err
	}
	if err := stats.WriteDeploymentPlan(filepath.Join(c.artifactsDir, runID), plan); err != nil {
		return model.DeploymentPlan{}, err
	}
	return plan, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:         e.RunID,
			CreatedAtUTC:  e.CreatedAtUTC,
			Domain:        e.Domain,
			Strategy:      e.Strategy,
			Status:        e.Status,
			Seed:          e.Seed,
			MaxIterations: e.MaxIterations,
			BestScore:     e.BestScore,
			BestAttractor: e.BestAttractor,
			TimedOut:      e.TimedOut,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.pickRun(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) pickRun(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID == "" && !latest {
		return "", errors.New("run id or latest is required")
	}
	if runID != "" {
		return runID, nil
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}
