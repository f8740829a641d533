package bottleneck

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bottleneck/internal/attractor"
	"bottleneck/internal/model"
	"bottleneck/internal/resolver"
	"bottleneck/internal/storage"
)

func newClient(t *testing.T, storeKind string) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	opts := Options{
		StoreKind:    storeKind,
		ArtifactsDir: filepath.Join(base, "runs"),
		ExportsDir:   filepath.Join(base, "exports"),
		Engine:       resolver.Config{Seed: 7, CheckpointInterval: 25},
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if storeKind == "sqlite" {
		opts.DBPath = filepath.Join(base, "bottleneck.db")
	}
	client, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, base
}

func quickOptions() resolver.Options {
	return resolver.Options{
		Strategy:             resolver.StrategyParallel,
		MaxIterations:        100,
		ConvergenceThreshold: 1e9,
		Kinds:                []attractor.Kind{attractor.KindLorenz, attractor.KindRossler},
	}
}

func TestClientResolveRunsDeployAndExport(t *testing.T) {
	for _, kind := range []string{"memory", "sqlite", "badger"} {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			client, base := newClient(t, kind)

			summary, err := client.Resolve(ctx, ResolveRequest{
				Definition: model.Definition{Domain: "climate"},
				Options:    quickOptions(),
			})
			require.NoError(t, err)
			res := summary.Result
			require.NotEmpty(t, res.RunID)
			require.Equal(t, "climate", res.Domain)
			require.Equal(t, model.RunExhausted, res.Status)
			require.DirExists(t, summary.ArtifactsDir)

			history, err := client.History(ctx, res.BottleneckID)
			require.NoError(t, err)
			require.Len(t, history, 1)
			require.Equal(t, res.RunID, history[0].ID)

			sol, err := client.Solution(ctx, res.Best.ID)
			require.NoError(t, err)
			require.Equal(t, res.Best.Score, sol.Score)

			checkpoints, err := client.Checkpoints(ctx, res.RunID)
			require.NoError(t, err)
			require.Len(t, checkpoints, 8)

			runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
			require.NoError(t, err)
			require.Len(t, runs, 1)
			require.Equal(t, res.RunID, runs[0].RunID)
			require.Equal(t, int64(7), runs[0].Seed)

			plan, err := client.Deploy(ctx, DeployRequest{Latest: true})
			require.NoError(t, err)
			require.Equal(t, res.RunID, plan.RunID)
			require.Equal(t, "policy", plan.Actions[0].Type)
			require.Equal(t, []string{"lorenz", "rossler"}, plan.AttractorsUsed)

			exported, err := client.Export(ctx, ExportRequest{RunID: res.RunID})
			require.NoError(t, err)
			require.Equal(t, filepath.Join(base, "exports", res.RunID), exported.Directory)
			require.FileExists(t, filepath.Join(exported.Directory, "deployment_plan.json"))
			require.FileExists(t, filepath.Join(exported.Directory, "checkpoints.csv"))
		})
	}
}

func TestClientResolveFromDefinitionFile(t *testing.T) {
	ctx := context.Background()
	client, base := newClient(t, "memory")
	path := filepath.Join(base, "latency.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: latency
variables:
  - name: cache_hit_rate
    min: 0
    max: 1
  - name: replicas
    kind: discrete
    options: [1, 2, 4, 8]
objective:
  direction: maximize
  weights:
    replicas: 0.1
`), 0o644))

	summary, err := client.Resolve(ctx, ResolveRequest{DefinitionPath: path, Options: quickOptions()})
	require.NoError(t, err)
	require.Equal(t, "latency", summary.Result.Domain)
	require.Contains(t, []float64{1, 2, 4, 8}, summary.Result.Best.Values["replicas"])

	plan, err := client.Deploy(ctx, DeployRequest{RunID: summary.Result.RunID})
	require.NoError(t, err)
	require.Equal(t, "implementation", plan.Actions[0].Type)
}

func TestClientSolutionNotFound(t *testing.T) {
	client, _ := newClient(t, "memory")
	_, err := client.Solution(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClientDomains(t *testing.T) {
	client, _ := newClient(t, "memory")
	domains := client.Domains()
	require.Len(t, domains, 3)
	names := []string{domains[0].Name, domains[1].Name, domains[2].Name}
	require.Equal(t, []string{"climate", "healthcare", "supply_chain"}, names)
	for _, d := range domains {
		require.NotEmpty(t, d.Variables)
		require.Len(t, d.Preferred, 3)
	}
}

func TestClientRunSelection(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t, "memory")

	_, err := client.Deploy(ctx, DeployRequest{})
	require.Error(t, err)
	_, err = client.Export(ctx, ExportRequest{RunID: "a", Latest: true})
	require.Error(t, err)
	_, err = client.Export(ctx, ExportRequest{Latest: true})
	require.ErrorContains(t, err, "no runs available")
	_, err = client.Deploy(ctx, DeployRequest{RunID: "missing"})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNewRejectsUnknownStore(t *testing.T) {
	_, err := New(Options{StoreKind: "postgres"})
	require.Error(t, err)
}
