package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bottleneck/internal/attractor"
	"bottleneck/internal/config"
	"bottleneck/internal/model"
	"bottleneck/internal/resolver"
	"bottleneck/pkg/bottleneck"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, cfg config.Config, c *bottleneck.Client) error {
				if err := c.Init(ctx); err != nil {
					return err
				}
				p := newPrinter(a.out, a.asJSON)
				if p.json {
					return p.JSON(map[string]string{"store": cfg.Store.Kind, "path": cfg.Store.Path})
				}
				p.Line("initialized store=%s", cfg.Store.Kind)
				return nil
			})
		},
	}
}

func newResolveCmd(a *app) *cobra.Command {
	var (
		definitionPath string
		domainName     string
		strategy       string
		iterations     int
		threshold      float64
		timeout        string
		kinds          []string
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Explore a bottleneck and report the best solution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (definitionPath == "") == (domainName == "") {
				return fmt.Errorf("exactly one of --definition or --domain is required")
			}
			return a.withClient(cmd.Context(), func(ctx context.Context, cfg config.Config, c *bottleneck.Client) error {
				opts, err := cfg.Options()
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				if flags.Changed("strategy") {
					if opts.Strategy, err = resolver.ParseStrategy(strategy); err != nil {
						return err
					}
				}
				if flags.Changed("iterations") {
					if iterations < 0 {
						return fmt.Errorf("--iterations must be >= 0")
					}
					opts.MaxIterations = iterations
				}
				if flags.Changed("threshold") {
					opts.ConvergenceThreshold = threshold
				}
				if flags.Changed("timeout") {
					if opts.Timeout, err = parseDuration(timeout); err != nil {
						return err
					}
				}
				if flags.Changed("kinds") {
					opts.Kinds = opts.Kinds[:0]
					for _, name := range kinds {
						kind, err := attractor.ParseKind(name)
						if err != nil {
							return err
						}
						opts.Kinds = append(opts.Kinds, kind)
					}
				}

				summary, err := c.Resolve(ctx, bottleneck.ResolveRequest{
					Definition:     model.Definition{Domain: domainName},
					DefinitionPath: definitionPath,
					Options:        opts,
				})
				if err != nil {
					return err
				}
				return printResult(newPrinter(a.out, a.asJSON), summary)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&definitionPath, "definition", "", "bottleneck definition file (YAML or JSON)")
	f.StringVar(&domainName, "domain", "", "shipped domain template to resolve")
	f.StringVar(&strategy, "strategy", "", "parallel|sequential|adaptive")
	f.IntVar(&iterations, "iterations", 0, "iteration budget per attractor")
	f.Float64Var(&threshold, "threshold", 0, "score above which exploration stops")
	f.StringVar(&timeout, "timeout", "", "wall-clock budget, e.g. 30s; 0 disables it")
	f.StringSliceVar(&kinds, "kinds", nil, "attractors to run, e.g. lorenz,chen")
	return cmd
}

func printResult(p *printer, summary bottleneck.ResolveSummary) error {
	res := summary.Result
	if p.json {
		return p.JSON(res)
	}
	p.Title(fmt.Sprintf("%s resolved with %s strategy", res.Domain, res.Strategy))
	p.Field("run", res.RunID)
	p.Field("status", res.Status)
	p.Field("best score", formatScore(res.Best.Score))
	p.Field("found by", fmt.Sprintf("%s at iteration %s", res.Best.Attractor, formatCount(res.Best.Iteration)))
	if res.Best.ID != "" {
		p.Field("solution", res.Best.ID)
	}
	p.Field("elapsed", res.Elapsed.Round(time.Millisecond))

	names := make([]string, 0, len(res.Best.Values))
	for name := range res.Best.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%-28s %s", name, formatScore(res.Best.Values[name])))
	}
	p.Box(lines)

	ens := res.Ensemble
	p.Line("ensemble: max=%s min=%s avg=%s converged=%t iterations=%s",
		formatScore(ens.MaxScore), formatScore(ens.MinScore), formatScore(ens.AvgScore), ens.Converged, formatCount(ens.TotalIterations()))
	for _, b := range ens.Branches {
		line := fmt.Sprintf("  %-8s %-10s iterations=%-8s best=%s regime=%s",
			b.Attractor, b.Status, formatCount(b.Iterations), formatScore(b.Best.Score), b.Diagnostics.Regime)
		if b.Error != "" {
			line += " error=" + b.Error
		}
		p.Line("%s", line)
	}
	for _, w := range res.Warnings {
		p.Warn(w)
	}
	p.Field("artifacts", summary.ArtifactsDir)
	return nil
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <bottleneck-id>",
		Short: "List the exploration runs of a bottleneck, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, _ config.Config, c *bottleneck.Client) error {
				runs, err := c.History(ctx, args[0])
				if err != nil {
					return err
				}
				p := newPrinter(a.out, a.asJSON)
				if p.json {
					return p.JSON(runs)
				}
				if len(runs) == 0 {
					p.Line("no runs recorded for %s", args[0])
					return nil
				}
				for _, run := range runs {
					p.Line("run_id=%s strategy=%s status=%s budget=%s fitness=%s started=%s",
						run.ID, run.Strategy, run.Status, formatCount(run.IterationBudget),
						formatScore(run.FinalFitness), run.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
				}
				return nil
			})
		},
	}
}

func newSolutionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "solution <solution-id>",
		Short: "Show a stored solution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, _ config.Config, c *bottleneck.Client) error {
				sol, err := c.Solution(ctx, args[0])
				if err != nil {
					return err
				}
				p := newPrinter(a.out, a.asJSON)
				if p.json {
					return p.JSON(sol)
				}
				p.Title("solution " + sol.ID)
				p.Field("run", sol.RunID)
				p.Field("score", formatScore(sol.Score))
				p.Field("attractor", sol.Attractor)
				names := make([]string, 0, len(sol.Values))
				for name := range sol.Values {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					p.Line("  %s=%s", name, formatScore(sol.Values[name]))
				}
				return nil
			})
		},
	}
}

func newCheckpointsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints <run-id>",
		Short: "List the checkpoints of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, _ config.Config, c *bottleneck.Client) error {
				checkpoints, err := c.Checkpoints(ctx, args[0])
				if err != nil {
					return err
				}
				p := newPrinter(a.out, a.asJSON)
				if p.json {
					return p.JSON(checkpoints)
				}
				for _, cp := range checkpoints {
					p.Line("attractor=%s iteration=%s fitness=%s", cp.Attractor, formatCount(cp.Iteration), formatScore(cp.Fitness))
				}
				return nil
			})
		},
	}
}

func newDomainsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "domains",
		Short: "List the shipped domain templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), func(_ context.Context, _ config.Config, c *bottleneck.Client) error {
				domains := c.Domains()
				p := newPrinter(a.out, a.asJSON)
				if p.json {
					return p.JSON(domains)
				}
				for _, d := range domains {
					p.Title(d.Name)
					p.Field("name", d.DisplayName)
					p.Field("complexity", d.Complexity)
					p.Field("attractors", strings.Join(d.Preferred, ", "))
					vars := make([]string, 0, len(d.Variables))
					for _, v := range d.Variables {
						vars = append(vars, v.Name)
					}
					p.Field("variables", strings.Join(vars, ", "))
				}
				return nil
			})
		},
	}
}

func newDeployCmd(a *app) *cobra.Command {
	var (
		runID  string
		latest bool
	)
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Build a deployment plan from a recorded run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, _ config.Config, c *bottleneck.Client) error {
				plan, err := c.Deploy(ctx, bottleneck.DeployRequest{RunID: runID, Latest: latest})
				if err != nil {
					return err
				}
				p := newPrinter(a.out, a.asJSON)
				if p.json {
					return p.JSON(plan)
				}
				p.Title("deployment plan " + plan.ID)
				p.Field("run", plan.RunID)
				p.Field("status", plan.Status)
				p.Field("score", formatScore(plan.Score))
				for _, act := range plan.Actions {
					p.Line("  [%s] %s: %s", act.Priority, act.Type, act.Description)
				}
				for _, r := range plan.Risks {
					p.Warn(fmt.Sprintf("%s risk: %s (%s)", r.Level, r.Description, r.Mitigation))
				}
				for _, ph := range plan.Phases {
					p.Line("  %s: %s over %s", ph.Name, ph.Scale, ph.Duration)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run to deploy")
	cmd.Flags().BoolVar(&latest, "latest", false, "deploy the most recent run")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, _ config.Config, c *bottleneck.Client) error {
				runs, err := c.Runs(ctx, bottleneck.RunsRequest{Limit: limit})
				if err != nil {
					return err
				}
				p := newPrinter(a.out, a.asJSON)
				if p.json {
					return p.JSON(runs)
				}
				for _, r := range runs {
					p.Line("run_id=%s domain=%s strategy=%s status=%s best=%s attractor=%s created=%s",
						r.RunID, r.Domain, r.Strategy, r.Status, formatScore(r.BestScore), r.BestAttractor, formatAge(r.CreatedAtUTC))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		runID  string
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a run's artifacts to an export directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, _ config.Config, c *bottleneck.Client) error {
				exported, err := c.Export(ctx, bottleneck.ExportRequest{RunID: runID, Latest: latest, OutDir: outDir})
				if err != nil {
					return err
				}
				p := newPrinter(a.out, a.asJSON)
				if p.json {
					return p.JSON(exported)
				}
				p.Line("exported run_id=%s dir=%s", exported.RunID, exported.Directory)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run to export")
	cmd.Flags().BoolVar(&latest, "latest", false, "export the most recent run")
	cmd.Flags().StringVar(&outDir, "out", "", "export directory")
	return cmd
}
