package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"bottleneck/internal/model"
	"bottleneck/internal/resolver"
)

const (
	runIndexFile    = "run_index.json"
	configFile      = "config.json"
	resultFile      = "result.json"
	checkpointsFile = "checkpoints.csv"
	branchesFile    = "branches.csv"
	planFile        = "deployment_plan.json"
)

var checkpointHeader = []string{"attractor", "iteration", "fitness", "state"}

// RunConfig records the options a resolution ran with.
type RunConfig struct {
	RunID                string   `json:"run_id"`
	BottleneckID         string   `json:"bottleneck_id,omitempty"`
	Domain               string   `json:"domain"`
	Strategy             string   `json:"strategy"`
	MaxIterations        int      `json:"max_iterations"`
	ConvergenceThreshold float64  `json:"convergence_threshold"`
	TimeoutMS            int64    `json:"timeout_ms"`
	Kinds                []string `json:"kinds,omitempty"`
	Seed                 int64    `json:"seed"`
	Integrator           string   `json:"integrator,omitempty"`
	Store                string   `json:"store"`
}

type RunArtifacts struct {
	Config      RunConfig
	Result      *resolver.Result
	Checkpoints []model.Checkpoint
}

type RunIndexEntry struct {
	RunID         string  `json:"run_id"`
	BottleneckID  string  `json:"bottleneck_id,omitempty"`
	Domain        string  `json:"domain"`
	Strategy      string  `json:"strategy"`
	Status        string  `json:"status"`
	MaxIterations int     `json:"max_iterations"`
	Seed          int64   `json:"seed"`
	BestScore     float64 `json:"best_score"`
	BestAttractor string  `json:"best_attractor"`
	TimedOut      bool    `json:"timed_out"`
	CreatedAtUTC  string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes config.json, result.json, branches.csv and
// checkpoints.csv under baseDir/<run id> and returns that directory.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}
	if artifacts.Result == nil {
		return "", fmt.Errorf("run %s: result is required", artifacts.Config.RunID)
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, resultFile), artifacts.Result); err != nil {
		return "", err
	}
	if err := writeBranches(filepath.Join(runDir, branchesFile), artifacts.Result.Ensemble.Branches); err != nil {
		return "", err
	}
	if err := WriteCheckpoints(runDir, artifacts.Checkpoints); err != nil {
		return "", err
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the indexed runs newest first. Entries sharing a
// timestamp are ordered by most recently appended.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}
	order := make(map[string]int, len(entries))
	for i, e := range entries {
		order[e.RunID] = i
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAtUTC == entries[j].CreatedAtUTC {
			return order[entries[i].RunID] > order[entries[j].RunID]
		}
		return entries[i].CreatedAtUTC > entries[j].CreatedAtUTC
	})
	return entries, nil
}

func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}
	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode run index: %w", err)
	}
	return entries, nil
}

// ExportRunArtifacts copies a run directory's artifacts to outDir/<run id>.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}
	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, resultFile, branchesFile, checkpointsFile, planFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) && file == planFile {
				continue
			}
			return "", err
		}
		if err := copyFile(path, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func ReadResult(baseDir, runID string) (*resolver.Result, bool, error) {
	var result resolver.Result
	ok, err := readJSON(filepath.Join(baseDir, runID, resultFile), &result)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &result, true, nil
}

func WriteDeploymentPlan(runDir string, plan model.DeploymentPlan) error {
	return writeJSON(filepath.Join(runDir, planFile), plan)
}

func ReadDeploymentPlan(baseDir, runID string) (model.DeploymentPlan, bool, error) {
	var plan model.DeploymentPlan
	ok, err := readJSON(filepath.Join(baseDir, runID, planFile), &plan)
	return plan, ok, err
}

// WriteCheckpoints writes one CSV row per checkpoint. The state vector is
// stored space separated in a single column.
func WriteCheckpoints(runDir string, checkpoints []model.Checkpoint) error {
	file, err := os.Create(filepath.Join(runDir, checkpointsFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(checkpointHeader); err != nil {
		return err
	}
	for _, c := range checkpoints {
		state := make([]string, len(c.State))
		for i, v := range c.State {
			state[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := writer.Write([]string{
			c.Attractor,
			strconv.Itoa(c.Iteration),
			strconv.FormatFloat(c.Fitness, 'f', -1, 64),
			strings.Join(state, " "),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadCheckpoints(baseDir, runID string) ([]model.Checkpoint, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, checkpointsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(checkpointHeader)
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return []model.Checkpoint{}, true, nil
		}
		return nil, false, err
	}

	checkpoints := make([]model.Checkpoint, 0, 32)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		iteration, err := strconv.Atoi(record[1])
		if err != nil {
			return nil, false, fmt.Errorf("checkpoint iteration: %w", err)
		}
		fitness, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, false, fmt.Errorf("checkpoint fitness: %w", err)
		}
		var state []float64
		for _, field := range strings.Fields(record[3]) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, false, fmt.Errorf("checkpoint state: %w", err)
			}
			state = append(state, v)
		}
		checkpoints = append(checkpoints, model.Checkpoint{
			RunID:     runID,
			Attractor: record[0],
			Iteration: iteration,
			Fitness:   fitness,
			State:     state,
		})
	}
	return checkpoints, true, nil
}

func writeBranches(path string, branches []resolver.BranchResult) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"attractor", "status", "iterations", "best_score", "best_iteration", "sensitivity", "error"}); err != nil {
		return err
	}
	for _, b := range branches {
		if err := writer.Write([]string{
			string(b.Attractor),
			string(b.Status),
			strconv.Itoa(b.Iterations),
			strconv.FormatFloat(b.Best.Score, 'f', -1, 64),
			strconv.Itoa(b.Best.Iteration),
			strconv.FormatFloat(b.Diagnostics.Sensitivity, 'f', -1, 64),
			b.Error,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
