// Package config loads and validates the kanbanctl TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "20s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// MissingWorkerPolicy selects what happens when a WIP task has no WorkerEntry.
type MissingWorkerPolicy string

const (
	MissingWorkerSpawn MissingWorkerPolicy = "spawn"
	MissingWorkerPause MissingWorkerPolicy = "pause"
)

// LockStrategy selects the tick-lock implementation.
type LockStrategy string

const (
	LockStrategyOS        LockStrategy = "os-lock"
	LockStrategyStaleFile LockStrategy = "stale-file"
)

// DispatchBackend selects the child-spawn strategy.
type DispatchBackend string

const (
	DispatchBackendCommand DispatchBackend = "command"
	DispatchBackendDocker  DispatchBackend = "docker"
)

// Config is the root kanbanctl configuration document.
type Config struct {
	General  General           `toml:"general"`
	Board    Board             `toml:"board"`
	RepoMap  map[string]string `toml:"repo_map"`
	Dispatch Dispatch          `toml:"dispatch"`
	Guardian Guardian          `toml:"guardian"`
	Notify   Notify            `toml:"notify"`
}

// General carries the tick, budget, and guard parameters of spec.md §6.
type General struct {
	TickSeconds           Duration            `toml:"tick_seconds"`
	ActionBudget          int                 `toml:"action_budget"`
	CooldownMin           Duration            `toml:"cooldown_min"`
	WipLimit              int                 `toml:"wip_limit"`
	DocsConcurrencyLimit  int                 `toml:"docs_concurrency_limit"`
	ReviewThreshold       int                 `toml:"review_threshold"`
	ReviewAutoDone        bool                `toml:"review_auto_done"`
	MissingWorkerPolicy   MissingWorkerPolicy `toml:"missing_worker_policy"`
	ThrashWindowMin       Duration            `toml:"thrash_window_min"`
	MaxRespawns           int                 `toml:"max_respawns"`
	MaxReworksPerRevision int                 `toml:"max_reworks_per_revision"`
	AllowTitleRepoHint    bool                `toml:"allow_title_repo_hint"`
	LockStrategy          LockStrategy        `toml:"lock_strategy"`
	LockWaitMs            int                 `toml:"lock_wait_ms"`
	RunsRoot              string              `toml:"runs_root"`
	StateRoot             string              `toml:"state_root"`
	HeartbeatPath         string              `toml:"heartbeat_path"`
	TickBudgetMs          int                 `toml:"tick_budget_ms"`
	BoardCallTimeoutMs    int                 `toml:"board_call_timeout_ms"`
	SpawnHandshakeMs      int                 `toml:"spawn_handshake_ms"`
	LogLevel              string              `toml:"log_level"`
	// MaxPerRepo caps concurrently-dispatched WIP tasks sharing a repoKey.
	// Supplements spec.md's global wipLimit with the teacher's per-project
	// concurrency cap (scheduler.go MaxConcurrentPerProject).
	MaxPerRepo int `toml:"max_per_repo"`
}

// Board configures the JSON-RPC board connection (§6 Board JSON-RPC).
type Board struct {
	URL               string `toml:"url"`
	Username          string `toml:"username"`
	Password          string `toml:"password"`
	HasDocumentColumn bool   `toml:"has_documentation_column"`
}

// Dispatch configures spawn commands and backend selection (§6 Spawn commands).
type Dispatch struct {
	Backend          DispatchBackend `toml:"backend"`
	WorkerSpawnCmd   string          `toml:"worker_spawn_cmd"`
	ReviewerSpawnCmd string          `toml:"reviewer_spawn_cmd"`
	DocsSpawnCmd     string          `toml:"docs_spawn_cmd"`
	DockerImage      string          `toml:"docker_image"`
	StaleLogAfter    Duration        `toml:"stale_log_after"`
}

// Guardian configures the heartbeat watcher (§4.J).
type Guardian struct {
	HeartbeatPath    string   `toml:"heartbeat_path"`
	TickSeconds      Duration `toml:"tick_seconds"`
	StaleMultiplier  int      `toml:"stale_multiplier"`
	BringUpCmd       string   `toml:"bring_up_cmd"`
	PollInterval     Duration `toml:"poll_interval"`
	MaxRestartsPerHr int      `toml:"max_restarts_per_hour"`
}

// Notify configures the best-effort alert sink (§4.K).
type Notify struct {
	Cmd         string   `toml:"cmd"`
	DenyTargets []string `toml:"deny_targets"`
}

// Clone returns a deep copy of cfg so callers can mutate their copy freely.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	out := *cfg
	out.RepoMap = cloneStringMap(cfg.RepoMap)
	out.Notify.DenyTargets = cloneStringSlice(cfg.Notify.DenyTargets)
	return &out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Load reads and validates a kanbanctl TOML configuration file, applying
// defaults for every unset field.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyDefaults(&cfg)
	normalizePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	g := &cfg.General
	if g.TickSeconds.Duration == 0 {
		g.TickSeconds.Duration = 20 * time.Second
	}
	if g.ActionBudget == 0 {
		g.ActionBudget = 3
	}
	if g.CooldownMin.Duration == 0 {
		g.CooldownMin.Duration = 30 * time.Minute
	}
	if g.WipLimit == 0 {
		g.WipLimit = 2
	}
	if g.DocsConcurrencyLimit == 0 {
		g.DocsConcurrencyLimit = 2
	}
	if g.ReviewThreshold == 0 {
		g.ReviewThreshold = 90
	}
	if g.MissingWorkerPolicy == "" {
		g.MissingWorkerPolicy = MissingWorkerSpawn
	}
	if g.ThrashWindowMin.Duration == 0 {
		g.ThrashWindowMin.Duration = 60 * time.Minute
	}
	if g.MaxRespawns == 0 {
		g.MaxRespawns = 3
	}
	if g.MaxReworksPerRevision == 0 {
		g.MaxReworksPerRevision = 2
	}
	if g.LockStrategy == "" {
		g.LockStrategy = LockStrategyOS
	}
	if g.RunsRoot == "" {
		g.RunsRoot = "runs"
	}
	if g.StateRoot == "" {
		g.StateRoot = "state"
	}
	if g.HeartbeatPath == "" {
		g.HeartbeatPath = filepath.Join(g.StateRoot, "orchestrator-heartbeat.json")
	}
	if g.TickBudgetMs == 0 {
		g.TickBudgetMs = 60_000
	}
	if g.BoardCallTimeoutMs == 0 {
		g.BoardCallTimeoutMs = 10_000
	}
	if g.SpawnHandshakeMs == 0 {
		g.SpawnHandshakeMs = 3_000
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}

	if cfg.Dispatch.Backend == "" {
		cfg.Dispatch.Backend = DispatchBackendCommand
	}
	if cfg.Dispatch.StaleLogAfter.Duration == 0 {
		cfg.Dispatch.StaleLogAfter.Duration = 30 * time.Minute
	}
	if cfg.Dispatch.DockerImage == "" {
		cfg.Dispatch.DockerImage = "kanban-agent:latest"
	}

	if cfg.Guardian.HeartbeatPath == "" {
		cfg.Guardian.HeartbeatPath = g.HeartbeatPath
	}
	if cfg.Guardian.TickSeconds.Duration == 0 {
		cfg.Guardian.TickSeconds.Duration = g.TickSeconds.Duration
	}
	if cfg.Guardian.StaleMultiplier == 0 {
		cfg.Guardian.StaleMultiplier = 3
	}
	if cfg.Guardian.PollInterval.Duration == 0 {
		cfg.Guardian.PollInterval.Duration = 15 * time.Second
	}
	if cfg.Guardian.MaxRestartsPerHr == 0 {
		cfg.Guardian.MaxRestartsPerHr = 6
	}
}

func normalizePaths(cfg *Config) {
	cfg.General.RunsRoot = ExpandHome(strings.TrimSpace(cfg.General.RunsRoot))
	cfg.General.StateRoot = ExpandHome(strings.TrimSpace(cfg.General.StateRoot))
	cfg.General.HeartbeatPath = ExpandHome(strings.TrimSpace(cfg.General.HeartbeatPath))
	cfg.Guardian.HeartbeatPath = ExpandHome(strings.TrimSpace(cfg.Guardian.HeartbeatPath))
}

func validate(cfg *Config) error {
	var problems []string

	if cfg.General.ActionBudget < 1 {
		problems = append(problems, "general.action_budget must be >= 1")
	}
	if cfg.General.WipLimit < 1 {
		problems = append(problems, "general.wip_limit must be >= 1")
	}
	if cfg.General.TickSeconds.Duration < 5*time.Second || cfg.General.TickSeconds.Duration > 60*time.Second {
		problems = append(problems, "general.tick_seconds must be within [5s, 60s]")
	}
	switch cfg.General.MissingWorkerPolicy {
	case MissingWorkerSpawn, MissingWorkerPause:
	default:
		problems = append(problems, fmt.Sprintf("general.missing_worker_policy %q is not one of spawn|pause", cfg.General.MissingWorkerPolicy))
	}
	switch cfg.General.LockStrategy {
	case LockStrategyOS, LockStrategyStaleFile:
	default:
		problems = append(problems, fmt.Sprintf("general.lock_strategy %q is not one of os-lock|stale-file", cfg.General.LockStrategy))
	}
	switch cfg.Dispatch.Backend {
	case DispatchBackendCommand, DispatchBackendDocker:
	default:
		problems = append(problems, fmt.Sprintf("dispatch.backend %q is not one of command|docker", cfg.Dispatch.Backend))
	}
	if strings.TrimSpace(cfg.Board.URL) == "" {
		problems = append(problems, "board.url is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// ExpandHome expands a leading "~" to the current user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// RepoPath resolves a repo key (or absolute path) against the configured map.
func (cfg *Config) RepoPath(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	if filepath.IsAbs(key) {
		return key, true
	}
	path, ok := cfg.RepoMap[key]
	return path, ok
}
