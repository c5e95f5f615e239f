// Package config centralizes the process-wide runtime limits a swarm
// deployment is started with: CLI flags for process-level settings
// (as in the teacher's cmd/cliaimonitor/main.go), plus the path of the
// role catalog YAML that internal/roles loads.
package config

import (
	"flag"
	"fmt"
	"time"
)

// Config holds every runtime limit and path the composition root
// needs to wire a swarm deployment (spec §5 Timeouts, §4 defaults).
type Config struct {
	Port          int
	WorkspacePath string
	RolesPath     string
	StatePath     string

	MaxConcurrentSessions int
	MaxConcurrentAgents   int
	MaxTasksPerSession    int

	OrchestratorTickInterval time.Duration
	MaxOrchestratorIteration time.Duration // per-iteration soft cap; see DESIGN.md Open Question
	SessionTotalTimeout      time.Duration
	TaskExecutionTimeout     time.Duration
	AgentIdleTimeout         time.Duration
	ModelRequestTimeout      time.Duration
	BashTimeout              time.Duration
	MaxAgentRunnerIterations int

	WorktreeBranchPrefix  string
	AutoCommitOnMerge     bool
	MaxWorktreeAge        time.Duration

	NATSEnabled bool
	NATSURL     string

	DefaultModel string
}

// Default returns the configuration the teacher's main.go would fall
// back to when no flags override it.
func Default() Config {
	return Config{
		Port:          3000,
		WorkspacePath: ".",
		RolesPath:     "configs/roles.yaml",
		StatePath:     "data/state.json",

		MaxConcurrentSessions: 10,
		MaxConcurrentAgents:   8,
		MaxTasksPerSession:    200,

		OrchestratorTickInterval: time.Second,
		MaxOrchestratorIteration: 2 * time.Minute,
		SessionTotalTimeout:      60 * time.Minute,
		TaskExecutionTimeout:     5 * time.Minute,
		AgentIdleTimeout:         2 * time.Minute,
		ModelRequestTimeout:      2 * time.Minute,
		BashTimeout:              30 * time.Second,
		MaxAgentRunnerIterations: 10,

		WorktreeBranchPrefix: "swarm",
		AutoCommitOnMerge:    true,
		MaxWorktreeAge:       24 * time.Hour,

		NATSEnabled: false,
		NATSURL:     "nats://127.0.0.1:4222",

		DefaultModel: "claude-default",
	}
}

// ParseFlags registers Config's fields as flags on fs, seeded with
// cfg's current values as defaults, and returns a function that must
// be called after fs.Parse to populate cfg.
func ParseFlags(fs *flag.FlagSet, cfg *Config) func() {
	port := fs.Int("port", cfg.Port, "Port reported in the startup log (swarmd opens no listener)")
	workspace := fs.String("workspace", cfg.WorkspacePath, "Workspace root for worktrees and file access")
	rolesPath := fs.String("roles", cfg.RolesPath, "Role catalog YAML file")
	statePath := fs.String("state", cfg.StatePath, "Session persistence directory root")

	maxSessions := fs.Int("max-sessions", cfg.MaxConcurrentSessions, "Maximum concurrent sessions")
	maxAgents := fs.Int("max-agents", cfg.MaxConcurrentAgents, "Maximum concurrent agents per session")
	maxTasks := fs.Int("max-tasks", cfg.MaxTasksPerSession, "Maximum tasks per session")

	tickInterval := fs.Duration("tick-interval", cfg.OrchestratorTickInterval, "Orchestrator tick interval")
	sessionTimeout := fs.Duration("session-timeout", cfg.SessionTotalTimeout, "Session total timeout before forced Failed")
	taskTimeout := fs.Duration("task-timeout", cfg.TaskExecutionTimeout, "Task execution timeout (parsed but not read: no task is reaped on timeout)")
	agentIdleTimeout := fs.Duration("agent-idle-timeout", cfg.AgentIdleTimeout, "Agent idle timeout (parsed but not read: idle agents are not moved to Waiting)")
	modelTimeout := fs.Duration("model-timeout", cfg.ModelRequestTimeout, "ModelProvider request timeout")
	bashTimeout := fs.Duration("bash-timeout", cfg.BashTimeout, "bash tool subprocess timeout (parsed but not read: the bash tool uses its own 30s default)")
	maxIterations := fs.Int("max-iterations", cfg.MaxAgentRunnerIterations, "Maximum AgentRunner loop iterations per task (parsed but not read: the runner uses its default of 10)")

	branchPrefix := fs.String("worktree-branch-prefix", cfg.WorktreeBranchPrefix, "Git branch prefix for isolated agent worktrees (parsed but not read: swarmd creates no worktrees)")
	autoCommit := fs.Bool("worktree-auto-commit", cfg.AutoCommitOnMerge, "Auto-commit dirty worktrees before merge")
	maxWorktreeAge := fs.Duration("max-worktree-age", cfg.MaxWorktreeAge, "Age after which Abandoned/Merged worktrees are cleaned up (parsed but not read: swarmd never runs worktree Cleanup)")

	natsEnabled := fs.Bool("nats", cfg.NATSEnabled, "Mirror events onto a NATS subject (parsed but not read: swarmd starts no NATS bridge)")
	natsURL := fs.String("nats-url", cfg.NATSURL, "NATS server URL")

	defaultModel := fs.String("default-model", cfg.DefaultModel, "Default model id (parsed but not read: built-in role templates carry their own model id)")

	return func() {
		cfg.Port = *port
		cfg.WorkspacePath = *workspace
		cfg.RolesPath = *rolesPath
		cfg.StatePath = *statePath
		cfg.MaxConcurrentSessions = *maxSessions
		cfg.MaxConcurrentAgents = *maxAgents
		cfg.MaxTasksPerSession = *maxTasks
		cfg.OrchestratorTickInterval = *tickInterval
		cfg.SessionTotalTimeout = *sessionTimeout
		cfg.TaskExecutionTimeout = *taskTimeout
		cfg.AgentIdleTimeout = *agentIdleTimeout
		cfg.ModelRequestTimeout = *modelTimeout
		cfg.BashTimeout = *bashTimeout
		cfg.MaxAgentRunnerIterations = *maxIterations
		cfg.WorktreeBranchPrefix = *branchPrefix
		cfg.AutoCommitOnMerge = *autoCommit
		cfg.MaxWorktreeAge = *maxWorktreeAge
		cfg.NATSEnabled = *natsEnabled
		cfg.NATSURL = *natsURL
		cfg.DefaultModel = *defaultModel
	}
}

// Validate rejects configurations that would make the composition
// root misbehave silently.
func (c Config) Validate() error {
	if c.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("config: max-sessions must be positive")
	}
	if c.MaxConcurrentAgents <= 0 {
		return fmt.Errorf("config: max-agents must be positive")
	}
	if c.MaxTasksPerSession <= 0 {
		return fmt.Errorf("config: max-tasks must be positive")
	}
	if c.OrchestratorTickInterval <= 0 {
		return fmt.Errorf("config: tick-interval must be positive")
	}
	return nil
}

// IterationBudget caps a single orchestrator-tick iteration at
// whichever is smaller: the time remaining before the session's total
// timeout, or the configured per-iteration soft cap (the Open
// Question resolution recorded in DESIGN.md).
func (c Config) IterationBudget(elapsed time.Duration) time.Duration {
	remaining := c.SessionTotalTimeout - elapsed
	if remaining < 0 {
		remaining = 0
	}
	if remaining < c.MaxOrchestratorIteration {
		return remaining
	}
	return c.MaxOrchestratorIteration
}
