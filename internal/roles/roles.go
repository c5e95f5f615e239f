// Package roles loads role templates (system prompt, allowed tools,
// concurrency caps) the way the teacher loads teams.yaml, generalized
// from a single fixed team file to the role catalog spec §3/§4.3 needs.
package roles

import (
	"fmt"
	"os"

	"github.com/swarmcore/swarm/internal/tasks"
	"gopkg.in/yaml.v3"
)

// Role names an agent specialisation (spec §3 AgentInstance).
type Role string

const (
	Architect  Role = "architect"
	SeniorDev  Role = "senior_dev"
	Developer  Role = "developer"
	JuniorDev  Role = "junior_dev"
	Reviewer   Role = "reviewer"
	Security   Role = "security"
	Tester     Role = "tester"
	Documenter Role = "documenter"
	DevOps     Role = "devops"
	Generalist Role = "generalist"
)

// Template configures how a role's agents are prompted and bounded.
type Template struct {
	Role                 Role     `yaml:"role" json:"role"`
	Model                string   `yaml:"model" json:"model"`
	SystemPrompt         string   `yaml:"system_prompt" json:"system_prompt"`
	AllowedTools         []string `yaml:"allowed_tools" json:"allowed_tools"`
	MaxConcurrentTasks   int      `yaml:"max_concurrent_tasks" json:"max_concurrent_tasks"`
}

// Catalog is the set of role templates for a deployment.
type Catalog struct {
	Roles []Template `yaml:"roles"`
}

// Load reads a YAML role catalog from path, the way the teacher's
// LoadTeamsConfig reads teams.yaml.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roles: read %s: %w", path, err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("roles: parse %s: %w", path, err)
	}
	return &cat, nil
}

// Get finds a role's template by name, falling back to Default.
func (c *Catalog) Get(role Role) Template {
	for _, t := range c.Roles {
		if t.Role == role {
			return t
		}
	}
	return Default(role)
}

// Default returns a built-in template for role when no catalog entry
// overrides it — mirrors the teacher's GetPromptFilename fallback to a
// generic prompt for unrecognised roles.
func Default(role Role) Template {
	base := Template{
		Role:               role,
		Model:              "claude-default",
		MaxConcurrentTasks: 3,
		AllowedTools:       []string{"read_file", "write_file", "edit_file", "glob", "grep", "bash", "task_complete"},
	}
	switch role {
	case Architect:
		base.SystemPrompt = "You are the architect. Design before implementing; favor clarity over cleverness."
		base.AllowedTools = []string{"read_file", "write_file", "edit_file", "glob", "grep", "task_complete"}
	case SeniorDev, Developer, JuniorDev:
		base.SystemPrompt = "You are a developer. Implement the assigned task and its acceptance criteria."
	case Reviewer:
		base.SystemPrompt = "You are a reviewer. Check correctness, style, and test coverage; do not implement."
		base.AllowedTools = []string{"read_file", "glob", "grep", "task_complete"}
	case Security:
		base.SystemPrompt = "You are a security reviewer. Look for vulnerabilities and unsafe patterns."
		base.AllowedTools = []string{"read_file", "glob", "grep", "task_complete"}
	case Tester:
		base.SystemPrompt = "You are a tester. Write and run tests against the acceptance criteria."
	case Documenter:
		base.SystemPrompt = "You document the change: what it does, how to use it."
		base.AllowedTools = []string{"read_file", "write_file", "edit_file", "glob", "grep", "task_complete"}
	case DevOps:
		base.SystemPrompt = "You handle build, CI, and deployment configuration."
	default:
		base.SystemPrompt = "You are a generalist developer. Handle whatever the task requires."
	}
	return base
}

// ForTaskType maps a task type to its default assignee role (used by
// the Orchestrator's Delegating phase fallback, spec §4.5).
func ForTaskType(t tasks.Type) Role {
	switch t {
	case tasks.TypeDesign:
		return Architect
	case tasks.TypeReview:
		return Reviewer
	case tasks.TypeTesting:
		return Tester
	case tasks.TypeDocumentation:
		return Documenter
	case tasks.TypeConfiguration, tasks.TypeIntegration:
		return DevOps
	case tasks.TypeResearch:
		return SeniorDev
	default:
		return Developer
	}
}
