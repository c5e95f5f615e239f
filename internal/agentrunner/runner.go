// Package agentrunner executes a single task on behalf of a spawned
// agent: a bounded model-request/tool-dispatch loop grounded in the
// same think-act-observe shape used across the example pack's agent
// loops, narrowed to the fixed tool surface and termination rules of
// spec §4.6.
package agentrunner

import (
	"context"
	"fmt"
	"strings"

	"github.com/swarmcore/swarm/internal/agentpool"
	"github.com/swarmcore/swarm/internal/events"
	"github.com/swarmcore/swarm/internal/modelprovider"
	"github.com/swarmcore/swarm/internal/roles"
	"github.com/swarmcore/swarm/internal/swarmerr"
	"github.com/swarmcore/swarm/internal/tasks"
	"github.com/swarmcore/swarm/internal/toolhost"
)

const maxSummaryLen = 500

// fixedToolSurface is the full universe of tools a role's allow-list
// is ever intersected against (spec §4.6).
var fixedToolSurface = map[string]bool{
	"read_file": true, "write_file": true, "edit_file": true,
	"glob": true, "grep": true, "bash": true, "task_complete": true,
}

// Input bundles everything one Run call needs.
type Input struct {
	SessionID   string
	Task        *tasks.Task
	Agent       *agentpool.AgentInstance
	Role        roles.Template
	MaxIterations int // <= 0 uses DefaultMaxIterations
}

// DefaultMaxIterations mirrors config.Default().MaxAgentRunnerIterations.
const DefaultMaxIterations = 10

// ProgressFunc is invoked with 0-100 at the start of each iteration and
// with 100 when the run ends successfully; cancellation, model-error
// and panic exits report nothing further.
type ProgressFunc func(progress int)

// Runner drives one task's execution loop against a ModelProvider and
// a ToolHost, publishing ToolCall events and recording token usage.
type Runner struct {
	provider modelprovider.Provider
	host     *toolhost.Host
	pool     *agentpool.Pool
	bus      *events.Bus
	ids      idGen
}

type idGen interface {
	NewID() string
}

// New creates a Runner. pool and bus may be nil for tests that only
// care about TaskResult; ids must not be nil if bus is non-nil.
func New(provider modelprovider.Provider, host *toolhost.Host, pool *agentpool.Pool, bus *events.Bus, ids idGen) *Runner {
	return &Runner{provider: provider, host: host, pool: pool, bus: bus, ids: ids}
}

// allowedTools intersects a role's allow-list with the fixed surface,
// preserving the role's declared order.
func allowedTools(role roles.Template) []string {
	var out []string
	for _, name := range role.AllowedTools {
		if fixedToolSurface[name] {
			out = append(out, name)
		}
	}
	return out
}

func toolSchemas(names []string) []modelprovider.ToolSchema {
	schemas := make([]modelprovider.ToolSchema, 0, len(names))
	for _, name := range names {
		schemas = append(schemas, modelprovider.ToolSchema{ID: name, Name: name})
	}
	return schemas
}

// Run executes in.Task to completion or exhaustion, recovering from a
// panicking tool handler or transcript bug so one bad task can't crash
// the worker driving it (same panic-safety shape as the Orchestrator's
// tick loop).
func (r *Runner) Run(ctx context.Context, in Input, onProgress ProgressFunc) (result tasks.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result = tasks.Result{Success: false, Summary: fmt.Sprintf("panic: %v", rec), Artifacts: []string{}}
		}
	}()
	return r.run(ctx, in, onProgress)
}

func (r *Runner) run(ctx context.Context, in Input, onProgress ProgressFunc) tasks.Result {
	maxIter := in.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	tools := allowedTools(in.Role)
	schemas := toolSchemas(tools)

	transcript := []modelprovider.Message{
		{Actor: modelprovider.ActorSystem, Type: modelprovider.MessageText, Content: taskEnvelope(in.Role.SystemPrompt, in.Task)},
		{Actor: modelprovider.ActorUser, Type: modelprovider.MessageText, Content: taskBrief(in.Task)},
	}

	var changes []toolhost.CodeChange
	var lastAssistantText string

	for iter := 1; iter <= maxIter; iter++ {
		if ctx.Err() != nil {
			return tasks.Result{Success: false, Summary: "cancelled", Artifacts: artifactPaths(changes)}
		}
		report(onProgress, min(iter*10, 90))

		req := modelprovider.Request{
			SessionID: in.SessionID,
			AgentID:   in.Agent.ID,
			Messages:  transcript,
			Tools:     schemas,
		}

		var text strings.Builder
		var toolCalls []modelprovider.ToolCall
		var usage *modelprovider.Usage
		err := r.provider.Stream(ctx, req, func(p modelprovider.Part) {
			text.WriteString(p.Text)
			for _, tc := range p.ToolCalls {
				if tc.Finished {
					toolCalls = append(toolCalls, tc)
				}
			}
			if p.Usage != nil {
				usage = p.Usage
			}
		})
		if usage != nil && r.pool != nil {
			r.pool.RecordUsage(in.Agent.ID, usage.PromptTokens, usage.CompletionTokens, int64(len(toolCalls)))
		}
		if err != nil {
			return tasks.Result{Success: false, Summary: err.Error(), Artifacts: []string{}}
		}

		if assistantText := text.String(); assistantText != "" {
			lastAssistantText = assistantText
			transcript = append(transcript, modelprovider.Message{Actor: modelprovider.ActorAI, Type: modelprovider.MessageText, Content: assistantText})
		}

		if len(toolCalls) == 0 {
			report(onProgress, 100)
			return tasks.Result{Success: true, Summary: truncate(lastAssistantText, maxSummaryLen), Artifacts: artifactPaths(changes)}
		}

		if completion := r.dispatchAll(ctx, in, toolCalls, &transcript, &changes); completion != nil {
			report(onProgress, 100)
			artifacts := append(artifactPaths(changes), completion.Summary)
			return tasks.Result{Success: true, Summary: completion.Summary, Artifacts: artifacts}
		}
	}

	report(onProgress, 100)
	return tasks.Result{Success: true, Summary: truncate(bestAvailableSummary(lastAssistantText), maxSummaryLen), Artifacts: artifactPaths(changes)}
}

// dispatchAll runs every tool call in arrival order, appending
// tool_use/tool_result transcript entries and publishing a ToolCall
// event per call. It returns non-nil the moment task_complete fires.
func (r *Runner) dispatchAll(ctx context.Context, in Input, calls []modelprovider.ToolCall, transcript *[]modelprovider.Message, changes *[]toolhost.CodeChange) *toolhost.Completion {
	for _, tc := range calls {
		if ctx.Err() != nil {
			return nil
		}
		*transcript = append(*transcript, modelprovider.Message{
			Actor: modelprovider.ActorAI, Type: modelprovider.MessageToolUse,
			ToolUseID: tc.ID, ToolName: tc.Name, ToolArgs: tc.Arguments,
		})

		result, completion := r.host.Dispatch(ctx, tc.Name, tc.Arguments, changes)
		*transcript = append(*transcript, toolResultMessage(tc, result))
		r.publishToolCall(in, tc, result)

		if completion != nil {
			return completion
		}
	}
	return nil
}

func toolResultMessage(tc modelprovider.ToolCall, result toolhost.Result) modelprovider.Message {
	var content strings.Builder
	isError := false
	for _, part := range result {
		content.WriteString(part.Text)
		if part.IsError {
			isError = true
		}
	}
	return modelprovider.Message{
		Actor: modelprovider.ActorUser, Type: modelprovider.MessageToolResult,
		ToolUseID: tc.ID, ToolName: tc.Name, Content: content.String(), IsError: isError,
	}
}

func (r *Runner) publishToolCall(in Input, tc modelprovider.ToolCall, result toolhost.Result) {
	if r.bus == nil || r.ids == nil {
		return
	}
	errored := false
	for _, part := range result {
		if part.IsError {
			errored = true
		}
	}
	r.bus.Publish(&events.Event{
		ID:       r.ids.NewID(),
		Type:     events.ToolCall,
		Source:   "agentrunner.Runner",
		Target:   in.SessionID,
		Priority: events.PriorityNormal,
		Payload: map[string]interface{}{
			"agent_id": in.Agent.ID,
			"task_id":  in.Task.ID,
			"tool":     tc.Name,
			"is_error": errored,
		},
	})
}

func taskEnvelope(systemPrompt string, t *tasks.Task) string {
	return fmt.Sprintf("%s\n\nYou are working task %s: %s", systemPrompt, t.ID, t.Title)
}

func taskBrief(t *tasks.Task) string {
	var b strings.Builder
	b.WriteString(t.Description)
	if len(t.AcceptanceCriteria) > 0 {
		b.WriteString("\n\nAcceptance criteria:\n")
		for _, c := range t.AcceptanceCriteria {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func artifactPaths(changes []toolhost.CodeChange) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Path)
	}
	return out
}

func bestAvailableSummary(lastAssistantText string) string {
	if lastAssistantText == "" {
		return fmt.Sprintf("iteration limit reached without task_complete: %v", swarmerr.ErrInternalError)
	}
	return lastAssistantText
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func report(onProgress ProgressFunc, progress int) {
	if onProgress != nil {
		onProgress(progress)
	}
}
