package agentrunner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swarmcore/swarm/internal/agentpool"
	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/events"
	"github.com/swarmcore/swarm/internal/fileaccess"
	"github.com/swarmcore/swarm/internal/modelprovider"
	"github.com/swarmcore/swarm/internal/roles"
	"github.com/swarmcore/swarm/internal/tasks"
	"github.com/swarmcore/swarm/internal/toolhost"
)

func newTestAgent(t *testing.T) (*agentpool.Pool, *agentpool.AgentInstance) {
	t.Helper()
	fc := clock.NewFake(time.Unix(0, 0))
	pool := agentpool.NewPool("sess-1", &roles.Catalog{}, fc, clock.NewSeqIDGen("agent"), nil, 0)
	agent, err := pool.Spawn(roles.Developer)
	if err != nil {
		t.Fatalf("spawn agent: %v", err)
	}
	return pool, agent
}

func developerInput(task *tasks.Task, agent *agentpool.AgentInstance) Input {
	return Input{
		SessionID: "sess-1",
		Task:      task,
		Agent:     agent,
		Role:      roles.Default(roles.Developer),
	}
}

func TestRunExitsSuccessfullyWithNoToolCalls(t *testing.T) {
	_, agent := newTestAgent(t)
	task := &tasks.Task{ID: "task-1", Title: "Implement widget", Description: "build it"}

	provider := &modelprovider.Fake{Responses: []modelprovider.Part{{Text: "all done, nothing to change"}}}
	host := toolhost.New(fileaccess.NewFake())
	runner := New(provider, host, nil, nil, nil)

	result := runner.Run(context.Background(), developerInput(task, agent), nil)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Summary != "all done, nothing to change" {
		t.Fatalf("unexpected summary: %q", result.Summary)
	}
	if len(result.Artifacts) != 0 {
		t.Fatalf("expected no artifacts, got %v", result.Artifacts)
	}
}

func TestRunDispatchesWriteFileAndCompletesOnTaskComplete(t *testing.T) {
	_, agent := newTestAgent(t)
	task := &tasks.Task{ID: "task-1", Title: "Implement widget", Description: "build it"}

	provider := &modelprovider.Fake{Responses: []modelprovider.Part{
		{ToolCalls: []modelprovider.ToolCall{{ID: "1", Name: "write_file", Arguments: `{"path":"a.txt","content":"hi"}`, Finished: true}}},
		{ToolCalls: []modelprovider.ToolCall{{ID: "2", Name: "task_complete", Arguments: `{"summary":"wrote file"}`, Finished: true}}},
	}}
	host := toolhost.New(fileaccess.NewFake())
	runner := New(provider, host, nil, nil, nil)

	result := runner.Run(context.Background(), developerInput(task, agent), nil)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Summary != "wrote file" {
		t.Fatalf("unexpected summary: %q", result.Summary)
	}
	foundPath, foundSummary := false, false
	for _, a := range result.Artifacts {
		if a == "a.txt" {
			foundPath = true
		}
		if a == "wrote file" {
			foundSummary = true
		}
	}
	if !foundPath || !foundSummary {
		t.Fatalf("expected artifacts to contain both file path and summary, got %v", result.Artifacts)
	}
}

func TestRunReturnsCancelledSummaryWhenContextAlreadyDone(t *testing.T) {
	_, agent := newTestAgent(t)
	task := &tasks.Task{ID: "task-1", Title: "T"}

	provider := &modelprovider.Fake{Responses: []modelprovider.Part{{Text: "should never be read"}}}
	host := toolhost.New(fileaccess.NewFake())
	runner := New(provider, host, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := runner.Run(ctx, developerInput(task, agent), nil)
	if result.Success {
		t.Fatal("expected failure on cancelled context")
	}
	if result.Summary != "cancelled" {
		t.Fatalf("expected cancelled summary, got %q", result.Summary)
	}
}

func TestRunReturnsFailureOnModelError(t *testing.T) {
	_, agent := newTestAgent(t)
	task := &tasks.Task{ID: "task-1", Title: "T"}

	provider := &modelprovider.Fake{Err: errors.New("model is down")}
	host := toolhost.New(fileaccess.NewFake())
	runner := New(provider, host, nil, nil, nil)

	result := runner.Run(context.Background(), developerInput(task, agent), nil)
	if result.Success {
		t.Fatal("expected failure on model error")
	}
	if result.Summary != "model is down" {
		t.Fatalf("unexpected summary: %q", result.Summary)
	}
	if result.Artifacts == nil || len(result.Artifacts) != 0 {
		t.Fatalf("expected empty artifacts slice, got %v", result.Artifacts)
	}
}

func TestRunExhaustsIterationsWithoutTaskComplete(t *testing.T) {
	_, agent := newTestAgent(t)
	task := &tasks.Task{ID: "task-1", Title: "T"}

	// Every iteration asks to read a file and never calls task_complete.
	provider := &modelprovider.Fake{Responses: []modelprovider.Part{
		{ToolCalls: []modelprovider.ToolCall{{ID: "1", Name: "read_file", Arguments: `{"path":"missing.txt"}`, Finished: true}}},
	}}
	host := toolhost.New(fileaccess.NewFake())
	runner := New(provider, host, nil, nil, nil)

	in := developerInput(task, agent)
	in.MaxIterations = 2

	result := runner.Run(context.Background(), in, nil)
	if !result.Success {
		t.Fatalf("expected success on iteration exhaustion, got %+v", result)
	}
}

func TestAllowedToolsIntersectsRoleWithFixedSurface(t *testing.T) {
	role := roles.Template{AllowedTools: []string{"read_file", "made_up_tool", "task_complete"}}
	got := allowedTools(role)
	want := []string{"read_file", "task_complete"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRunRecordsUsageAndPublishesToolCallEvent(t *testing.T) {
	pool, agent := newTestAgent(t)
	task := &tasks.Task{ID: "task-1", Title: "T"}

	bus := events.NewBus(nil)
	ch := bus.Subscribe("sess-1", []events.EventType{events.ToolCall})

	provider := &modelprovider.Fake{Responses: []modelprovider.Part{
		{
			ToolCalls: []modelprovider.ToolCall{{ID: "1", Name: "task_complete", Arguments: `{"summary":"done"}`, Finished: true}},
			Usage:     &modelprovider.Usage{PromptTokens: 100, CompletionTokens: 50},
		},
	}}
	host := toolhost.New(fileaccess.NewFake())
	runner := New(provider, host, pool, bus, clock.NewSeqIDGen("evt"))

	result := runner.Run(context.Background(), developerInput(task, agent), nil)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	updated, err := pool.Get(agent.ID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if updated.PromptTokens != 100 || updated.CompletionTokens != 50 {
		t.Fatalf("expected usage recorded, got prompt=%d completion=%d", updated.PromptTokens, updated.CompletionTokens)
	}

	select {
	case ev := <-ch:
		if ev.Type != events.ToolCall {
			t.Fatalf("expected ToolCall event, got %s", ev.Type)
		}
	default:
		t.Fatal("expected a published ToolCall event")
	}
}
