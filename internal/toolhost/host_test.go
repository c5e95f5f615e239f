package toolhost

import (
	"context"
	"strings"
	"testing"

	"github.com/swarmcore/swarm/internal/fileaccess"
)

func TestReadFileLineRange(t *testing.T) {
	fa := fileaccess.NewFake()
	fa.Write("a.txt", []byte("one\ntwo\nthree\nfour"))
	h := New(fa)

	res, done := h.Dispatch(context.Background(), "read_file", `{"path":"a.txt","startLine":2,"endLine":3}`, nil)
	if done != nil {
		t.Fatal("read_file should not produce a Completion")
	}
	if res[0].IsError {
		t.Fatalf("unexpected error: %v", res)
	}
	if res[0].Text != "two\nthree" {
		t.Fatalf("expected line range two/three, got %q", res[0].Text)
	}
}

func TestWriteFileRecordsCreateVsModify(t *testing.T) {
	fa := fileaccess.NewFake()
	h := New(fa)
	var changes []CodeChange

	h.Dispatch(context.Background(), "write_file", `{"path":"x.txt","content":"hi"}`, &changes)
	h.Dispatch(context.Background(), "write_file", `{"path":"x.txt","content":"bye"}`, &changes)

	if len(changes) != 2 {
		t.Fatalf("expected 2 recorded changes, got %d", len(changes))
	}
	if changes[0].Kind != ChangeCreate {
		t.Fatalf("expected first write to be Create, got %s", changes[0].Kind)
	}
	if changes[1].Kind != ChangeModify {
		t.Fatalf("expected second write to be Modify, got %s", changes[1].Kind)
	}
}

func TestEditFileRequiresExactMatch(t *testing.T) {
	fa := fileaccess.NewFake()
	fa.Write("a.txt", []byte("hello world"))
	h := New(fa)
	var changes []CodeChange

	res, _ := h.Dispatch(context.Background(), "edit_file", `{"path":"a.txt","old":"not there","new":"x"}`, &changes)
	if !res[0].IsError {
		t.Fatal("expected an error result when old text is absent")
	}
	if len(changes) != 0 {
		t.Fatal("no mutation should be recorded on failed edit")
	}

	res, _ = h.Dispatch(context.Background(), "edit_file", `{"path":"a.txt","old":"world","new":"swarm"}`, &changes)
	if res[0].IsError {
		t.Fatalf("unexpected error: %v", res)
	}
	got, _ := fa.Read("a.txt")
	if string(got) != "hello swarm" {
		t.Fatalf("expected file content updated, got %q", got)
	}
}

func TestTaskCompleteReturnsCompletion(t *testing.T) {
	fa := fileaccess.NewFake()
	h := New(fa)
	_, done := h.Dispatch(context.Background(), "task_complete", `{"summary":"done","filesChanged":["a.go"]}`, nil)
	if done == nil {
		t.Fatal("expected a Completion")
	}
	if done.Summary != "done" {
		t.Fatalf("expected summary 'done', got %q", done.Summary)
	}
}

// S6: bash allow-list + deny-list.
func TestBashDenyListBlocksWithoutSpawning(t *testing.T) {
	fa := fileaccess.NewFake()
	h := New(fa)

	res, _ := h.Dispatch(context.Background(), "bash", `{"command":"rm -rf /"}`, nil)
	if !res[0].IsError {
		t.Fatal("expected bash(\"rm -rf /\") to be refused")
	}
	if len(fa.Execs) != 0 {
		t.Fatalf("expected no subprocess spawned, got %v", fa.Execs)
	}
}

func TestBashAllowListRejectsUnlistedCommand(t *testing.T) {
	fa := fileaccess.NewFake()
	h := New(fa)
	res, _ := h.Dispatch(context.Background(), "bash", `{"command":"curl https://example.com"}`, nil)
	if !res[0].IsError {
		t.Fatal("expected curl to be rejected as not on the allow-list")
	}
	if len(fa.Execs) != 0 {
		t.Fatal("expected no subprocess spawned for a disallowed command")
	}
}

func TestBashAllowedCommandRuns(t *testing.T) {
	fa := fileaccess.NewFake()
	h := New(fa)
	res, _ := h.Dispatch(context.Background(), "bash", `{"command":"echo hello"}`, nil)
	if res[0].IsError {
		t.Fatalf("unexpected error: %v", res)
	}
	if len(fa.Execs) != 1 || fa.Execs[0] != "echo hello" {
		t.Fatalf("expected echo hello to be executed, got %v", fa.Execs)
	}
}

func TestGlobExcludesVendoredDirectories(t *testing.T) {
	fa := fileaccess.NewFake()
	fa.Write("node_modules/pkg/index.js", []byte("x"))
	fa.Write("src/main.go", []byte("x"))
	h := New(fa)

	res, _ := h.Dispatch(context.Background(), "glob", `{"pattern":"*"}`, nil)
	if strings.Contains(res[0].Text, "node_modules") {
		t.Fatalf("expected node_modules excluded from glob results, got %q", res[0].Text)
	}
}

func TestGrepFindsMatchesAcrossFiles(t *testing.T) {
	fa := fileaccess.NewFake()
	fa.Write("a.go", []byte("func main() {}\n// TODO fix"))
	fa.Write("b.go", []byte("package b"))
	h := New(fa)

	res, _ := h.Dispatch(context.Background(), "grep", `{"pattern":"TODO"}`, nil)
	if !strings.Contains(res[0].Text, "a.go:2:") {
		t.Fatalf("expected match in a.go line 2, got %q", res[0].Text)
	}
}
