// Package toolhost exposes the bounded, vetted tool surface agents can
// call: file read/write/edit, glob, grep, bash, and task_complete
// (spec §4.7).
package toolhost

// ChangeKind classifies a file mutation a tool produced.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeModify ChangeKind = "modify"
)

// CodeChange records one file mutation so the AgentRunner can attach
// the accumulated list to its TaskResult.
type CodeChange struct {
	Path       string
	Kind       ChangeKind
	NewContent string
	Diff       string
}

// ContentPart is one piece of a tool's result.
type ContentPart struct {
	Text    string
	IsError bool
}

// Result is a tool invocation's full output.
type Result []ContentPart

func textResult(s string) Result   { return Result{{Text: s}} }
func errorResult(s string) Result  { return Result{{Text: s, IsError: true}} }

// Completion is produced when task_complete is invoked; its presence
// signals the AgentRunner to end its loop successfully.
type Completion struct {
	Summary      string
	FilesChanged []string
	Notes        string
}

// AllToolNames is the full universe of tools ToolHost can dispatch;
// a role's allow-list is always a subset of this.
var AllToolNames = []string{
	"read_file", "write_file", "edit_file", "glob", "grep", "bash", "task_complete",
}
