package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/swarmcore/swarm/internal/fileaccess"
)

// excludedGlobPrefixes are always pruned from glob/grep results.
var excludedGlobPrefixes = []string{"node_modules/", ".git/"}

// bashAllowList is the set of permitted leading command tokens.
var bashAllowList = map[string]bool{
	"npm": true, "npx": true, "yarn": true, "pnpm": true, "node": true,
	"tsc": true, "eslint": true, "prettier": true, "git": true, "ls": true,
	"cat": true, "echo": true, "pwd": true, "mkdir": true, "cp": true,
	"mv": true, "rm": true, "grep": true, "find": true, "head": true,
	"tail": true, "wc": true,
}

// bashDenyPatterns are refused even when the leading token is allowed.
var bashDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-rf\s+/(\s|$)`),
	regexp.MustCompile(`rm\s+-rf\s+~`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`mkfs`),
	regexp.MustCompile(`dd\s+if=`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`),
}

const (
	defaultBashTimeout = 30 * time.Second
	maxBashOutput      = 10000
	maxGlobResults     = 100
	maxGrepMatches     = 50
	maxGrepLineLen     = 200
)

// Host dispatches tool calls against a FileAccess-backed workspace.
type Host struct {
	fa fileaccess.FileAccess
}

// New creates a Host rooted at fa's workspace.
func New(fa fileaccess.FileAccess) *Host {
	return &Host{fa: fa}
}

// Dispatch runs the named tool with JSON-encoded args, appending any
// resulting CodeChange to changes. It returns the tool's content parts
// and, if task_complete was invoked, a non-nil Completion.
func (h *Host) Dispatch(ctx context.Context, name, argsJSON string, changes *[]CodeChange) (Result, *Completion) {
	switch name {
	case "read_file":
		return h.readFile(argsJSON), nil
	case "write_file":
		return h.writeFile(argsJSON, changes), nil
	case "edit_file":
		return h.editFile(argsJSON, changes), nil
	case "glob":
		return h.glob(argsJSON), nil
	case "grep":
		return h.grep(argsJSON), nil
	case "bash":
		return h.bash(ctx, argsJSON), nil
	case "task_complete":
		return h.taskComplete(argsJSON)
	default:
		return errorResult(fmt.Sprintf("unknown tool %q", name)), nil
	}
}

type readFileArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

func (h *Host) readFile(argsJSON string) Result {
	var a readFileArgs
	if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
		return errorResult("read_file: invalid arguments: " + err.Error())
	}
	data, err := h.fa.Read(a.Path)
	if err != nil {
		return errorResult(fmt.Sprintf("read_file: %v", err))
	}
	content := string(data)
	if a.StartLine > 0 || a.EndLine > 0 {
		lines := strings.Split(content, "\n")
		start := a.StartLine - 1
		if start < 0 {
			start = 0
		}
		end := a.EndLine
		if end <= 0 || end > len(lines) {
			end = len(lines)
		}
		if start > end {
			start = end
		}
		content = strings.Join(lines[start:end], "\n")
	}
	return textResult(content)
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (h *Host) writeFile(argsJSON string, changes *[]CodeChange) Result {
	var a writeFileArgs
	if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
		return errorResult("write_file: invalid arguments: " + err.Error())
	}
	kind := ChangeCreate
	if _, err := h.fa.Stat(a.Path); err == nil {
		kind = ChangeModify
	}
	if err := h.fa.Write(a.Path, []byte(a.Content)); err != nil {
		return errorResult(fmt.Sprintf("write_file: %v", err))
	}
	if changes != nil {
		*changes = append(*changes, CodeChange{Path: a.Path, Kind: kind, NewContent: a.Content})
	}
	return textResult(fmt.Sprintf("wrote %s", a.Path))
}

type editFileArgs struct {
	Path string `json:"path"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

func (h *Host) editFile(argsJSON string, changes *[]CodeChange) Result {
	var a editFileArgs
	if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
		return errorResult("edit_file: invalid arguments: " + err.Error())
	}
	data, err := h.fa.Read(a.Path)
	if err != nil {
		return errorResult(fmt.Sprintf("edit_file: %v", err))
	}
	content := string(data)
	if !strings.Contains(content, a.Old) {
		return errorResult("edit_file: old text not found")
	}
	updated := strings.Replace(content, a.Old, a.New, 1)
	if err := h.fa.Write(a.Path, []byte(updated)); err != nil {
		return errorResult(fmt.Sprintf("edit_file: %v", err))
	}
	if changes != nil {
		*changes = append(*changes, CodeChange{
			Path: a.Path,
			Kind: ChangeModify,
			Diff: fmt.Sprintf("- %s\n+ %s", a.Old, a.New),
		})
	}
	return textResult(fmt.Sprintf("edited %s", a.Path))
}

type globArgs struct {
	Pattern string `json:"pattern"`
	Base    string `json:"base"`
}

func (h *Host) glob(argsJSON string) Result {
	var a globArgs
	if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
		return errorResult("glob: invalid arguments: " + err.Error())
	}
	matches, err := h.fa.Glob(a.Pattern, a.Base)
	if err != nil {
		return errorResult(fmt.Sprintf("glob: %v", err))
	}
	var filtered []string
	for _, m := range matches {
		if isExcluded(m) {
			continue
		}
		filtered = append(filtered, m)
	}
	truncated := false
	if len(filtered) > maxGlobResults {
		filtered = filtered[:maxGlobResults]
		truncated = true
	}
	out := strings.Join(filtered, "\n")
	if truncated {
		out += "\n... (truncated)"
	}
	return textResult(out)
}

func isExcluded(path string) bool {
	normalized := filepath.ToSlash(path)
	for _, prefix := range excludedGlobPrefixes {
		if strings.Contains(normalized, "/"+prefix) || strings.HasPrefix(normalized, prefix) {
			return true
		}
	}
	return false
}

type grepArgs struct {
	Pattern         string `json:"pattern"`
	Base            string `json:"base"`
	FilePattern     string `json:"filePattern"`
	CaseInsensitive bool   `json:"caseInsensitive"`
}

func (h *Host) grep(argsJSON string) Result {
	var a grepArgs
	if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
		return errorResult("grep: invalid arguments: " + err.Error())
	}
	filePattern := a.FilePattern
	if filePattern == "" {
		filePattern = "*"
	}
	paths, err := h.fa.Glob(filePattern, a.Base)
	if err != nil {
		return errorResult(fmt.Sprintf("grep: %v", err))
	}

	pattern := a.Pattern
	if a.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return errorResult(fmt.Sprintf("grep: invalid pattern: %v", err))
	}

	var matches []string
	for _, p := range paths {
		if isExcluded(p) || len(matches) >= maxGrepMatches {
			continue
		}
		data, err := h.fa.Read(p)
		if err != nil {
			continue // binary, permission, etc: skip
		}
		for i, line := range strings.Split(string(data), "\n") {
			if len(matches) >= maxGrepMatches {
				break
			}
			if re.MatchString(line) {
				content := line
				if len(content) > maxGrepLineLen {
					content = content[:maxGrepLineLen]
				}
				matches = append(matches, fmt.Sprintf("%s:%d: %s", p, i+1, content))
			}
		}
	}
	return textResult(strings.Join(matches, "\n"))
}

type bashArgs struct {
	Command   string `json:"command"`
	Cwd       string `json:"cwd"`
	TimeoutMs int    `json:"timeoutMs"`
}

func (h *Host) bash(ctx context.Context, argsJSON string) Result {
	var a bashArgs
	if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
		return errorResult("bash: invalid arguments: " + err.Error())
	}

	trimmed := strings.TrimSpace(a.Command)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return errorResult("bash: empty command")
	}
	if !bashAllowList[fields[0]] {
		return errorResult(fmt.Sprintf("bash: command %q is not on the allow-list", fields[0]))
	}
	for _, deny := range bashDenyPatterns {
		if deny.MatchString(trimmed) {
			return errorResult("bash: command matches a denied pattern")
		}
	}

	timeout := defaultBashTimeout
	if a.TimeoutMs > 0 {
		timeout = time.Duration(a.TimeoutMs) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := h.fa.Exec(runCtx, trimmed, a.Cwd, int(timeout.Milliseconds()))
	if err != nil {
		return errorResult(fmt.Sprintf("bash: %v", err))
	}
	combined := res.Stdout + res.Stderr
	if len(combined) > maxBashOutput {
		combined = combined[:maxBashOutput]
	}
	if res.ExitCode != 0 {
		return errorResult(fmt.Sprintf("exit %d: %s", res.ExitCode, combined))
	}
	return textResult(combined)
}

type taskCompleteArgs struct {
	Summary      string   `json:"summary"`
	FilesChanged []string `json:"filesChanged"`
	Notes        string   `json:"notes"`
}

func (h *Host) taskComplete(argsJSON string) (Result, *Completion) {
	var a taskCompleteArgs
	if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
		return errorResult("task_complete: invalid arguments: " + err.Error()), nil
	}
	return textResult("task marked complete"), &Completion{
		Summary:      a.Summary,
		FilesChanged: a.FilesChanged,
		Notes:        a.Notes,
	}
}
