package fileaccess

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Fake is an in-memory FileAccess for tests. Paths are stored exactly
// as given (no workspace-root resolution), so tests can use simple
// relative names.
type Fake struct {
	Files map[string][]byte
	Execs []string // records every command Exec actually ran
}

// NewFake creates an empty in-memory FileAccess.
func NewFake() *Fake {
	return &Fake{Files: make(map[string][]byte)}
}

func (f *Fake) Read(p string) ([]byte, error) {
	data, ok := f.Files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (f *Fake) Write(p string, data []byte) error {
	f.Files[p] = append([]byte(nil), data...)
	return nil
}

func (f *Fake) Stat(p string) (os.FileInfo, error) {
	if _, ok := f.Files[p]; !ok {
		return nil, os.ErrNotExist
	}
	return fakeFileInfo{name: path.Base(p)}, nil
}

func (f *Fake) MkdirAll(p string) error { return nil }

func (f *Fake) Glob(pattern, cwd string) ([]string, error) {
	var out []string
	for p := range f.Files {
		candidate := p
		if cwd != "" {
			rel, err := filepath.Rel(cwd, p)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			candidate = rel
		}
		matched, err := filepath.Match(pattern, candidate)
		if err != nil {
			return nil, err
		}
		if matched || pattern == "*" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Exec on the Fake never spawns a subprocess: it just records the
// command for assertions and returns an empty success result. Tests
// that need real exec semantics should use Local instead.
func (f *Fake) Exec(ctx context.Context, command, cwd string, timeoutMs int) (ExecResult, error) {
	f.Execs = append(f.Execs, command)
	return ExecResult{}, nil
}

type fakeFileInfo struct {
	name string
}

func (fi fakeFileInfo) Name() string       { return fi.name }
func (fi fakeFileInfo) Size() int64        { return 0 }
func (fi fakeFileInfo) Mode() os.FileMode  { return 0o644 }
func (fi fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (fi fakeFileInfo) IsDir() bool        { return false }
func (fi fakeFileInfo) Sys() interface{}   { return nil }
