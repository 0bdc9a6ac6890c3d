package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/atelier-dev/atelier/internal/security"
)

// DefaultReadLimit is the number of lines ReadFile returns when the caller
// gives no limit.
const DefaultReadLimit = 2000

// FileContent is the result of ReadFile.
type FileContent struct {
	Path    string
	Content string // line-numbered
	Lines   int    // lines returned
	Total   int    // lines in the file
}

// DirEntry is one entry from ListDir.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

// FileInfo is the result of FileStat.
type FileInfo struct {
	Path    string
	Size    int64
	IsDir   bool
	Mode    os.FileMode
	ModTime int64 // unix milli
}

// EditResult carries diff statistics for a completed edit.
type EditResult struct {
	Path      string
	Diff      string
	Additions int
	Removals  int
}

// ReadFile reads the file at path, returning content with line numbers.
// offset is the 1-based line to start from; limit caps lines returned.
func (m *Manager) ReadFile(ctx context.Context, path string, offset, limit int) (FileContent, error) {
	var fc FileContent
	var opErr error
	err := m.do(ctx, func() { fc, opErr = m.readFile(path, offset, limit) })
	if err != nil {
		return FileContent{}, err
	}
	return fc, opErr
}

func (m *Manager) readFile(path string, offset, limit int) (FileContent, error) {
	resolved, err := m.ValidatePath(path)
	if err != nil {
		return FileContent{}, err
	}
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	if offset < 1 {
		offset = 1
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return FileContent{}, fmt.Errorf("%w: %s", security.ErrNotFound, path)
	}
	if info.IsDir() {
		return FileContent{}, fmt.Errorf("path is a directory, not a file: %s", path)
	}

	data, err := security.AtomicRead(resolved)
	if err != nil {
		return FileContent{}, err
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	total := len(lines)
	if offset > total {
		return FileContent{Path: resolved, Total: total}, nil
	}
	end := offset - 1 + limit
	if end > total {
		end = total
	}
	window := lines[offset-1 : end]

	var b strings.Builder
	for i, line := range window {
		fmt.Fprintf(&b, "%6d\t%s\n", offset+i, line)
	}
	return FileContent{
		Path:    resolved,
		Content: b.String(),
		Lines:   len(window),
		Total:   total,
	}, nil
}

// WriteFile atomically writes content to path, creating parent directories
// as needed.
func (m *Manager) WriteFile(ctx context.Context, path, content string) (string, error) {
	var resolved string
	var opErr error
	err := m.do(ctx, func() { resolved, opErr = m.writeFile(path, content) })
	if err != nil {
		return "", err
	}
	return resolved, opErr
}

func (m *Manager) writeFile(path, content string) (string, error) {
	resolved, err := m.ValidatePath(path)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(resolved); err == nil && info.IsDir() {
		return "", fmt.Errorf("path is a directory: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directories: %w", err)
	}
	if err := security.AtomicWrite(resolved, []byte(content)); err != nil {
		return "", err
	}
	return resolved, nil
}

// EditFile replaces one exact occurrence of oldStr with newStr. An empty
// oldStr creates the file with newStr as content. When oldStr does not
// match, the error names the closest block found so the caller can correct
// its input.
func (m *Manager) EditFile(ctx context.Context, path, oldStr, newStr string) (EditResult, error) {
	var res EditResult
	var opErr error
	err := m.do(ctx, func() { res, opErr = m.editFile(path, oldStr, newStr) })
	if err != nil {
		return EditResult{}, err
	}
	return res, opErr
}

func (m *Manager) editFile(path, oldStr, newStr string) (EditResult, error) {
	resolved, err := m.ValidatePath(path)
	if err != nil {
		return EditResult{}, err
	}

	if oldStr == "" {
		if _, err := os.Stat(resolved); err == nil {
			return EditResult{}, fmt.Errorf("file already exists: %s", path)
		}
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return EditResult{}, fmt.Errorf("creating parent directories: %w", err)
		}
		if err := security.AtomicWrite(resolved, []byte(newStr)); err != nil {
			return EditResult{}, err
		}
		diff, adds, dels := buildDiff(resolved, "", newStr, m.root)
		return EditResult{Path: resolved, Diff: diff, Additions: adds, Removals: dels}, nil
	}

	data, err := security.AtomicRead(resolved)
	if err != nil {
		return EditResult{}, err
	}
	before := string(data)

	count := strings.Count(before, oldStr)
	switch count {
	case 0:
		if match, sim := closestMatch(before, oldStr); sim > 0.8 {
			return EditResult{}, fmt.Errorf("old string not found; closest match:\n%s", match)
		}
		return EditResult{}, fmt.Errorf("old string not found in %s", path)
	case 1:
	default:
		return EditResult{}, fmt.Errorf("old string matches %d locations in %s; provide more context", count, path)
	}

	after := strings.Replace(before, oldStr, newStr, 1)
	if err := security.AtomicWrite(resolved, []byte(after)); err != nil {
		return EditResult{}, err
	}

	diff, adds, dels := buildDiff(resolved, before, after, m.root)
	return EditResult{Path: resolved, Diff: diff, Additions: adds, Removals: dels}, nil
}

// ListDir lists the directory at path, directories first, names sorted.
func (m *Manager) ListDir(ctx context.Context, path string) ([]DirEntry, error) {
	var entries []DirEntry
	var opErr error
	err := m.do(ctx, func() { entries, opErr = m.listDir(path) })
	if err != nil {
		return nil, err
	}
	return entries, opErr
}

func (m *Manager) listDir(path string) ([]DirEntry, error) {
	resolved, err := m.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", security.ErrNotFound, path)
	}

	entries := make([]DirEntry, 0, len(raw))
	for _, e := range raw {
		entry := DirEntry{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil {
			entry.Size = info.Size()
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// FileStat returns metadata for the file or directory at path.
func (m *Manager) FileStat(ctx context.Context, path string) (FileInfo, error) {
	var fi FileInfo
	var opErr error
	err := m.do(ctx, func() { fi, opErr = m.fileStat(path) })
	if err != nil {
		return FileInfo{}, err
	}
	return fi, opErr
}

func (m *Manager) fileStat(path string) (FileInfo, error) {
	resolved, err := m.ValidatePath(path)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %s", security.ErrNotFound, path)
	}
	return FileInfo{
		Path:    resolved,
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		Mode:    info.Mode(),
		ModTime: info.ModTime().UnixMilli(),
	}, nil
}

// DeleteFile removes the file at path. Directories are refused.
func (m *Manager) DeleteFile(ctx context.Context, path string) error {
	var opErr error
	err := m.do(ctx, func() { opErr = m.deleteFile(path) })
	if err != nil {
		return err
	}
	return opErr
}

func (m *Manager) deleteFile(path string) error {
	resolved, err := m.ValidatePath(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Errorf("%w: %s", security.ErrNotFound, path)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory: %s", path)
	}
	return os.Remove(resolved)
}

// MkdirP creates the directory at path along with any missing parents.
func (m *Manager) MkdirP(ctx context.Context, path string) (string, error) {
	var resolved string
	var opErr error
	err := m.do(ctx, func() { resolved, opErr = m.mkdirP(path) })
	if err != nil {
		return "", err
	}
	return resolved, opErr
}

func (m *Manager) mkdirP(path string) (string, error) {
	resolved, err := m.ValidatePath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	return resolved, nil
}

// GlobFiles matches pattern under dir (project root when empty), returning
// matches sorted by modification time, newest first.
func (m *Manager) GlobFiles(ctx context.Context, pattern, dir string) ([]string, error) {
	var matches []string
	var opErr error
	err := m.do(ctx, func() { matches, opErr = m.globFiles(pattern, dir) })
	if err != nil {
		return nil, err
	}
	return matches, opErr
}

func (m *Manager) globFiles(pattern, dir string) ([]string, error) {
	searchDir := m.root
	if dir != "" {
		resolved, err := m.ValidatePath(dir)
		if err != nil {
			return nil, err
		}
		searchDir = resolved
	}

	matches, err := doublestar.Glob(os.DirFS(searchDir), pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern: %w", err)
	}

	type match struct {
		path  string
		mtime int64
	}
	found := make([]match, 0, len(matches))
	for _, rel := range matches {
		abs := filepath.Join(searchDir, rel)
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		found = append(found, match{path: abs, mtime: info.ModTime().UnixNano()})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].mtime != found[j].mtime {
			return found[i].mtime > found[j].mtime
		}
		return found[i].path < found[j].path
	})

	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths, nil
}
