package manager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-dev/atelier/internal/security"
)

func writeFixture(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadFileLineNumbers(t *testing.T) {
	m, root := newManager(t)
	writeFixture(t, root, "f.txt", "alpha\nbeta\ngamma\n")

	fc, err := m.ReadFile(context.Background(), "f.txt", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, fc.Total)
	assert.Equal(t, 3, fc.Lines)
	assert.Contains(t, fc.Content, "1\talpha")
	assert.Contains(t, fc.Content, "3\tgamma")
}

func TestReadFileOffsetAndLimit(t *testing.T) {
	m, root := newManager(t)
	writeFixture(t, root, "f.txt", "l1\nl2\nl3\nl4\nl5\n")

	fc, err := m.ReadFile(context.Background(), "f.txt", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, fc.Lines)
	assert.Equal(t, 5, fc.Total)
	assert.Contains(t, fc.Content, "2\tl2")
	assert.Contains(t, fc.Content, "3\tl3")
	assert.NotContains(t, fc.Content, "l4")
}

func TestReadFileOffsetPastEnd(t *testing.T) {
	m, root := newManager(t)
	writeFixture(t, root, "f.txt", "only\n")

	fc, err := m.ReadFile(context.Background(), "f.txt", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, fc.Lines)
	assert.Empty(t, fc.Content)
}

func TestReadFileErrors(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.ReadFile(context.Background(), "missing.txt", 0, 0)
	assert.ErrorIs(t, err, security.ErrNotFound)

	_, err = m.ReadFile(context.Background(), "../outside.txt", 0, 0)
	assert.ErrorIs(t, err, security.ErrEscapesBoundary)
}

func TestWriteFileCreatesParents(t *testing.T) {
	m, root := newManager(t)

	resolved, err := m.WriteFile(context.Background(), "deep/nested/out.txt", "content\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "deep", "nested", "out.txt"), resolved)

	data, err := os.ReadFile(resolved)
	require.NoError(t, err)
	assert.Equal(t, "content\n", string(data))
}

func TestWriteFileRejectsEscape(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.WriteFile(context.Background(), "../../tmp/evil.txt", "x")
	assert.ErrorIs(t, err, security.ErrEscapesBoundary)
}

func TestEditFileReplaceOnce(t *testing.T) {
	m, root := newManager(t)
	writeFixture(t, root, "main.go", "package main\n\nfunc main() {\n\told()\n}\n")

	res, err := m.EditFile(context.Background(), "main.go", "\told()\n", "\tnew()\n")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Additions)
	assert.Equal(t, 1, res.Removals)
	assert.NotEmpty(t, res.Diff)

	data, err := os.ReadFile(filepath.Join(root, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "new()")
	assert.NotContains(t, string(data), "old()")
}

func TestEditFileAmbiguousMatch(t *testing.T) {
	m, root := newManager(t)
	writeFixture(t, root, "f.txt", "dup\ndup\n")

	_, err := m.EditFile(context.Background(), "f.txt", "dup\n", "x\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 locations")
}

func TestEditFileNotFoundSuggestsClosest(t *testing.T) {
	m, root := newManager(t)
	writeFixture(t, root, "f.txt", "the quick brown fox\n")

	_, err := m.EditFile(context.Background(), "f.txt", "the quick browm fox", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closest match")
	assert.Contains(t, err.Error(), "the quick brown fox")
}

func TestEditFileCreateWithEmptyOld(t *testing.T) {
	m, root := newManager(t)

	res, err := m.EditFile(context.Background(), "fresh.txt", "", "hello\n")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Additions)

	data, err := os.ReadFile(filepath.Join(root, "fresh.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	// Creating over an existing file is refused.
	_, err = m.EditFile(context.Background(), "fresh.txt", "", "again\n")
	assert.Error(t, err)
}

func TestListDirSorted(t *testing.T) {
	m, root := newManager(t)
	writeFixture(t, root, "b.txt", "x")
	writeFixture(t, root, "a.txt", "x")
	require.NoError(t, os.Mkdir(filepath.Join(root, "zdir"), 0o755))

	entries, err := m.ListDir(context.Background(), ".")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Directories first, then files by name.
	assert.Equal(t, "zdir", entries[0].Name)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "a.txt", entries[1].Name)
	assert.Equal(t, "b.txt", entries[2].Name)
}

func TestFileStat(t *testing.T) {
	m, root := newManager(t)
	writeFixture(t, root, "f.txt", "12345")

	fi, err := m.FileStat(context.Background(), "f.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), fi.Size)
	assert.False(t, fi.IsDir)
	assert.NotZero(t, fi.ModTime)
}

func TestDeleteFile(t *testing.T) {
	m, root := newManager(t)
	path := writeFixture(t, root, "doomed.txt", "x")

	require.NoError(t, m.DeleteFile(context.Background(), "doomed.txt"))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Directories are refused.
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))
	err = m.DeleteFile(context.Background(), "dir")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}

func TestMkdirP(t *testing.T) {
	m, root := newManager(t)

	resolved, err := m.MkdirP(context.Background(), "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b", "c"), resolved)

	info, err := os.Stat(resolved)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestGlobFilesSortedByModTime(t *testing.T) {
	m, root := newManager(t)
	older := writeFixture(t, root, "src/older.go", "x")
	newer := writeFixture(t, root, "src/newer.go", "x")
	writeFixture(t, root, "src/skip.txt", "x")

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	matches, err := m.GlobFiles(context.Background(), "**/*.go", "")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, newer, matches[0])
	assert.Equal(t, older, matches[1])
	for _, match := range matches {
		assert.True(t, strings.HasPrefix(match, root))
	}
}

func TestGlobFilesBadPattern(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.GlobFiles(context.Background(), "[unclosed", "")
	assert.Error(t, err)
}
