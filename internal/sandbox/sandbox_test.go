package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSandbox(t *testing.T) (*Sandbox, string) {
	t.Helper()
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)
	return s, root
}

func TestRunCapturesOutput(t *testing.T) {
	s, _ := newSandbox(t)

	out, err := s.Run(context.Background(), `echo hello world`)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)
}

func TestEnvPersistsAcrossRuns(t *testing.T) {
	s, _ := newSandbox(t)

	_, err := s.Run(context.Background(), `GREETING="hi there"`)
	require.NoError(t, err)

	out, err := s.Run(context.Background(), `echo $GREETING`)
	require.NoError(t, err)
	assert.Equal(t, "hi there\n", out)
}

func TestCwdPersistsAcrossRuns(t *testing.T) {
	s, root := newSandbox(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	_, err := s.Run(context.Background(), `cd sub`)
	require.NoError(t, err)
	assert.Equal(t, "/sub", s.Cwd())

	out, err := s.Run(context.Background(), `pwd`)
	require.NoError(t, err)
	assert.Equal(t, "/sub\n", out)
}

func TestFailedRunDoesNotCommitState(t *testing.T) {
	s, root := newSandbox(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	// cd succeeds mid-script but the script as a whole fails.
	_, err := s.Run(context.Background(), `cd sub && nosuchcommand`)
	require.Error(t, err)
	assert.Equal(t, "/", s.Cwd())
}

func TestDotDotClampsAtJailRoot(t *testing.T) {
	s, root := newSandbox(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "inside.txt"), []byte("jail\n"), 0o644))

	out, err := s.Run(context.Background(), `cd ../../.. && pwd && cat inside.txt`)
	require.NoError(t, err)
	assert.Equal(t, "/\njail\n", out)

	// An absolute host path resolves inside the jail, not on the host.
	_, err = s.Run(context.Background(), `cat /etc/passwd`)
	assert.Error(t, err)
}

func TestSymlinkEscapeRejected(t *testing.T) {
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("TOPSECRET\n"), 0o644))

	s, root := newSandbox(t)
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret"), filepath.Join(root, "direct")))

	out, err := s.Run(context.Background(), `cat escape/secret`)
	require.Error(t, err)
	assert.NotContains(t, out, "TOPSECRET")

	out, err = s.Run(context.Background(), `cat direct`)
	require.Error(t, err)
	assert.NotContains(t, out, "TOPSECRET")

	// Writing through the link must not land outside either.
	_, err = s.Run(context.Background(), `echo clobbered > escape/secret`)
	require.Error(t, err)
	data, err := os.ReadFile(filepath.Join(outside, "secret"))
	require.NoError(t, err)
	assert.Equal(t, "TOPSECRET\n", string(data))
}

func TestSymlinkInsideJailFollowed(t *testing.T) {
	s, root := newSandbox(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "target.txt"), []byte("inside\n"), 0o644))
	require.NoError(t, os.Symlink("target.txt", filepath.Join(root, "link.txt")))

	out, err := s.Run(context.Background(), `cat link.txt`)
	require.NoError(t, err)
	assert.Equal(t, "inside\n", out)
}

func TestRedirectionStaysInsideJail(t *testing.T) {
	s, root := newSandbox(t)

	_, err := s.Run(context.Background(), `echo captured > /out.txt`)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "captured\n", string(data))
}

func TestUnknownCommandRejected(t *testing.T) {
	s, _ := newSandbox(t)

	_, err := s.Run(context.Background(), `curl http://example.com`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command not available in sandbox")
}

func TestFileBuiltins(t *testing.T) {
	s, root := newSandbox(t)

	script := `
mkdir -p a/b
echo one > a/b/f.txt
echo two >> a/b/f.txt
cp a/b/f.txt copy.txt
cat copy.txt
wc -l copy.txt
`
	out, err := s.Run(context.Background(), script)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n2\n", out)

	_, err = os.Stat(filepath.Join(root, "a", "b", "f.txt"))
	assert.NoError(t, err)
}

func TestGrepExitStatus(t *testing.T) {
	s, _ := newSandbox(t)

	_, err := s.Run(context.Background(), `echo needle > f.txt && grep needle f.txt`)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), `grep missing f.txt`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 1")
}

func TestTestBuiltinUsesJail(t *testing.T) {
	s, root := newSandbox(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "present"), nil, 0o644))

	out, err := s.Run(context.Background(), `if [ -f present ]; then echo yes; else echo no; fi`)
	require.NoError(t, err)
	assert.Equal(t, "yes\n", out)

	out, err = s.Run(context.Background(), `if [ -f absent ]; then echo yes; else echo no; fi`)
	require.NoError(t, err)
	assert.Equal(t, "no\n", out)
}

func TestLsListsSorted(t *testing.T) {
	s, root := newSandbox(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))

	out, err := s.Run(context.Background(), `ls`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "dir/"}, strings.Fields(out))
}

func TestOutputTruncation(t *testing.T) {
	s, _ := newSandbox(t)

	out, err := s.Run(context.Background(), `i=0; while [ "$i" != "4000" ]; do echo 0123456789; i=$((i+1)); done`)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), MaxOutputLength+len("\n\n(Output truncated)"))
	assert.Contains(t, out, "(Output truncated)")
}
