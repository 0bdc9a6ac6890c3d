package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"mvdan.cc/sh/v3/interp"
)

// callHandler reroutes interpreter builtins whose semantics must come from
// the jail rather than the host: cd, pwd, and test all consult the
// filesystem or working directory.
func (s *Sandbox) callHandler(ctx context.Context, args []string) ([]string, error) {
	if len(args) == 0 {
		return args, nil
	}
	switch args[0] {
	case "cd", "pwd", "test", "[":
		rerouted := make([]string, len(args))
		copy(rerouted, args)
		rerouted[0] = "__sandbox_" + args[0] + "__"
		return rerouted, nil
	}
	return args, nil
}

// execHandler is the sandbox's entire execution surface. Every name not
// implemented here fails; nothing ever reaches the host's exec.
func (s *Sandbox) execHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) == 0 {
			return nil
		}

		name := args[0]
		if strings.HasPrefix(name, "__sandbox_") && strings.HasSuffix(name, "__") {
			name = strings.TrimSuffix(strings.TrimPrefix(name, "__sandbox_"), "__")
			args = append([]string{name}, args[1:]...)
		}

		switch name {
		case "pwd":
			return s.cmdPwd(ctx)
		case "cd":
			return s.cmdCd(args)
		case "ls":
			return s.cmdLs(ctx, args)
		case "cat":
			return s.cmdCat(ctx, args)
		case "mkdir":
			return s.cmdMkdir(args)
		case "rm":
			return s.cmdRm(args)
		case "touch":
			return s.cmdTouch(args)
		case "cp":
			return s.cmdCp(args)
		case "mv":
			return s.cmdMv(args)
		case "head":
			return s.cmdHeadTail(ctx, args, true)
		case "tail":
			return s.cmdHeadTail(ctx, args, false)
		case "wc":
			return s.cmdWc(ctx, args)
		case "grep":
			return s.cmdGrep(ctx, args)
		case "test", "[":
			return s.cmdTest(args)
		default:
			return fmt.Errorf("%s: command not available in sandbox", name)
		}
	}
}

func (s *Sandbox) openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	file, err := s.fs.OpenFile(resolved, flag, perm)
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (s *Sandbox) statHandler(ctx context.Context, name string, followSymlinks bool) (os.FileInfo, error) {
	resolved, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return s.fs.Stat(resolved)
}

func (s *Sandbox) readDirHandler(ctx context.Context, path string) ([]os.FileInfo, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return afero.ReadDir(s.fs, resolved)
}

func stdio(ctx context.Context) (io.Reader, io.Writer, io.Writer) {
	hc := interp.HandlerCtx(ctx)
	return hc.Stdin, hc.Stdout, hc.Stderr
}

// operands returns non-flag arguments after the command name.
func operands(args []string) []string {
	var out []string
	for _, arg := range args[1:] {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		out = append(out, arg)
	}
	return out
}

func hasFlag(args []string, flag string) bool {
	for _, arg := range args[1:] {
		if strings.HasPrefix(arg, "-") && strings.Contains(arg, flag) {
			return true
		}
	}
	return false
}

func (s *Sandbox) cmdPwd(ctx context.Context) error {
	_, out, _ := stdio(ctx)
	fmt.Fprintln(out, s.runCwd)
	return nil
}

func (s *Sandbox) cmdCd(args []string) error {
	target := "/"
	if rest := operands(args); len(rest) > 0 {
		target = rest[0]
	}
	resolved, err := s.resolve(target)
	if err != nil {
		return fmt.Errorf("cd: %w", err)
	}
	info, err := s.fs.Stat(resolved)
	if err != nil {
		return fmt.Errorf("cd: %s: no such directory", target)
	}
	if !info.IsDir() {
		return fmt.Errorf("cd: %s: not a directory", target)
	}
	s.runCwd = resolved
	return nil
}

func (s *Sandbox) cmdLs(ctx context.Context, args []string) error {
	_, out, _ := stdio(ctx)

	target := s.runCwd
	if rest := operands(args); len(rest) > 0 {
		resolved, err := s.resolve(rest[0])
		if err != nil {
			return fmt.Errorf("ls: %w", err)
		}
		target = resolved
	}

	info, err := s.fs.Stat(target)
	if err != nil {
		return fmt.Errorf("ls: %s: no such file or directory", target)
	}
	if !info.IsDir() {
		fmt.Fprintln(out, filepath.Base(target))
		return nil
	}

	entries, err := afero.ReadDir(s.fs, target)
	if err != nil {
		return fmt.Errorf("ls: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") && !hasFlag(args, "a") {
			continue
		}
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return nil
}

func (s *Sandbox) cmdCat(ctx context.Context, args []string) error {
	in, out, _ := stdio(ctx)

	files := operands(args)
	if len(files) == 0 {
		_, err := io.Copy(out, in)
		return err
	}
	for _, file := range files {
		resolved, err := s.resolve(file)
		if err != nil {
			return fmt.Errorf("cat: %w", err)
		}
		data, err := afero.ReadFile(s.fs, resolved)
		if err != nil {
			return fmt.Errorf("cat: %s: no such file", file)
		}
		out.Write(data)
	}
	return nil
}

func (s *Sandbox) cmdMkdir(args []string) error {
	dirs := operands(args)
	if len(dirs) == 0 {
		return fmt.Errorf("mkdir: missing operand")
	}
	for _, dir := range dirs {
		resolved, err := s.resolve(dir)
		if err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
		if hasFlag(args, "p") {
			err = s.fs.MkdirAll(resolved, 0o755)
		} else {
			err = s.fs.Mkdir(resolved, 0o755)
		}
		if err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}
	return nil
}

func (s *Sandbox) cmdRm(args []string) error {
	targets := operands(args)
	if len(targets) == 0 {
		return fmt.Errorf("rm: missing operand")
	}
	for _, target := range targets {
		resolved, err := s.resolve(target)
		if err != nil {
			return fmt.Errorf("rm: %w", err)
		}
		if hasFlag(args, "r") {
			err = s.fs.RemoveAll(resolved)
		} else {
			err = s.fs.Remove(resolved)
		}
		if err != nil && !hasFlag(args, "f") {
			return fmt.Errorf("rm: %s: %w", target, err)
		}
	}
	return nil
}

func (s *Sandbox) cmdTouch(args []string) error {
	files := operands(args)
	if len(files) == 0 {
		return fmt.Errorf("touch: missing operand")
	}
	for _, file := range files {
		resolved, err := s.resolve(file)
		if err != nil {
			return fmt.Errorf("touch: %w", err)
		}
		if _, err := s.fs.Stat(resolved); err == nil {
			continue
		}
		f, err := s.fs.Create(resolved)
		if err != nil {
			return fmt.Errorf("touch: %w", err)
		}
		f.Close()
	}
	return nil
}

func (s *Sandbox) cmdCp(args []string) error {
	files := operands(args)
	if len(files) != 2 {
		return fmt.Errorf("cp: expected source and destination")
	}
	src, err := s.resolve(files[0])
	if err != nil {
		return fmt.Errorf("cp: %w", err)
	}
	dst, err := s.resolve(files[1])
	if err != nil {
		return fmt.Errorf("cp: %w", err)
	}

	data, err := afero.ReadFile(s.fs, src)
	if err != nil {
		return fmt.Errorf("cp: %s: %w", files[0], err)
	}
	if info, err := s.fs.Stat(dst); err == nil && info.IsDir() {
		dst = filepath.Join(dst, filepath.Base(src))
	}
	if err := afero.WriteFile(s.fs, dst, data, 0o644); err != nil {
		return fmt.Errorf("cp: %w", err)
	}
	return nil
}

func (s *Sandbox) cmdMv(args []string) error {
	files := operands(args)
	if len(files) != 2 {
		return fmt.Errorf("mv: expected source and destination")
	}
	src, err := s.resolve(files[0])
	if err != nil {
		return fmt.Errorf("mv: %w", err)
	}
	dst, err := s.resolve(files[1])
	if err != nil {
		return fmt.Errorf("mv: %w", err)
	}
	if info, err := s.fs.Stat(dst); err == nil && info.IsDir() {
		dst = filepath.Join(dst, filepath.Base(src))
	}
	if err := s.fs.Rename(src, dst); err != nil {
		return fmt.Errorf("mv: %w", err)
	}
	return nil
}

func (s *Sandbox) cmdHeadTail(ctx context.Context, args []string, head bool) error {
	in, out, _ := stdio(ctx)

	n := 10
	for i, arg := range args[1:] {
		if arg == "-n" && i+2 < len(args) {
			if parsed, err := strconv.Atoi(args[i+2]); err == nil {
				n = parsed
			}
		}
	}

	var text string
	files := operands(args)
	// The -n count operand is not a file.
	files = dropCountOperand(args, files)
	if len(files) > 0 {
		resolved, err := s.resolve(files[0])
		if err != nil {
			return err
		}
		data, err := afero.ReadFile(s.fs, resolved)
		if err != nil {
			return fmt.Errorf("%s: no such file", files[0])
		}
		text = string(data)
	} else {
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		text = string(data)
	}

	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if n > len(lines) {
		n = len(lines)
	}
	var selected []string
	if head {
		selected = lines[:n]
	} else {
		selected = lines[len(lines)-n:]
	}
	for _, line := range selected {
		fmt.Fprintln(out, line)
	}
	return nil
}

func dropCountOperand(args, files []string) []string {
	for i, arg := range args {
		if arg == "-n" && i+1 < len(args) {
			count := args[i+1]
			for j, f := range files {
				if f == count {
					return append(files[:j], files[j+1:]...)
				}
			}
		}
	}
	return files
}

func (s *Sandbox) cmdWc(ctx context.Context, args []string) error {
	in, out, _ := stdio(ctx)

	var text string
	files := operands(args)
	if len(files) > 0 {
		resolved, err := s.resolve(files[0])
		if err != nil {
			return fmt.Errorf("wc: %w", err)
		}
		data, err := afero.ReadFile(s.fs, resolved)
		if err != nil {
			return fmt.Errorf("wc: %s: no such file", files[0])
		}
		text = string(data)
	} else {
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		text = string(data)
	}

	lines := strings.Count(text, "\n")
	words := len(strings.Fields(text))
	switch {
	case hasFlag(args, "l"):
		fmt.Fprintln(out, lines)
	case hasFlag(args, "w"):
		fmt.Fprintln(out, words)
	case hasFlag(args, "c"):
		fmt.Fprintln(out, len(text))
	default:
		fmt.Fprintf(out, "%d %d %d\n", lines, words, len(text))
	}
	return nil
}

func (s *Sandbox) cmdGrep(ctx context.Context, args []string) error {
	in, out, _ := stdio(ctx)

	rest := operands(args)
	if len(rest) == 0 {
		return fmt.Errorf("grep: missing pattern")
	}
	re, err := regexp.Compile(rest[0])
	if err != nil {
		return fmt.Errorf("grep: invalid pattern: %w", err)
	}

	var text string
	if len(rest) > 1 {
		resolved, err := s.resolve(rest[1])
		if err != nil {
			return fmt.Errorf("grep: %w", err)
		}
		data, err := afero.ReadFile(s.fs, resolved)
		if err != nil {
			return fmt.Errorf("grep: %s: no such file", rest[1])
		}
		text = string(data)
	} else {
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		text = string(data)
	}

	matched := false
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		if re.MatchString(line) {
			fmt.Fprintln(out, line)
			matched = true
		}
	}
	if !matched {
		return interp.NewExitStatus(1)
	}
	return nil
}

func (s *Sandbox) cmdTest(args []string) error {
	rest := args[1:]
	if len(rest) > 0 && rest[len(rest)-1] == "]" {
		rest = rest[:len(rest)-1]
	}

	ok := false
	switch len(rest) {
	case 1:
		ok = rest[0] != ""
	case 2:
		switch rest[0] {
		case "-e", "-f", "-d":
			// Out-of-boundary paths test the same as missing ones.
			resolved, err := s.resolve(rest[1])
			if err == nil {
				info, statErr := s.fs.Stat(resolved)
				switch rest[0] {
				case "-e":
					ok = statErr == nil
				case "-f":
					ok = statErr == nil && !info.IsDir()
				case "-d":
					ok = statErr == nil && info.IsDir()
				}
			}
		case "-n":
			ok = rest[1] != ""
		case "-z":
			ok = rest[1] == ""
		}
	case 3:
		switch rest[1] {
		case "=", "==":
			ok = rest[0] == rest[2]
		case "!=":
			ok = rest[0] != rest[2]
		}
	}

	if !ok {
		return interp.NewExitStatus(1)
	}
	return nil
}
