package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/event"
	"github.com/atelier-dev/atelier/internal/executor"
	"github.com/atelier-dev/atelier/internal/supervisor"
	"github.com/atelier-dev/atelier/pkg/types"
)

var (
	runDir     string
	runShell   string
	runScript  string
	runTool    string
	runArgs    string
	runTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one command, script, or tool in a throwaway session",
	Long: `Create a session for a project directory, execute a single shell
command, sandbox script, or tool call, print the output, and tear the
session down.

Examples:
  atelier run --shell "git status"
  atelier run --script 'for f in *.go; do echo $f; done'
  atelier run --tool Read --args '{"filePath": "main.go"}'`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runDir, "directory", "", "Project directory (default: current)")
	runCmd.Flags().StringVar(&runShell, "shell", "", "Shell command to execute")
	runCmd.Flags().StringVar(&runScript, "script", "", "Sandbox script to execute")
	runCmd.Flags().StringVar(&runTool, "tool", "", "Tool name to invoke")
	runCmd.Flags().StringVar(&runArgs, "args", "{}", "Tool arguments as JSON")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 2*time.Minute, "Execution timeout")
}

func runOnce(cmd *cobra.Command, args []string) error {
	if runShell == "" && runScript == "" && runTool == "" {
		return fmt.Errorf("one of --shell, --script, or --tool is required")
	}

	dir, err := workDir(runDir)
	if err != nil {
		return err
	}
	appConfig, err := config.Load(dir)
	if err != nil {
		return err
	}

	bus := event.Default()
	tree := supervisor.NewTree(supervisor.Options{
		MaxSessions: appConfig.MaxSessions,
		Bus:         bus,
	})
	defer tree.Shutdown()

	session, err := tree.CreateSession(supervisor.CreateOptions{
		ProjectPath: dir,
		Config:      appConfig.SessionConfigFrom(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	switch {
	case runShell != "":
		mgr, err := tree.ManagerFor(session.ID)
		if err != nil {
			return err
		}
		res, err := mgr.Shell(ctx, runShell, runTimeout)
		if err != nil {
			return err
		}
		fmt.Print(res.Output)
		if res.ExitCode != 0 {
			os.Exit(res.ExitCode)
		}
	case runScript != "":
		mgr, err := tree.ManagerFor(session.ID)
		if err != nil {
			return err
		}
		out, err := mgr.RunScript(ctx, runScript, runTimeout)
		fmt.Print(out)
		if err != nil {
			return err
		}
	default:
		exec := executor.New(tree, bus)
		result, err := exec.Execute(ctx, session.ID, types.ToolCall{
			Name:      runTool,
			Arguments: json.RawMessage(runArgs),
		})
		if err != nil {
			return err
		}
		if result.NeedsApproval {
			return fmt.Errorf("tool call requires approval: %s", result.Content)
		}
		fmt.Print(result.Content)
	}
	return nil
}
