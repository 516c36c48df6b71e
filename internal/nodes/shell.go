package nodes

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

const defaultShellTimeout = 30 * time.Second

// ShellExecutor runs a command through a shell with a scrubbed environment:
// only HOME, a fixed PATH and the node's envVars are visible. The command
// comes from the incoming "command" key, a bare incoming string, or node
// config; "stdin" on the incoming object feeds the process.
type ShellExecutor struct{}

func NewShellExecutor() *ShellExecutor { return &ShellExecutor{} }

func (e *ShellExecutor) Type() string { return schema.NodeTypeShell }

func (e *ShellExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	command := node.String("command", "")
	var stdin string
	switch v := input.(type) {
	case map[string]any:
		if c, ok := v["command"].(string); ok && c != "" {
			command = c
		}
		if s, ok := v["stdin"].(string); ok {
			stdin = s
		}
	case string:
		if v != "" {
			command = v
		}
	}
	if command == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "shell_exec requires a command").WithNode(node.ID)
	}

	shell := node.String("shell", "sh")
	timeout := defaultShellTimeout
	if secs := node.Int("timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, shell, "-c", command)
	cmd.Env = shellEnv(node)
	if dir := node.String("workingDir", ""); dir != "" {
		cmd.Dir = dir
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if execCtx.Err() == context.DeadlineExceeded {
		return nil, schema.NewErrorf(schema.ErrCodeTimeout, "command timed out after %s", timeout).WithNode(node.ID)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, schema.NewErrorf(schema.ErrCodeExecutor, "shell process error: %s", runErr.Error()).
				WithNode(node.ID).WithCause(runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	return &Result{Value: map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	}}, nil
}

// shellEnv builds the scrubbed process environment.
func shellEnv(node *schema.Node) []string {
	env := []string{
		"HOME=" + os.Getenv("HOME"),
		"PATH=/usr/local/bin:/usr/bin:/bin",
	}
	if extra, ok := node.Data["envVars"].(map[string]any); ok {
		for k, v := range extra {
			if s, sok := v.(string); sok {
				env = append(env, k+"="+s)
			}
		}
	}
	return env
}
