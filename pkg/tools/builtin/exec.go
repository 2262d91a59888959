package builtin

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// maxExecOutput caps shell output fed back to the model.
const maxExecOutput = 128 * 1024

// Exec runs a shell command in the workspace.
type Exec struct {
	Root string
	// Denied lists substrings that reject a command outright.
	Denied []string
}

func (t *Exec) Name() string { return "exec" }

func (t *Exec) Description() string {
	return "Run a shell command in the workspace and return its combined output."
}

func (t *Exec) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to run",
			},
			"working_dir": map[string]interface{}{
				"type":        "string",
				"description": "Working directory, relative to the workspace root",
			},
		},
		"required": []string{"command"},
	}
}

func (t *Exec) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	command := stringParam(params, "command")
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("command is required")
	}

	for _, denied := range t.Denied {
		if denied != "" && strings.Contains(command, denied) {
			return "", fmt.Errorf("command rejected by policy")
		}
	}

	dir := t.Root
	if wd := stringParam(params, "working_dir"); wd != "" {
		resolved, err := resolvePath(t.Root, wd)
		if err != nil {
			return "", err
		}
		dir = resolved
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	text := string(output)
	if len(text) > maxExecOutput {
		text = text[:maxExecOutput] + "\n[truncated]"
	}

	if ctx.Err() != nil {
		return "", fmt.Errorf("command interrupted: %w", ctx.Err())
	}
	if err != nil {
		if text == "" {
			return "", fmt.Errorf("command failed: %w", err)
		}
		return "", fmt.Errorf("command failed: %v\n%s", err, text)
	}

	if text == "" {
		return "(no output)", nil
	}
	return text, nil
}
