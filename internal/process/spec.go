package process

import (
	"strings"

	"github.com/loykin/agentdeck/internal/logger"
)

// Spec describes one supervised agent process.
type Spec struct {
	Name        string
	Interpreter string   // resolved via PATH unless absolute
	Args        []string // script and arguments
	WorkDir     string
	Env         []string
	// LogFile receives combined stdout and stderr.
	LogFile  string
	Rotation logger.Rotation
}

// SplitCommand splits a startup command line into its interpreter and the
// remainder. An explicit "sh -c <script>" keeps the script as one argument.
// An empty command line yields def split the same way.
func SplitCommand(cmdline, def string) (string, []string) {
	cmdline = strings.TrimSpace(cmdline)
	if cmdline == "" {
		cmdline = strings.TrimSpace(def)
	}
	if cmdline == "" {
		return "", nil
	}
	if shell, script, ok := parseExplicitShell(cmdline); ok {
		return shell, []string{"-c", script}
	}
	parts := strings.Fields(cmdline)
	return parts[0], parts[1:]
}

// LastToken returns the trailing whitespace-separated token of cmdline.
func LastToken(cmdline string) string {
	parts := strings.Fields(cmdline)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// parseExplicitShell detects "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr and returns the absolute shell and the script with
// one pair of surrounding quotes removed.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c ", "bash -c ", "/bin/bash -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := strings.TrimSpace(trim[len(p):])
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		shell := strings.Fields(p)[0]
		if !strings.HasPrefix(shell, "/") {
			// absolute path: Env may not carry PATH
			shell = "/bin/" + shell
		}
		return shell, after, true
	}
	return "", "", false
}
