package procmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// PM2 drives the pm2 command line tool. Every subcommand is bounded by
// Timeout.
type PM2 struct {
	Binary  string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewPM2(binary string, timeout time.Duration, log *slog.Logger) *PM2 {
	if binary == "" {
		binary = "pm2"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &PM2{Binary: binary, Timeout: timeout, Logger: log}
}

func (p *PM2) run(ctx context.Context, env []string, dir string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	// #nosec G204 -- binary is operator configuration
	cmd := exec.CommandContext(ctx, p.Binary, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	p.Logger.Debug("pm2", "args", args[:1], "err", err)
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("pm2 %s: timed out after %s", args[0], p.Timeout)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if strings.Contains(strings.ToLower(msg), "not found") {
			return nil, fmt.Errorf("%w: %s", ErrNoEntry, msg)
		}
		return nil, fmt.Errorf("pm2 %s: %w: %s", args[0], err, msg)
	}
	return stdout.Bytes(), nil
}

// Start runs "pm2 start <script> --name <handle> --interpreter <interp>
// --no-autorestart -l <log>". With no script the interpreter is started
// directly.
func (p *PM2) Start(ctx context.Context, req StartRequest) error {
	script, interp, rest := req.Interpreter, "none", []string(nil)
	if len(req.Args) > 0 {
		script, interp, rest = req.Args[0], req.Interpreter, req.Args[1:]
	}
	args := []string{"start", script, "--name", req.Handle, "--interpreter", interp, "--no-autorestart"}
	if req.WorkDir != "" {
		args = append(args, "--cwd", req.WorkDir)
	}
	if req.LogFile != "" {
		args = append(args, "-l", req.LogFile)
	}
	if len(rest) > 0 {
		args = append(append(args, "--"), rest...)
	}
	_, err := p.run(ctx, req.Env, req.WorkDir, args...)
	return err
}

func (p *PM2) Stop(ctx context.Context, handle string) error {
	_, err := p.run(ctx, nil, "", "stop", handle)
	return err
}

// Delete removes handle from pm2's table, killing it without a prompt.
func (p *PM2) Delete(ctx context.Context, handle string) error {
	_, err := p.run(ctx, nil, "", "delete", handle, "--force")
	return err
}

type jlistEnv struct {
	Status string `json:"status"`
	// PMUptime is the start time in Unix milliseconds.
	PMUptime int64 `json:"pm_uptime"`
}

type jlistEntry struct {
	Name   string   `json:"name"`
	PID    int      `json:"pid"`
	PM2Env jlistEnv `json:"pm2_env"`
}

func (p *PM2) List(ctx context.Context) ([]Entry, error) {
	out, err := p.run(ctx, nil, "", "jlist")
	if err != nil {
		return nil, err
	}
	return parseJList(out, time.Now())
}

// parseJList tolerates banner text printed before the JSON array.
func parseJList(out []byte, now time.Time) ([]Entry, error) {
	i := jsonArrayStart(out)
	if i < 0 {
		if len(bytes.TrimSpace(out)) == 0 {
			return nil, nil
		}
		return nil, errors.New("pm2 jlist: no JSON array in output")
	}
	var raw []jlistEntry
	if err := json.Unmarshal(out[i:], &raw); err != nil {
		return nil, fmt.Errorf("pm2 jlist: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		e := Entry{Handle: r.Name, PID: r.PID, Status: r.PM2Env.Status}
		if e.Status == StatusOnline && r.PM2Env.PMUptime > 0 {
			if up := now.Sub(time.UnixMilli(r.PM2Env.PMUptime)); up > 0 {
				e.Uptime = up
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// jsonArrayStart finds the first '[' that opens an array of objects or an
// empty array, skipping banners such as "[PM2] ...".
func jsonArrayStart(out []byte) int {
	for i := 0; i < len(out); i++ {
		if out[i] != '[' {
			continue
		}
		rest := bytes.TrimLeft(out[i+1:], " \t\r\n")
		if len(rest) > 0 && (rest[0] == '{' || rest[0] == ']') {
			return i
		}
	}
	return -1
}
