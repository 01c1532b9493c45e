// Package stats fetches platform statistics for an agent's bot account.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultAPIBase is the Discord REST API root.
const DefaultAPIBase = "https://discord.com/api/v10"

// Stats are the counters shown for an agent.
type Stats struct {
	Name         string `json:"name"`
	ServerCount  int    `json:"server_count"`
	UserCount    int    `json:"user_count"`
	CommandCount int    `json:"command_count"`
	// Ping is the round trip of the application lookup in milliseconds.
	Ping int `json:"ping"`
}

// Client looks up statistics with an agent credential.
type Client interface {
	Fetch(ctx context.Context, credential string) (Stats, error)
}

// Discord talks to the Discord REST API with a bot token.
type Discord struct {
	base   string
	http   *http.Client
	logger *slog.Logger
}

func NewDiscord(base string, timeout time.Duration, log *slog.Logger) *Discord {
	if base == "" {
		base = DefaultAPIBase
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Discord{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: timeout}, logger: log}
}

type application struct {
	ID                          string `json:"id"`
	Name                        string `json:"name"`
	ApproximateGuildCount       int    `json:"approximate_guild_count"`
	ApproximateUserInstallCount int    `json:"approximate_user_install_count"`
}

// Fetch reads the application, then refines the guild and command counts.
// Only the application lookup is required to succeed.
func (d *Discord) Fetch(ctx context.Context, credential string) (Stats, error) {
	if credential == "" {
		return Stats{}, errors.New("no credential")
	}
	var app application
	start := time.Now()
	if err := d.get(ctx, credential, "/oauth2/applications/@me", &app); err != nil {
		return Stats{}, err
	}
	s := Stats{
		Name:        app.Name,
		ServerCount: app.ApproximateGuildCount,
		UserCount:   app.ApproximateUserInstallCount,
		Ping:        int(time.Since(start).Milliseconds()),
	}

	var guilds []json.RawMessage
	if err := d.get(ctx, credential, "/users/@me/guilds", &guilds); err != nil {
		d.logger.Debug("guild count lookup failed", "err", err)
	} else {
		s.ServerCount = len(guilds)
	}

	if app.ID != "" {
		var cmds []json.RawMessage
		if err := d.get(ctx, credential, "/applications/"+app.ID+"/commands", &cmds); err != nil {
			d.logger.Debug("command count lookup failed", "err", err)
		} else {
			s.CommandCount = len(cmds)
		}
	}
	return s, nil
}

func (d *Discord) get(ctx context.Context, credential, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+credential)
	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord api %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
