// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Status command implementation for rigrun-relay.
//
// Command: status
// Aliases: s
//
// Probes the configured Ollama server directly and the relay over its own
// HTTP API (/health, then /stats with the configured token).
//
// Examples:
//   rigrun-relay status
//   rigrun-relay status --json

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-relay/internal/config"
	"github.com/jeranaias/rigrun-relay/internal/ollama"
	"github.com/jeranaias/rigrun-relay/internal/relay"
	"github.com/jeranaias/rigrun-relay/internal/server"
)

// statusTimeout bounds every probe made by the status command.
const statusTimeout = 5 * time.Second

// HandleStatus handles the "status" command.
func HandleStatus(args Args) error {
	cfg, _, err := LoadConfig(args)
	if err != nil {
		return err
	}
	if err := ApplyFlags(cfg, args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	data := StatusData{
		Relay:  collectRelayInfo(ctx, cfg),
		Ollama: collectOllamaInfo(ctx, cfg),
	}

	if args.JSON {
		return NewJSONResponse("status", data).Print()
	}
	printStatus(data)
	return nil
}

// =============================================================================
// COLLECTORS
// =============================================================================

func collectOllamaInfo(ctx context.Context, cfg *config.Config) StatusOllamaInfo {
	info := StatusOllamaInfo{URL: cfg.Local.OllamaURL, Models: []StatusModel{}, Loaded: []string{}}
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL: cfg.Local.OllamaURL,
		Timeout: statusTimeout,
	})

	if err := client.CheckRunning(ctx); err != nil {
		if ollama.IsNotRunning(err) {
			info.Error = "Ollama is not running (start it with: ollama serve)"
		} else {
			info.Error = errorMessage(err)
		}
		return info
	}
	info.Running = true

	if v, err := client.Version(ctx); err == nil {
		info.Version = v
	}
	if models, err := client.ListModels(ctx); err == nil {
		info.Installed = len(models)
		for i := range models {
			info.Models = append(info.Models, StatusModel{Name: models[i].Name, Size: models[i].FormatSize()})
		}
	}
	if running, err := client.ListRunning(ctx); err == nil {
		for _, m := range running {
			info.Loaded = append(info.Loaded, m.Name)
		}
	}
	return info
}

func collectRelayInfo(ctx context.Context, cfg *config.Config) StatusRelayInfo {
	info := StatusRelayInfo{
		Addr:           cfg.Addr(),
		AuthConfigured: cfg.Server.AuthToken != "",
	}
	base := "http://" + dialAddr(cfg)

	var health server.HealthResponse
	if err := getEnvelope(ctx, base+"/health", "", &health); err != nil {
		info.Error = err.Error()
		return info
	}
	info.Running = true
	info.Version = health.Version
	info.UptimeSeconds = health.UptimeSeconds

	var stats server.StatsResponse
	if err := getEnvelope(ctx, base+"/stats", cfg.Server.AuthToken, &stats); err != nil {
		info.Error = err.Error()
		return info
	}
	info.OpenChannels = stats.Sessions.OpenChannels
	info.TotalChannels = stats.Sessions.TotalChannels
	if stats.Ledger != nil {
		info.Operations = stats.Ledger.Total
	}
	return info
}

// dialAddr turns a wildcard listen host into a loopback address.
func dialAddr(cfg *config.Config) string {
	host := cfg.Server.Host
	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::", "[::]":
		host = "::1"
	}
	return net.JoinHostPort(host, fmt.Sprint(cfg.Server.Port))
}

// envelope mirrors server.Envelope with the data left undecoded.
type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *relay.ErrorPayload `json:"error"`
}

func getEnvelope(ctx context.Context, url, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay not reachable: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("unexpected response from %s: %w", url, err)
	}
	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s: %s", resp.Status, env.Error.Message)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	return json.Unmarshal(env.Data, out)
}

func errorMessage(err error) string {
	if p, ok := relay.ErrorPayloadFor(err); ok {
		return p.Message
	}
	return err.Error()
}

// =============================================================================
// OUTPUT
// =============================================================================

func printStatus(data StatusData) {
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, TitleStyle.Render("rigrun-relay Status"))
	fmt.Fprintln(stdout, RenderSeparator())

	r := data.Relay
	fmt.Fprintln(stdout, SectionStyle.Render("Relay"))
	if r.Running {
		fmt.Fprintln(stdout, RenderField("Listening", r.Addr+" "+RenderStatus("running")))
		fmt.Fprintln(stdout, RenderField("Version", r.Version))
		fmt.Fprintln(stdout, RenderField("Uptime", (time.Duration(r.UptimeSeconds)*time.Second).String()))
		fmt.Fprintln(stdout, RenderField("Open channels", fmt.Sprint(r.OpenChannels)))
		fmt.Fprintln(stdout, RenderField("Total channels", fmt.Sprint(r.TotalChannels)))
		fmt.Fprintln(stdout, RenderField("Operations", fmt.Sprint(r.Operations)))
	} else {
		fmt.Fprintln(stdout, RenderField("Listening", r.Addr+" "+RenderStatus("stopped")))
	}
	if r.Error != "" {
		fmt.Fprintln(stdout, RenderField("Error", DimStyle.Render(r.Error)))
	}
	auth := "not set"
	if r.AuthConfigured {
		auth = "required"
	}
	fmt.Fprintln(stdout, RenderField("Auth token", auth))

	o := data.Ollama
	fmt.Fprintln(stdout, SectionStyle.Render("Ollama"))
	if !o.Running {
		fmt.Fprintln(stdout, RenderField("Server", o.URL+" "+RenderStatus("unavailable")))
		if o.Error != "" {
			fmt.Fprintln(stdout, RenderField("Error", DimStyle.Render(o.Error)))
		}
		fmt.Fprintln(stdout)
		return
	}
	fmt.Fprintln(stdout, RenderField("Server", o.URL+" "+RenderStatus("ok")))
	fmt.Fprintln(stdout, RenderField("Version", o.Version))
	fmt.Fprintln(stdout, RenderField("Installed", fmt.Sprintf("%d models", o.Installed)))
	for _, m := range o.Models {
		fmt.Fprintln(stdout, RenderField("", m.Name+" "+DimStyle.Render("("+m.Size+")")))
	}
	loaded := "none"
	if len(o.Loaded) > 0 {
		loaded = strings.Join(o.Loaded, ", ")
	}
	fmt.Fprintln(stdout, RenderField("Loaded", loaded))
	fmt.Fprintln(stdout)
}
