package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// remote is a small client for the daemon's HTTP API.
type remote struct {
	base   string
	token  string
	client *http.Client
}

func newRemote(base, token string) *remote {
	return &remote{base: strings.TrimRight(base, "/"), token: token, client: &http.Client{Timeout: 10 * time.Second}}
}

func (r *remote) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// healthy is the watch command's network probe.
func (r *remote) healthy(ctx context.Context) error {
	_, err := r.do(ctx, http.MethodGet, "/healthz")
	return err
}

func printJSON(w io.Writer, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		_, err = w.Write(body)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func statusCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's realtime connection state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadClient(*cfgPath)
			if err != nil {
				return err
			}
			body, err := newRemote(cfg.Client.Remote, readToken(cfg.Auth.TokenFile)).do(cmd.Context(), http.MethodGet, "/status")
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
}

func recoverCmd(cfgPath *string) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Ask the daemon to resubscribe every topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadClient(*cfgPath)
			if err != nil {
				return err
			}
			path := "/recover?reason=" + url.QueryEscape(reason)
			body, err := newRemote(cfg.Client.Remote, readToken(cfg.Auth.TokenFile)).do(cmd.Context(), http.MethodPost, path)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual (cli)", "reason recorded with the epoch increment")
	return cmd
}
