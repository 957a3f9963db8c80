package codebot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running codebot",
	RunE:  runStatus,
}

type remoteStatus struct {
	Feed       string    `json:"feed"`
	Handle     string    `json:"handle"`
	Module     string    `json:"module"`
	Version    string    `json:"version"`
	State      string    `json:"state"`
	Authorized bool      `json:"authorized"`
	SyncCount  int       `json:"sync_count"`
	Cursor     string    `json:"cursor"`
	Requests   int       `json:"requests"`
	Pending    int       `json:"pending"`
	StartedAt  time.Time `json:"started_at"`
}

func gatewayURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gatewayURL(cfg.Gateway.Port)+"/api/status", nil)
	if err != nil {
		return err
	}
	if cfg.Gateway.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Gateway.AuthToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Println("status: codebot is not running")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("status: gateway returned %s\n", resp.Status)
		return nil
	}

	var st remoteStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	fmt.Printf("state:      %s (authorized: %t)\n", st.State, st.Authorized)
	fmt.Printf("feed:       %s as @%s, module %s\n", st.Feed, st.Handle, st.Module)
	fmt.Printf("syncs:      %d (cursor %q)\n", st.SyncCount, st.Cursor)
	fmt.Printf("requests:   %d (%d pending)\n", st.Requests, st.Pending)
	fmt.Printf("up since:   %s\n", st.StartedAt.Local().Format(time.DateTime))
	return nil
}
