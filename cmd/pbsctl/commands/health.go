package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/coordinator"
	"github.com/opencoordinator/pbs/internal/httpclient"
)

// NewHealthCommand creates the health probe command
func NewHealthCommand(ctx context.Context) *cobra.Command {
	var peerURL string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe service health",
		Long:  "Probe the local service over --api-url and optionally the peer coordinator over --peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsAPIAccess() && peerURL == "" {
				return fmt.Errorf("nothing to probe: set --api-url or --peer")
			}

			if IsAPIAccess() {
				if err := probeLocal(); err != nil {
					return err
				}
			}

			if peerURL != "" {
				if err := probePeer(ctx, peerURL); err != nil {
					return err
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&peerURL, "peer", "", "Peer coordinator base URL to probe")

	return cmd
}

func probeLocal() error {
	resp, err := APIRequest("GET", "/health", nil)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}

	if outputJSON {
		var parsed interface{}
		if err := json.Unmarshal(body, &parsed); err == nil {
			OutputJSON(map[string]interface{}{"status_code": resp.StatusCode, "body": parsed})
			return nil
		}
	}

	fmt.Printf("Service: %d\n%s\n", resp.StatusCode, string(body))
	return nil
}

func probePeer(ctx context.Context, url string) error {
	client := coordinator.NewClient(&coordinator.Config{BaseURL: url},
		httpclient.New(nil, zap.NewNop()), zap.NewNop())

	st, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("peer probe failed: %w", err)
	}

	if outputJSON {
		OutputJSON(st)
		return nil
	}
	fmt.Printf("Peer: %s (service %s, version %s)\n", st.Status, st.Service, st.Version)
	return nil
}
