package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func deployCmd() *cobra.Command {
	var adminURL string

	cmd := &cobra.Command{
		Use:   "deploy <key> <file>",
		Short: "Deploy a module artifact to a running daemon",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, path := args[0], args[1]

			artifact, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read artifact: %w", err)
			}

			client := &http.Client{Timeout: 2 * time.Minute}
			url := fmt.Sprintf("%s/deploy/%s", adminURL, key)
			resp, err := client.Post(url, "application/wasm", bytes.NewReader(artifact))
			if err != nil {
				return fmt.Errorf("deploy request: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("deploy failed: %s: %s", resp.Status, bytes.TrimSpace(body))
			}

			var out struct {
				Hash string `json:"hash"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("deployed %s (%d bytes)\nhash: %s\n", key, len(artifact), out.Hash)
			return nil
		},
	}

	cmd.Flags().StringVar(&adminURL, "admin-url", "http://127.0.0.1:8002", "Admin service base URL")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the rvm version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("rvm", version)
		},
	}
}

var version = "dev"
