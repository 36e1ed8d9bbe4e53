package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var adminAddr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running node's read-only admin status surface",
	}
	cmd.PersistentFlags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:7769", "admin status surface address to query")

	cmd.AddCommand(&cobra.Command{
		Use:   "peers",
		Short: "List registered peers and their connection state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetchAndPrint(adminAddr, "/peers")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "routes",
		Short: "List the active routing table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetchAndPrint(adminAddr, "/routes")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "balance [peer-id]",
		Short: "Show one peer's account balance, or every account if omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/accounts"
			if len(args) == 1 {
				path = "/accounts/" + args[0]
			}
			return fetchAndPrint(adminAddr, path)
		},
	})
	return cmd
}

func fetchAndPrint(adminAddr, path string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + adminAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin query failed: %s: %s", resp.Status, string(body))
	}

	var pretty any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
