// Command connectorctl is the CLI entry point for the ILP connector
// core: it loads a config file, starts a connector.Node, serves the
// read-only admin status surface, and offers small query subcommands
// against a running node's admin endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	log        = logrus.NewEntry(logrus.StandardLogger())
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "connectorctl",
		Short: "Run and query an ILP connector node",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "connector.yaml", "path to the node config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
