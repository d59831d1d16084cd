// Command noted is the CLI front end for a peer-to-peer synchronizing
// note store: note CRUD, hybrid search, peer trust management, and the
// long-running sync daemon, all but the identity commands driving the same
// engine.Engine.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"noted/internal/config"
	"noted/internal/engine"
)

var (
	configPath string
	log        = logrus.New()
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "noted",
		Short: "A local-first, peer-to-peer synchronizing note store",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	root.AddCommand(
		newNewCmd(),
		newSearchCmd(),
		newEditCmd(),
		newDeleteCmd(),
		newListCmd(),
		newSyncCmd(),
		newServeCmd(),
		newPeersCmd(),
		newIdentityCmd(),
	)
	return root
}

func main() {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openEngine loads config and opens the engine against it, for commands
// that don't need the network running.
func openEngine(cmd *cobra.Command) (*engine.Engine, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	e, err := engine.Open(cmd.Context(), cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return e, func() { e.Close() }, nil
}
