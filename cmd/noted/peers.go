package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPeersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Manage discovered and trusted peers",
	}
	cmd.AddCommand(newPeersListCmd(), newPeersTrustCmd(), newPeersForgetCmd())
	return cmd
}

func newPeersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List trusted peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			for _, p := range e.Transport.Peers() {
				fmt.Printf("%s  %s:%d\n", p.DeviceID, p.Address, p.Port)
			}
			return nil
		},
	}
}

func newPeersTrustCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trust <device_id>",
		Short: "Trust a peer discovered on the local network, registering it for sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			browseCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := e.Serve(browseCtx); err != nil {
				return err
			}
			<-browseCtx.Done()

			for _, p := range e.Directory.All() {
				if p.DeviceID == args[0] {
					return e.TrustPeer(p)
				}
			}
			return fmt.Errorf("no peer with device id %q has been discovered yet", args[0])
		},
	}
}

func newPeersForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <device_id>",
		Short: "Forget a previously trusted peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			e.ForgetPeer(args[0])
			return nil
		},
	}
}
