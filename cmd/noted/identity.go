package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"noted/internal/config"
	"noted/internal/identity"
	"noted/internal/store"
)

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Inspect or change this device's identity",
	}
	cmd.AddCommand(newIdentityShowCmd(), newIdentitySetNameCmd())
	return cmd
}

func newIdentityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show this device's id and name",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			actor, err := store.Open(cfg.DatabasePath(), log)
			if err != nil {
				return err
			}
			defer actor.Close()

			ctx := cmd.Context()
			id, err := identity.Load(ctx, actor)
			if err != nil {
				return err
			}
			name, err := identity.New(actor).DeviceName(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("device_id: %s\n", id.DeviceID)
			fmt.Printf("device_name: %s\n", name)
			return nil
		},
	}
}

func newIdentitySetNameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-name <name>",
		Short: "Set this device's human-readable name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			actor, err := store.Open(cfg.DatabasePath(), log)
			if err != nil {
				return err
			}
			defer actor.Close()

			return identity.New(actor).SetDeviceName(cmd.Context(), args[0])
		},
	}
}
