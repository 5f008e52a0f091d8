package main

import (
	"fmt"

	"github.com/schoolbus-labs/busreserve/internal/pushclient"
	"github.com/spf13/cobra"
)

var vapidKeysCmd = &cobra.Command{
	Use:   "vapid-keys",
	Short: "Generate a VAPID key pair for web push",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := pushclient.GenerateKeys()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "push:\n  vapid_public_key: %s\n  vapid_private_key: %s\n", pub, priv)
		return nil
	},
}
