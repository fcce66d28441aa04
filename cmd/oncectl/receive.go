package main

import (
	"errors"
	"fmt"

	"github.com/cordum/oncebox/sdk/client"
	"github.com/cordum/oncebox/sdk/seal"
	"github.com/spf13/cobra"
)

func receiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "receive [link]",
		Short: "Read and destroy a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := client.ParseLink(args[0])
			if err != nil {
				return err
			}
			env, err := client.New(link.BaseURL).Receive(cmd.Context(), link.ID, link.Token)
			if errors.Is(err, client.ErrNotFound) {
				return fmt.Errorf("message not found: it was already read or has expired")
			}
			if err != nil {
				return err
			}
			if link.Key == "" {
				// nothing to decrypt with; hand back the stored form
				fmt.Fprintln(cmd.OutOrStdout(), env.Ciphertext)
				return nil
			}
			plaintext, err := seal.Open(env.Ciphertext, link.Key)
			if err != nil {
				return fmt.Errorf("message was consumed but could not be decrypted: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(plaintext)
			return err
		},
	}
}
