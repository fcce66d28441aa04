package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cordum/oncebox/sdk/client"
	"github.com/cordum/oncebox/sdk/seal"
	"github.com/spf13/cobra"
)

const maxPlaintext = 46 << 10

func sendCommand(cfg *clientConfig) *cobra.Command {
	var (
		file string
		ttl  int64
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Encrypt a message and print a one-time link",
		Long: "Reads the message from --file or stdin, encrypts it locally and " +
			"uploads only the ciphertext. The decryption key is placed in the link fragment.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			plaintext, err := io.ReadAll(io.LimitReader(in, maxPlaintext+1))
			if err != nil {
				return fmt.Errorf("read message: %w", err)
			}
			if len(plaintext) == 0 {
				return fmt.Errorf("message is empty")
			}
			if len(plaintext) > maxPlaintext {
				return fmt.Errorf("message exceeds %d bytes", maxPlaintext)
			}

			ciphertext, key, err := seal.Seal(plaintext)
			if err != nil {
				return err
			}
			created, err := cfg.newClient().Send(cmd.Context(), client.SendRequest{Ciphertext: ciphertext, TTLSeconds: ttl})
			if err != nil {
				return err
			}

			link := client.Link{BaseURL: cfg.address, ID: created.ID, Token: created.Token, Key: key}
			fmt.Fprintln(cmd.OutOrStdout(), link.String())
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds, readable once\n", created.ExpiresIn)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the message from a file instead of stdin")
	cmd.Flags().Int64Var(&ttl, "ttl", 0, "lifetime in seconds (server default when unset)")
	return cmd
}
