package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamware/keysearch/internal/oracle"
)

func newEncryptCmd() *cobra.Command {
	var (
		key     uint64
		in, out string
	)
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a plaintext file with DES-ECB and PKCS#5 padding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plain, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			ct, err := oracle.Encrypt(key, plain)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, ct, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(ct), out)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&key, "key", 0, "encryption key")
	cmd.Flags().StringVar(&in, "in", "", "plaintext file")
	cmd.Flags().StringVar(&out, "out", "", "ciphertext file")
	for _, name := range []string{"key", "in", "out"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newDecryptCmd() *cobra.Command {
	var (
		key uint64
		in  string
	)
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a ciphertext file and print the plaintext",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ct, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			plain, err := oracle.Decrypt(key, ct)
			if err != nil {
				return fmt.Errorf("decrypt %s: %w", in, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", plain)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&key, "key", 0, "decryption key")
	cmd.Flags().StringVar(&in, "in", "", "ciphertext file")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
