package cli

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/dashgate/internal/secrets"
)

func newEncryptCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config value as ENC[v1:aesgcm:...] using " + secrets.MasterKeyEnv,
		RunE: func(cmd *cobra.Command, args []string) error {
			plain := strings.TrimSpace(text)
			if plain == "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				plain = strings.TrimSpace(string(b))
			}
			if plain == "" {
				return errors.New("missing input: provide --text or pipe stdin")
			}
			out, err := secrets.Encrypt(plain)
			if err != nil {
				return fmt.Errorf("encrypt: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "plain text to encrypt (if empty, read from stdin)")
	return cmd
}

func newGenMasterKeyCmd() *cobra.Command {
	var exportLine bool
	cmd := &cobra.Command{
		Use:   "gen-master-key",
		Short: "Generate a random " + secrets.MasterKeyEnv,
		RunE: func(cmd *cobra.Command, args []string) error {
			buf := make([]byte, 32)
			if _, err := rand.Read(buf); err != nil {
				return fmt.Errorf("generate random key: %w", err)
			}
			out := base64.StdEncoding.EncodeToString(buf)
			if exportLine {
				out = "export " + secrets.MasterKeyEnv + "='" + out + "'"
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().BoolVar(&exportLine, "export", false, "print as a shell export line")
	return cmd
}
