package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fedsearch/fedsearch-go/internal/cli/output"
	"github.com/fedsearch/fedsearch-go/internal/secret"
)

// secretResolver is replaced in tests
var secretResolver = secret.NewResolver()

func newSecretCmd() *cobra.Command {
	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage credentials in the OS keyring",
		Long: `Store remote instance credentials in the OS keyring and refer to them as
${keyring:NAME} in credential flags and in the api_key setting.`,
	}

	setCmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret, read from the terminal or stdin",
		Long: `Store a secret in the OS keyring.

Examples:
  fedsearch secret set partner-password
  echo -n s3cret | fedsearch secret set partner-password`,
		Args: cobra.ExactArgs(1),
		RunE: runSecretSet,
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a secret from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}

	secretCmd.AddCommand(setCmd, deleteCmd)
	return secretCmd
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	value, err := readSecretValue(cmd)
	if err != nil {
		return err
	}
	if value == "" {
		return output.NewStructuredError(output.ErrCodeInvalidInput, "empty secret value")
	}

	ref := secret.Ref{Type: secret.TypeKeyring, Name: args[0]}
	if err := secretResolver.Store(cmd.Context(), ref, value); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", secret.Format(secret.TypeKeyring, args[0]))
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	ref := secret.Ref{Type: secret.TypeKeyring, Name: args[0]}
	if err := secretResolver.Delete(cmd.Context(), ref); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", secret.Format(secret.TypeKeyring, args[0]))
	return nil
}

// readSecretValue prompts without echo on a terminal, otherwise reads the
// first line of stdin
func readSecretValue(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Secret: ")
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return string(data), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// expandSecrets resolves ${env:..} and ${keyring:..} references in place
func expandSecrets(ctx context.Context, values ...*string) error {
	if err := secretResolver.ExpandAll(ctx, values...); err != nil {
		return output.NewStructuredError(output.ErrCodeInvalidInput, err.Error()).
			WithGuidance("store it with: fedsearch secret set <name>")
	}
	return nil
}
