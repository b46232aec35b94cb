package cli

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"mediaref/internal/handlers"
)

// minTokenLength guards against trivially guessable tokens.
const minTokenLength = 16

func NewHashTokenCommand() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-token",
		Short: "Print the bcrypt hash of an API token",
		Long: `Read an API token and print its bcrypt hash for API_TOKEN_HASH, so the
plain token never has to be stored in the server's configuration.

On a terminal the token is prompted for twice without echo. Otherwise it
is read from the first line of stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readToken(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if len(token) < minTokenLength {
				return fmt.Errorf("token must be at least %d characters", minTokenLength)
			}

			hash, err := handlers.HashToken(token, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")

	return cmd
}

func readToken(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())

		fmt.Fprint(prompt, "Token: ")
		token, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("error reading token: %w", err)
		}

		fmt.Fprint(prompt, "Confirm token: ")
		confirm, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("error reading token: %w", err)
		}

		if !bytes.Equal(token, confirm) {
			return "", errors.New("tokens do not match")
		}
		return string(token), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("error reading token: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
