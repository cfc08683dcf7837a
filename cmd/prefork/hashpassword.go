package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var hashPasswordCost int

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a password with bcrypt for the metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword()
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("empty password")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(password), hashPasswordCost)
		if err != nil {
			return fmt.Errorf("cannot hash password: %w", err)
		}

		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(hash))
		return err
	},
}

// readPassword reads without echo when stdin is a terminal, otherwise
// takes the first line (for piping into scripts).
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("cannot read password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("cannot read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	hashPasswordCmd.Flags().IntVar(&hashPasswordCost, "cost", bcrypt.DefaultCost, "bcrypt cost factor")
	rootCmd.AddCommand(hashPasswordCmd)
}
