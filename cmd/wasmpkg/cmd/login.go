package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <registry>",
	Short: "Store registry credentials in the OS keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout <registry>",
	Short: "Remove registry credentials from the OS keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogout,
}

func init() {
	loginCmd.Flags().StringP("username", "u", "", "registry username")
	loginCmd.Flags().Bool("password-stdin", false, "read the password from stdin")
	_ = loginCmd.MarkFlagRequired("username")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

func runLogin(cmd *cobra.Command, args []string) (err error) {
	username, _ := cmd.Flags().GetString("username")
	fromStdin, _ := cmd.Flags().GetBool("password-stdin")
	if !fromStdin {
		return errors.New("password must be passed with --password-stdin")
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")

	m, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	if err := m.Login(args[0], username, password); err != nil {
		return err
	}
	fmt.Printf("login succeeded for %s\n", args[0])
	return nil
}

func runLogout(cmd *cobra.Command, args []string) (err error) {
	m, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	return m.Logout(args[0])
}
