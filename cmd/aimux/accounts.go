package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/leofalp/aimux/core/accounts"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account"},
		Short:   "Manage provider accounts",
		Long: `Each provider can hold several accounts; the default one is used for
requests. Credentials are kept in the state store, never in the provider file.

Examples:
  aimux accounts add openai --name work --key sk-...
  aimux accounts list
  aimux accounts use 3f6c...
  aimux accounts remove 3f6c...`,
	}

	cmd.AddCommand(
		accountsAddCmd(),
		accountsListCmd(),
		accountsUseCmd(),
		accountsRemoveCmd(),
	)
	return cmd
}

func accountsAddCmd() *cobra.Command {
	var (
		name         string
		email        string
		apiKey       string
		accessToken  string
		refreshToken string
	)

	cmd := &cobra.Command{
		Use:   "add <provider>",
		Short: "Add an account",
		Long: `Add an account holding an API key or an OAuth token pair. Without
--key or --access-token the API key is read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" && accessToken == "" {
				if isInteractive() {
					fmt.Fprint(cmd.ErrOrStderr(), "API key: ")
				}
				key, err := readLine()
				if err != nil {
					return err
				}
				apiKey = key
			}

			credential := accounts.Credential{
				APIKey:       apiKey,
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
			}
			var opts []accounts.AccountOption
			if email != "" {
				opts = append(opts, accounts.WithEmail(email))
			}

			account, err := mux.Accounts().AddAccount(cmd.Context(), args[0], credential, name, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", account.DisplayName, account.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&apiKey, "key", "", "API key")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "OAuth access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token")
	return cmd
}

func accountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [provider]",
		Short: "List accounts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := ""
			if len(args) == 1 {
				provider = args[0]
			}

			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tPROVIDER\tNAME\tTYPE\tSTATUS\tDEFAULT")
			for _, account := range mux.Accounts().ListAccounts(provider) {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
					account.ID, account.Provider, account.DisplayName,
					account.AuthType, account.Status, mark(account.IsDefault))
			}
			return writer.Flush()
		},
	}
}

func accountsUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <account-id>",
		Short: "Make an account the default of its provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := mux.Accounts().SetActiveAccount(cmd.Context(), args[0]); err != nil {
				return accountError(args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "using %s\n", args[0])
			return nil
		},
	}
}

func accountsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <account-id>",
		Aliases: []string{"rm"},
		Short:   "Remove an account and its credential",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := mux.Accounts().RemoveAccount(cmd.Context(), args[0]); err != nil {
				return accountError(args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func accountError(id string, err error) error {
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return fmt.Errorf("no account %q; see 'aimux accounts list'", id)
	}
	return err
}
