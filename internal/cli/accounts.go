package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaecopzm/postcraft-sub000/internal/errors"
	"github.com/jaecopzm/postcraft-sub000/internal/models"
	"github.com/jaecopzm/postcraft-sub000/internal/store"
)

// accountsCmd groups account management subcommands.
var accountsCmd = &cobra.Command{
	Use:     "accounts",
	Aliases: []string{"account", "acct"},
	Short:   "Manage accounts and their tiers",
}

var accountsGetCmd = &cobra.Command{
	Use:   "get <account-id>",
	Short: "Show an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsGet,
}

var accountsSetCmd = &cobra.Command{
	Use:   "set <account-id> <tier>",
	Short: "Create an account or change its tier",
	Long: `Create an account or change its subscription tier.

Tier is one of: free, pro.

Example:
  postcraft-quota accounts set acct_123 pro`,
	Args: cobra.ExactArgs(2),
	RunE: runAccountsSet,
}

func init() {
	accountsCmd.AddCommand(accountsGetCmd)
	accountsCmd.AddCommand(accountsSetCmd)
}

func runAccountsGet(cmd *cobra.Command, args []string) error {
	accountID := args[0]

	cfg, err := loadConfigOrDefault()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	acc, ok, err := st.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to read account: %w", err)
	}
	if !ok {
		return &errors.ErrUnknownAccount{AccountID: accountID}
	}

	if globalFlags.JSON {
		data, err := json.MarshalIndent(acc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIER\tCREATED\tUPDATED")
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
		acc.ID, acc.Tier,
		acc.CreatedAt.Format(time.RFC3339),
		acc.UpdatedAt.Format(time.RFC3339),
	)
	return w.Flush()
}

func runAccountsSet(cmd *cobra.Command, args []string) error {
	accountID := args[0]
	tier := models.Tier(args[1])

	if !tier.Valid() {
		return fmt.Errorf("tier must be one of: free, pro")
	}

	cfg, err := loadConfigOrDefault()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	if err := st.SetAccount(ctx, &models.Account{ID: accountID, Tier: tier}); err != nil {
		return fmt.Errorf("failed to store account: %w", err)
	}

	fmt.Printf("account %s set to tier %s\n", accountID, tier)
	return nil
}
