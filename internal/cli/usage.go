package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaecopzm/postcraft-sub000/internal/config"
	"github.com/jaecopzm/postcraft-sub000/internal/models"
	"github.com/jaecopzm/postcraft-sub000/internal/store"
)

// usageCmd shows an account's current-period quota consumption.
var usageCmd = &cobra.Command{
	Use:   "usage <account-id>",
	Short: "Show an account's quota usage for the current period",
	Long: `Show an account's monthly quota consumption for the current period.

Example:
  postcraft-quota usage acct_123 --config config.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runUsage,
}

func runUsage(cmd *cobra.Command, args []string) error {
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

	period := models.PeriodKey(time.Now())
	used, err := st.QuotaUsed(ctx, accountID, period)
	if err != nil {
		return fmt.Errorf("failed to read quota: %w", err)
	}

	tier := models.TierFree
	if acc, ok, err := st.GetAccount(ctx, accountID); err == nil && ok {
		tier = acc.Tier
	}

	ceiling, limited := cfg.Quota.Ceiling(string(tier))

	if globalFlags.JSON {
		out := map[string]interface{}{
			"account_id": accountID,
			"period":     period,
			"tier":       string(tier),
			"used":       used,
			"unlimited":  !limited,
		}
		if limited {
			out["ceiling"] = ceiling
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tPERIOD\tTIER\tUSED\tCEILING")
	ceilingText := "unlimited"
	if limited {
		ceilingText = fmt.Sprintf("%d", ceiling)
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", accountID, period, tier, used, ceilingText)
	return w.Flush()
}

func loadConfigOrDefault() (*config.Config, error) {
	if _, err := os.Stat(globalFlags.Config); err != nil {
		if os.IsNotExist(err) {
			return config.Default(), nil
		}
		return nil, err
	}
	return config.NewLoader(globalFlags.Config).Load()
}
