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
	"github.com/jaecopzm/postcraft-sub000/internal/quota"
	"github.com/jaecopzm/postcraft-sub000/internal/ratelimit"
	"github.com/jaecopzm/postcraft-sub000/internal/store"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"c", "health", "status"},
	Short:   "Zero-config self-check",
	Long: `Perform a zero-config self-check of the admission pipeline.

This command checks:
- Configuration validity (when a config file is present)
- Store connectivity
- The sliding-window limiter and quota ledger against an in-memory store

No configuration or arguments required.

Example:
  postcraft-quota check`,
	RunE: runCheck,
}

// CheckResult represents the result of a self-check
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	results := []CheckResult{
		checkConfigFile(),
		checkStore(),
		checkAdmissionPipeline(),
	}
	return outputCheckResults(results)
}

func checkConfigFile() CheckResult {
	result := CheckResult{Name: "Configuration", Status: "OK"}

	if _, err := os.Stat(globalFlags.Config); err != nil {
		result.Message = "no config file, defaults apply"
		return result
	}

	loader := config.NewLoader(globalFlags.Config)
	if _, err := loader.Load(); err != nil {
		result.Status = "FAIL"
		result.Message = err.Error()
	}
	return result
}

func checkStore() CheckResult {
	result := CheckResult{Name: "Store", Status: "OK"}

	cfg := config.Default()
	if _, err := os.Stat(globalFlags.Config); err == nil {
		loaded, err := config.NewLoader(globalFlags.Config).Load()
		if err == nil {
			cfg = loaded
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		result.Status = "FAIL"
		result.Message = err.Error()
		return result
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		result.Status = "FAIL"
		result.Message = err.Error()
		return result
	}

	result.Message = fmt.Sprintf("backend %s reachable", st.Backend())
	return result
}

// checkAdmissionPipeline exercises the limiter and ledger end to end against
// an in-memory store: a window of 2 admits exactly 2, a quota ceiling of 1
// admits exactly 1.
func checkAdmissionPipeline() CheckResult {
	result := CheckResult{Name: "Admission pipeline", Status: "OK"}

	ctx := context.Background()
	st := store.NewMemoryStore()

	limiter := ratelimit.NewLimiter(st, ratelimit.Options{FailOpen: true})
	for i := 0; i < 2; i++ {
		d, err := limiter.Evaluate(ctx, "generate", "selfcheck", 2, time.Minute)
		if err != nil || !d.Allowed {
			result.Status = "FAIL"
			result.Message = "expected admission within window"
			return result
		}
	}
	d, err := limiter.Evaluate(ctx, "generate", "selfcheck", 2, time.Minute)
	if err != nil || d.Allowed {
		result.Status = "FAIL"
		result.Message = "expected rejection over window limit"
		return result
	}

	tiers := &config.QuotaConfig{Tiers: map[string]config.TierConfig{"free": {MonthlyCeiling: 1}}}
	ledger := quota.NewLedger(st, tiers, quota.Options{FailOpen: true})
	qd, err := ledger.CheckAndReserve(ctx, "selfcheck", models.TierFree)
	if err != nil || !qd.Admitted {
		result.Status = "FAIL"
		result.Message = "expected quota admission below ceiling"
		return result
	}
	qd, err = ledger.CheckAndReserve(ctx, "selfcheck", models.TierFree)
	if err != nil || qd.Admitted {
		result.Status = "FAIL"
		result.Message = "expected quota rejection at ceiling"
		return result
	}

	return result
}

func outputCheckResults(results []CheckResult) error {
	failed := false
	for _, r := range results {
		if r.Status == "FAIL" {
			failed = true
		}
	}

	if globalFlags.JSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHECK\tSTATUS\tMESSAGE")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Status, r.Message)
		}
		w.Flush()
	}

	if failed {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}
