package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/veridict/veridict/claim"
	"github.com/veridict/veridict/errors"
	"github.com/veridict/veridict/evidence"
)

// ClaimCmd groups claim-level operations
var ClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Submit and inspect claims",
	Long: `claim — Submit and inspect validation claims

Examples:
  veridict claim submit '{"text":"water boils at 100C"}'
  veridict claim status CLM_a1b2c3
  veridict claim resubmit CLM_a1b2c3
  veridict claim ls`,
}

var claimSubmitCmd = &cobra.Command{
	Use:   "submit <payload>",
	Short: "Submit a claim for validation",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimSubmit,
}

var claimStatusCmd = &cobra.Command{
	Use:   "status <claim-id>",
	Short: "Show a claim's state, evidence, and audit trail",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimStatus,
}

var claimResubmitCmd = &cobra.Command{
	Use:   "resubmit <claim-id>",
	Short: "Re-enter a deferred claim into its current stage",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimResubmit,
}

var claimLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List active claims",
	RunE:  runClaimLs,
}

var (
	claimMetaFlags []string
	claimLsLimit   int
)

func init() {
	claimSubmitCmd.Flags().StringArrayVar(&claimMetaFlags, "meta", nil, "Metadata key=value pair (repeatable)")
	claimLsCmd.Flags().IntVar(&claimLsLimit, "limit", 50, "Maximum claims to list")

	ClaimCmd.AddCommand(claimSubmitCmd)
	ClaimCmd.AddCommand(claimStatusCmd)
	ClaimCmd.AddCommand(claimResubmitCmd)
	ClaimCmd.AddCommand(claimLsCmd)
}

func runClaimSubmit(cmd *cobra.Command, args []string) error {
	metadata := map[string]string{}
	for _, pair := range claimMetaFlags {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return errors.Newf("metadata must be key=value, got %q", pair)
		}
		metadata[k] = v
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	c, err := claim.New([]byte(args[0]), metadata)
	if err != nil {
		return err
	}
	if err := claim.NewStore(database).Put(c); err != nil {
		return errors.Wrap(err, "failed to store claim")
	}

	fmt.Printf("Submitted %s (stage 0, pending)\n", c.ID)
	return nil
}

func runClaimStatus(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	store := claim.NewStore(database)
	c, err := store.Get(args[0])
	if err != nil {
		return err
	}

	out := struct {
		Claim    *claim.Claim        `json:"claim"`
		Outcomes []claim.Outcome     `json:"outcomes"`
		Evidence []evidence.Evidence `json:"evidence"`
	}{Claim: c}

	if out.Outcomes, err = store.GetOutcomes(c.ID); err != nil {
		return err
	}

	collector := evidence.NewCollector(database, allowAll{}, 0)
	if out.Evidence, err = collector.Get(c.ID, c.Stage); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runClaimResubmit(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	store := claim.NewStore(database)
	c, err := store.Get(args[0])
	if err != nil {
		return err
	}
	if c.Status != claim.StatusDeferred {
		return errors.Newf("claim %s is %s, only deferred claims can be resubmitted", c.ID, c.Status)
	}

	now := time.Now().UTC()
	if err := store.AppendStageOutcome(c.ID, c.Stage, claim.Outcome{
		Stage: c.Stage, Decision: "resubmitted", CreatedAt: now,
	}); err != nil {
		return err
	}
	c.ReenterStage(now)
	if err := store.Update(c); err != nil {
		return err
	}

	fmt.Printf("Resubmitted %s into stage %d\n", c.ID, c.Stage)
	return nil
}

func runClaimLs(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	claims, err := claim.NewStore(database).ListActive(claimLsLimit)
	if err != nil {
		return err
	}
	if len(claims) == 0 {
		fmt.Println("No active claims")
		return nil
	}

	fmt.Printf("%-40s %-6s %-10s %-8s %s\n", "ID", "STAGE", "STATUS", "RETRIES", "AGE")
	for _, c := range claims {
		fmt.Printf("%-40s %-6d %-10s %-8d %s\n",
			c.ID, c.Stage, c.Status, c.RetryCount,
			time.Since(c.CreatedAt).Round(time.Second))
	}
	return nil
}

// allowAll lets the status command read evidence without slot checks.
type allowAll struct{}

func (allowAll) HeldWithinGrace(string, int, string, time.Duration) (bool, error) {
	return true, nil
}
