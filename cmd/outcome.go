package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/recoup-labs/recovery-cli/internal/calibration"
	"github.com/recoup-labs/recovery-cli/internal/model"
)

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Record and inspect claim outcomes",
	Long:  "Claim outcomes are the ground truth the confidence calibrator learns from. Record one when a claim resolves, update it as the status changes, and inspect the per-type accuracy rollup.",
}

var outcomeRecordFlags struct {
	resultID string
	outcome  string
	recovery float64
}

var outcomeRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the outcome of a filed claim",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.GetResult(ctx, outcomeRecordFlags.resultID)
		if err != nil {
			return err
		}

		outcome, err := parseOutcome(outcomeRecordFlags.outcome)
		if err != nil {
			return err
		}

		rec := model.OutcomeRecord{
			DetectionResultID:   result.ID,
			SellerID:            result.SellerID,
			AnomalyType:         result.AnomalyType,
			PredictedConfidence: result.ConfidenceScore,
			EstimatedValue:      result.EstimatedValue,
			Outcome:             outcome,
			RecoveryAmount:      outcomeRecordFlags.recovery,
		}
		if outcome != model.OutcomePending {
			now := time.Now().UTC()
			rec.ResolutionDate = &now
		}

		recorder := calibration.NewRecorder(s, calibrator(s))
		rec, err = recorder.RecordOutcome(ctx, rec)
		if err != nil {
			return err
		}

		if outcome != model.OutcomePending {
			if err := s.UpdateResultStatus(ctx, result.ID, model.StatusResolved); err != nil {
				zap.L().Warn("result status not updated", zap.String("result_id", result.ID), zap.Error(err))
			}
		}

		fmt.Printf("outcome %s recorded for %s (%s)\n", rec.Outcome, rec.DetectionResultID, rec.AnomalyType)
		return nil
	},
}

var outcomeUpdateFlags struct {
	resultID string
	outcome  string
	recovery float64
	resolved string
}

var outcomeUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update an existing claim outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		var update calibration.OutcomeUpdate
		if cmd.Flags().Changed("outcome") {
			outcome, err := parseOutcome(outcomeUpdateFlags.outcome)
			if err != nil {
				return err
			}
			update.Outcome = &outcome
		}
		if cmd.Flags().Changed("recovery") {
			update.RecoveryAmount = &outcomeUpdateFlags.recovery
		}
		if cmd.Flags().Changed("resolved") {
			d, err := time.Parse("2006-01-02", outcomeUpdateFlags.resolved)
			if err != nil {
				return fmt.Errorf("invalid --resolved %q: %w", outcomeUpdateFlags.resolved, err)
			}
			update.ResolutionDate = &d
		}
		if update.Outcome == nil && update.RecoveryAmount == nil && update.ResolutionDate == nil {
			return fmt.Errorf("nothing to update: pass --outcome, --recovery, or --resolved")
		}

		recorder := calibration.NewRecorder(s, calibrator(s))
		if err := recorder.UpdateOutcome(ctx, outcomeUpdateFlags.resultID, update); err != nil {
			return err
		}
		fmt.Printf("outcome updated for %s\n", outcomeUpdateFlags.resultID)
		return nil
	},
}

var outcomeAccuracyCmd = &cobra.Command{
	Use:   "accuracy",
	Short: "Show per-anomaly-type historical accuracy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		accuracy, err := s.AccuracyByType(ctx)
		if err != nil {
			return err
		}
		if len(accuracy) == 0 {
			fmt.Println("no resolved outcomes yet")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "TYPE\tCLAIMS\tAPPROVED\tREJECTED\tPARTIAL\tAPPROVAL\tAVG DAYS\tRECOVERED")
		for _, a := range accuracy {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.0f%%\t%.1f\t%.2f\n",
				a.AnomalyType, a.TotalClaims, a.Approved, a.Rejected, a.Partial,
				a.ApprovalRate*100, a.AvgDaysToResolution, a.TotalRecovered)
		}
		return w.Flush()
	},
}

func parseOutcome(s string) (model.ClaimOutcome, error) {
	switch model.ClaimOutcome(s) {
	case model.OutcomeApproved, model.OutcomeRejected, model.OutcomePartial,
		model.OutcomePending, model.OutcomeExpired:
		return model.ClaimOutcome(s), nil
	}
	return "", fmt.Errorf("unknown outcome %q (approved|rejected|partial|pending|expired)", s)
}

func init() {
	outcomeRecordCmd.Flags().StringVar(&outcomeRecordFlags.resultID, "result", "", "detection result id")
	outcomeRecordCmd.Flags().StringVar(&outcomeRecordFlags.outcome, "outcome", "", "approved|rejected|partial|pending|expired")
	outcomeRecordCmd.Flags().Float64Var(&outcomeRecordFlags.recovery, "recovery", 0, "amount actually recovered")
	_ = outcomeRecordCmd.MarkFlagRequired("result")
	_ = outcomeRecordCmd.MarkFlagRequired("outcome")

	outcomeUpdateCmd.Flags().StringVar(&outcomeUpdateFlags.resultID, "result", "", "detection result id")
	outcomeUpdateCmd.Flags().StringVar(&outcomeUpdateFlags.outcome, "outcome", "", "new outcome")
	outcomeUpdateCmd.Flags().Float64Var(&outcomeUpdateFlags.recovery, "recovery", 0, "new recovery amount")
	outcomeUpdateCmd.Flags().StringVar(&outcomeUpdateFlags.resolved, "resolved", "", "resolution date YYYY-MM-DD")
	_ = outcomeUpdateCmd.MarkFlagRequired("result")

	outcomeCmd.AddCommand(outcomeRecordCmd, outcomeUpdateCmd, outcomeAccuracyCmd)
	rootCmd.AddCommand(outcomeCmd)
}
