package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goflare.io/voucherhub/driver"
	"goflare.io/voucherhub/models"
	"goflare.io/voucherhub/models/enum"
)

const defaultStatusLimit = 50

func newRootCmd(bootstrap bootstrapFunc) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "voucherctl",
		Short:         "Operator tooling for VoucherHub vouchers and payouts",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to the config file")

	// run builds the operator once the flags are parsed and closes it after
	// the command returns.
	run := func(fn commandFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			op, err := bootstrap(configPath)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer op.Close()
			return fn(cmd.Context(), cmd, args, op)
		}
	}

	rootCmd.AddCommand(migrateCmd(run))
	rootCmd.AddCommand(sweepCmd(run))
	rootCmd.AddCommand(statusCmd(run))
	rootCmd.AddCommand(checkCmd(run))
	rootCmd.AddCommand(anomaliesCmd(run))

	return rootCmd
}

type commandFunc func(ctx context.Context, cmd *cobra.Command, args []string, op *operator) error

type runner func(fn commandFunc) func(*cobra.Command, []string) error

func migrateCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, _ []string, op *operator) error {
			if err := driver.Migrate(ctx, op.pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		}),
	}
}

func sweepCmd(run runner) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Retry deferred partner payouts once",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, _ []string, op *operator) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			report, err := op.sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if report.Skipped {
				fmt.Fprintln(out, "Another sweep is running, nothing done")
				return nil
			}
			fmt.Fprintf(out, "total=%d settled=%d deferred=%d failed=%d\n",
				report.Total, report.Settled, report.Deferred, report.Failed)
			return nil
		}),
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "maximum duration of the sweep")

	return cmd
}

func statusCmd(run runner) *cobra.Command {
	var (
		paymentIntentID string
		all             bool
		limit           int
		asJSON          bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show vouchers and their payout state",
		Long: `Show vouchers and their payout state.

With --pi the vouchers bought through that payment intent are shown together
with the Stripe transfer behind each payout. With --all the most recent
vouchers are listed.`,
		Args: cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, _ []string, op *operator) error {
			var (
				vouchers []*models.Voucher
				err      error
			)
			if paymentIntentID != "" {
				vouchers, err = op.vouchers.GetByPaymentIntent(ctx, paymentIntentID)
			} else {
				vouchers, err = op.vouchers.ListRecent(ctx, limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(vouchers) == 0 {
				fmt.Fprintln(out, "No vouchers found")
				return nil
			}
			if asJSON {
				return writeJSON(out, vouchers)
			}
			if err = printVouchers(out, vouchers); err != nil {
				return err
			}
			if paymentIntentID != "" {
				return printTransfers(ctx, out, op, vouchers)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&paymentIntentID, "pi", "", "payment intent id to inspect")
	cmd.Flags().BoolVar(&all, "all", false, "list the most recent vouchers")
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultStatusLimit, "maximum vouchers listed with --all")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	cmd.MarkFlagsOneRequired("pi", "all")
	cmd.MarkFlagsMutuallyExclusive("pi", "all")

	return cmd
}

func checkCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "check [code]",
		Short: "Report whether a voucher is valid, used or expired",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, args []string, op *operator) error {
			report, err := op.checker.Check(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", report.Code, report.Status)
			if report.Status == enum.CheckStatusValid {
				fmt.Fprintf(out, "  partner: %s\n  product: %s\n", report.PartnerSlug, report.ProductName)
			}
			return nil
		}),
	}
}

func anomaliesCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "anomalies",
		Short: "List vouchers whose sponsor code was already claimed",
		Long: `List vouchers issued with a sponsor discount whose sponsor code could not
be claimed. The buyer paid the discounted price, so each entry needs a manual
review and possibly a refund.`,
		Args: cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, _ []string, op *operator) error {
			vouchers, err := op.vouchers.ListSponsorConflicts(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(vouchers) == 0 {
				fmt.Fprintln(out, "No sponsor code conflicts")
				return nil
			}
			op.logger.Warn("Sponsor code conflicts need compensation", zap.Int("count", len(vouchers)))
			return printVouchers(out, vouchers)
		}),
	}
}

func printVouchers(out io.Writer, vouchers []*models.Voucher) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tPARTNER\tSTATUS\tTRANSFER\tAMOUNT\tSHARE\tSPONSOR\tUSED AT\tEXPIRES AT")
	for _, v := range vouchers {
		usedAt := "-"
		if v.UsedAt != nil {
			usedAt = v.UsedAt.UTC().Format(time.RFC3339)
		}
		sponsor := v.SponsorCode
		if sponsor == "" {
			sponsor = "-"
		} else if v.SponsorConflict {
			sponsor += " (conflict)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.Code, v.PartnerSlug, v.Status, v.TransferStatus,
			formatCents(v.AmountCharged, v.Currency), formatCents(v.PartnerShareAmount, v.Currency),
			sponsor, usedAt, v.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}

func printTransfers(ctx context.Context, out io.Writer, op *operator, vouchers []*models.Voucher) error {
	fmt.Fprintln(out)
	for _, v := range vouchers {
		if v.StripeTransferID == "" {
			msg := "no transfer yet"
			if v.TransferError != "" {
				msg += ", last error: " + v.TransferError
			}
			fmt.Fprintf(out, "%s: %s (attempts %d)\n", v.Code, msg, v.TransferAttempts)
			continue
		}

		transfer, err := op.gateway.GetTransfer(ctx, v.StripeTransferID)
		if err != nil {
			op.logger.Warn("Failed to fetch transfer", zap.Error(err), zap.String("transfer_id", v.StripeTransferID))
			fmt.Fprintf(out, "%s: transfer %s could not be fetched: %v\n", v.Code, v.StripeTransferID, err)
			continue
		}
		destination := ""
		if transfer.Destination != nil {
			destination = transfer.Destination.ID
		}
		fmt.Fprintf(out, "%s: transfer %s %s to %s created %s reversed=%t\n",
			v.Code, transfer.ID, formatCents(transfer.Amount, string(transfer.Currency)), destination,
			time.Unix(transfer.Created, 0).UTC().Format(time.RFC3339), transfer.Reversed)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatCents(amount int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", amount/100, amount%100, currency)
}
