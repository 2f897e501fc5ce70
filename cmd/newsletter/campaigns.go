package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	newsletter "github.com/circlehub/newsletter/sdk/go"
)

var sendCmd = &cobra.Command{
	Use:   "send [campaign-id]",
	Short: "Send a draft or scheduled campaign now and print the dispatch summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := apiClient().SendCampaign(cmd.Context(), args[0])
		if err != nil {
			var apiErr *newsletter.APIError
			if errors.As(err, &apiErr) && apiErr.Dispatch != nil {
				printJSON(cmd, apiErr.Dispatch)
			}
			return err
		}
		return printJSON(cmd, summary)
	},
}

var sendTestCmd = &cobra.Command{
	Use:   "send-test [email]",
	Short: "Send a diagnostic email through the configured provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().SendTestEmail(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "test email sent to %s\n", args[0])
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show subscriber counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := apiClient().SubscriberStats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all subscribers as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if path, _ := cmd.Flags().GetString("output"); path != "" && path != "-" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", path, err)
			}
			defer f.Close()
			out = f
		}

		n, err := apiClient().ExportSubscribers(cmd.Context(), out)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "exported %d bytes\n", n)
		return nil
	},
}

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "List campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		list, err := apiClient().ListCampaigns(cmd.Context(), newsletter.ListCampaignsOptions{Status: status, Limit: limit})
		if err != nil {
			return err
		}
		return printJSON(cmd, list)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [campaign-id]",
	Short: "Show the lifecycle events of a campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := apiClient().CampaignHistory(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		return printJSON(cmd, entries)
	},
}

func init() {
	historyCmd.Flags().Int("limit", 50, "maximum number of events")
	exportCmd.Flags().StringP("output", "o", "-", "file to write the CSV to")
	campaignsCmd.Flags().String("status", "", "only list campaigns in this status")
	campaignsCmd.Flags().Int("limit", 20, "maximum number of campaigns")
}
