package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	newsletter "github.com/circlehub/newsletter/sdk/go"
)

// settings resolves the API flags from the command line or NEWSLETTER_* env
var settings = viper.New()

var rootCmd = &cobra.Command{
	Use:   "newsletter",
	Short: "Operator CLI for the newsletter service",
	Long: `Operator CLI for the newsletter service.

API commands talk to a running server and need an operator token
(--token or NEWSLETTER_TOKEN). "token issue" and the local scan modes
read the server configuration directly.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "newsletter server base URL (env NEWSLETTER_SERVER)")
	rootCmd.PersistentFlags().String("token", "", "operator bearer token (env NEWSLETTER_TOKEN)")

	settings.SetEnvPrefix("NEWSLETTER")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	settings.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	settings.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(sendTestCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(campaignsCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func apiClient() *newsletter.Client {
	return newsletter.NewClient(newsletter.Config{
		BaseURL: settings.GetString("server"),
		Token:   settings.GetString("token"),
	})
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
