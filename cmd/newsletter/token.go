package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/circlehub/newsletter/internal/auth"
	"github.com/circlehub/newsletter/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage operator tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue an operator token signed with the configured secret",
	RunE:  runTokenIssue,
}

func init() {
	tokenIssueCmd.Flags().String("operator", "", "operator ID (default: a new random ID)")
	tokenIssueCmd.Flags().String("name", "", "operator display name")
	tokenIssueCmd.Flags().Duration("ttl", 0, "token lifetime (default: security.operator.token_ttl)")
	tokenCmd.AddCommand(tokenIssueCmd)
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	operatorID, _ := cmd.Flags().GetString("operator")
	name, _ := cmd.Flags().GetString("name")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if operatorID == "" {
		operatorID = "op_" + uuid.New().String()[:8]
	}

	opCfg := cfg.Security.Operator
	if ttl > 0 {
		opCfg.TokenTTL = ttl
	}
	tokens, err := auth.NewTokenService(opCfg)
	if err != nil {
		return err
	}

	issued, err := tokens.Issue(operatorID, name)
	if err != nil {
		return err
	}
	return printJSON(cmd, issued)
}
