// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// diagctl runs a domain diagnosis from the command line and prints the
// structured result as JSON. It is the same pipeline the server exposes,
// minus the HTTP boundary.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ColinMcArthur85/dns-diagnostic/internal/diagnose"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/models"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/rules"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "diagctl",
		Short:         "Diagnose how a domain should connect to a hosting platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var verbose bool
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	root.AddCommand(newDiagnoseCmd(), newPlatformsCmd())
	return root
}

func newDiagnoseCmd() *cobra.Command {
	var (
		platform  string
		rulesPath string
		sections  []string
		timeout   time.Duration
		intent    models.Intent
	)

	cmd := &cobra.Command{
		Use:   "diagnose <domain>",
		Short: "Run a full diagnosis for one domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch intent.EmailChoice {
			case "", models.EmailChoicePlatform, models.EmailChoiceExternal, models.EmailChoiceNone:
			default:
				return fmt.Errorf("invalid --email-choice %q (choose platform, external, or none)", intent.EmailChoice)
			}

			ruleSet, err := rules.Load(rulesPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			result, err := diagnose.New(ruleSet).Diagnose(ctx, diagnose.Request{
				Domain:   args[0],
				Platform: platform,
				Intent:   intent,
				Sections: sections,
			})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !result.IsCompleted {
				os.Exit(2)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&platform, "platform", "p", "", "target platform id or alias (required)")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "path to a domain rules file (defaults to the embedded rules)")
	cmd.Flags().StringSliceVar(&sections, "sections", nil, "restrict lookups to these sections (web, email, SPF, or record types)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")
	cmd.Flags().BoolVar(&intent.HasExternalDependencies, "external-deps", false, "the domain has external services that depend on its DNS")
	cmd.Flags().BoolVar(&intent.EmailManagedByPlatform, "platform-email", false, "email should be managed by the platform")
	cmd.Flags().BoolVar(&intent.ComfortableEditingDNS, "comfortable-dns", true, "the user is comfortable editing DNS records")
	cmd.Flags().BoolVar(&intent.RegistrarKnown, "registrar-known", true, "the user knows where the domain is registered")
	cmd.Flags().BoolVar(&intent.DelegateDNSManagement, "delegate", false, "the user wants to delegate DNS management")
	cmd.Flags().StringVar(&intent.EmailChoice, "email-choice", "", "declared email setup: platform, external, or none")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func newPlatformsCmd() *cobra.Command {
	var rulesPath string
	cmd := &cobra.Command{
		Use:   "platforms",
		Short: "List the supported platforms and their connection targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleSet, err := rules.Load(rulesPath)
			if err != nil {
				return err
			}
			ids := ruleSet.PlatformIDs()
			sort.Strings(ids)
			for _, id := range ids {
				p, _ := ruleSet.Platform(id)
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", p.ID, p.DisplayName)
				fmt.Fprintf(cmd.OutOrStdout(), "  nameservers: %v\n", p.Nameservers)
				for _, r := range p.RootRecords {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s %s -> %s\n", r.Type, r.Host, r.Value)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  subdomain target: %s\n", p.SubdomainTarget)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "", "path to a domain rules file (defaults to the embedded rules)")
	return cmd
}
