package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/service"
)

// domainOpener returns the service plus a function releasing its resources.
type domainOpener func(ctx context.Context) (*service.DomainService, func(), error)

func newRootCmd(open domainOpener) *cobra.Command {
	root := &cobra.Command{
		Use:   "scopectl",
		Short: "Manage allowed-domain keywords",
		Long: `Manage the keywords that keep scoped conversations on topic.

Configuration is read from the environment (and an optional .env file),
using the same STORE_BACKEND and REDIS_ADDR settings as the API server.`,
		SilenceUsage: true,
	}

	// withDomains runs fn against an opened service and closes it afterwards.
	withDomains := func(fn func(cmd *cobra.Command, args []string, domains *service.DomainService) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			domains, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return fn(cmd, args, domains)
		}
	}

	var category string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List allowed domains",
		Args:  cobra.NoArgs,
		RunE: withDomains(func(cmd *cobra.Command, _ []string, domains *service.DomainService) error {
			var (
				list []model.AllowedDomain
				err  error
			)
			if category != "" {
				list, err = domains.ListByCategory(cmd.Context(), category)
			} else {
				list, err = domains.List(cmd.Context())
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEYWORD\tCATEGORY\tACTIVE\tDESCRIPTION")
			for _, d := range list {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", d.Keyword, d.Category, d.Active, d.Description)
			}
			return tw.Flush()
		}),
	}
	listCmd.Flags().StringVar(&category, "category", "", "only list domains in this category")

	var addReq model.CreateDomainRequest
	addCmd := &cobra.Command{
		Use:   "add <keyword>",
		Short: "Add an active keyword",
		Args:  cobra.ExactArgs(1),
		RunE: withDomains(func(cmd *cobra.Command, args []string, domains *service.DomainService) error {
			addReq.Keyword = args[0]
			d, err := domains.Create(cmd.Context(), addReq)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %q\n", d.Keyword)
			return nil
		}),
	}
	addCmd.Flags().StringVar(&addReq.Category, "category", "", "grouping label")
	addCmd.Flags().StringVar(&addReq.Description, "description", "", "free-form description")

	setActive := func(use, short, verb string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <keyword>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: withDomains(func(cmd *cobra.Command, args []string, domains *service.DomainService) error {
				if err := domains.SetActive(cmd.Context(), args[0], active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %q\n", verb, args[0])
				return nil
			}),
		}
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <keyword>",
		Short: "Remove a keyword",
		Args:  cobra.ExactArgs(1),
		RunE: withDomains(func(cmd *cobra.Command, args []string, domains *service.DomainService) error {
			if err := domains.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %q\n", args[0])
			return nil
		}),
	}

	clearCmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Drop cached keyword snapshots on every instance",
		Args:  cobra.NoArgs,
		RunE: withDomains(func(cmd *cobra.Command, _ []string, domains *service.DomainService) error {
			if err := domains.ClearCache(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		}),
	}

	root.AddCommand(
		listCmd,
		addCmd,
		setActive("activate", "Re-enable a keyword", "activated", true),
		setActive("deactivate", "Disable a keyword without deleting it", "deactivated", false),
		deleteCmd,
		clearCmd,
	)
	return root
}
