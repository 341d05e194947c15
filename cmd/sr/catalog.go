package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"supplyrouter/internal/domain"
	"supplyrouter/internal/engine"
)

func supplierCmd() *cobra.Command {
	sc := &cobra.Command{Use: "supplier", Short: "Manage suppliers"}
	sc.AddCommand(supplierCreateCmd())
	sc.AddCommand(supplierListCmd())
	sc.AddCommand(supplierShowCmd())
	sc.AddCommand(supplierActiveCmd("activate", true))
	sc.AddCommand(supplierActiveCmd("deactivate", false))
	sc.AddCommand(supplierRenameCmd())
	sc.AddCommand(supplierDeleteCmd())
	return sc
}

func supplierCreateCmd() *cobra.Command {
	var opts engine.CreateSupplierOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a supplier",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateSupplier(ctx, opts)
				if err != nil {
					return err
				}
				return printSupplier(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().Int64Var(&opts.ContactID, "contact-id", 0, "messaging contact id")
	cmd.Flags().StringVar(&opts.Role, "role", domain.RoleSupplier, "supplier or admin")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func supplierListCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suppliers in registration order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSuppliers(ctx, active)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Contact", "Role", "Active", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.ContactID, s.Role, s.Active, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "only active suppliers")
	return cmd
}

func supplierShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a supplier and its filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetSupplier(ctx, id)
				if err != nil {
					return err
				}
				return printSupplier(s)
			})
		},
	}
}

func supplierActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a supplier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SetSupplierActive(ctx, id, active, actorID())
				if err != nil {
					return err
				}
				return printSupplier(s)
			})
		},
	}
}

func supplierRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a supplier",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.RenameSupplier(ctx, id, strings.Join(args[1:], " "), actorID())
				if err != nil {
					return err
				}
				return printSupplier(s)
			})
		},
	}
}

func supplierDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a supplier; its orders lose their holder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteSupplier(ctx, id, actorID()); err != nil {
					return err
				}
				fmt.Printf("supplier %d deleted\n", id)
				return nil
			})
		},
	}
}

func printSupplier(s domain.Supplier) error {
	if viper.GetBool("json") {
		return printJSON(s)
	}
	fmt.Printf("#%d %s (%s, contact %d, active=%t)\n", s.ID, s.Name, s.Role, s.ContactID, s.Active)
	if len(s.Filters) > 0 {
		return printFilters(s.Filters)
	}
	return nil
}

func filterCmd() *cobra.Command {
	fc := &cobra.Command{Use: "filter", Short: "Manage keyword filters"}
	fc.AddCommand(filterAddCmd())
	fc.AddCommand(filterBulkCmd())
	fc.AddCommand(filterListCmd())
	fc.AddCommand(filterUpdateCmd())
	fc.AddCommand(filterDeleteCmd())
	fc.AddCommand(filterSearchCmd())
	return fc
}

func filterAddCmd() *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "add <supplier-id> <keyword>",
		Short: "Add a keyword filter",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			supplierID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.CreateFilter(ctx, engine.CreateFilterOptions{
					SupplierID: supplierID,
					Keyword:    strings.Join(args[1:], " "),
					Priority:   priority,
					ActorID:    actorID(),
				})
				if err != nil {
					return err
				}
				return printFilters([]domain.Filter{f})
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "higher wins")
	return cmd
}

func filterBulkCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "bulk <supplier-id> [keyword...]",
		Short: "Add several filters at priority 0 (from args, --file or stdin)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			supplierID, err := parseID(args[0])
			if err != nil {
				return err
			}
			keywords := args[1:]
			if len(keywords) == 0 {
				keywords, err = readLines(file)
				if err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.BulkCreateFilters(ctx, supplierID, keywords, actorID())
				if err != nil {
					return err
				}
				return printFilters(items)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file with one keyword per line (- for stdin)")
	return cmd
}

func filterListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list <supplier-id>",
		Short: "List a supplier's filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			supplierID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListFilters(ctx, supplierID, activeOnly)
				if err != nil {
					return err
				}
				return printFilters(items)
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active-only", false, "hide inactive filters")
	return cmd
}

func filterUpdateCmd() *cobra.Command {
	var keyword string
	var priority int
	var active string
	cmd := &cobra.Command{
		Use:   "update <filter-id>",
		Short: "Change keyword, priority or active flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			opts := engine.UpdateFilterOptions{ID: id, ActorID: actorID()}
			if cmd.Flags().Changed("keyword") {
				opts.Keyword = &keyword
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var f domain.Filter
				if opts.Keyword != nil || opts.Priority != nil {
					if f, err = e.UpdateFilter(ctx, opts); err != nil {
						return err
					}
				}
				switch active {
				case "":
				case "true", "false":
					if f, err = e.SetFilterActive(ctx, id, active == "true", actorID()); err != nil {
						return err
					}
				default:
					return fmt.Errorf("--active must be true or false")
				}
				if f.ID == 0 {
					return fmt.Errorf("nothing to update; pass --keyword, --priority or --active")
				}
				return printFilters([]domain.Filter{f})
			})
		},
	}
	cmd.Flags().StringVar(&keyword, "keyword", "", "new keyword")
	cmd.Flags().IntVar(&priority, "priority", 0, "new priority")
	cmd.Flags().StringVar(&active, "active", "", "true or false")
	return cmd
}

func filterDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <filter-id>",
		Short: "Delete a filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteFilter(ctx, id, actorID()); err != nil {
					return err
				}
				fmt.Printf("filter %d deleted\n", id)
				return nil
			})
		},
	}
}

func filterSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find filters whose keyword contains text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.SearchFilters(ctx, strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				return printFilters(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func printFilters(items []domain.Filter) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Supplier", "Keyword", "Priority", "Active"})
	for _, f := range items {
		tw.AppendRow(table.Row{f.ID, f.SupplierID, f.Keyword, f.Priority, f.Active})
	}
	tw.Render()
	return nil
}

// readLines reads non-empty lines from path, or stdin when path is "" or "-".
func readLines(path string) ([]string, error) {
	in := os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}
	var lines []string
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
