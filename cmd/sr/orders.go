package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"supplyrouter/internal/domain"
	"supplyrouter/internal/engine"
)

func orderCmd() *cobra.Command {
	oc := &cobra.Command{Use: "order", Short: "Create and route orders"}
	oc.AddCommand(orderCreateCmd())
	oc.AddCommand(orderBulkCmd())
	oc.AddCommand(orderListCmd())
	oc.AddCommand(orderShowCmd())
	oc.AddCommand(orderReassignCmd())
	oc.AddCommand(orderUpdateCmd())
	oc.AddCommand(orderDeleteCmd())
	for _, action := range []string{domain.ActionAccept, domain.ActionDecline, domain.ActionComplete, domain.ActionCancel} {
		oc.AddCommand(orderTransitionCmd(action))
	}
	oc.AddCommand(orderThreadCmd())
	oc.AddCommand(orderMessageCmd())
	return oc
}

func orderCreateCmd() *cobra.Command {
	var creatorID, supplierID int64
	cmd := &cobra.Command{
		Use:   "create <text>",
		Short: "Create an order and route it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CreateOrderOptions{Text: strings.Join(args, " "), CreatorID: creatorID}
			if !cmd.Flags().Changed("creator-id") {
				opts.CreatorID = actorID()
			}
			if cmd.Flags().Changed("supplier-id") {
				opts.SupplierID = &supplierID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CreateOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printOrder(ctx, e, o)
			})
		},
	}
	cmd.Flags().Int64Var(&creatorID, "creator-id", 0, "buyer contact (defaults to --actor-id)")
	cmd.Flags().Int64Var(&supplierID, "supplier-id", 0, "assign to this supplier without matching")
	return cmd
}

func orderBulkCmd() *cobra.Command {
	var file string
	var creatorID int64
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Create one order per matched supplier from multi-line text",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = os.Stdin
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			text, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("creator-id") {
				creatorID = actorID()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				orders, err := e.CreateOrdersFromBulkText(ctx, string(text), creatorID)
				if err != nil {
					return err
				}
				names, err := supplierNames(ctx, e)
				if err != nil {
					return err
				}
				if !viper.GetBool("json") {
					fmt.Printf("%d lines, %d orders created\n", len(engine.SplitLines(string(text))), len(orders))
				}
				return printOrders(orders, names)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "input file (defaults to stdin)")
	cmd.Flags().Int64Var(&creatorID, "creator-id", 0, "buyer contact (defaults to --actor-id)")
	return cmd
}

func orderListCmd() *cobra.Command {
	var opts engine.ListOrdersOptions
	var supplierID, creatorID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("supplier-id") {
				opts.SupplierID = &supplierID
			}
			if cmd.Flags().Changed("creator-id") {
				opts.CreatorID = &creatorID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				page, err := e.ListOrders(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				names, err := supplierNames(ctx, e)
				if err != nil {
					return err
				}
				if err := printOrders(page.Items, names); err != nil {
					return err
				}
				fmt.Printf("showing %d of %d\n", len(page.Items), page.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter")
	cmd.Flags().Int64Var(&supplierID, "supplier-id", 0, "holder filter")
	cmd.Flags().Int64Var(&creatorID, "creator-id", 0, "creator filter")
	cmd.Flags().StringVar(&opts.Search, "search", "", "text substring")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "page offset")
	return cmd
}

func orderShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.GetOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printOrder(ctx, e, o)
			})
		},
	}
}

func orderReassignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reassign <id> <supplier-id>",
		Short: "Assign an order to another supplier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			supplierID, err := parseID(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Reassign(ctx, args[0], supplierID, actorID())
				if err != nil {
					return err
				}
				return printOrder(ctx, e, o)
			})
		},
	}
}

func orderUpdateCmd() *cobra.Command {
	var text, status string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit an order's text or force its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.UpdateOrderOptions{ID: args[0], ActorID: actorID()}
			if cmd.Flags().Changed("text") {
				opts.Text = &text
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.UpdateOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printOrder(ctx, e, o)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "new order text")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	return cmd
}

func orderDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an order and its thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.PurgeOrder(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("order %s deleted\n", strings.ToUpper(args[0]))
				return nil
			})
		},
	}
}

func orderTransitionCmd(action string) *cobra.Command {
	var supplierID int64
	cmd := &cobra.Command{
		Use:   action + " <id>",
		Short: "Apply " + action + " on behalf of a supplier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Transition(ctx, action, args[0], supplierID)
				if err != nil {
					return err
				}
				return printOrder(ctx, e, o)
			})
		},
	}
	cmd.Flags().Int64Var(&supplierID, "supplier-id", 0, "acting supplier")
	_ = cmd.MarkFlagRequired("supplier-id")
	return cmd
}

func orderThreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "thread <id>",
		Short: "Print the order thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					msgs, err := e.ListMessages(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(msgs)
				}
				thread, err := e.Thread(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(thread)
				return nil
			})
		},
	}
}

func orderMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message <id> <text>",
		Short: "Post a message as --actor-id and notify the other party",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddMessage(ctx, args[0], actorID(), strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				fmt.Printf("message %d added to order %s\n", m.ID, m.OrderID)
				return nil
			})
		},
	}
}

func supplierNames(ctx context.Context, e engine.Engine) (map[int64]string, error) {
	items, err := e.ListSuppliers(ctx, false)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(items))
	for _, s := range items {
		names[s.ID] = s.Name
	}
	return names, nil
}

func printOrder(ctx context.Context, e engine.Engine, o domain.Order) error {
	if viper.GetBool("json") {
		return printJSON(o)
	}
	holder := "-"
	if o.SupplierID != nil {
		holder = fmt.Sprint(*o.SupplierID)
		if s, err := e.GetSupplier(ctx, *o.SupplierID); err == nil {
			holder = fmt.Sprintf("%s (#%d)", s.Name, s.ID)
		}
	}
	fmt.Printf("Order #%s  %s\n", o.ID, domain.StatusLabel(o.Status))
	fmt.Printf("  status:   %s\n", o.Status)
	fmt.Printf("  supplier: %s\n", holder)
	fmt.Printf("  creator:  %d\n", o.CreatorID)
	fmt.Printf("  created:  %s\n", o.CreatedAt)
	fmt.Printf("  text:     %s\n", o.Text)
	return nil
}
