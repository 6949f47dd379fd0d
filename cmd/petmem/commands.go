package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"

	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/events"
	"github.com/and161185/petmem/internal/model"
)

type credFlags struct {
	email        string
	password     string
	passwordFile string
}

func (f *credFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "account password")
	cmd.Flags().StringVar(&f.passwordFile, "password-file", "", "read the password from a file (- for stdin)")
	_ = cmd.MarkFlagRequired("email")
}

func (f *credFlags) secret(cmd *cobra.Command) (string, error) {
	return readSecret(f.password, f.passwordFile, cmd.InOrStdin())
}

type sessionView struct {
	State       string    `json:"state"`
	UserID      string    `json:"user_id,omitempty"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

func (c *cli) sessionView() sessionView {
	v := sessionView{State: c.app.Session.State().String()}
	if s, _, ok := c.app.Session.Current(); ok {
		v.UserID = s.UserID.String()
		v.Email = s.Email
		v.DisplayName = s.DisplayName
		v.ExpiresAt = s.ExpiresAt
	}
	return v
}

// syncAfterLogin runs the first reconciliation of a new session. A failed
// pass is reported but does not undo the sign-in.
func (c *cli) syncAfterLogin(cmd *cobra.Command) {
	rep, err := c.app.SyncNow(cmd.Context())
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "sync:", errs.UserMessage(err))
		return
	}
	if failed := rep.Failed(); len(failed) > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "sync incomplete:", failed)
	}
}

func (c *cli) signupCmd() *cobra.Command {
	var (
		cf   credFlags
		name string
	)
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := cf.secret(cmd)
			if err != nil {
				return err
			}
			res, err := c.app.Session.SignUp(cmd.Context(), cf.email, pw, name)
			if err != nil {
				return err
			}
			if res.ConfirmationPending {
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				return nil
			}
			c.syncAfterLogin(cmd)
			return printJSON(cmd.OutOrStdout(), c.sessionView())
		},
	}
	cf.bind(cmd)
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func (c *cli) loginCmd() *cobra.Command {
	var (
		cf       credFlags
		remember bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := cf.secret(cmd)
			if err != nil {
				return err
			}
			if _, err := c.app.Session.SignIn(cmd.Context(), cf.email, pw, remember); err != nil {
				return err
			}
			c.syncAfterLogin(cmd)
			return printJSON(cmd.OutOrStdout(), c.sessionView())
		},
	}
	cf.bind(cmd)
	cmd.Flags().BoolVar(&remember, "remember", false, "remember credentials for automatic re-login")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and wipe local data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.Session.SignOut(cmd.Context())
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd.OutOrStdout(), c.sessionView())
		},
	}
}

func (c *cli) resetPasswordCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Send a password reset email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.Session.ResetPassword(cmd.Context(), email); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Check your email for a reset link.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

type kindView struct {
	Kind     string `json:"kind"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	Deleted  int    `json:"deleted"`
	Ignored  int    `json:"ignored,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile local data with the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := c.app.SyncNow(cmd.Context())
			if err != nil {
				return err
			}
			out := make([]kindView, 0, len(rep.Kinds))
			for _, k := range rep.Kinds {
				v := kindView{Kind: k.Kind, Inserted: k.Inserted, Updated: k.Updated, Deleted: k.Deleted, Ignored: k.Ignored}
				if k.Err != nil {
					v.Error = errs.UserMessage(k.Err)
				}
				out = append(out, v)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (c *cli) listCmd(kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   kind,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, ok := c.app.Session.Current()
			if !ok {
				return errs.ErrNotLoggedIn
			}
			ctx := cmd.Context()
			var (
				rows any
				err  error
			)
			switch kind {
			case "pets":
				rows, err = c.app.Store.Pets().ListByUser(ctx, s.UserID)
			case "videos":
				rows, err = c.app.Store.Videos().ListByUser(ctx, s.UserID)
			default:
				rows, err = c.app.Store.Letters().ListByUser(ctx, s.UserID)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
}

func (c *cli) cartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := c.app.Cart.Cart(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), items)
		},
	}

	var (
		p      model.Product
		qty    int
		custom string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a product to the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.Cart.AddToCart(cmd.Context(), p, qty, custom)
		},
	}
	add.Flags().StringVar(&p.Ref, "ref", "", "product reference")
	add.Flags().StringVar(&p.Name, "name", "", "product name")
	add.Flags().Int64Var(&p.UnitPrice, "price", 0, "unit price in cents")
	add.Flags().IntVar(&qty, "qty", 1, "quantity")
	add.Flags().StringVar(&custom, "custom", "", "customization text")
	_ = add.MarkFlagRequired("ref")

	set := &cobra.Command{
		Use:   "set <item-id> <quantity>",
		Short: "Change a line's quantity (0 removes it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			q, err := strconv.Atoi(args[1])
			if err != nil {
				return errs.Invalid("quantity", "Quantity must be a number.")
			}
			return c.app.Cart.UpdateQuantity(cmd.Context(), id, q)
		},
	}

	rm := &cobra.Command{
		Use:   "rm <item-id>",
		Short: "Remove a line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.app.Cart.RemoveItem(cmd.Context(), id)
		},
	}

	cmd.AddCommand(add, set, rm)
	return cmd
}

func (c *cli) checkoutCmd() *cobra.Command {
	var (
		ci     model.CustomerInfo
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Place an order for the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var unsubscribe func()
			if follow {
				out := cmd.ErrOrStderr()
				unsubscribe = c.app.Bus.Subscribe(func(e events.Event) {
					fmt.Fprintf(out, "order %s: %s\n", e.OrderID, e.Status)
				}, events.OrderUpdated)
				defer unsubscribe()
			}
			o, err := c.app.Cart.Checkout(cmd.Context(), ci)
			if err != nil {
				return err
			}
			if follow {
				waitOrders(cmd.Context(), c.app.Orders.Wait)
				if got, err := c.app.Cart.Order(cmd.Context(), o.ID); err == nil {
					o = got
				}
			}
			return printJSON(cmd.OutOrStdout(), o)
		},
	}
	cmd.Flags().StringVar(&ci.Name, "name", "", "recipient name")
	cmd.Flags().StringVar(&ci.Email, "email", "", "contact email")
	cmd.Flags().StringVar(&ci.Phone, "phone", "", "contact phone")
	cmd.Flags().StringVar(&ci.Address, "address", "", "shipping address")
	cmd.Flags().BoolVar(&follow, "follow", true, "wait for the order to be delivered")
	return cmd
}

// waitOrders blocks on wait unless ctx ends first.
func waitOrders(ctx context.Context, wait func()) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (c *cli) ordersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			orders, err := c.app.Cart.Orders(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), orders)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <order-id>",
		Short: "Show one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			o, err := c.app.Cart.Order(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), o)
		},
	})
	return cmd
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.FromString(s)
	if err != nil {
		return uuid.Nil, errors.Join(errs.Invalid("id", "Not a valid ID."), err)
	}
	return id, nil
}
