// Command petmem is the command-line client of the pet memorial service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/petmem/internal/app"
	"github.com/and161185/petmem/internal/config"
	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/logging"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// cli carries the state shared by every subcommand of one invocation.
type cli struct {
	cfgPath   string
	logLevel  string
	logFormat string

	app *app.App
	log *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{}
	err := newRootCmd(c).ExecuteContext(ctx)
	if cerr := c.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

// describe prefers the user-facing message and falls back to the raw error
// for failures that have none (config, flags, local store).
func describe(err error) string {
	msg := errs.UserMessage(err)
	if msg == errs.UserMessage(errors.New("")) {
		return err.Error()
	}
	return msg
}

// newRootCmd builds the command tree; the caller closes c after Execute.
func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "petmem",
		Short:         "Pet memorial client",
		Version:       fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&c.cfgPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "json|console (overrides config)")

	root.AddCommand(
		c.signupCmd(),
		c.loginCmd(),
		c.logoutCmd(),
		c.statusCmd(),
		c.resetPasswordCmd(),
		c.syncCmd(),
		c.listCmd("pets", "List pets"),
		c.listCmd("videos", "List memorial videos"),
		c.listCmd("letters", "List letters"),
		c.cartCmd(),
		c.checkoutCmd(),
		c.ordersCmd(),
	)
	return root
}

// open loads config, builds the app and resumes a stored session.
func (c *cli) open(ctx context.Context) error {
	cfg, err := config.Load(c.cfgPath)
	if err != nil {
		return err
	}
	if c.logFormat != "" {
		cfg.LogFormat = c.logFormat
	}
	c.log, err = logging.New(c.logLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	c.app, err = app.New(ctx, cfg, c.log)
	if err != nil {
		return err
	}
	return c.app.Restore(ctx)
}

func (c *cli) close() error {
	if c.log != nil {
		defer func() { _ = c.log.Sync() }()
	}
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

// ---- utils ----

// readSecret returns the flag value, or reads it from a file; "-" is stdin.
func readSecret(value, path string, stdin io.Reader) (string, error) {
	if path == "" {
		return value, nil
	}
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
