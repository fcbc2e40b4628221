package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rickgao/chainstream/internal/config"
	"github.com/rickgao/chainstream/internal/stream"
	"github.com/rickgao/chainstream/internal/subscription"
	"github.com/rickgao/chainstream/internal/version"
)

// rootOptions are the flags shared by every streaming command.
type rootOptions struct {
	configPath string
	url        string
	buffer     int
	overflow   string
	commitment string
	stdin      io.Reader // config source for --config -

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "chainstream",
		Short:         "Stream JSON-RPC WebSocket subscriptions as JSON lines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts.stdin = cmd.InOrStdin()
			return opts.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config file, - for stdin (defaults apply when empty)")
	flags.StringVar(&opts.url, "url", "", "WebSocket endpoint, overrides client.url")
	flags.IntVar(&opts.buffer, "buffer", 0, "bound the consumer with a buffer of this size (0 disables)")
	flags.StringVar(&opts.overflow, "overflow", string(subscription.DropOldest), "buffer overflow policy: drop-oldest or drop-newest")
	flags.StringVar(&opts.commitment, "commitment", "", "commitment level: processed, confirmed or finalized")

	cmd.AddCommand(
		newSlotCmd(opts),
		newRootsCmd(opts),
		newAccountCmd(opts),
		newProgramCmd(opts),
		newSignatureCmd(opts),
		newLogsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) load() error {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case o.configPath == config.StdinPath && o.stdin != nil:
		cfg, err = config.ReadWithDefaults(o.stdin)
	case o.configPath != "":
		cfg, err = config.LoadWithDefaults(o.configPath)
	default:
		cfg = config.Default()
	}
	if err != nil {
		return err
	}
	if o.url != "" {
		cfg.Client.URL = o.url
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if _, err := subscription.ParseOverflowStrategy(o.overflow); err != nil {
		return err
	}

	o.cfg = cfg
	o.logger = newLogger(cfg.Logging)
	slog.SetDefault(o.logger)
	return nil
}

// execute builds the app and runs consume until it returns or a signal
// arrives.
func (o *rootOptions) execute(cmd *cobra.Command, consume func(context.Context, stream.Source, *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o.logger.Info("starting chainstream",
		"version", version.Version,
		"commit", version.Commit,
		"command", cmd.Name(),
	)

	a, err := newApp(ctx, o.cfg, o.logger)
	if err != nil {
		return err
	}
	return a.run(ctx, func(ctx context.Context, src stream.Source) error {
		return consume(ctx, src, a)
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Skip config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
