package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/rickgao/chainstream/internal/router"
	"github.com/rickgao/chainstream/internal/stream"
	"github.com/rickgao/chainstream/internal/subscription"
)

func newSlotCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "slot",
		Short: "Stream every slot the node processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.execute(cmd, func(ctx context.Context, src stream.Source, a *app) error {
				return drain(ctx, o, a, stream.Slot(src, o.streamOptions(a)...))
			})
		},
	}
}

func newRootsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "roots",
		Short: "Stream every new root slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.execute(cmd, func(ctx context.Context, src stream.Source, a *app) error {
				return drain(ctx, o, a, stream.RootSlots(src, o.streamOptions(a)...))
			})
		},
	}
}

func newAccountCmd(o *rootOptions) *cobra.Command {
	var encoding string

	cmd := &cobra.Command{
		Use:   "account <pubkey>",
		Short: "Stream changes to one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.execute(cmd, func(ctx context.Context, src stream.Source, a *app) error {
				opts := append(o.subscribeOptions(a), stream.WithEncoding(stream.Encoding(encoding)))
				return drain(ctx, o, a, stream.Account(src, args[0], opts...))
			})
		},
	}
	cmd.Flags().StringVar(&encoding, "encoding", string(stream.EncodingBase64), "account data encoding")
	return cmd
}

func newProgramCmd(o *rootOptions) *cobra.Command {
	var (
		encoding string
		dataSize uint64
	)

	cmd := &cobra.Command{
		Use:   "program <program-id>",
		Short: "Stream changes to accounts owned by a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.execute(cmd, func(ctx context.Context, src stream.Source, a *app) error {
				opts := append(o.subscribeOptions(a), stream.WithEncoding(stream.Encoding(encoding)))
				if dataSize > 0 {
					opts = append(opts, stream.WithFilters(map[string]uint64{"dataSize": dataSize}))
				}
				return drain(ctx, o, a, stream.Program(src, args[0], opts...))
			})
		},
	}
	cmd.Flags().StringVar(&encoding, "encoding", string(stream.EncodingBase64), "account data encoding")
	cmd.Flags().Uint64Var(&dataSize, "data-size", 0, "only accounts with this data length (0 disables)")
	return cmd
}

func newSignatureCmd(o *rootOptions) *cobra.Command {
	var received bool

	cmd := &cobra.Command{
		Use:   "signature <signature>",
		Short: "Wait for a transaction signature to be confirmed",
		Long:  "Streams the status of one signature and exits after the first processed notification.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.execute(cmd, func(ctx context.Context, src stream.Source, a *app) error {
				opts := o.subscribeOptions(a)
				if received {
					opts = append(opts, stream.WithReceivedNotification(true))
				}
				return drain(ctx, o, a, stream.Signature(src, args[0], opts...))
			})
		},
	}
	cmd.Flags().BoolVar(&received, "received", false, "also report when the signature is received")
	return cmd
}

func newLogsCmd(o *rootOptions) *cobra.Command {
	var (
		mentions string
		votes    bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Stream transaction logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := stream.LogsAll()
			switch {
			case mentions != "":
				filter = stream.LogsMentions(mentions)
			case votes:
				filter = stream.LogsAllWithVotes()
			}
			return o.execute(cmd, func(ctx context.Context, src stream.Source, a *app) error {
				return drain(ctx, o, a, stream.Logs(src, filter, o.subscribeOptions(a)...))
			})
		},
	}
	cmd.Flags().StringVar(&mentions, "mentions", "", "only transactions mentioning this pubkey")
	cmd.Flags().BoolVar(&votes, "votes", false, "include vote transactions")
	return cmd
}

// subscribeOptions returns the options every per-method stream accepts.
func (o *rootOptions) subscribeOptions(a *app) []stream.Option {
	opts := o.streamOptions(a)
	if o.commitment != "" {
		opts = append(opts, stream.WithCommitment(stream.Commitment(o.commitment)))
	}
	return opts
}

// streamOptions returns options for streams that take no subscribe config.
func (o *rootOptions) streamOptions(a *app) []stream.Option {
	return []stream.Option{stream.WithStreamOptions(stream.WithLogger(a.logger))}
}

// drain writes every value of s to stdout as a JSON line and relays it when
// NATS is enabled. It returns when the stream ends or ctx is cancelled.
// An error that ends the stream, such as a rejected subscribe, is returned.
func drain[T any](ctx context.Context, o *rootOptions, a *app, s *stream.Stream[T]) error {
	var seq stream.Sequence[T] = s
	if o.buffer > 0 {
		strategy, _ := subscription.ParseOverflowStrategy(o.overflow)
		b := stream.Buffer[T](ctx, s, stream.BufferOptions{Size: o.buffer, Overflow: strategy})
		defer func() {
			_ = b.Close()
			if st := b.Stats(); st.Dropped > 0 {
				a.logger.Warn("buffer shed notifications", "method", s.Method(), "dropped", st.Dropped)
			}
		}()
		seq = b
	}

	var lastErr error
	for v, err := range seq.All(ctx) {
		if err != nil {
			lastErr = err
			if !errors.Is(err, context.Canceled) {
				a.logger.Warn("notification error", "method", s.Method(), "error", err)
			}
			continue
		}
		lastErr = nil

		raw, err := json.Marshal(v)
		if err != nil {
			a.logger.Warn("encode notification", "method", s.Method(), "error", err)
			continue
		}
		if _, err := os.Stdout.Write(append(raw, '\n')); err != nil {
			return err
		}

		if a.relay != nil {
			a.relay.Route(router.Message{
				Method:         s.Method(),
				SubscriptionID: s.ID(),
				Result:         raw,
				ReceivedAt:     time.Now(),
			})
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return lastErr
}
