// ABOUTME: Command-line client for loom-gateway
// ABOUTME: run creates a session and streams a prompt; resume reclaims a session after a disconnect

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/loom-gateway/internal/client"
	"github.com/2389/loom-gateway/internal/config"
	"github.com/2389/loom-gateway/internal/protocol"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type cliOptions struct {
	url   string
	token string
	cwd   string
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:     "loom-cli",
		Short:   "Talk to a loom-gateway over websocket",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.url, "url", "ws://127.0.0.1:7690/ws", "gateway websocket URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("LOOM_TOKEN"), "bearer token (default: $LOOM_TOKEN)")
	root.PersistentFlags().StringVar(&opts.cwd, "cwd", "", "session working directory (default: current directory)")

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newResumeCommand(opts))
	return root
}

func (o *cliOptions) workingDir() (string, error) {
	if o.cwd != "" {
		return o.cwd, nil
	}
	return os.Getwd()
}

// connect dials and performs the handshake under the backoff wrapper, so a
// gateway that is still starting up gets retried instead of failing fast.
func connect(ctx context.Context, opts *cliOptions) (*client.Client, error) {
	clientCfg := config.Default().Client

	var c *client.Client
	r := &client.Reconnector{
		Connect: func(ctx context.Context) error {
			conn, err := client.Dial(ctx, opts.url, opts.token)
			if err != nil {
				return err
			}
			cl := client.New(conn, slog.Default())
			cl.Loop().MessageTimeout = clientCfg.MessageTimeout
			cl.Loop().AggregateTimeout = clientCfg.AggregateTimeout
			if _, err := cl.Initialize(ctx, "loom-cli/"+version); err != nil {
				cl.Close()
				return err
			}
			c = cl
			return nil
		},
		InitialDelay:  clientCfg.InitialDelay,
		MaxDelay:      clientCfg.MaxDelay,
		BackoffFactor: clientCfg.BackoffFactor,
		MaxRetries:    clientCfg.MaxRetries,
		Jitter:        clientCfg.Jitter == nil || *clientCfg.Jitter,
		Observer:      printConnState,
	}
	if err := r.Run(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func printConnState(s client.ConnState) {
	gray := color.New(color.FgHiBlack)
	switch s {
	case client.StateConnecting:
		gray.Fprintln(os.Stderr, "connecting...")
	case client.StateReconnecting:
		gray.Fprintln(os.Stderr, "retrying...")
	case client.StateConnected:
		gray.Fprintln(os.Stderr, "connected")
	case client.StateFailed:
		color.New(color.FgRed).Fprintln(os.Stderr, "giving up")
	}
}

func newRunCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run PROMPT...",
		Short: "Create a session and stream a prompt through it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cwd, err := opts.workingDir()
			if err != nil {
				return err
			}

			c, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer c.Close()

			session, err := c.NewSession(ctx, cwd)
			if err != nil {
				return err
			}

			gray := color.New(color.FgHiBlack)
			gray.Fprintf(os.Stderr, "session: %s\n", session.SessionID)
			if session.Meta != nil {
				gray.Fprintf(os.Stderr, "resume:  loom-cli resume %s %s\n", session.SessionID, session.Meta.ResumeToken)
			}

			return c.Prompt(ctx, session.SessionID, strings.Join(args, " "), renderUpdate)
		},
	}
}

func newResumeCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume SESSION_ID RESUME_TOKEN [PROMPT...]",
		Short: "Reclaim an orphaned session, then prompt or watch it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sessionID, resumeToken := args[0], args[1]

			cwd, err := opts.workingDir()
			if err != nil {
				return err
			}

			c, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.ResumeSession(ctx, cwd, sessionID, resumeToken); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(os.Stderr, "resumed %s\n", sessionID)

			if len(args) > 2 {
				return c.Prompt(ctx, sessionID, strings.Join(args[2:], " "), renderUpdate)
			}

			// No prompt: watch the session's update stream until closed.
			// An idle session is fine here, so the stall guard is off.
			c.Loop().MessageTimeout = 0
			return c.Loop().Run(ctx, func(msg *protocol.Message) {
				renderNotification(sessionID, msg)
			}, nil)
		},
	}
}
