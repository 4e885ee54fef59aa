package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/profile"
)

type globals struct {
	profile string
	user    string
	json    bool
	timeout time.Duration
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "chatsyncctl",
		Short:         "Control a running chatsync daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&g.profile, "profile", "", "profile name (overrides config default)")
	root.PersistentFlags().StringVar(&g.user, "user", "", "user id (defaults to the daemon's user_id)")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		statusCmd(g),
		syncCmd(g),
		sendCmd(g),
		drainCmd(g),
		messagesCmd(g),
		searchCmd(g),
		chatsCmd(g),
		readCmd(g),
		clearCmd(g),
		watchCmd(g),
	)
	return root
}

// connect resolves the profile and dials its daemon socket.
func (g *globals) connect() (*api.Client, error) {
	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	name, err := profile.Resolve(g.profile, cfg)
	if err != nil {
		return nil, err
	}
	c, err := api.Dial(profile.SocketPath(name))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err)
	}
	return c, nil
}

// run dials the daemon and calls fn with a bounded context.
func (g *globals) run(cmd *cobra.Command, fn func(context.Context, *api.Client) error) error {
	c, err := g.connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()
	return fn(ctx, c)
}

func (g *globals) scope(conv string) api.Scope {
	return api.Scope{Conversation: conv, User: g.user}
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
