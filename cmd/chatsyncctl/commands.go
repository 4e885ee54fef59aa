package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/cache"
)

func statusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, c *api.Client) error {
				resp, err := c.GetStatus(ctx, &api.StatusRequest{})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return outputJSON(out, resp)
				}
				fmt.Fprintf(out, "Profile: %s\n", resp.Profile)
				fmt.Fprintf(out, "State:   %s\n", resp.State)
				fmt.Fprintf(out, "Online:  %v\n", resp.Online)
				fmt.Fprintf(out, "User:    %s\n", resp.User)
				fmt.Fprintf(out, "Scopes:  %d\n", resp.Scopes)
				fmt.Fprintf(out, "Pending: %d\n", resp.Pending)
				return nil
			})
		},
	}
}

func syncCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sync <conversation>",
		Short: "Reconcile a conversation with the remote service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, c *api.Client) error {
				resp, err := c.Sync(ctx, &api.SyncRequest{Scope: g.scope(args[0]), Limit: limit})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return outputJSON(out, resp)
				}
				fmt.Fprintf(out, "Source: %s  Online: %v  New: %v\n", resp.Source, resp.IsOnline, resp.HasNewMessages)
				printMessages(out, resp.Messages)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "window size (defaults to window_limit)")
	return cmd
}

func sendCmd(g *globals) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "send <conversation> <text...>",
		Short: "Queue a message for upload",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, c *api.Client) error {
				resp, err := c.SendMessage(ctx, &api.SendRequest{
					Scope:   g.scope(args[0]),
					Content: strings.Join(args[1:], " "),
					Type:    typ,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return outputJSON(out, resp)
				}
				fmt.Fprintf(out, "Queued %s\n", resp.Message.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "text", "message type: text, audio or gif")
	return cmd
}

func drainCmd(g *globals) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "drain [conversation]",
		Short: "Upload pending messages now",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &api.DrainRequest{All: all}
			if !all {
				if len(args) == 0 {
					return errors.New("conversation required unless --all is set")
				}
				req.Scope = g.scope(args[0])
			}
			return g.run(cmd, func(ctx context.Context, c *api.Client) error {
				resp, err := c.Drain(ctx, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return outputJSON(out, resp)
				}
				fmt.Fprintf(out, "Uploaded: %d  Failed: %d\n", resp.Uploaded, resp.Failed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "drain every conversation")
	return cmd
}

func messagesCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "messages <conversation>",
		Short: "List cached messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, c *api.Client) error {
				resp, err := c.ListMessages(ctx, &api.ListMessagesRequest{Scope: g.scope(args[0]), Limit: limit})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return outputJSON(out, resp)
				}
				printMessages(out, resp.Messages)
				if resp.Pending > 0 {
					fmt.Fprintf(out, "%d pending\n", resp.Pending)
				}
				if !resp.LastSync.IsZero() {
					fmt.Fprintf(out, "Last sync: %s\n", resp.LastSync.Local().Format(time.DateTime))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "show only the newest N messages")
	return cmd
}

func searchCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <conversation> <query...>",
		Short: "Search cached messages",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, c *api.Client) error {
				resp, err := c.SearchMessages(ctx, &api.SearchMessagesRequest{
					Scope: g.scope(args[0]),
					Query: strings.Join(args[1:], " "),
					Limit: limit,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return outputJSON(out, resp)
				}
				if len(resp.Messages) == 0 {
					fmt.Fprintln(out, "No matches.")
					return nil
				}
				printMessages(out, resp.Messages)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}

func chatsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, c *api.Client) error {
				resp, err := c.ListChats(ctx, &api.ListChatsRequest{User: g.user})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return outputJSON(out, resp)
				}
				if len(resp.Chats) == 0 {
					fmt.Fprintln(out, "No chats.")
					return nil
				}
				for _, ch := range resp.Chats {
					name := ch.AgentName
					if name == "" {
						name = ch.AgentID
					}
					fmt.Fprintf(out, "%-20s %3d unread  %s\n", name, ch.UnreadCount, preview(ch.LastMessage, 50))
				}
				return nil
			})
		},
	}
}

func readCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation>",
		Short: "Mark a conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, c *api.Client) error {
				_, err := c.MarkRead(ctx, &api.MarkReadRequest{Scope: g.scope(args[0])})
				return err
			})
		},
	}
}

func clearCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <conversation>",
		Short: "Drop cached messages for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, c *api.Client) error {
				_, err := c.ClearConversation(ctx, &api.ClearConversationRequest{Scope: g.scope(args[0])})
				return err
			})
		},
	}
}

// watchCmd streams until interrupted, so it does not use the request timeout.
func watchCmd(g *globals) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "watch [conversation]",
		Short: "Stream daemon events, or sync results for one conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				stream, err := c.WatchConversation(ctx, &api.WatchConversationRequest{Scope: g.scope(args[0])})
				if err != nil {
					return err
				}
				for {
					resp, err := stream.Recv()
					if err != nil {
						return streamDone(ctx, err)
					}
					if g.json {
						_ = outputJSON(out, resp)
						continue
					}
					fmt.Fprintf(out, "-- %s (online=%v new=%v)\n", resp.Source, resp.IsOnline, resp.HasNewMessages)
					printMessages(out, resp.Messages)
				}
			}

			stream, err := c.WatchEvents(ctx, &api.WatchEventsRequest{Namespace: namespace})
			if err != nil {
				return err
			}
			for {
				evt, err := stream.Recv()
				if err != nil {
					return streamDone(ctx, err)
				}
				if g.json {
					_ = outputJSON(out, evt)
					continue
				}
				fmt.Fprintf(out, "%s %-24s %v\n", evt.Timestamp.Local().Format(time.TimeOnly), evt.Kind, evt.Payload)
			}
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "event kind prefix, e.g. message.")
	return cmd
}

func streamDone(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func printMessages(out io.Writer, msgs []cache.CachedMessage) {
	for _, m := range msgs {
		mark := " "
		if !m.Synced {
			mark = "*"
		}
		who := string(m.Sender)
		if m.Sender == cache.SenderAgent && m.AgentName != "" {
			who = m.AgentName
		}
		fmt.Fprintf(out, "%s %s %-12s %s\n", mark, m.Timestamp.Local().Format(time.DateTime), who, m.Content)
	}
}

func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
