package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"semantic-chat/handler"
)

// Connector opens the chat service for one command run and returns a
// function that releases it.
type Connector func(ctx context.Context, verbose bool) (handler.ChatUseCase, func(), error)

type cli struct {
	connect Connector
	verbose bool
	asJSON  bool
	chat    handler.ChatUseCase
	release func()
}

// NewRootCommand creates the chatctl command tree.
func NewRootCommand(connect Connector) *cobra.Command {
	c := &cli{connect: connect}

	root := &cobra.Command{
		Use:          "chatctl",
		Short:        "Manage chat sessions and the semantic completion cache",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			chat, release, err := c.connect(cmd.Context(), c.verbose)
			if err != nil {
				return err
			}
			c.chat, c.release = chat, release
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.release != nil {
				c.release()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print JSON instead of tables")

	sessions := &cobra.Command{Use: "sessions", Short: "Manage sessions"}
	sessions.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List sessions",
			Args:  cobra.NoArgs,
			RunE:  c.listSessions,
		},
		&cobra.Command{
			Use:   "create",
			Short: "Create an empty session",
			Args:  cobra.NoArgs,
			RunE:  c.createSession,
		},
		&cobra.Command{
			Use:   "rename <session-id> <name>",
			Short: "Rename a session",
			Args:  cobra.MinimumNArgs(2),
			RunE:  c.renameSession,
		},
		&cobra.Command{
			Use:   "delete <session-id>",
			Short: "Delete a session and all of its messages",
			Args:  cobra.ExactArgs(1),
			RunE:  c.deleteSession,
		},
		&cobra.Command{
			Use:   "summarize <session-id>",
			Short: "Name a session after a summary of its conversation",
			Args:  cobra.ExactArgs(1),
			RunE:  c.summarize,
		},
	)

	messages := &cobra.Command{Use: "messages", Short: "Inspect messages"}
	messages.AddCommand(&cobra.Command{
		Use:   "list <session-id>",
		Short: "List the messages of a session, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE:  c.listMessages,
	})

	cache := &cobra.Command{Use: "cache", Short: "Manage the semantic cache"}
	cache.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached completion",
		Args:  cobra.NoArgs,
		RunE:  c.clearCache,
	})

	ask := &cobra.Command{
		Use:   "ask <session-id> <prompt>",
		Short: "Send a prompt and print the completion",
		Args:  cobra.MinimumNArgs(2),
		RunE:  c.ask,
	}

	root.AddCommand(sessions, messages, cache, ask)
	return root
}

func (c *cli) listSessions(cmd *cobra.Command, _ []string) error {
	list, err := c.chat.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	if c.asJSON {
		return writeJSON(cmd.OutOrStdout(), list)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTOKENS\tCREATED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.Name, s.Tokens, s.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func (c *cli) createSession(cmd *cobra.Command, _ []string) error {
	s, err := c.chat.CreateSession(cmd.Context())
	if err != nil {
		return err
	}
	if c.asJSON {
		return writeJSON(cmd.OutOrStdout(), s)
	}
	fmt.Fprintln(cmd.OutOrStdout(), s.ID)
	return nil
}

func (c *cli) renameSession(cmd *cobra.Command, args []string) error {
	return c.chat.RenameSession(cmd.Context(), args[0], strings.Join(args[1:], " "))
}

func (c *cli) deleteSession(cmd *cobra.Command, args []string) error {
	return c.chat.DeleteSession(cmd.Context(), args[0])
}

func (c *cli) summarize(cmd *cobra.Command, args []string) error {
	name, err := c.chat.SummarizeSessionName(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), name)
	return nil
}

func (c *cli) listMessages(cmd *cobra.Command, args []string) error {
	msgs, err := c.chat.ListMessages(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if c.asJSON {
		return writeJSON(cmd.OutOrStdout(), msgs)
	}
	out := cmd.OutOrStdout()
	for _, m := range msgs {
		fmt.Fprintf(out, "[%s] %s (%d tokens)\n> %s\n", m.Timestamp.Format(time.RFC3339), m.Status, m.Tokens(), m.Prompt)
		if m.Completion != "" {
			fmt.Fprintf(out, "%s\n", m.Completion)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func (c *cli) ask(cmd *cobra.Command, args []string) error {
	msg, err := c.chat.GetCompletion(cmd.Context(), args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	if c.asJSON {
		return writeJSON(cmd.OutOrStdout(), msg)
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg.Completion)
	if c.verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "cache_hit=%t prompt_tokens=%d completion_tokens=%d\n", msg.CacheHit, msg.PromptTokens, msg.CompletionTokens)
	}
	return nil
}

func (c *cli) clearCache(cmd *cobra.Command, _ []string) error {
	return c.chat.ClearCache(cmd.Context())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
