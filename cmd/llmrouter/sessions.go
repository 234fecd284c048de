package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/render"
	"github.com/joss/llmrouter/internal/store"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Session history commands",
		Long:    "List, search, export, tag and delete persisted sessions",
	}

	// llmrouter sessions list
	var limit int
	var tag string
	var title string
	var since time.Duration
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			f := store.DefaultSessionFilter().WithLimit(limit)
			if tag != "" {
				f = f.WithTag(tag)
			}
			if title != "" {
				f = f.WithTitle(title)
			}
			if since > 0 {
				f = f.WithSince(time.Now().Add(-since))
			}
			list, err := a.Store.ListSessions(ctx, f)
			if err != nil {
				exitOnError(err)
			}
			render.Stdout().Raw(renderer().Sessions(list))
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to show")
	listCmd.Flags().StringVar(&tag, "tag", "", "Only sessions with this tag")
	listCmd.Flags().StringVar(&title, "title", "", "Only sessions whose title contains this text")
	listCmd.Flags().DurationVar(&since, "since", 0, "Only sessions active within this duration")

	// llmrouter sessions show <id>
	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session with every message",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			sess, err := a.Store.GetSession(ctx, args[0])
			if err != nil {
				exitOnError(err)
			}
			render.Stdout().Raw(renderer().Session(sess))
		},
	}

	// llmrouter sessions search <text>
	var searchLimit int
	searchCmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find messages containing text",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			hits, err := a.Store.SearchMessages(ctx, strings.Join(args, " "), searchLimit)
			if err != nil {
				exitOnError(err)
			}
			render.Stdout().Raw(renderer().Hits(hits))
		},
	}
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum hits")

	// llmrouter sessions export <id>
	var format string
	var toStdout bool
	exportCmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a session as markdown, text, or json",
		Long: `Export a session. The file is written to <home>/exports/<id>.<ext>
unless --stdout is given. JSON exports carry every message field.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f, ok := store.ParseExportFormat(format)
			if !ok {
				exitOnError(errkind.Newf(errkind.KindConfig, "export", "unknown format %q (markdown, text, json)", format))
			}
			a, ctx := openApp(false)
			defer finish()

			if toStdout {
				data, err := a.Store.ExportSession(ctx, args[0], f)
				if err != nil {
					exitOnError(err)
				}
				render.Stdout().Raw(string(data))
				return
			}
			path, err := a.Export(ctx, args[0], f)
			if err != nil {
				exitOnError(err)
			}
			render.Stdout().Println("%s wrote %s", render.BoolIcon(true), path)
		},
	}
	exportCmd.Flags().StringVarP(&format, "format", "f", "markdown", "Export format: markdown, text, json")
	exportCmd.Flags().BoolVar(&toStdout, "stdout", false, "Write to stdout instead of a file")

	// llmrouter sessions delete <id>
	deleteCmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete sessions and their messages",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			for _, id := range args {
				if err := a.Store.DeleteSession(ctx, id); err != nil {
					exitOnError(err)
				}
				render.Stdout().Println("%s deleted %s", render.BoolIcon(true), id)
			}
		},
	}

	// llmrouter sessions tag <id> <tag>...
	var rename string
	tagCmd := &cobra.Command{
		Use:   "tag <id> [tag...]",
		Short: "Replace a session's tags, optionally renaming it",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			var newTitle *string
			if cmd.Flags().Changed("title") {
				newTitle = &rename
			}
			var tags []string
			if len(args) > 1 {
				tags = args[1:]
			}
			if err := a.Store.UpdateSessionMeta(ctx, args[0], newTitle, tags); err != nil {
				exitOnError(err)
			}
			sess, err := a.Store.GetSession(ctx, args[0])
			if err != nil {
				exitOnError(err)
			}
			render.Stdout().Println("%s %s [%s]", sess.ID, sess.Title, strings.Join(sess.Tags, ", "))
		},
	}
	tagCmd.Flags().StringVar(&rename, "title", "", "New session title")

	cmd.AddCommand(listCmd, showCmd, searchCmd, exportCmd, deleteCmd, tagCmd)
	return cmd
}
