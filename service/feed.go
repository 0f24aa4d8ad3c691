package service

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"classicboard/app/models"
	"classicboard/app/services"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"
)

const titleFlag = "title"

// ErrNotSignedIn is returned by commands that need a session.
var ErrNotSignedIn = errors.New("not signed in: run \"classicboard login\" and set CLASSICBOARD_CLIENT_TOKEN")

func newPostCommand(a *app) *cobra.Command {
	flags := map[string]cobraflags.Flag{
		titleFlag: &cobraflags.StringFlag{
			Name:  titleFlag,
			Value: "",
			Usage: "Optional post title",
		},
	}
	cmd := &cobra.Command{
		Use:   "post <content>...",
		Short: "Write a post to the feed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.newClient()
			s := a.session(cmd.Context(), c)
			if s.Current() == nil {
				return ErrNotSignedIn
			}
			content := strings.Join(args, " ")
			if strings.TrimSpace(content) == "" {
				return errors.New("post content is empty")
			}

			err := c.Submit(cmd.Context(), s.Token(), flags[titleFlag].GetString(), content)
			switch {
			case errors.Is(err, services.ErrAuthRequired):
				return ErrNotSignedIn
			case errors.Is(err, services.ErrWriteFailed):
				return fmt.Errorf("the post was not saved, try again: %w", err)
			case err != nil:
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Posted")
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newWatchCommand(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the feed and follow new posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := a.newClient()
			out := cmd.OutOrStdout()
			if once {
				posts, err := c.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				renderFeed(out, posts)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			fmt.Fprintln(out, "Loading posts...")
			err := c.Watch(ctx, func(posts []*models.Post) {
				renderFeed(out, posts)
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "print the current feed and exit")
	return cmd
}

// renderFeed prints one delivery of the feed, newest first.
func renderFeed(w io.Writer, posts []*models.Post) {
	fmt.Fprintf(w, "=== %d posts ===\n", len(posts))
	if len(posts) == 0 {
		fmt.Fprintln(w, "No posts yet. Be the first to write one!")
		return
	}
	for _, p := range posts {
		if p.Title != "" {
			fmt.Fprintf(w, "# %s\n", p.Title)
		}
		fmt.Fprintln(w, p.Content)
		fmt.Fprintf(w, "  by %s, %s\n\n", p.DisplayName(), p.CreatedAt.Local().Format(time.DateTime))
	}
}
