package main

import (
	"fmt"
	"strconv"

	"github.com/discussblog/backend/internal/metrics"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	listFirst int
	listAfter string
)

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Read posts from the configured repository",
}

var postsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List posts, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newPostStore(cfg, metrics.Nop{})
		if err != nil {
			return err
		}
		page := store.ListPosts(cmd.Context(), listFirst, listAfter)
		return printJSON(cmd, page)
	},
}

var postsGetCmd = &cobra.Command{
	Use:   "get <number>",
	Short: "Print one post by discussion number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid post number %q", args[0])
		}
		store, err := newPostStore(cfg, metrics.Nop{})
		if err != nil {
			return err
		}
		post, err := store.GetPost(cmd.Context(), number)
		if err != nil {
			return fmt.Errorf("post #%d: %w", number, err)
		}
		return printJSON(cmd, post)
	},
}

func init() {
	postsListCmd.Flags().IntVar(&listFirst, "first", 15, "page size (1-100)")
	postsListCmd.Flags().StringVar(&listAfter, "after", "", "cursor from a previous page")

	postsCmd.AddCommand(postsListCmd, postsGetCmd)
	rootCmd.AddCommand(postsCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
