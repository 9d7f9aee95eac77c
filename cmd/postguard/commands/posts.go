package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/postguard/internal/cli"
	"github.com/TimurManjosov/postguard/internal/client"
)

var (
	postTitle       string
	postContent     string
	postBlocked     bool
	postNoComments  bool
	listBlockedOnly bool
)

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Manage posts and their blocking flag",
}

var postsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all posts",
	Long: `List all posts, including those hidden from blocked visitors.

Examples:
  postguard posts list
  postguard posts list --blocked-only --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		list := c.ListPosts
		if listBlockedOnly {
			list = c.ListBlockedPosts
		}
		posts, err := list(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list posts: %w", err)
		}

		if quiet {
			return nil
		}
		if len(posts) == 0 && outputFormat() == cli.FormatTable {
			fmt.Fprintln(cmd.OutOrStdout(), "No posts found")
			return nil
		}
		return cli.PrintPosts(cmd.OutOrStdout(), posts, outputFormat())
	},
}

var postsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a post",
	Long: `Create a post.

Examples:
  postguard posts create --title "Hello" --content "First post"
  postguard posts create --title "Members only" --blocked --no-comments`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		post, err := c.CreatePost(cmd.Context(), postInput())
		if err != nil {
			return fmt.Errorf("failed to create post: %w", err)
		}

		if quiet {
			return nil
		}
		return cli.PrintPost(cmd.OutOrStdout(), post, outputFormat())
	},
}

var postsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Replace a post",
	Long: `Replace the title, content and flags of a post. Flags not given reset to
their defaults.

Example:
  postguard posts update 6f0c1e2a-... --title "Edited" --blocked`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		post, err := c.UpdatePost(cmd.Context(), args[0], postInput())
		if err != nil {
			return fmt.Errorf("failed to update post: %w", err)
		}

		if quiet {
			return nil
		}
		return cli.PrintPost(cmd.OutOrStdout(), post, outputFormat())
	},
}

var postsBlockCmd = &cobra.Command{
	Use:   "block <id>",
	Short: "Enable blocking for a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setBlocked(cmd, args[0], true)
	},
}

var postsUnblockCmd = &cobra.Command{
	Use:   "unblock <id>",
	Short: "Disable blocking for a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setBlocked(cmd, args[0], false)
	},
}

var postsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		if err := c.DeletePost(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete post: %w", err)
		}

		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted post %s\n", args[0])
		}
		return nil
	},
}

func setBlocked(cmd *cobra.Command, id string, blocked bool) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	post, err := c.SetPostBlocked(cmd.Context(), id, blocked)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("post %s not found", id)
		}
		return fmt.Errorf("failed to update post: %w", err)
	}

	if quiet {
		return nil
	}
	return cli.PrintPost(cmd.OutOrStdout(), post, outputFormat())
}

func postInput() client.PostInput {
	commentsOpen := !postNoComments
	return client.PostInput{
		Title:        postTitle,
		Content:      postContent,
		Blocked:      postBlocked,
		CommentsOpen: &commentsOpen,
	}
}

func init() {
	rootCmd.AddCommand(postsCmd)
	postsCmd.AddCommand(postsListCmd, postsCreateCmd, postsUpdateCmd, postsBlockCmd, postsUnblockCmd, postsDeleteCmd)

	postsListCmd.Flags().BoolVar(&listBlockedOnly, "blocked-only", false, "Show only posts with blocking enabled")

	for _, cmd := range []*cobra.Command{postsCreateCmd, postsUpdateCmd} {
		cmd.Flags().StringVar(&postTitle, "title", "", "Post title")
		cmd.Flags().StringVar(&postContent, "content", "", "Post content")
		cmd.Flags().BoolVar(&postBlocked, "blocked", false, "Enable blocking for the post")
		cmd.Flags().BoolVar(&postNoComments, "no-comments", false, "Close comments")
		_ = cmd.MarkFlagRequired("title")
	}
}
