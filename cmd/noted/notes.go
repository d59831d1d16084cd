package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"noted/internal/changelog"
)

func newNewCmd() *cobra.Command {
	var title, contents, tags string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new note",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			n, err := e.Notes.Create(ctx, title, contents, tags, nil)
			if err != nil {
				return err
			}
			lamport := e.Clock.Tick()
			if err := e.Clock.Persist(ctx); err != nil {
				return err
			}
			if _, err := e.ChangeLog.Append(ctx, n.UUID, changelog.KindCreate, map[string]any{
				"title": n.Title, "contents": n.Contents, "tags": n.Tags,
				"created_at":   n.CreatedAt.Format(time.RFC3339Nano),
				"last_updated": n.LastUpdated.Format(time.RFC3339Nano),
			}, lamport, e.Identity.DeviceID); err != nil {
				return err
			}

			if err := e.Tokens.IndexNote(ctx, n.UUID, n.Title, n.Contents, n.Tags); err != nil {
				return err
			}
			if err := e.Lexical.IndexNote(ctx, n.UUID, n.Title, n.Contents); err != nil {
				return err
			}

			fmt.Println(n.UUID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "note title")
	cmd.Flags().StringVar(&contents, "contents", "", "note contents")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags")
	return cmd
}

func newEditCmd() *cobra.Command {
	var title, contents, tags string
	cmd := &cobra.Command{
		Use:   "edit <uuid>",
		Short: "Partially update a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			var titlePtr, contentsPtr, tagsPtr *string
			if cmd.Flags().Changed("title") {
				titlePtr = &title
			}
			if cmd.Flags().Changed("contents") {
				contentsPtr = &contents
			}
			if cmd.Flags().Changed("tags") {
				tagsPtr = &tags
			}

			ctx := cmd.Context()
			n, err := e.Notes.Update(ctx, args[0], titlePtr, contentsPtr, tagsPtr, nil)
			if err != nil {
				return err
			}
			lamport := e.Clock.Tick()
			if err := e.Clock.Persist(ctx); err != nil {
				return err
			}
			payload := map[string]any{}
			if titlePtr != nil {
				payload["title"] = n.Title
			}
			if contentsPtr != nil {
				payload["contents"] = n.Contents
			}
			if tagsPtr != nil {
				payload["tags"] = n.Tags
			}
			if _, err := e.ChangeLog.Append(ctx, n.UUID, changelog.KindUpdate, payload, lamport, e.Identity.DeviceID); err != nil {
				return err
			}
			return e.Tokens.IndexNote(ctx, n.UUID, n.Title, n.Contents, n.Tags)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&contents, "contents", "", "new contents")
	cmd.Flags().StringVar(&tags, "tags", "", "new comma-separated tags")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uuid>",
		Short: "Tombstone a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			if err := e.Notes.MarkDeleted(ctx, args[0]); err != nil {
				return err
			}
			lamport := e.Clock.Tick()
			if err := e.Clock.Persist(ctx); err != nil {
				return err
			}
			if _, err := e.ChangeLog.Append(ctx, args[0], changelog.KindDelete, map[string]any{"deleted": true}, lamport, e.Identity.DeviceID); err != nil {
				return err
			}
			if err := e.Lexical.Delete(ctx, args[0]); err != nil {
				return err
			}
			if err := e.Tokens.DeleteNote(ctx, args[0]); err != nil {
				return err
			}
			return e.Vectors.Delete(ctx, args[0])
		},
	}
}

func newListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			notes, err := e.Notes.List(cmd.Context(), all)
			if err != nil {
				return err
			}
			for _, n := range notes {
				status := ""
				if n.Deleted {
					status = " [deleted]"
				}
				tags := n.Tags
				if tags != "" {
					tags = " (" + strings.ReplaceAll(tags, ",", ", ") + ")"
				}
				fmt.Printf("%s  %s%s%s\n", n.UUID, n.Title, tags, status)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include tombstoned notes")
	return cmd
}
