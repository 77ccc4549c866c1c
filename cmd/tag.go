package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/echotab/internal/models"
	"github.com/joescharf/echotab/internal/output"
	"github.com/joescharf/echotab/internal/store"
)

var (
	tagColor    string
	tagFavorite bool
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage tab tags",
	Long:  "Create, list, and delete the tags used to organize saved tabs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tagListRun()
	},
}

var tagListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all tags with their tab counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tagListRun()
	},
}

var tagCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tagCreateRun(args[0])
	},
}

var tagDeleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"rm"},
	Short:   "Delete a tag",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tagDeleteRun(args[0])
	},
}

func init() {
	tagCreateCmd.Flags().StringVar(&tagColor, "color", "", "Tag color as #rrggbb")
	tagCreateCmd.Flags().BoolVar(&tagFavorite, "favorite", false, "Mark the tag as a favorite")

	tagCmd.AddCommand(tagListCmd)
	tagCmd.AddCommand(tagCreateCmd)
	tagCmd.AddCommand(tagDeleteCmd)
	rootCmd.AddCommand(tagCmd)
}

func tagListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	tags, err := s.ListTags(ctx)
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		ui.Info("No tags. Use 'echotab tag create <name>' to create one.")
		return nil
	}

	board, err := s.TagBoard(ctx)
	if err != nil {
		return err
	}
	counts := make(map[string]int, len(board))
	for _, col := range board {
		counts[col.TagID] = len(col.TabIDs)
	}

	table := ui.Table([]string{"Name", "", "Tabs", "Created"})
	for _, t := range tags {
		_ = table.Append([]string{
			output.TagChip(t.Name, t.Color),
			output.Favorite(t.Favorite),
			strconv.Itoa(counts[t.ID]),
			t.CreatedAt.Format("2006-01-02"),
		})
	}
	_ = table.Render()
	return nil
}

func tagCreateRun(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("tag name is required")
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if existing, err := findTagByName(ctx, s, name); err == nil {
		return fmt.Errorf("tag already exists: %s", existing.Name)
	}

	if dryRun {
		ui.DryRunMsg("Would create tag: %s", name)
		return nil
	}

	tag := &models.Tag{Name: name, Color: tagColor, Favorite: tagFavorite}
	if err := s.CreateTag(ctx, tag); err != nil {
		return fmt.Errorf("create tag: %w", err)
	}

	ui.Success("Created tag: %s", output.TagChip(name, tagColor))
	return nil
}

func tagDeleteRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	tag, err := findTagByName(ctx, s, name)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete tag: %s", name)
		return nil
	}

	if err := s.DeleteTag(ctx, tag.ID); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}

	ui.Success("Deleted tag: %s", name)
	return nil
}

// findTagByName resolves a tag case-insensitively.
func findTagByName(ctx context.Context, s store.Store, name string) (*models.Tag, error) {
	tags, err := s.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tag not found: %s", name)
}
