package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/echotab/internal/metadata"
	"github.com/joescharf/echotab/internal/models"
	"github.com/joescharf/echotab/internal/output"
	"github.com/joescharf/echotab/internal/store"
)

var (
	tabListTag   string
	tabListQuery string
	tabSaveTitle string
	tabSaveTags  []string
	tabNoFetch   bool
)

var tabCmd = &cobra.Command{
	Use:   "tab",
	Short: "Manage saved tabs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tabListRun()
	},
}

var tabListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List saved tabs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tabListRun()
	},
}

var tabSaveCmd = &cobra.Command{
	Use:   "save <url>",
	Short: "Save a tab, fetching its title when none is given",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tabSaveRun(args[0])
	},
}

var tabTagCmd = &cobra.Command{
	Use:   "tag <tab-id> <tag>",
	Short: "Apply a tag to a saved tab",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tabTagRun(args[0], args[1], true)
	},
}

var tabUntagCmd = &cobra.Command{
	Use:   "untag <tab-id> <tag>",
	Short: "Remove a tag from a saved tab",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tabTagRun(args[0], args[1], false)
	},
}

var tabDeleteCmd = &cobra.Command{
	Use:     "delete <tab-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a saved tab",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tabDeleteRun(args[0])
	},
}

func init() {
	tabListCmd.Flags().StringVar(&tabListTag, "tag", "", "Only tabs carrying this tag")
	tabListCmd.Flags().StringVarP(&tabListQuery, "query", "q", "", "Substring to match in title or URL")
	tabSaveCmd.Flags().StringVar(&tabSaveTitle, "title", "", "Tab title")
	tabSaveCmd.Flags().StringSliceVar(&tabSaveTags, "tag", nil, "Tags to apply (repeatable)")
	tabSaveCmd.Flags().BoolVar(&tabNoFetch, "no-fetch", false, "Do not fetch the page for its title")

	tabCmd.AddCommand(tabListCmd)
	tabCmd.AddCommand(tabSaveCmd)
	tabCmd.AddCommand(tabTagCmd)
	tabCmd.AddCommand(tabUntagCmd)
	tabCmd.AddCommand(tabDeleteCmd)
	rootCmd.AddCommand(tabCmd)
}

func tabListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	tags, err := s.ListTags(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]*models.Tag, len(tags))
	for _, t := range tags {
		byID[t.ID] = t
	}

	filter := store.TabListFilter{Query: tabListQuery}
	if tabListTag != "" {
		tag, err := findTagByName(ctx, s, tabListTag)
		if err != nil {
			return err
		}
		filter.TagID = tag.ID
	}

	tabs, err := s.ListTabs(ctx, filter)
	if err != nil {
		return err
	}
	if len(tabs) == 0 {
		ui.Info("No saved tabs.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "URL", "Tags", "Saved"})
	for _, t := range tabs {
		chips := make([]string, 0, len(t.TagIDs))
		for _, id := range t.TagIDs {
			if tag, ok := byID[id]; ok {
				chips = append(chips, output.TagChip(tag.Name, tag.Color))
			}
		}
		_ = table.Append([]string{
			t.ID,
			output.Truncate(t.Title, 40),
			output.Truncate(t.URL, 50),
			strings.Join(chips, " "),
			t.SavedAt.Format("2006-01-02"),
		})
	}
	_ = table.Render()
	return nil
}

func tabSaveRun(url string) error {
	url = strings.TrimSpace(url)
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	tab := &models.Tab{URL: url, Title: tabSaveTitle}
	if tab.Title == "" && !tabNoFetch {
		fctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		md, err := metadata.NewFetcher(nil).Fetch(fctx, url)
		cancel()
		if err != nil {
			ui.Warning("Could not fetch page title: %v", err)
		} else {
			tab.Title = md.Title
			tab.FavIconURL = md.FavIcon
		}
	}

	if dryRun {
		ui.DryRunMsg("Would save tab: %s (%s)", url, tab.Title)
		return nil
	}

	if err := s.SaveTab(ctx, tab); err != nil {
		return fmt.Errorf("save tab: %w", err)
	}
	for _, name := range tabSaveTags {
		tag, err := findTagByName(ctx, s, name)
		if err != nil {
			tag = &models.Tag{Name: strings.TrimSpace(name)}
			if err := s.CreateTag(ctx, tag); err != nil {
				return fmt.Errorf("create tag: %w", err)
			}
		}
		if err := s.TagTab(ctx, tab.ID, tag.ID); err != nil {
			return fmt.Errorf("tag tab: %w", err)
		}
	}

	ui.Success("Saved tab %s: %s", output.Cyan(tab.ID), tab.URL)
	return nil
}

func tabTagRun(tabID, tagName string, apply bool) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	tag, err := findTagByName(ctx, s, tagName)
	if err != nil {
		return err
	}

	if dryRun {
		if apply {
			ui.DryRunMsg("Would tag %s with %s", tabID, tag.Name)
		} else {
			ui.DryRunMsg("Would untag %s from %s", tabID, tag.Name)
		}
		return nil
	}

	if !apply {
		if err := s.UntagTab(ctx, tabID, tag.ID); err != nil {
			return fmt.Errorf("untag tab: %w", err)
		}
		ui.Success("Removed %s from %s", output.TagChip(tag.Name, tag.Color), tabID)
		return nil
	}
	if err := s.TagTab(ctx, tabID, tag.ID); err != nil {
		return fmt.Errorf("tag tab: %w", err)
	}
	ui.Success("Tagged %s with %s", tabID, output.TagChip(tag.Name, tag.Color))
	return nil
}

func tabDeleteRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would delete tab: %s", id)
		return nil
	}
	if err := s.DeleteTab(context.Background(), id); err != nil {
		return fmt.Errorf("delete tab: %w", err)
	}
	ui.Success("Deleted tab: %s", id)
	return nil
}
