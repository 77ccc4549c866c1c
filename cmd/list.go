package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/echotab/internal/models"
	"github.com/joescharf/echotab/internal/output"
)

var (
	listUser        string
	listDescription string
	listPrivate     bool
	listLinks       []string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Manage shareable link lists",
	Long: `Manage curated link lists. Lists are owned by a user id (--user or
the lists.default_user config key); public lists are served at /c/<id>.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listListRun()
	},
}

var listListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List a user's lists",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listListRun()
	},
}

var listShowCmd = &cobra.Command{
	Use:   "show <list-id>",
	Short: "Show a list and its links",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listShowRun(args[0])
	},
}

var listCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listCreateRun(args[0])
	},
}

var listPublishCmd = &cobra.Command{
	Use:   "publish <list-id>",
	Short: "Make a list public",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listSetPublicRun(args[0], true)
	},
}

var listUnpublishCmd = &cobra.Command{
	Use:   "unpublish <list-id>",
	Short: "Make a list private",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listSetPublicRun(args[0], false)
	},
}

var listUnpublishAllCmd = &cobra.Command{
	Use:   "unpublish-all",
	Short: "Make every list of the user private",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listUnpublishAllRun()
	},
}

var listDeleteCmd = &cobra.Command{
	Use:     "delete <list-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a list",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDeleteRun(args[0])
	},
}

func init() {
	listCmd.PersistentFlags().StringVar(&listUser, "user", "", "Owner user id (default: lists.default_user)")
	listCreateCmd.Flags().StringVarP(&listDescription, "description", "d", "", "Markdown description")
	listCreateCmd.Flags().BoolVar(&listPrivate, "private", false, "Create the list private")
	listCreateCmd.Flags().StringSliceVar(&listLinks, "link", nil, "Link URL to include (repeatable)")

	listCmd.AddCommand(listListCmd)
	listCmd.AddCommand(listShowCmd)
	listCmd.AddCommand(listCreateCmd)
	listCmd.AddCommand(listPublishCmd)
	listCmd.AddCommand(listUnpublishCmd)
	listCmd.AddCommand(listUnpublishAllCmd)
	listCmd.AddCommand(listDeleteCmd)
	rootCmd.AddCommand(listCmd)
}

// listOwner returns the user the list commands act as.
func listOwner() (string, error) {
	user := listUser
	if user == "" {
		user = viper.GetString("lists.default_user")
	}
	if user == "" {
		return "", fmt.Errorf("no user id: pass --user or set lists.default_user")
	}
	return user, nil
}

func shareURL(id string) string {
	return strings.TrimRight(viper.GetString("server.base_url"), "/") + "/c/" + id
}

func visibilityWord(public bool) string {
	if public {
		return "public"
	}
	return "private"
}

func listListRun() error {
	user, err := listOwner()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	lists, err := s.ListUserLists(context.Background(), user)
	if err != nil {
		return err
	}
	if len(lists) == 0 {
		ui.Info("No lists for %s.", user)
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Visibility", "Links", "Views", "Imports"})
	for _, l := range lists {
		_ = table.Append([]string{
			l.ID,
			output.Truncate(l.Title, 40),
			output.Visibility(l.Public),
			strconv.Itoa(len(l.Links)),
			strconv.FormatInt(l.ViewCount, 10),
			strconv.FormatInt(l.ImportCount, 10),
		})
	}
	_ = table.Render()
	return nil
}

func listShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	l, err := s.GetList(context.Background(), id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(l.Title), output.Visibility(l.Public))
	if l.Description != "" {
		fmt.Fprintf(ui.Out, "%s\n", l.Description)
	}
	fmt.Fprintf(ui.Out, "Owner: %s  Views: %d  Imports: %d\n", l.UserID, l.ViewCount, l.ImportCount)
	if l.Public {
		fmt.Fprintf(ui.Out, "Share: %s\n", shareURL(l.ID))
	}
	fmt.Fprintln(ui.Out)

	if len(l.Links) == 0 {
		ui.Info("No links.")
		return nil
	}
	table := ui.Table([]string{"#", "Title", "URL"})
	for i, link := range l.Links {
		_ = table.Append([]string{
			strconv.Itoa(i + 1),
			output.Truncate(link.Title, 40),
			output.Truncate(link.URL, 60),
		})
	}
	_ = table.Render()
	return nil
}

func listCreateRun(title string) error {
	user, err := listOwner()
	if err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title is required")
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	list := &models.List{
		UserID:      user,
		Title:       title,
		Description: listDescription,
		Public:      !listPrivate,
	}
	for _, u := range listLinks {
		if u = strings.TrimSpace(u); u != "" {
			list.Links = append(list.Links, models.Link{URL: u})
		}
	}

	if dryRun {
		ui.DryRunMsg("Would create list %q with %d links", title, len(list.Links))
		return nil
	}

	if err := s.CreateList(context.Background(), list); err != nil {
		return fmt.Errorf("create list: %w", err)
	}
	ui.Success("Created list %s: %s", output.Cyan(list.ID), list.Title)
	if list.Public {
		ui.Info("Share: %s", shareURL(list.ID))
	}
	return nil
}

func listSetPublicRun(id string, public bool) error {
	user, err := listOwner()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	l, err := s.GetList(ctx, id)
	if err != nil {
		return err
	}
	if l.Public == public {
		ui.Info("List %s is already %s", id, visibilityWord(public))
		return nil
	}

	if dryRun {
		ui.DryRunMsg("Would make list %s %s", id, visibilityWord(public))
		return nil
	}

	l.Public = public
	l.Links = nil
	if err := s.UpdateList(ctx, user, l); err != nil {
		return fmt.Errorf("update list: %w", err)
	}
	ui.Success("List %s is now %s", id, output.Visibility(public))
	return nil
}

func listUnpublishAllRun() error {
	user, err := listOwner()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would unpublish every list of %s", user)
		return nil
	}
	n, err := s.UnpublishUserLists(context.Background(), user)
	if err != nil {
		return err
	}
	ui.Success("Unpublished %d lists", n)
	return nil
}

func listDeleteRun(id string) error {
	user, err := listOwner()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would delete list: %s", id)
		return nil
	}
	if err := s.DeleteList(context.Background(), user, id); err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	ui.Success("Deleted list: %s", id)
	return nil
}
