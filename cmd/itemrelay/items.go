package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/njoerd114/itemrelay/internal/model"
	syncp "github.com/njoerd114/itemrelay/internal/sync"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List local items",
	GroupID: "items",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(slog.LevelWarn)
		if err != nil {
			return err
		}
		defer a.close()

		items, err := a.engine.Items(cmd.Context())
		if err != nil {
			return err
		}
		if open, _ := cmd.Flags().GetBool("open"); open {
			kept := items[:0]
			for _, it := range items {
				if !it.Completed {
					kept = append(kept, it)
				}
			}
			items = kept
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderItems(items))
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:     "add <title>",
	Short:   "Create an item",
	GroupID: "items",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		item := model.Item{Title: strings.Join(args, " ")}
		if err := applyItemFlags(cmd, &item); err != nil {
			return err
		}

		a, err := openMutationApp()
		if err != nil {
			return err
		}
		defer a.close()

		saved, err := a.engine.Save(cmd.Context(), item)
		if err != nil {
			return err
		}
		a.handOff()
		reportMutation(cmd, "Created", saved, a.deferred)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	Short:   "Change an item's fields",
	GroupID: "items",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openMutationApp()
		if err != nil {
			return err
		}
		defer a.close()

		item, err := resolveItem(cmd.Context(), a.engine, args[0])
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("title") {
			item.Title, _ = cmd.Flags().GetString("title")
		}
		if err := applyItemFlags(cmd, item); err != nil {
			return err
		}

		updated, err := a.engine.Update(cmd.Context(), *item)
		if err != nil {
			return err
		}
		a.handOff()
		reportMutation(cmd, "Updated", updated, a.deferred)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete an item",
	GroupID: "items",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openMutationApp()
		if err != nil {
			return err
		}
		defer a.close()

		item, err := resolveItem(cmd.Context(), a.engine, args[0])
		if err != nil {
			return err
		}
		if err := a.engine.Delete(cmd.Context(), item.ID); err != nil {
			return err
		}
		if a.deferred {
			a.handOff()
			ok(cmd.OutOrStdout(), fmt.Sprintf("Deleted %q; queued for the running daemon", item.Title))
			return nil
		}

		after, err := a.engine.Get(cmd.Context(), item.ID)
		if err != nil {
			return err
		}
		if after == nil {
			ok(cmd.OutOrStdout(), fmt.Sprintf("Deleted %q", item.Title))
		} else {
			warn(cmd.OutOrStdout(), fmt.Sprintf("Deleted %q locally; the server will be updated on the next resync", item.Title))
		}
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("open", false, "hide completed items")

	for _, c := range []*cobra.Command{addCmd, editCmd} {
		c.Flags().StringP("description", "d", "", "free-form description")
		c.Flags().String("due", "", `due date (YYYY-MM-DD or RFC 3339, "none" to clear)`)
		c.Flags().StringP("priority", "p", "", "none, low, medium, high, or a number")
	}
	editCmd.Flags().StringP("title", "t", "", "new title")
	editCmd.Flags().Bool("done", false, "mark completed")
	editCmd.Flags().Bool("undone", false, "mark not completed")
	editCmd.MarkFlagsMutuallyExclusive("done", "undone")

	rootCmd.AddCommand(listCmd, addCmd, editCmd, rmCmd)
}

// applyItemFlags copies every changed item flag onto item.
func applyItemFlags(cmd *cobra.Command, item *model.Item) error {
	flags := cmd.Flags()
	if flags.Changed("description") {
		item.Description, _ = flags.GetString("description")
	}
	if flags.Changed("due") {
		raw, _ := flags.GetString("due")
		due, err := parseDue(raw)
		if err != nil {
			return err
		}
		item.DueDate = due
	}
	if flags.Changed("priority") {
		raw, _ := flags.GetString("priority")
		p, err := parsePriority(raw)
		if err != nil {
			return err
		}
		item.Priority = p
	}
	if flags.Lookup("done") != nil && flags.Changed("done") {
		item.Completed = true
	}
	if flags.Lookup("undone") != nil && flags.Changed("undone") {
		item.Completed = false
	}
	return nil
}

// resolveItem finds a live item by full id or by the short id shown in list.
func resolveItem(ctx context.Context, engine *syncp.Engine, ref string) (*model.Item, error) {
	item, err := engine.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if item != nil && item.Status != model.StatusPendingDelete {
		return item, nil
	}

	items, err := engine.Items(ctx)
	if err != nil {
		return nil, err
	}
	var matches []model.Item
	for _, it := range items {
		if strings.HasSuffix(it.ID, ref) {
			matches = append(matches, it)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no item matches %q", ref)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d items, use a longer id", ref, len(matches))
	}
}

func reportMutation(cmd *cobra.Command, verb string, item model.Item, deferred bool) {
	w := cmd.OutOrStdout()
	switch {
	case item.Status == model.StatusSynced:
		ok(w, fmt.Sprintf("%s %q (%s)", verb, item.Title, shortID(item.ID)))
		return
	case deferred:
		ok(w, fmt.Sprintf("%s %q (%s); queued for the running daemon", verb, item.Title, shortID(item.ID)))
		return
	}
	warn(w, fmt.Sprintf("%s %q (%s) locally; the server will be updated on the next resync",
		verb, item.Title, shortID(item.ID)))
}

// parseDue accepts a calendar date (local midnight), an RFC 3339 timestamp, or
// "none" to clear the due date.
func parseDue(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return nil, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid due date %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return &t, nil
}

// parsePriority accepts a level name or a non-negative integer.
func parsePriority(s string) (model.Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return model.PriorityNone, nil
	case "low":
		return model.PriorityLow, nil
	case "medium", "med":
		return model.PriorityMedium, nil
	case "high":
		return model.PriorityHigh, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid priority %q: use none, low, medium, high, or a number", s)
	}
	return model.Priority(n), nil
}
