package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the offline event cache",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached events, newest first",
	RunE:  runEventsList,
}

var eventsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a cached event as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventsShow,
}

var eventsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every cached event",
	RunE:  runEventsPurge,
}

var listLimit int

func init() {
	eventsListCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum events to list (0 = all)")

	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsShowCmd)
	eventsCmd.AddCommand(eventsPurgeCmd)
}

func runEventsList(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(opts, zap.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.List(listLimit)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no cached events")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tLEVEL\tMESSAGE")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Timestamp.Local().Format(time.DateTime), e.Level, e.Message)
	}
	return w.Flush()
}

func runEventsShow(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(opts, zap.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	event, err := store.Get(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(event)
}

func runEventsPurge(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(opts, zap.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	count, err := store.Count()
	if err != nil {
		return err
	}
	if err := store.Purge(); err != nil {
		return fmt.Errorf("failed to purge events: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "purged %d event(s)\n", count)
	return nil
}
