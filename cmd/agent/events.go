package main

import (
	"errors"
	"fmt"

	"github.com/Hara602/hostSentry/internal/eventstore"
	"github.com/Hara602/hostSentry/internal/pipeline"
	"github.com/Hara602/hostSentry/internal/sysutil"
	"github.com/spf13/cobra"
)

func newEventsCmd(a *app) *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the most recent events from the sqlite event store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = a.cfg.Sinks.SQLite
			}
			if dbPath == "" {
				return errors.New("no event store configured (sinks.sqlite) and no --db given")
			}
			store, err := eventstore.Open(cmd.Context(), dbPath, sysutil.HostIdentity{}, nil)
			if err != nil {
				return err
			}
			defer store.Close()
			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for i := len(records) - 1; i >= 0; i-- {
				r := records[i]
				fmt.Printf("%s  (%s@%s)\n", pipeline.Format(r.Event), r.User, r.Host.Hostname)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "event store path (default sinks.sqlite)")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events")
	return cmd
}
