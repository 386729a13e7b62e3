package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"golang.org/x/term"

	"pvedns/api"
	"pvedns/config"
	"pvedns/logger"
	"pvedns/syncer"
	"pvedns/zone"
)

// syncAndPrint runs one cycle and writes the resulting records to w: a table
// when stdout is a terminal, JSON otherwise.
func syncAndPrint(ctx context.Context, cfg config.Config, w io.Writer) error {
	log := logger.NewStderrLogger(logger.ParseLevel(logLevel))
	pve, ros, err := sources(cfg, log)
	if err != nil {
		return err
	}
	builder := newBuilder(cfg, log)
	store := zone.NewStore(builder.Empty())
	s, err := syncer.New(syncer.Config{
		Inventory:      pve,
		Leases:         ros,
		Builder:        builder,
		Store:          store,
		Logger:         log,
		RequestTimeout: cfg.RequestTimeout(),
	})
	if err != nil {
		return err
	}
	if err := s.RunOnce(ctx); err != nil {
		return err
	}

	snap := store.Snapshot()
	views := make([]api.RecordView, 0, snap.Len())
	for _, rr := range snap.Records() {
		views = append(views, api.NewRecordView(rr))
	}
	if jsonOutput || !term.IsTerminal(int(os.Stdout.Fd())) {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	return printTable(w, views, s.Status())
}

func printTable(w io.Writer, views []api.RecordView, st syncer.Status) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTTL\tTYPE\tVALUE")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", v.Name, v.TTL, v.Type, v.Value)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d hosts, %d records\n", st.Hosts, st.Records)
	return err
}
