package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/ganrad/blob-tier-migrator/internal/config"
	"github.com/ganrad/blob-tier-migrator/internal/journal"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	journalPath := flag.String("journal", "tier-migrator.db", "path to the migration journal")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "version":
		fmt.Printf("btm-ctl %s\n", version)
	case "runs":
		cmdRuns(*journalPath)
	case "batches":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: btm-ctl batches <runID>")
			os.Exit(1)
		}
		cmdBatches(*journalPath, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `btm-ctl - blob tier migration journal inspector

Usage:
  btm-ctl [flags] <command> [args]

Commands:
  runs              List recorded migration runs
  batches <runID>   List batches submitted by a run
  version           Show version

Flags:
  -journal string   Journal path (default "tier-migrator.db")`)
}

func openJournal(path string) *journal.BoltStore {
	store, err := journal.NewBoltStore(config.JournalConfig{Path: path}, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening journal: %v\n", err)
		os.Exit(1)
	}
	return store
}

func cmdRuns(path string) {
	store := openJournal(path)
	defer store.Close()

	runs, err := store.ListRuns(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tCONTAINER\tSOURCE\tTARGET\tSCANNED\tPROCESSED\tBATCHES\tFAILED\tSTATUS")
	for _, r := range runs {
		status := "running"
		switch {
		case r.Completed && r.Error != "":
			status = "error"
		case r.Completed && r.DryRun:
			status = "dry-run"
		case r.Completed:
			status = "done"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Container,
			r.SourceTier, r.TargetTier, r.Scanned, r.Processed, r.Batches, r.Failed, status)
	}
	w.Flush()
}

func cmdBatches(path, runArg string) {
	runID, err := strconv.ParseUint(runArg, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid run ID %q\n", runArg)
		os.Exit(1)
	}

	store := openJournal(path)
	defer store.Close()

	batches, err := store.ListBatches(context.Background(), runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BATCH\tSUBMITTED\tBLOBS\tTARGET\tSTATUS\tFAILED")
	for _, b := range batches {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%d\n",
			b.BatchID, b.SubmittedAt.Format("15:04:05"), len(b.Blobs),
			b.TargetTier, b.Status, len(b.FailedBlobs))
	}
	w.Flush()
}
