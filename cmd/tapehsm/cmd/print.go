package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/materials-commons/tapehsm/pkg/fileop"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/status"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func coloredState(s hsm.FileState) string {
	switch {
	case s == hsm.Failed:
		return red(s.String())
	case s.IsTransitional():
		return yellow(s.String())
	case s == hsm.Migrated:
		return green(s.String())
	default:
		return s.String()
	}
}

func printProgress(p status.Progress) {
	state := yellow("running")
	if p.Done {
		state = green("done")
		if p.Failed != 0 {
			state = red("done with failures")
		}
	}

	fmt.Printf("request %d: %s, %d resident, %d premigrated, %d migrated, %d failed\n",
		p.RequestNum, state, p.Resident, p.Premigrated, p.Migrated, p.Failed)
}

func printSubmitted(reqNum int, result fileop.BatchResult) {
	fmt.Printf("request %s: %d files queued\n", bold(reqNum), result.Added)

	for _, path := range result.Duplicates {
		fmt.Printf("  %s %s\n", yellow("duplicate"), path)
	}

	paths := make([]string, 0, len(result.Failed))
	for path := range result.Failed {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		fmt.Printf("  %s %s: %s\n", red("failed"), path, result.Failed[path])
	}
}

func sizeString(n uint64) string {
	return humanize.Bytes(n)
}
