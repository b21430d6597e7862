package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	stopMode    string
	showMetrics bool
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long: `Stops the daemon. graceful lets running units finish, terminate stops them after
the file they are on, force also abandons the transfers in flight.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		if err := c.Stop(stopMode); err != nil {
			return err
		}

		fmt.Printf("daemon stopping (%s)\n", stopMode)
		return nil
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Show whether the daemon runs and for how long",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		s, err := c.DaemonStatus()
		if err != nil {
			return err
		}

		state := green("running")
		if s.Stopping {
			state = yellow("stopping")
		}
		fmt.Printf("tapehsmd %d %s, started %s (%s)\n", s.PID, state,
			humanize.Time(s.StartTime), s.StartTime.Format(time.RFC3339))

		if !showMetrics {
			return nil
		}

		m, err := c.Metrics()
		if err != nil {
			return err
		}

		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)

		w := newTable()
		for _, name := range names {
			_, _ = fmt.Fprintf(w, "%s\t%v\n", name, m[name]["count"])
		}
		return w.Flush()
	},
}

func init() {
	stopCmd.Flags().StringVarP(&stopMode, "mode", "m", "graceful", "graceful, terminate or force")
	daemonCmd.Flags().BoolVar(&showMetrics, "metrics", false, "also print the scheduler counters")
	rootCmd.AddCommand(stopCmd, daemonCmd)
}
