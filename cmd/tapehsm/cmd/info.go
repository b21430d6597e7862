package cmd

import (
	"fmt"

	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/spf13/cobra"
)

var infoReqNum int

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "List what the daemon knows about requests, jobs, drives and cartridges",
}

var infoRequestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List request rows, one per request and cartridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		requests, err := c.ListRequests(infoReqNum)
		if err != nil {
			return err
		}

		w := newTable()
		_, _ = fmt.Fprintln(w, "REQUEST\tOPERATION\tTAPE\tPOOL\tTARGET\tSTATE\tREPLICAS")
		for _, r := range requests {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\n",
				r.RequestNum, r.Operation, r.TapeID, r.Pool, r.TargetState, r.State, r.Replicas)
		}
		return w.Flush()
	},
}

var infoJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List job rows, one per file and copy",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		jobs, err := c.ListJobs(infoReqNum)
		if err != nil {
			return err
		}

		w := newTable()
		_, _ = fmt.Fprintln(w, "REQUEST\tOPERATION\tSTATE\tTARGET\tTAPE\tSIZE\tFILE")
		for _, j := range jobs {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				j.RequestNum, j.Operation, coloredState(j.State), j.TargetState, j.TapeID,
				sizeString(uint64(j.FileSize)), j.FilePath)
			if j.State == hsm.Failed && j.LastError != "" {
				_, _ = fmt.Fprintf(w, "\t\t\t\t\t\t  %s\n", red(j.LastError))
			}
		}
		return w.Flush()
	},
}

var infoDrivesCmd = &cobra.Command{
	Use:   "drives",
	Short: "List tape drives",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		drives, err := c.ListDrives()
		if err != nil {
			return err
		}

		w := newTable()
		_, _ = fmt.Fprintln(w, "DRIVE\tDEVICE\tSLOT\tSTATUS\tBUSY\tCARTRIDGE\tWAITING")
		for _, d := range drives {
			waiting := ""
			if d.ToUnblock != hsm.OpNone {
				waiting = d.ToUnblock.String()
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\t%s\t%s\n",
				d.ID, d.DevName, d.Slot, d.Status, d.Busy, d.Cartridge, waiting)
		}
		return w.Flush()
	},
}

var infoCartridgesCmd = &cobra.Command{
	Use:   "cartridges",
	Short: "List cartridges with their capacity",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		cartridges, err := c.ListCartridges()
		if err != nil {
			return err
		}

		w := newTable()
		_, _ = fmt.Fprintln(w, "CARTRIDGE\tSLOT\tSTATE\tPOOL\tTOTAL\tFREE")
		for _, t := range cartridges {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
				t.ID, t.Slot, t.State, t.Pool, sizeString(t.Total), sizeString(t.Remaining))
		}
		return w.Flush()
	},
}

func init() {
	infoRequestsCmd.Flags().IntVarP(&infoReqNum, "request", "n", 0, "only this request")
	infoJobsCmd.Flags().IntVarP(&infoReqNum, "request", "n", 0, "only this request")
	infoCmd.AddCommand(infoRequestsCmd, infoJobsCmd, infoDrivesCmd, infoCartridgesCmd)
	rootCmd.AddCommand(infoCmd)
}
