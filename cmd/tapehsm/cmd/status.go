package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status request-number",
	Short: "Show the progress of a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reqNum, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		if statusWatch {
			return waitForRequest(c, reqNum)
		}

		p, err := c.RequestStatus(reqNum)
		if err != nil {
			return err
		}

		printProgress(p)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "follow the request until it is done")
	rootCmd.AddCommand(statusCmd)
}
