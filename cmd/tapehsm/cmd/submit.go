package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/materials-commons/tapehsm/pkg/fileop"
	"github.com/materials-commons/tapehsm/pkg/hsmclient"
	"github.com/materials-commons/tapehsm/pkg/webapi"
	"github.com/spf13/cobra"
)

var (
	submitRecursive bool
	submitWait      bool
	submitReqNum    int
	migrateTarget   string
	migratePools    []string
	recallTarget    string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [flags] files...",
	Short: "Copy files to tape",
	Long: `Copies files to cartridges of one or more pools, one copy per pool. With target
migrated (the default) the disk data is released once every copy is on tape.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, files, err := prepareSubmit(args)
		if err != nil {
			return err
		}

		resp, err := c.Migrate(webapi.MigrateRequest{
			RequestNum: submitReqNum,
			Pools:      migratePools,
			Target:     migrateTarget,
			Files:      files,
		})
		if err != nil {
			return err
		}

		return afterSubmit(c, resp.RequestNum, resp.Result)
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall [flags] files...",
	Short: "Bring file data back from tape",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, files, err := prepareSubmit(args)
		if err != nil {
			return err
		}

		resp, err := c.Recall(webapi.RecallRequest{
			RequestNum: submitReqNum,
			Target:     recallTarget,
			Files:      files,
		})
		if err != nil {
			return err
		}

		return afterSubmit(c, resp.RequestNum, resp.Result)
	},
}

var trecallCmd = &cobra.Command{
	Use:   "trecall file",
	Short: "Recall one file ahead of everything else and wait for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, files, err := prepareSubmit(args)
		if err != nil {
			return err
		}

		p, err := c.TransparentRecall(files[0], recallTarget)
		if err != nil {
			return err
		}

		printProgress(p)
		if p.Failed != 0 {
			exitWithError("recall of %s failed", files[0])
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{migrateCmd, recallCmd} {
		cmd.Flags().BoolVarP(&submitRecursive, "recursive", "r", false, "include the files below directories")
		cmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "wait until the request is done")
		cmd.Flags().IntVarP(&submitReqNum, "request", "n", 0, "request number obtained with 'tapehsm reqnum'")
		rootCmd.AddCommand(cmd)
	}

	migrateCmd.Flags().StringSliceVarP(&migratePools, "pool", "p", nil, "pool to copy to, repeat for more copies")
	_ = migrateCmd.MarkFlagRequired("pool")
	migrateCmd.Flags().StringVarP(&migrateTarget, "target", "t", "migrated", "premigrated or migrated")

	recallCmd.Flags().StringVarP(&recallTarget, "target", "t", "resident", "resident or premigrated")

	trecallCmd.Flags().StringVarP(&recallTarget, "target", "t", "resident", "resident or premigrated")
	rootCmd.AddCommand(trecallCmd)
}

func prepareSubmit(args []string) (*hsmclient.Client, []string, error) {
	files, err := hsmclient.CollectFiles(args, submitRecursive)
	if err != nil {
		return nil, nil, err
	}

	c, err := newClient()
	if err != nil {
		return nil, nil, err
	}

	return c, files, nil
}

func afterSubmit(c *hsmclient.Client, reqNum int, result fileop.BatchResult) error {
	printSubmitted(reqNum, result)
	if !submitWait {
		return nil
	}

	return waitForRequest(c, reqNum)
}

// waitForRequest prefers the websocket feed and polls when the request is not active yet.
func waitForRequest(c *hsmclient.Client, reqNum int) error {
	for {
		err := c.Watch(context.Background(), reqNum, printProgress)
		switch {
		case err == nil:
			return nil
		case !hsmclient.IsNotFound(err):
			return err
		}

		p, err := c.RequestStatus(reqNum)
		switch {
		case err == nil && p.Done:
			printProgress(p)
			return nil
		case err != nil && !hsmclient.IsNotFound(err):
			return err
		}

		time.Sleep(time.Second)
	}
}

var reqnumCmd = &cobra.Command{
	Use:   "reqnum",
	Short: "Reserve a request number",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		reqNum, err := c.NextRequestNumber()
		if err != nil {
			return err
		}

		fmt.Println(reqNum)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reqnumCmd)
}
