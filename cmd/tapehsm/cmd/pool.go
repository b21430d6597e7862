package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage cartridge pools",
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pools with their capacity",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		pools, err := c.ListPools()
		if err != nil {
			return err
		}

		w := newTable()
		_, _ = fmt.Fprintln(w, "POOL\tCARTRIDGES\tTOTAL\tFREE")
		for _, p := range pools {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", p.Name, p.NumTapes, sizeString(p.Total), sizeString(p.Remaining))
		}
		return w.Flush()
	},
}

var poolCreateCmd = &cobra.Command{
	Use:   "create name",
	Short: "Create an empty pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		if _, err := c.CreatePool(args[0]); err != nil {
			return err
		}

		fmt.Printf("pool %s created\n", args[0])
		return nil
	},
}

var poolDeleteCmd = &cobra.Command{
	Use:   "delete name",
	Short: "Delete an empty pool no request refers to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		if err := c.DeletePool(args[0]); err != nil {
			return err
		}

		fmt.Printf("pool %s deleted\n", args[0])
		return nil
	},
}

var poolAddCmd = &cobra.Command{
	Use:   "add pool cartridge...",
	Short: "Add cartridges to a pool",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		for _, tapeID := range args[1:] {
			if _, err := c.AddCartridge(args[0], tapeID); err != nil {
				return fmt.Errorf("%s: %w", tapeID, err)
			}
			fmt.Printf("%s added to %s\n", tapeID, args[0])
		}
		return nil
	},
}

var poolRemoveCmd = &cobra.Command{
	Use:   "remove pool cartridge...",
	Short: "Remove idle cartridges from a pool",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		for _, tapeID := range args[1:] {
			if _, err := c.RemoveCartridge(args[0], tapeID); err != nil {
				return fmt.Errorf("%s: %w", tapeID, err)
			}
			fmt.Printf("%s removed from %s\n", tapeID, args[0])
		}
		return nil
	},
}

func init() {
	poolCmd.AddCommand(poolListCmd, poolCreateCmd, poolDeleteCmd, poolAddCmd, poolRemoveCmd)
	rootCmd.AddCommand(poolCmd)
}
