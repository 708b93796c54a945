package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices of the selected runtime",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		n, err := rt.DeviceCount()
		if err != nil {
			return fmt.Errorf("count devices: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "runtime: %s\n", rt.Name())
		for i := 0; i < n; i++ {
			fmt.Fprintf(out, "  cuda:%d\n", i)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
