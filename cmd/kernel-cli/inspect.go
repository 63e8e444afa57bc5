package main

import (
	"fmt"
	"math"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/native/resource"
	"github.com/govm-net/kernel/store"
	"github.com/govm-net/kernel/types"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <node>",
	Short: "List the committed substates of a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := core.NodeIDFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid node id: %w", err)
		}
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Node %s (%s)\n", id, id.EntityType())
		total := 0
		for p := 0; p <= math.MaxUint8; p++ {
			partition := core.PartitionNumber(p)
			it, err := engine.Store().ListSubstates(id, partition)
			if err != nil {
				return err
			}
			entries, err := store.ListAll(it)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				continue
			}
			fmt.Fprintf(out, "Partition %d:\n", partition)
			for _, e := range entries {
				var value any
				if err := types.Decode(e.Value, &value); err != nil {
					value = fmt.Sprintf("0x%x", e.Value)
				}
				fmt.Fprintf(out, "  %s = %v\n", e.Key, value)
			}
			total += len(entries)
		}
		if total == 0 {
			return fmt.Errorf("%w: %s", core.ErrNodeNotFound, id)
		}
		return nil
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance <account>",
	Short: "Show the XRD balance of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, err := core.NodeIDFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid account: %w", err)
		}
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		vault, found, err := resource.AccountVault(engine.Store(), account, resource.XRD)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintln(cmd.OutOrStdout(), "0 XRD")
			return nil
		}
		amount, err := resource.VaultBalance(engine.Store(), vault)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s XRD (vault %s)\n", formatAmount(amount.Int()), vault)
		return nil
	},
}
