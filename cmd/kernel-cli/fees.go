package main

import (
	"github.com/govm-net/kernel/api"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/core"
	"github.com/spf13/cobra"
)

var feesCmd = &cobra.Command{
	Use:   "fees",
	Short: "Show the fee configuration and the cost of common operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		fee := api.DefaultFeeConfig()
		if noFee {
			fee = api.NoFeeConfig()
		}
		table := costing.DefaultFeeTable()
		out := cmd.OutOrStdout()

		printer.Fprintf(out, "Cost unit price:   %s XRD\n", formatAmount(fee.CostUnitPrice))
		printer.Fprintf(out, "Cost unit limit:   %d\n", fee.CostUnitLimit)
		printer.Fprintf(out, "System loan:       %d\n", fee.SystemLoan)
		printer.Fprintf(out, "Tip percentage:    %d%%\n", fee.TipPercentage)
		printer.Fprintln(out, "Deferred costs:")
		printBreakdown(out, map[core.CostingReason]uint32{
			core.CostTxBaseCost:              costing.TxBaseCost,
			core.CostTxPayloadCost:           table.TxPayloadCost(1024),
			core.CostTxSignatureVerification: table.TxSignatureCost(1),
		})
		printer.Fprintln(out, "Execution costs (1KiB payloads):")
		printBreakdown(out, map[core.CostingReason]uint32{
			core.CostInvoke:        table.InvokeCost(1024),
			core.CostRunNative:     table.RunNativeCost(1024),
			core.CostRunWasm:       table.RunWasmCost(1_000_000),
			core.CostCreateNode:    table.CreateNodeCost(1024),
			core.CostDropNode:      table.DropNodeCost(1024),
			core.CostLockSubstate:  table.OpenSubstateCost(1024),
			core.CostReadSubstate:  table.ReadSubstateCost(false, 1024),
			core.CostWriteSubstate: table.WriteSubstateCost(1024),
			core.CostDropLock:      table.CloseSubstateCost(),
			core.CostStoreAccess:   table.StoreReadCost(1024),
		})
		return nil
	},
}
