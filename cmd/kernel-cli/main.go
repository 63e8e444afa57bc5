package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/govm-net/kernel/api"
	"github.com/govm-net/kernel/store"
	"github.com/govm-net/kernel/vm"
	"github.com/spf13/cobra"
)

var (
	storeType string
	storePath string
	noFee     bool
	noWasm    bool
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "kernel-cli",
	Short: "Transaction kernel command line tool",
	Long: `Transaction kernel command line tool for bootstrapping a state store,
executing transactions and inspecting the committed substates.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&storeType, "store", "s", string(store.LevelDBStoreType), "Store backend (memory, db, leveldb)")
	rootCmd.PersistentFlags().StringVarP(&storePath, "path", "p", ".kernel", "Store path")
	rootCmd.PersistentFlags().BoolVar(&noFee, "no-fee", false, "Execute with a zero cost unit price")
	rootCmd.PersistentFlags().BoolVar(&noWasm, "no-wasm", false, "Disable the wasm executor")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(feesCmd)
	rootCmd.AddCommand(wasmCmd)
}

// openEngine creates an engine from the persistent flags
func openEngine() (*vm.Engine, error) {
	config := vm.DefaultConfig()
	config.StoreType = store.StoreType(storeType)
	config.StoreParams = map[string]any{"path": storePath}
	config.DisableWasm = noWasm
	if noFee {
		config.Fee = api.NoFeeConfig()
	}
	engine, err := vm.NewEngine(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return engine, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
