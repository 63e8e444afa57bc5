package main

import (
	"fmt"
	"strings"

	"github.com/govm-net/kernel/vm"
	"github.com/spf13/cobra"
)

var genesisAccounts []string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap an empty store",
	Long: `Write the native packages, the XRD resource and the genesis accounts
into an empty store.
Example: kernel-cli init -p ./state --account alice=1000 --account bob=0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var genesis vm.Genesis
		for _, spec := range genesisAccounts {
			owner, amount, ok := strings.Cut(spec, "=")
			if !ok {
				return fmt.Errorf("invalid account %q, want owner=amount", spec)
			}
			balance, err := parseAmount(amount)
			if err != nil {
				return err
			}
			genesis.Accounts = append(genesis.Accounts, vm.GenesisAccount{Owner: owner, Balance: balance})
		}

		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		accounts, err := engine.Bootstrap(genesis)
		if err != nil {
			return fmt.Errorf("failed to bootstrap: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Store bootstrapped at %s (%s)\n", storePath, storeType)
		for i, account := range accounts {
			printer.Fprintf(out, "  %-10s %s %s XRD\n", genesis.Accounts[i].Owner, account, formatAmount(genesis.Accounts[i].Balance.Int()))
		}
		return nil
	},
}

func init() {
	initCmd.Flags().StringArrayVarP(&genesisAccounts, "account", "a", nil, "Genesis account as owner=amount (repeatable)")
}
