package main

import (
	"fmt"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/native/resource"
	"github.com/govm-net/kernel/types"
	"github.com/govm-net/kernel/vm"
	"github.com/spf13/cobra"
)

var (
	transferFrom    string
	transferTo      string
	transferAmount  string
	transferFee     string
	transferNonce   uint64
	transferPreview bool
)

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Transfer XRD between accounts",
	Long: `Lock a fee, withdraw XRD from one account and deposit it into another.
Example: kernel-cli transfer --from <account> --to <account> --amount 40 --fee 1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseNodeIDs([]string{transferFrom, transferTo})
		if err != nil {
			return err
		}
		tx, err := buildTransfer(ids[0], ids[1], transferAmount, transferFee, transferNonce)
		if err != nil {
			return err
		}
		return execute(cmd, tx, transferPreview)
	},
}

func buildTransfer(from, to core.NodeID, amount, fee string, nonce uint64) (*vm.Transaction, error) {
	value, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}
	tx := &vm.Transaction{Nonce: nonce, References: []core.NodeID{from, to}, SignatureCount: 1}
	if fee != "" {
		locked, err := parseAmount(fee)
		if err != nil {
			return nil, err
		}
		ins, err := vm.CallMethod(from, "lock_fee", resource.LockFeeArgs{Amount: locked})
		if err != nil {
			return nil, err
		}
		tx.Instructions = append(tx.Instructions, ins)
	}
	withdrawn := uint64(len(tx.Instructions))
	withdraw, err := vm.CallMethod(from, "withdraw", resource.AmountArgs{Resource: resource.XRD, Amount: value})
	if err != nil {
		return nil, err
	}
	deposit, err := vm.CallMethod(to, "deposit", types.ResultOwn{Instruction: withdrawn})
	if err != nil {
		return nil, err
	}
	tx.Instructions = append(tx.Instructions, withdraw, deposit)
	return tx, nil
}

// execute runs (or previews) a transaction and prints the receipt
func execute(cmd *cobra.Command, tx *vm.Transaction, preview bool) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	run := engine.ExecuteTransaction
	if preview {
		run = engine.Preview
	}
	receipt, err := run(cmd.Context(), tx)
	if err != nil {
		return fmt.Errorf("failed to execute transaction: %w", err)
	}
	printReceipt(cmd.OutOrStdout(), receipt)
	if !receipt.Outcome.IsCommitted() && !(preview && receipt.Outcome == vm.OutcomeAbort) {
		return fmt.Errorf("transaction %s", receipt.Outcome)
	}
	return nil
}

func init() {
	transferCmd.Flags().StringVar(&transferFrom, "from", "", "Sending account (required)")
	transferCmd.Flags().StringVar(&transferTo, "to", "", "Receiving account (required)")
	transferCmd.Flags().StringVar(&transferAmount, "amount", "", "XRD amount (required)")
	transferCmd.Flags().StringVar(&transferFee, "fee", "", "XRD locked from the sender to pay the fee")
	transferCmd.Flags().Uint64Var(&transferNonce, "nonce", 0, "Transaction nonce")
	transferCmd.Flags().BoolVar(&transferPreview, "preview", false, "Stop once the fee loan is repaid and commit nothing")
	transferCmd.MarkFlagRequired("from")
	transferCmd.MarkFlagRequired("to")
	transferCmd.MarkFlagRequired("amount")
}
