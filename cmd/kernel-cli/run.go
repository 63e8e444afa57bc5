package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/vm"
	"github.com/spf13/cobra"
)

// manifest is the JSON form of a transaction. Inputs are hex encoded CBOR.
type manifest struct {
	Nonce          uint64   `json:"nonce"`
	References     []string `json:"references"`
	SignatureCount int      `json:"signature_count"`
	TipPercentage  uint16   `json:"tip_percentage"`
	CostUnitLimit  uint32   `json:"cost_unit_limit"`
	Instructions   []struct {
		Package   string `json:"package,omitempty"`
		Blueprint string `json:"blueprint,omitempty"`
		Receiver  string `json:"receiver,omitempty"`
		Function  string `json:"function"`
		Input     string `json:"input,omitempty"`
	} `json:"instructions"`
}

func (m *manifest) transaction() (*vm.Transaction, error) {
	refs, err := parseNodeIDs(m.References)
	if err != nil {
		return nil, err
	}
	tx := &vm.Transaction{
		Nonce:          m.Nonce,
		References:     refs,
		SignatureCount: m.SignatureCount,
		TipPercentage:  m.TipPercentage,
		CostUnitLimit:  m.CostUnitLimit,
	}
	for i, ins := range m.Instructions {
		input, err := hex.DecodeString(ins.Input)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: invalid input: %w", i, err)
		}
		out := vm.Instruction{Blueprint: ins.Blueprint, Function: ins.Function, Input: input}
		if ins.Package != "" {
			if out.Package, err = core.NodeIDFromString(ins.Package); err != nil {
				return nil, fmt.Errorf("instruction %d: invalid package: %w", i, err)
			}
		}
		if ins.Receiver != "" {
			receiver, err := core.NodeIDFromString(ins.Receiver)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: invalid receiver: %w", i, err)
			}
			out.Receiver = &receiver
		}
		tx.Instructions = append(tx.Instructions, out)
	}
	return tx, nil
}

var (
	runEncoded bool
	runPreview bool
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Execute a transaction file",
	Long: `Execute a transaction given as a JSON manifest, or as a CBOR encoded
transaction with --encoded.
Example: kernel-cli run tx.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read transaction: %w", err)
		}
		var tx *vm.Transaction
		if runEncoded {
			tx, err = vm.DecodeTransaction(data)
		} else {
			var m manifest
			if err = json.Unmarshal(data, &m); err != nil {
				return fmt.Errorf("failed to parse manifest: %w", err)
			}
			tx, err = m.transaction()
		}
		if err != nil {
			return err
		}
		return execute(cmd, tx, runPreview)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runEncoded, "encoded", false, "The file holds a CBOR encoded transaction")
	runCmd.Flags().BoolVar(&runPreview, "preview", false, "Stop once the fee loan is repaid and commit nothing")
}
