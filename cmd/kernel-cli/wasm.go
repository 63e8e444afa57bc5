package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/native"
	"github.com/govm-net/kernel/native/resource"
	"github.com/govm-net/kernel/vm"
	"github.com/govm-net/kernel/wasi"
	"github.com/spf13/cobra"
)

var wasmCmd = &cobra.Command{
	Use:   "wasm",
	Short: "Inspect and publish wasm packages",
}

var wasmInspectCmd = &cobra.Command{
	Use:   "inspect <file.wasm>",
	Short: "List the exports and imports of a wasm module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read wasm file: %w", err)
		}
		info, err := wasi.Inspect(cmd.Context(), code)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Exports:")
		for _, f := range info.Exports {
			fmt.Fprintf(out, "  - %s\n", f)
		}
		for _, m := range info.Memories {
			fmt.Fprintf(out, "  - %s (memory)\n", m)
		}
		fmt.Fprintln(out, "Imports:")
		for _, f := range info.Imports {
			fmt.Fprintf(out, "  - %s\n", f)
		}
		return nil
	},
}

var (
	publishDefinition string
	publishPayer      string
	publishFee        string
	publishOwner      string
	publishName       string
)

// blueprintManifest maps blueprint names to function schemas
type blueprintManifest map[string]map[string]struct {
	Export string `json:"export"`
	Method string `json:"method,omitempty"` // "", "ref" or "ref_mut"
}

func (b blueprintManifest) definition() (core.PackageDefinition, error) {
	def := core.PackageDefinition{VM: core.VMWasm, Blueprints: make(map[string]core.BlueprintDefinition, len(b))}
	for name, functions := range b {
		bp := core.BlueprintDefinition{Functions: make(map[string]core.FunctionSchema, len(functions))}
		for fn, f := range functions {
			schema := core.FunctionSchema{Export: f.Export}
			switch f.Method {
			case "":
				schema.Receiver = core.ReceiverNone
			case "ref":
				schema.Receiver = core.ReceiverRef
			case "ref_mut":
				schema.Receiver = core.ReceiverRefMut
			default:
				return def, fmt.Errorf("%s::%s: unknown method kind %q", name, fn, f.Method)
			}
			if schema.Export == "" {
				schema.Export = fn
			}
			bp.Functions[fn] = schema
		}
		def.Blueprints[name] = bp
	}
	return def, nil
}

var wasmPublishCmd = &cobra.Command{
	Use:   "publish <file.wasm>",
	Short: "Publish a wasm package",
	Long: `Check a wasm module against its blueprint definition and publish it.
Example: kernel-cli wasm publish token.wasm -d blueprints.json --payer <account> --fee 5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read wasm file: %w", err)
		}
		data, err := os.ReadFile(publishDefinition)
		if err != nil {
			return fmt.Errorf("failed to read definition: %w", err)
		}
		var blueprints blueprintManifest
		if err := json.Unmarshal(data, &blueprints); err != nil {
			return fmt.Errorf("failed to parse definition: %w", err)
		}
		def, err := blueprints.definition()
		if err != nil {
			return err
		}
		info, err := wasi.Inspect(cmd.Context(), code)
		if err != nil {
			return err
		}
		if err := info.CheckDefinition(def); err != nil {
			return err
		}

		tx := &vm.Transaction{SignatureCount: 1}
		if publishPayer != "" {
			payer, err := core.NodeIDFromString(publishPayer)
			if err != nil {
				return fmt.Errorf("invalid payer: %w", err)
			}
			amount, err := parseAmount(publishFee)
			if err != nil {
				return err
			}
			lock, err := vm.CallMethod(payer, "lock_fee", resource.LockFeeArgs{Amount: amount})
			if err != nil {
				return err
			}
			tx.References = append(tx.References, payer)
			tx.Instructions = append(tx.Instructions, lock)
		}
		publish, err := vm.CallFunction(native.PackagePackageAddress, native.PackageBlueprint, "publish_wasm", native.PublishArgs{
			Code:       code,
			Definition: def,
			Metadata:   map[string]string{"name": publishName},
			Owner:      publishOwner,
		})
		if err != nil {
			return err
		}
		tx.Instructions = append(tx.Instructions, publish)
		return execute(cmd, tx, false)
	},
}

func init() {
	wasmPublishCmd.Flags().StringVarP(&publishDefinition, "definition", "d", "", "Blueprint definition JSON (required)")
	wasmPublishCmd.Flags().StringVar(&publishPayer, "payer", "", "Account paying the fee")
	wasmPublishCmd.Flags().StringVar(&publishFee, "fee", "10", "XRD locked from the payer")
	wasmPublishCmd.Flags().StringVar(&publishOwner, "owner", "", "Owner role of the package")
	wasmPublishCmd.Flags().StringVar(&publishName, "name", "", "Package name metadata")
	wasmPublishCmd.MarkFlagRequired("definition")

	wasmCmd.AddCommand(wasmInspectCmd)
	wasmCmd.AddCommand(wasmPublishCmd)
}
