package wasi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/govm-net/kernel/core"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// host functions provided by the env module
var hostFunctions = map[string]bool{
	"call_host_set":                true,
	"call_host_get_buffer":         true,
	"consume_wasm_execution_units": true,
}

// FunctionInfo describes an imported or exported function
type FunctionInfo struct {
	Module  string
	Name    string
	Params  []string
	Results []string
}

func (f FunctionInfo) String() string {
	name := f.Name
	if f.Module != "" {
		name = f.Module + "." + f.Name
	}
	return fmt.Sprintf("%s(%s) -> (%s)", name, strings.Join(f.Params, ", "), strings.Join(f.Results, ", "))
}

// ModuleInfo lists what a wasm module exports and imports
type ModuleInfo struct {
	Exports  []FunctionInfo
	Imports  []FunctionInfo
	Memories []string
}

func functionInfo(module, name string, def api.FunctionDefinition) FunctionInfo {
	info := FunctionInfo{Module: module, Name: name}
	for _, t := range def.ParamTypes() {
		info.Params = append(info.Params, api.ValueTypeName(t))
	}
	for _, t := range def.ResultTypes() {
		info.Results = append(info.Results, api.ValueTypeName(t))
	}
	return info
}

// Inspect compiles code without instantiating it and lists its functions
func Inspect(ctx context.Context, code []byte) (*ModuleInfo, error) {
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	compiled, err := runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	defer compiled.Close(ctx)

	info := &ModuleInfo{}
	for name, def := range compiled.ExportedFunctions() {
		info.Exports = append(info.Exports, functionInfo("", name, def))
	}
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		info.Imports = append(info.Imports, functionInfo(module, name, def))
	}
	for name := range compiled.ExportedMemories() {
		info.Memories = append(info.Memories, name)
	}
	sort.Slice(info.Exports, func(i, j int) bool { return info.Exports[i].Name < info.Exports[j].Name })
	sort.Slice(info.Imports, func(i, j int) bool {
		if info.Imports[i].Module != info.Imports[j].Module {
			return info.Imports[i].Module < info.Imports[j].Module
		}
		return info.Imports[i].Name < info.Imports[j].Name
	})
	sort.Strings(info.Memories)
	return info, nil
}

// HasExport reports whether the module exports a function called name
func (m *ModuleInfo) HasExport(name string) bool {
	for _, f := range m.Exports {
		if f.Name == name {
			return true
		}
	}
	return false
}

// CheckDefinition verifies that the module can run under the executor: it
// exports the buffer protocol and every function the definition names, and
// imports nothing but host and wasi functions.
func (m *ModuleInfo) CheckDefinition(def core.PackageDefinition) error {
	if def.VM != core.VMWasm {
		return fmt.Errorf("%w: definition is for %s", ErrInvalidCode, def.VM)
	}
	if len(m.Memories) == 0 {
		return fmt.Errorf("%w: no exported memory", ErrMissingExport)
	}
	for _, name := range []string{exportAllocate, exportBuffer} {
		if !m.HasExport(name) {
			return fmt.Errorf("%w: %s", ErrMissingExport, name)
		}
	}
	for bp, blueprint := range def.Blueprints {
		for fn, schema := range blueprint.Functions {
			if !m.HasExport(schema.Export) {
				return fmt.Errorf("%w: %s for %s::%s", ErrMissingExport, schema.Export, bp, fn)
			}
		}
	}
	for _, imp := range m.Imports {
		switch {
		case imp.Module == "env" && hostFunctions[imp.Name]:
		case imp.Module == "wasi_snapshot_preview1":
		default:
			return fmt.Errorf("%w: %s.%s", ErrUnknownHostFunc, imp.Module, imp.Name)
		}
	}
	return nil
}
