// Package native runs blueprints implemented in Go. Native packages are
// registered with an Executor under a fixed package address; their
// definitions are written to the store at genesis like any other package.
package native

import (
	"context"
	"fmt"
	"sort"

	"github.com/govm-net/kernel/core"
)

// Function is the Go implementation of one blueprint function or method.
type Function func(ctx context.Context, api core.KernelAPI, input []byte) ([]byte, error)

// FunctionDef binds an implementation to its receiver kind
type FunctionDef struct {
	Receiver core.ReceiverKind
	Fn       Function
}

// Package is a set of native blueprints published at a fixed address.
type Package struct {
	Address    core.NodeID
	Blueprints map[string]map[string]FunctionDef
}

// Definition returns the package definition stored in the package node.
// Export names equal function names.
func (p *Package) Definition() core.PackageDefinition {
	def := core.PackageDefinition{VM: core.VMNative, Blueprints: make(map[string]core.BlueprintDefinition, len(p.Blueprints))}
	for name, functions := range p.Blueprints {
		bp := core.BlueprintDefinition{Functions: make(map[string]core.FunctionSchema, len(functions))}
		for fn, fd := range functions {
			bp.Functions[fn] = core.FunctionSchema{Export: fn, Receiver: fd.Receiver}
		}
		def.Blueprints[name] = bp
	}
	return def
}

// BlueprintID returns the id of one of the package's blueprints
func (p *Package) BlueprintID(name string) core.BlueprintID {
	return core.BlueprintID{Package: p.Address, Blueprint: name}
}

type dispatchKey struct {
	pkg       core.NodeID
	blueprint string
	export    string
}

// Executor implements core.Executor for native packages.
type Executor struct {
	packages  map[core.NodeID]*Package
	functions map[dispatchKey]Function
}

// NewExecutor creates an executor with the given packages registered
func NewExecutor(pkgs ...*Package) (*Executor, error) {
	e := &Executor{
		packages:  make(map[core.NodeID]*Package),
		functions: make(map[dispatchKey]Function),
	}
	for _, p := range pkgs {
		if err := e.Register(p); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Register adds a package. Registering the same address twice fails.
func (e *Executor) Register(p *Package) error {
	if p.Address.EntityType() != core.EntityGlobalPackage {
		return fmt.Errorf("%w: %s is not a package address", core.ErrInvalidArgument, p.Address)
	}
	if _, ok := e.packages[p.Address]; ok {
		return fmt.Errorf("%w: package %s", core.ErrNodeAlreadyExists, p.Address)
	}
	e.packages[p.Address] = p
	for bp, functions := range p.Blueprints {
		for name, fd := range functions {
			e.functions[dispatchKey{pkg: p.Address, blueprint: bp, export: name}] = fd.Fn
		}
	}
	return nil
}

// Packages returns the registered packages ordered by address
func (e *Executor) Packages() []*Package {
	out := make([]*Package, 0, len(e.packages))
	for _, p := range e.packages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out
}

// Invoke implements core.Executor
func (e *Executor) Invoke(ctx context.Context, api core.KernelAPI, export core.ExportRef, input []byte) ([]byte, error) {
	fn, ok := e.functions[dispatchKey{pkg: export.Blueprint.Package, blueprint: export.Blueprint.Blueprint, export: export.Export}]
	if !ok {
		return nil, fmt.Errorf("%w: native %s::%s", core.ErrFunctionNotFound, export.Blueprint, export.Export)
	}
	return fn(ctx, api, input)
}
