// Package wasi runs wasm packages with wazero. Contract code talks to the
// kernel through the "env" host module; every call is CBOR encoded and
// metered through the fee reserve.
package wasi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/types"
	cache "github.com/patrickmn/go-cache"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrInvalidCode       = errors.New("invalid wasm code")
	ErrMissingExport     = errors.New("wasm export not found")
	ErrMemoryAccess      = errors.New("wasm memory access out of range")
	ErrBufferTooSmall    = errors.New("host result exceeds guest buffer")
	ErrUnknownHostFunc   = errors.New("unknown host function")
	ErrExecutionTrapped  = errors.New("wasm execution trapped")
	errNoKernelInContext = errors.New("host call outside of an invocation")
)

// Guest exports every contract module provides besides its functions
const (
	exportAllocate   = "allocate"
	exportDeallocate = "deallocate"
	exportBuffer     = "get_buffer_address"
	startFunction    = "_initialize"
)

const (
	defaultCacheTTL  = 10 * time.Minute
	defaultCacheTick = time.Minute
)

// Config configures the wasm executor
type Config struct {
	// FeeTable converts wasm execution units into cost units
	FeeTable costing.FeeTable
	// MemoryLimitPages caps guest memory (64KiB pages); 0 keeps wazero's default
	MemoryLimitPages uint32
	// CacheTTL is how long a compiled module stays cached after its last use
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// DefaultConfig returns the executor defaults
func DefaultConfig() Config {
	return Config{
		FeeTable:         costing.DefaultFeeTable(),
		MemoryLimitPages: 256,
		CacheTTL:         defaultCacheTTL,
	}
}

// Executor implements core.Executor for wasm packages.
type Executor struct {
	runtime wazero.Runtime
	fees    costing.FeeTable
	modules *cache.Cache
	logger  *slog.Logger
}

// NewExecutor creates the wazero runtime and instantiates the host modules
func NewExecutor(ctx context.Context, cfg Config) (*Executor, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	runtime := wazero.NewRuntimeWithConfig(ctx, rc)

	e := &Executor{
		runtime: runtime,
		fees:    cfg.FeeTable,
		modules: cache.New(ttl, defaultCacheTick),
		logger:  logger,
	}
	e.modules.OnEvicted(func(_ string, v any) {
		if compiled, ok := v.(wazero.CompiledModule); ok {
			_ = compiled.Close(context.Background())
		}
	})

	if err := e.instantiateEnv(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate env module: %w", err)
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate wasi: %w", err)
	}
	return e, nil
}

// Close releases the runtime and every compiled module
func (e *Executor) Close(ctx context.Context) error {
	e.modules.Flush()
	return e.runtime.Close(ctx)
}

// loadCode reads the package code through the kernel so it is metered
func loadCode(kapi core.KernelAPI, pkg core.NodeID) ([]byte, error) {
	h, err := kapi.LockSubstate(pkg, core.MainPartition, core.PackageCodeKey, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: package %s: %v", ErrInvalidCode, pkg, err)
	}
	value, err := kapi.ReadSubstate(h)
	if err != nil {
		return nil, err
	}
	if err := kapi.CloseSubstate(h); err != nil {
		return nil, err
	}
	var code []byte
	if err := types.Decode(value, &code); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	return code, nil
}

// compile returns the compiled module for code, compiling it on first use
func (e *Executor) compile(ctx context.Context, code []byte) (wazero.CompiledModule, error) {
	sum := blake2b.Sum256(code)
	key := core.Hash(sum).String()
	if v, ok := e.modules.Get(key); ok {
		e.modules.SetDefault(key, v)
		return v.(wazero.CompiledModule), nil
	}
	compiled, err := e.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	e.modules.SetDefault(key, compiled)
	e.logger.Debug("wasm module compiled", "hash", key, "size", len(code))
	return compiled, nil
}

// Invoke implements core.Executor. Every invocation runs in a fresh module
// instance; the kernel API reaches the host functions through ctx.
func (e *Executor) Invoke(ctx context.Context, kapi core.KernelAPI, export core.ExportRef, input []byte) ([]byte, error) {
	code, err := loadCode(kapi, export.Blueprint.Package)
	if err != nil {
		return nil, err
	}
	compiled, err := e.compile(ctx, code)
	if err != nil {
		return nil, err
	}

	c := &call{api: kapi, pkg: export.Blueprint.Package, fees: e.fees}
	ctx = withCall(ctx, c)
	config := wazero.NewModuleConfig().WithName("").WithStartFunctions(startFunction)
	module, err := e.runtime.InstantiateModule(ctx, compiled, config)
	if err != nil {
		if c.err != nil {
			return nil, c.err
		}
		return nil, fmt.Errorf("%w: instantiate: %v", ErrExecutionTrapped, err)
	}
	defer module.Close(context.Background())

	output, err := e.callExport(ctx, module, export.Export, input)
	if c.err != nil {
		// a failed host call fails the invocation even if the guest carried on
		return nil, c.err
	}
	return output, err
}

func (e *Executor) callExport(ctx context.Context, module api.Module, name string, input []byte) ([]byte, error) {
	fn := module.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingExport, name)
	}
	allocate := module.ExportedFunction(exportAllocate)
	if allocate == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingExport, exportAllocate)
	}
	buffer := module.ExportedFunction(exportBuffer)
	if buffer == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingExport, exportBuffer)
	}

	results, err := allocate.Call(ctx, uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("%w: allocate: %v", ErrExecutionTrapped, err)
	}
	inputPtr := uint32(results[0])
	if len(input) > 0 && !module.Memory().Write(inputPtr, input) {
		return nil, fmt.Errorf("%w: input at %d", ErrMemoryAccess, inputPtr)
	}

	results, err = fn.Call(ctx, uint64(inputPtr), uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExecutionTrapped, name, err)
	}
	resultLen := int32(results[0])

	var out []byte
	if resultLen != 0 {
		results, err = buffer.Call(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrExecutionTrapped, exportBuffer, err)
		}
		n := resultLen
		if n < 0 {
			n = -n
		}
		if n > types.HostBufferSize {
			return nil, fmt.Errorf("%w: result of %d bytes", ErrBufferTooSmall, n)
		}
		data, ok := module.Memory().Read(uint32(results[0]), uint32(n))
		if !ok {
			return nil, fmt.Errorf("%w: result at %d len %d", ErrMemoryAccess, results[0], n)
		}
		out = append([]byte(nil), data...)
	}
	if resultLen < 0 {
		// a negative length carries the guest's error message
		return nil, core.NewApplicationError("WasmPanic", "%s: %s", name, string(out))
	}

	if deallocate := module.ExportedFunction(exportDeallocate); deallocate != nil {
		if _, err := deallocate.Call(ctx, uint64(inputPtr), uint64(len(input))); err != nil {
			return nil, fmt.Errorf("%w: deallocate: %v", ErrExecutionTrapped, err)
		}
	}
	return out, nil
}
