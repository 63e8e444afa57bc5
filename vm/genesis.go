package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/native"
	"github.com/govm-net/kernel/native/resource"
	"github.com/govm-net/kernel/store"
	"golang.org/x/crypto/blake2b"
)

// GenesisAccount is an account funded with XRD at genesis
type GenesisAccount struct {
	Owner   string
	Balance resource.Amount
}

// Genesis is the initial state written by Bootstrap
type Genesis struct {
	Accounts []GenesisAccount
}

// GenesisAddress derives the address of the i-th genesis node of an entity type
func GenesisAddress(entity core.EntityType, i int) core.NodeID {
	var buf [16]byte
	copy(buf[:8], "genesis/")
	binary.BigEndian.PutUint64(buf[8:], uint64(i))
	digest := blake2b.Sum256(append([]byte{byte(entity)}, buf[:]...))
	var id core.NodeID
	id[0] = byte(entity)
	copy(id[1:], digest[:core.NodeIDLength-1])
	return id
}

// Bootstrap writes the registered native packages, the XRD resource and the
// genesis accounts into an empty store. It returns the account addresses in
// the order of g.Accounts.
func (e *Engine) Bootstrap(g Genesis) ([]core.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	version, err := e.store.Version()
	if err != nil {
		return nil, err
	}
	if version != 0 {
		return nil, fmt.Errorf("%w: version %d", ErrAlreadyBootstrapped, version)
	}

	updates := store.NewStateUpdates()
	for _, p := range e.native.Packages() {
		if err := native.GenesisPackage(updates, p); err != nil {
			return nil, fmt.Errorf("failed to write package %s: %w", p.Address, err)
		}
	}

	var supply resource.Amount
	accounts := make([]core.NodeID, 0, len(g.Accounts))
	for i, acc := range g.Accounts {
		if supply, err = supply.Add(acc.Balance); err != nil {
			return nil, fmt.Errorf("genesis supply: %w", err)
		}
		account := GenesisAddress(core.EntityGlobalAccount, i)
		vault := GenesisAddress(core.EntityInternalVault, i)
		if err := resource.GenesisAccount(updates, account, vault, resource.XRD, acc.Balance, acc.Owner); err != nil {
			return nil, fmt.Errorf("failed to write account %d: %w", i, err)
		}
		accounts = append(accounts, account)
	}
	if err := resource.GenesisXRD(updates, supply); err != nil {
		return nil, fmt.Errorf("failed to write XRD: %w", err)
	}

	if err := e.store.Commit(updates); err != nil {
		return nil, fmt.Errorf("failed to commit genesis: %w", err)
	}
	e.logger.Info("genesis committed",
		"packages", len(e.native.Packages()),
		"accounts", len(accounts),
		"supply", supply)
	return accounts, nil
}
