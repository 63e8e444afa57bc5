// Package db provides a SQLite-backed ByteStore using GORM.
package db

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	defaultDBPath = "./kernel.db"
)

// DBSubstate represents one substate row
type DBSubstate struct {
	NodeID    string `gorm:"column:node_id;primaryKey;size:60"`
	Partition uint8  `gorm:"column:partition_num;primaryKey"`
	SortKey   string `gorm:"column:sort_key;primaryKey"` // hex of the substate key encoding
	Value     []byte `gorm:"column:value;type:blob;not null"`
}

// TableName specifies the table name for DBSubstate
func (DBSubstate) TableName() string {
	return "substates"
}

// DBCommit records every applied commit
type DBCommit struct {
	gorm.Model
	Version uint64 `gorm:"column:version;not null;uniqueIndex"`
	Sets    int    `gorm:"column:sets;not null"`
	Deletes int    `gorm:"column:deletes;not null"`
}

// TableName specifies the table name for DBCommit
func (DBCommit) TableName() string {
	return "commits"
}

// Store is a ByteStore persisted in SQLite
type Store struct {
	db *gorm.DB
}

func init() {
	store.Register(store.DBStoreType, func(params map[string]any) (store.ByteStore, error) {
		return NewStore(store.StringParam(params, "path", defaultDBPath))
	})
}

// NewStore opens (and migrates) the SQLite database at dbPath
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&DBSubstate{}, &DBCommit{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func rowKey(ref core.SubstateRef) (string, uint8, string) {
	return ref.Node.String(), uint8(ref.Partition), hex.EncodeToString(ref.Key.Bytes())
}

func (s *Store) GetSubstate(node core.NodeID, partition core.PartitionNumber, key core.SubstateKey) ([]byte, bool, error) {
	nodeID, part, sortKey := rowKey(core.SubstateRef{Node: node, Partition: partition, Key: key})
	var row DBSubstate
	result := s.db.Where("node_id = ? AND partition_num = ? AND sort_key = ?", nodeID, part, sortKey).Take(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to read substate: %w", result.Error)
	}
	return row.Value, true, nil
}

func (s *Store) ListSubstates(node core.NodeID, partition core.PartitionNumber) (store.Iterator, error) {
	var rows []DBSubstate
	result := s.db.Where("node_id = ? AND partition_num = ?", node.String(), uint8(partition)).
		Order("sort_key").Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list substates: %w", result.Error)
	}

	entries := make([]core.SubstateEntry, 0, len(rows))
	for _, row := range rows {
		raw, err := hex.DecodeString(row.SortKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidStoreKey, err)
		}
		key, err := core.SubstateKeyFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidStoreKey, err)
		}
		entries = append(entries, core.SubstateEntry{Key: key, Value: row.Value})
	}
	return store.NewSliceIterator(entries), nil
}

// Commit applies the updates in a single database transaction
func (s *Store) Commit(updates *store.StateUpdates) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		version, err := currentVersion(tx)
		if err != nil {
			return err
		}

		commit := DBCommit{Version: version + 1}
		for _, u := range updates.Updates() {
			nodeID, part, sortKey := rowKey(u.Ref)
			if u.Kind == store.UpdateDelete {
				result := tx.Where("node_id = ? AND partition_num = ? AND sort_key = ?", nodeID, part, sortKey).
					Delete(&DBSubstate{})
				if result.Error != nil {
					return fmt.Errorf("failed to delete substate %s: %w", u.Ref, result.Error)
				}
				commit.Deletes++
				continue
			}
			row := DBSubstate{NodeID: nodeID, Partition: part, SortKey: sortKey, Value: u.Value}
			result := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row)
			if result.Error != nil {
				return fmt.Errorf("failed to write substate %s: %w", u.Ref, result.Error)
			}
			commit.Sets++
		}

		if err := tx.Create(&commit).Error; err != nil {
			return fmt.Errorf("failed to record commit: %w", err)
		}
		slog.Debug("state committed", "version", commit.Version, "sets", commit.Sets, "deletes", commit.Deletes)
		return nil
	})
}

func currentVersion(db *gorm.DB) (uint64, error) {
	var version uint64
	result := db.Model(&DBCommit{}).Select("COALESCE(MAX(version), 0)").Scan(&version)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to read version: %w", result.Error)
	}
	return version, nil
}

func (s *Store) Version() (uint64, error) {
	return currentVersion(s.db)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
