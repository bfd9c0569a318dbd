// Package oplog is the durable operation log.
//
// Rename and delete are multi-step transitions that span several storage
// batches. Before the first data-moving step, the transition is described by
// an operation record stored as a configuration entry in the same engine.
// The record is removed by the batch that completes the transition, so a
// record that survives a restart is exactly the signal that the transition
// must be resumed.
//
// Entry layout:
//
//	op/rename/<source path>      RenameOperation (JSON)
//	op/delete/<tombstone path>   DeleteOperation (JSON)
package oplog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/marmos91/pagefs/pkg/storage"
)

const (
	// RenamePrefix is the config-name prefix of rename operation records.
	RenamePrefix = "op/rename/"

	// DeletePrefix is the config-name prefix of delete operation records.
	DeletePrefix = "op/delete/"
)

// RenameOperation describes a rename whose physical move may not have run
// yet.
type RenameOperation struct {
	ID     uuid.UUID `json:"id"`
	Source string    `json:"source"`
	Target string    `json:"target"`

	// SourceVersion is the version of the record the rename was accepted
	// for. A record at Source with any other version is not moved.
	SourceVersion uint64 `json:"source_version"`

	// Metadata is the metadata the record carries at Target once moved
	Metadata storage.Metadata `json:"metadata"`
}

// DeleteOperation describes a tombstone awaiting physical purge.
type DeleteOperation struct {
	ID           uuid.UUID `json:"id"`
	OriginalPath string    `json:"original_path"`
	CurrentPath  string    `json:"current_path"`
}

// NewRenameOperation creates a rename record with a fresh ID for the record
// at source carrying sourceVersion.
func NewRenameOperation(source, target string, sourceVersion uint64, md storage.Metadata) *RenameOperation {
	return &RenameOperation{
		ID:            uuid.New(),
		Source:        source,
		Target:        target,
		SourceVersion: sourceVersion,
		Metadata:      md.Clone(),
	}
}

// NewDeleteOperation creates a delete record with a fresh ID.
func NewDeleteOperation(originalPath, tombstonePath string) *DeleteOperation {
	return &DeleteOperation{
		ID:           uuid.New(),
		OriginalPath: originalPath,
		CurrentPath:  tombstonePath,
	}
}

// RenameKey returns the config name holding the rename of source.
func RenameKey(source string) string { return RenamePrefix + source }

// DeleteKey returns the config name holding the purge of tombstonePath.
func DeleteKey(tombstonePath string) string { return DeletePrefix + tombstonePath }

// ============================================================================
// Rename operations
// ============================================================================

// PutRename persists op, replacing any pending rename of the same source.
func PutRename(tx storage.Txn, op *RenameOperation) error {
	return put(tx, RenameKey(op.Source), op)
}

// GetRename returns the pending rename of source, or storage.ErrNotFound.
func GetRename(tx storage.Txn, source string) (*RenameOperation, error) {
	var op RenameOperation
	if err := get(tx, RenameKey(source), &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// DeleteRename removes the pending rename of source.
func DeleteRename(tx storage.Txn, source string) error {
	return tx.DeleteConfig(RenameKey(source))
}

// ListRenames returns up to take pending renames, ordered by source path.
func ListRenames(tx storage.Txn, skip, take int) ([]*RenameOperation, error) {
	entries, err := tx.ListConfigs(RenamePrefix, skip, take)
	if err != nil {
		return nil, fmt.Errorf("failed to list rename operations: %w", err)
	}

	ops := make([]*RenameOperation, 0, len(entries))
	for _, e := range entries {
		var op RenameOperation
		if err := json.Unmarshal(e.Value, &op); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", e.Name, err)
		}
		ops = append(ops, &op)
	}
	return ops, nil
}

// ============================================================================
// Delete operations
// ============================================================================

// PutDelete persists op keyed by its tombstone path.
func PutDelete(tx storage.Txn, op *DeleteOperation) error {
	return put(tx, DeleteKey(op.CurrentPath), op)
}

// GetDelete returns the pending purge of tombstonePath, or storage.ErrNotFound.
func GetDelete(tx storage.Txn, tombstonePath string) (*DeleteOperation, error) {
	var op DeleteOperation
	if err := get(tx, DeleteKey(tombstonePath), &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// DeleteDelete removes the pending purge of tombstonePath.
func DeleteDelete(tx storage.Txn, tombstonePath string) error {
	return tx.DeleteConfig(DeleteKey(tombstonePath))
}

// ListDeletes returns up to take pending purges, ordered by tombstone path.
func ListDeletes(tx storage.Txn, skip, take int) ([]*DeleteOperation, error) {
	entries, err := tx.ListConfigs(DeletePrefix, skip, take)
	if err != nil {
		return nil, fmt.Errorf("failed to list delete operations: %w", err)
	}

	ops := make([]*DeleteOperation, 0, len(entries))
	for _, e := range entries {
		var op DeleteOperation
		if err := json.Unmarshal(e.Value, &op); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", e.Name, err)
		}
		ops = append(ops, &op)
	}
	return ops, nil
}

// IsOperationKey reports whether a config name belongs to the operation log.
func IsOperationKey(name string) bool {
	return strings.HasPrefix(name, RenamePrefix) || strings.HasPrefix(name, DeletePrefix)
}

func put(tx storage.Txn, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := tx.SetConfig(name, data); err != nil {
		return fmt.Errorf("failed to store %s: %w", name, err)
	}
	return nil
}

func get(tx storage.Txn, name string, v any) error {
	data, err := tx.GetConfig(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to load %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}
