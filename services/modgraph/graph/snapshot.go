// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/modgraph/services/modgraph/ast"
)

// BadgerDB key prefixes for graph snapshots.
const (
	keyPrefixSnap      = "graph:snap:"
	keyPrefixSnapIndex = "graph:snap:index:"
	keySuffixData      = ":data"
	keySuffixMeta      = ":meta"
	keySuffixLatest    = ":latest"
)

// ErrSnapshotNotFound indicates an unknown snapshot ID or an empty history.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotMetadata contains metadata about a saved graph snapshot.
type SnapshotMetadata struct {
	// SnapshotID is the unique identifier for this snapshot.
	// Derived from SHA256(ProjectRoot + BuiltAtMilli + RunID)[:16].
	SnapshotID string `json:"snapshot_id"`

	// RunID identifies the analysis run that produced the snapshot.
	RunID string `json:"run_id"`

	// ProjectRoot is the absolute path to the project root.
	ProjectRoot string `json:"project_root"`

	// ProjectHash is SHA256(ProjectRoot)[:16] for key grouping.
	ProjectHash string `json:"project_hash"`

	// GraphHash is the deterministic hash of the graph structure.
	GraphHash string `json:"graph_hash"`

	// Label is an optional human-readable label.
	Label string `json:"label,omitempty"`

	// CreatedAtMilli is when the snapshot was saved (Unix milliseconds UTC).
	CreatedAtMilli int64 `json:"created_at_milli"`

	NodeCount   int `json:"node_count"`
	EdgeCount   int `json:"edge_count"`
	CycleCount  int `json:"cycle_count"`
	UnusedCount int `json:"unused_count"`

	// SchemaVersion is the serialization schema version.
	SchemaVersion string `json:"schema_version"`

	// CompressedSize is the size of the gzip-compressed JSON payload in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA256 hash of the compressed payload.
	ContentHash string `json:"content_hash"`
}

// SnapshotFindings are the defects recorded alongside a graph snapshot.
type SnapshotFindings struct {
	Cycles []Cycle            `json:"cycles"`
	Unused []ast.Declaration `json:"unused"`
}

// Snapshot is a loaded snapshot.
type Snapshot struct {
	Metadata *SnapshotMetadata
	Graph    *ModuleGraph
	Findings SnapshotFindings
}

type snapshotPayload struct {
	Graph    *SerializableGraph `json:"graph"`
	Findings SnapshotFindings   `json:"findings"`
}

// OpenSnapshotDB opens the BadgerDB snapshot store in dir.
//
// Badger's own logging is disabled; the caller closes the DB.
func OpenSnapshotDB(dir string) (*badger.DB, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot dir must not be empty")
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store %s: %w", dir, err)
	}
	return db, nil
}

// SnapshotManager manages saving and loading graph snapshots in BadgerDB.
//
// Description:
//
//	Snapshots are write-only history: each analysis run can record its graph
//	and findings, and the snapshots commands list and diff them. Analysis
//	never reads a snapshot back.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type SnapshotManager struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewSnapshotManager creates a new SnapshotManager.
//
// Inputs:
//
//	db - An opened BadgerDB instance. Must not be nil.
//	logger - Logger for diagnostic output. Must not be nil.
//
// Outputs:
//
//	*SnapshotManager - The configured manager.
//	error - Non-nil if db or logger is nil.
func NewSnapshotManager(db *badger.DB, logger *slog.Logger) (*SnapshotManager, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &SnapshotManager{db: db, logger: logger}, nil
}

// Save persists a graph snapshot and its findings.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	g - The graph to snapshot. Must not be nil.
//	findings - Cycles and unused declarations of the run.
//	runID - Identifier of the run.
//	label - Optional human-readable label.
//
// Outputs:
//
//	*SnapshotMetadata - Metadata about the saved snapshot.
//	error - Non-nil if serialization or storage fails.
//
// Key Schema:
//
//	graph:snap:{projectHash}:{snapshotID}:data → gzip(JSON(payload))
//	graph:snap:{projectHash}:{snapshotID}:meta → JSON(SnapshotMetadata)
//	graph:snap:{projectHash}:latest            → snapshotID
//	graph:snap:index:{snapshotID}              → projectHash
func (m *SnapshotManager) Save(ctx context.Context, g *ModuleGraph, findings SnapshotFindings, runID, label string) (*SnapshotMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("save canceled: %w", err)
	}
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}

	sg := g.ToSerializable()
	jsonData, err := json.Marshal(snapshotPayload{Graph: sg, Findings: findings})
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	compressedData := compressed.Bytes()

	projectHash := ProjectHash(g.ProjectRoot)
	snapshotID := hashString(fmt.Sprintf("%s:%d:%s", g.ProjectRoot, g.BuiltAtMilli, runID))[:16]

	meta := &SnapshotMetadata{
		SnapshotID:     snapshotID,
		RunID:          runID,
		ProjectRoot:    g.ProjectRoot,
		ProjectHash:    projectHash,
		GraphHash:      sg.GraphHash,
		Label:          label,
		CreatedAtMilli: time.Now().UnixMilli(),
		NodeCount:      g.NodeCount(),
		EdgeCount:      g.EdgeCount(),
		CycleCount:     len(findings.Cycles),
		UnusedCount:    len(findings.Unused),
		SchemaVersion:  GraphSchemaVersion,
		CompressedSize: int64(len(compressedData)),
		ContentHash:    hashBytes(compressedData),
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	dataKey := dataKeyFor(projectHash, snapshotID)
	metaKey := metaKeyFor(projectHash, snapshotID)
	latestKey := keyPrefixSnap + projectHash + keySuffixLatest
	indexKey := keyPrefixSnapIndex + snapshotID

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataKey), compressedData); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set([]byte(metaKey), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set([]byte(latestKey), []byte(snapshotID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set([]byte(indexKey), []byte(projectHash)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", snapshotID),
		slog.String("run_id", runID),
		slog.Int("node_count", meta.NodeCount),
		slog.Int("edge_count", meta.EdgeCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)

	return meta, nil
}

// Load retrieves a snapshot by its ID.
//
// Outputs:
//
//	*Snapshot - The reconstructed graph, findings and metadata.
//	error - ErrSnapshotNotFound for unknown IDs, or a decoding error.
func (m *SnapshotManager) Load(ctx context.Context, snapshotID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load canceled: %w", err)
	}
	if snapshotID == "" {
		return nil, fmt.Errorf("snapshot ID must not be empty")
	}

	projectHash, err := m.readString(keyPrefixSnapIndex + snapshotID)
	if err != nil {
		return nil, fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	return m.loadByKeys(projectHash, snapshotID)
}

// LoadLatest loads the most recent snapshot of a project.
func (m *SnapshotManager) LoadLatest(ctx context.Context, projectHash string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load canceled: %w", err)
	}
	if projectHash == "" {
		return nil, fmt.Errorf("project hash must not be empty")
	}

	snapshotID, err := m.readString(keyPrefixSnap + projectHash + keySuffixLatest)
	if err != nil {
		return nil, fmt.Errorf("reading latest pointer for %s: %w", projectHash, err)
	}
	return m.loadByKeys(projectHash, snapshotID)
}

// List returns metadata for snapshots matching the optional project hash filter.
//
// Description:
//
//	Results are ordered by CreatedAtMilli descending (newest first). If
//	limit is <= 0 it defaults to 100. Corrupt metadata entries are skipped
//	with a warning.
func (m *SnapshotManager) List(ctx context.Context, projectHash string, limit int) ([]*SnapshotMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list canceled: %w", err)
	}
	if limit <= 0 {
		limit = 100
	}

	results := make([]*SnapshotMetadata, 0)

	prefix := keyPrefixSnap
	if projectHash != "" {
		prefix = keyPrefixSnap + projectHash + ":"
	}

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !isMetaKey(key) {
				continue
			}

			var meta SnapshotMetadata
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				m.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAtMilli > results[j].CreatedAtMilli
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a snapshot and, if it was the latest, the latest pointer.
func (m *SnapshotManager) Delete(ctx context.Context, snapshotID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete canceled: %w", err)
	}
	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}

	projectHash, err := m.readString(keyPrefixSnapIndex + snapshotID)
	if err != nil {
		return fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}

	latestKey := keyPrefixSnap + projectHash + keySuffixLatest
	keys := []string{
		dataKeyFor(projectHash, snapshotID),
		metaKeyFor(projectHash, snapshotID),
		keyPrefixSnapIndex + snapshotID,
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete([]byte(k)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("deleting %s: %w", k, err)
			}
		}

		item, err := txn.Get([]byte(latestKey))
		if err != nil {
			return nil
		}
		var currentLatest string
		_ = item.Value(func(val []byte) error {
			currentLatest = string(val)
			return nil
		})
		if currentLatest == snapshotID {
			if err := txn.Delete([]byte(latestKey)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("deleting latest pointer: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}

	m.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

// loadByKeys loads a snapshot using known projectHash and snapshotID.
func (m *SnapshotManager) loadByKeys(projectHash, snapshotID string) (*Snapshot, error) {
	var compressedData, metaJSON []byte

	err := m.db.View(func(txn *badger.Txn) error {
		dataItem, err := txn.Get([]byte(dataKeyFor(projectHash, snapshotID)))
		if err != nil {
			return fmt.Errorf("reading data for %s: %w", snapshotID, notFound(err))
		}
		compressedData, err = dataItem.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copying data for %s: %w", snapshotID, err)
		}

		metaItem, err := txn.Get([]byte(metaKeyFor(projectHash, snapshotID)))
		if err != nil {
			return fmt.Errorf("reading metadata for %s: %w", snapshotID, notFound(err))
		}
		metaJSON, err = metaItem.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copying metadata for %s: %w", snapshotID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata for %s: %w", snapshotID, err)
	}
	if actual := hashBytes(compressedData); meta.ContentHash != "" && meta.ContentHash != actual {
		return nil, fmt.Errorf("integrity check failed for %s: expected hash %s, got %s", snapshotID, meta.ContentHash, actual)
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot %s: %w", snapshotID, err)
	}
	defer gr.Close()

	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("reading decompressed data for %s: %w", snapshotID, err)
	}

	var payload snapshotPayload
	if err := json.Unmarshal(jsonData, &payload); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot %s: %w", snapshotID, err)
	}

	g, err := FromSerializable(payload.Graph)
	if err != nil {
		return nil, fmt.Errorf("reconstructing graph for %s: %w", snapshotID, err)
	}

	return &Snapshot{Metadata: &meta, Graph: g, Findings: payload.Findings}, nil
}

func (m *SnapshotManager) readString(key string) (string, error) {
	var value string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return notFound(err)
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	return value, err
}

// ProjectHash returns SHA256(projectRoot)[:16] for use as a key prefix.
func ProjectHash(projectRoot string) string {
	return hashString(projectRoot)[:16]
}

func notFound(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrSnapshotNotFound
	}
	return err
}

func dataKeyFor(projectHash, snapshotID string) string {
	return keyPrefixSnap + projectHash + ":" + snapshotID + keySuffixData
}

func metaKeyFor(projectHash, snapshotID string) string {
	return keyPrefixSnap + projectHash + ":" + snapshotID + keySuffixMeta
}

// hashString returns the hex-encoded SHA256 hash of a string.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// hashBytes returns the hex-encoded SHA256 hash of a byte slice.
func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// isMetaKey returns true if the key ends with the metadata suffix.
func isMetaKey(key string) bool {
	return len(key) > len(keySuffixMeta) && key[len(key)-len(keySuffixMeta):] == keySuffixMeta
}
