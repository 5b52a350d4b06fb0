// Package export writes path exports and tree snapshots to a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"triagetree/internal/blob"
	"triagetree/internal/core"
)

const (
	// PathsFile holds one JSON path record per line.
	PathsFile = "paths.ndjson"
	// SnapshotFile holds the full tree snapshot.
	SnapshotFile = "snapshot.json"
	// ManifestFile describes the run and is written last.
	ManifestFile = "manifest.json"

	defaultPrefix = "exports"
	runIDLayout   = "20060102T150405.000Z"
)

// Source is the read side of the engine the exporter consumes.
type Source interface {
	ExportPaths(ctx context.Context) ([]core.PathRecord, error)
	Snapshot(ctx context.Context) (core.TreeSnapshot, error)
}

// Artifact records one stored blob of a run.
type Artifact struct {
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ETag        string    `json:"etag,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Manifest summarizes an export run.
type Manifest struct {
	RunID     string     `json:"run_id"`
	Actor     string     `json:"actor,omitempty"`
	Paths     int        `json:"paths"`
	Nodes     int        `json:"nodes"`
	Outcomes  int        `json:"outcomes"`
	Artifacts []Artifact `json:"artifacts"`
	CreatedAt time.Time  `json:"created_at"`
}

// Exporter renders the engine state and stores it under <prefix>/<run id>/.
type Exporter struct {
	source Source
	store  blob.Store
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes an Exporter.
type Option func(*Exporter)

// WithPrefix sets the key prefix runs are written under.
func WithPrefix(prefix string) Option {
	return func(e *Exporter) {
		if p := strings.Trim(prefix, "/"); p != "" {
			e.prefix = p
		}
	}
}

// WithClock overrides the time source used for run ids.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger used for run progress.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New returns an Exporter reading from source and writing to store.
func New(source Source, store blob.Store, opts ...Option) *Exporter {
	e := &Exporter{
		source: source,
		store:  store,
		prefix: defaultPrefix,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run writes the path export, the snapshot, and finally the manifest. A run
// whose manifest is missing did not complete.
func (e *Exporter) Run(ctx context.Context, actor string) (Manifest, error) {
	paths, err := e.source.ExportPaths(ctx)
	if err != nil {
		return Manifest{}, fmt.Errorf("export paths: %w", err)
	}
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot tree: %w", err)
	}
	created := e.now().UTC()
	m := Manifest{
		RunID:     created.Format(runIDLayout),
		Actor:     actor,
		Paths:     len(paths),
		Nodes:     len(snap.Nodes),
		Outcomes:  len(snap.Outcomes),
		CreatedAt: created,
	}

	ndjson, err := encodeNDJSON(paths)
	if err != nil {
		return Manifest{}, err
	}
	snapshot, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("encode snapshot: %w", err)
	}
	for _, part := range []struct {
		name, contentType string
		payload           []byte
	}{
		{PathsFile, "application/x-ndjson", ndjson},
		{SnapshotFile, "application/json", snapshot},
	} {
		art, err := e.put(ctx, m, part.name, part.contentType, part.payload)
		if err != nil {
			return Manifest{}, err
		}
		m.Artifacts = append(m.Artifacts, art)
	}

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := e.put(ctx, m, ManifestFile, "application/json", manifest); err != nil {
		return Manifest{}, err
	}
	e.logger.Info("export written", "run_id", m.RunID, "paths", m.Paths, "nodes", m.Nodes, "driver", string(e.store.Driver()))
	return m, nil
}

func (e *Exporter) put(ctx context.Context, m Manifest, name, contentType string, payload []byte) (Artifact, error) {
	key := e.key(m.RunID, name)
	info, err := e.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"run-id": m.RunID},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("store %s: %w", key, err)
	}
	return Artifact{
		Name:        name,
		Key:         key,
		ContentType: contentType,
		SizeBytes:   info.Size,
		ETag:        info.ETag,
		CreatedAt:   m.CreatedAt,
	}, nil
}

func (e *Exporter) key(runID, name string) string {
	return e.prefix + "/" + runID + "/" + name
}

// Runs lists completed run ids, newest first.
func (e *Exporter) Runs(ctx context.Context) ([]string, error) {
	infos, err := e.store.List(ctx, e.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	var runs []string
	for _, info := range infos {
		rest := strings.TrimPrefix(info.Key, e.prefix+"/")
		runID, name, ok := strings.Cut(rest, "/")
		if ok && name == ManifestFile {
			runs = append(runs, runID)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	return runs, nil
}

// Manifest reads the manifest of a completed run.
func (e *Exporter) Manifest(ctx context.Context, runID string) (Manifest, error) {
	_, rc, err := e.store.Get(ctx, e.key(runID, ManifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", runID, err)
	}
	defer rc.Close()
	var m Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", runID, err)
	}
	return m, nil
}

// ReadPaths decodes the path export of a run.
func (e *Exporter) ReadPaths(ctx context.Context, runID string) ([]core.PathRecord, error) {
	_, rc, err := e.store.Get(ctx, e.key(runID, PathsFile))
	if err != nil {
		return nil, fmt.Errorf("read paths %s: %w", runID, err)
	}
	defer rc.Close()
	var out []core.PathRecord
	dec := json.NewDecoder(rc)
	for {
		var rec core.PathRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("decode paths %s: %w", runID, err)
		}
		out = append(out, rec)
	}
}

func encodeNDJSON(paths []core.PathRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range paths {
		if err := enc.Encode(p); err != nil {
			return nil, fmt.Errorf("encode path: %w", err)
		}
	}
	return buf.Bytes(), nil
}
