// Package file provides file-based persistence for graph snapshots.
package file

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/persistence"
)

const graphsDir = "graphs"

// Persistence implements the persistence.Persistence interface using the file system.
// Each graph is stored as <root>/graphs/<id>.json.
type Persistence struct {
	root string
	mu   sync.RWMutex
	now  func() time.Time
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	return &Persistence{
		root: strings.Replace(root, "file://", "", 1),
		now:  time.Now,
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Graphs returns every stored graph ordered by creation time.
func (fp *Persistence) Graphs(ctx context.Context) ([]*models.GraphSnapshot, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	files, err := fs.Glob(os.DirFS(fp.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list graph files: %w", err)
	}

	graphs := make([]*models.GraphSnapshot, 0, len(files))

	for _, file := range files {
		graph, err := fp.read(strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		graphs = append(graphs, graph)
	}

	slices.SortFunc(graphs, func(a, b *models.GraphSnapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return graphs, nil
}

// SaveGraph writes a graph, replacing any previous version with the same ID.
func (fp *Persistence) SaveGraph(_ context.Context, graph *models.GraphSnapshot) error {
	if err := persistence.Prepare(graph, fp.now().UTC()); err != nil {
		return persistence.NewGraphError("SaveGraph", graphID(graph), err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	if err := os.MkdirAll(fp.dir(), 0o750); err != nil {
		return fmt.Errorf("failed to create graphs directory: %w", err)
	}

	if existing, err := fp.read(graph.ID); err == nil {
		graph.CreatedAt = existing.CreatedAt
	}

	data, err := json.MarshalIndent(graph, "", "  ")
	if err != nil {
		return persistence.NewGraphError("SaveGraph", graph.ID, err)
	}

	tmp := fp.path(graph.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return persistence.NewGraphError("SaveGraph", graph.ID, err)
	}

	if err := os.Rename(tmp, fp.path(graph.ID)); err != nil {
		return persistence.NewGraphError("SaveGraph", graph.ID, err)
	}

	return nil
}

// GraphByID loads a single graph.
func (fp *Persistence) GraphByID(_ context.Context, id string) (*models.GraphSnapshot, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fp.read(id)
}

// DeleteGraph removes a stored graph.
func (fp *Persistence) DeleteGraph(_ context.Context, id string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	err := os.Remove(fp.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return persistence.NewGraphError("DeleteGraph", id, persistence.ErrGraphNotFound)
	}

	if err != nil {
		return persistence.NewGraphError("DeleteGraph", id, err)
	}

	return nil
}

func (fp *Persistence) read(id string) (*models.GraphSnapshot, error) {
	data, err := os.ReadFile(fp.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewGraphError("GraphByID", id, persistence.ErrGraphNotFound)
	}

	if err != nil {
		return nil, persistence.NewGraphError("GraphByID", id, err)
	}

	var graph models.GraphSnapshot
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, persistence.NewGraphError("GraphByID", id, fmt.Errorf("failed to decode graph: %w", err))
	}

	return &graph, nil
}

func (fp *Persistence) dir() string {
	return filepath.Join(fp.root, graphsDir)
}

func (fp *Persistence) path(id string) string {
	return filepath.Join(fp.dir(), filepath.Base(id)+".json")
}

func graphID(graph *models.GraphSnapshot) string {
	if graph == nil {
		return ""
	}

	return graph.ID
}
