// Package formulas holds the formula definitions a graph can reference by id.
package formulas

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/go-playground/validator/v10"
)

var (
	ErrFormulaExists  = errors.New("formula already registered")
	ErrInvalidFormula = errors.New("invalid formula definition")
)

// Repository resolves formula ids to definitions. It is safe for concurrent use.
type Repository struct {
	logger   *slog.Logger
	validate *validator.Validate
	mu       sync.RWMutex
	byID     map[string]*models.FormulaDefinition
}

func NewRepository(logger *slog.Logger) *Repository {
	return &Repository{
		logger:   logger.With("module", "formula_repository"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		byID:     make(map[string]*models.FormulaDefinition),
	}
}

// NewDefaultRepository returns a repository preloaded with the builtin formulas.
func NewDefaultRepository(logger *slog.Logger) *Repository {
	r := NewRepository(logger)

	for _, def := range Builtins() {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}

	return r
}

// Register adds a definition. Ids are unique.
func (r *Repository) Register(def *models.FormulaDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: nil definition", ErrInvalidFormula)
	}

	if err := r.validate.Struct(def); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidFormula, def.ID, err)
	}

	if def.Evaluate == nil {
		return fmt.Errorf("%w: %s has no evaluate function", ErrInvalidFormula, def.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrFormulaExists, def.ID)
	}

	r.byID[def.ID] = def
	r.logger.Debug("Registered formula", "formula_id", def.ID)

	return nil
}

// Lookup returns the definition registered under id.
func (r *Repository) Lookup(id string) (*models.FormulaDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byID[id]

	return def, ok
}

// List returns every definition ordered by id.
func (r *Repository) List() []*models.FormulaDefinition {
	r.mu.RLock()
	defs := make([]*models.FormulaDefinition, 0, len(r.byID))

	for _, def := range r.byID {
		defs = append(defs, def)
	}
	r.mu.RUnlock()

	slices.SortFunc(defs, func(a, b *models.FormulaDefinition) int {
		return strings.Compare(a.ID, b.ID)
	})

	return defs
}
