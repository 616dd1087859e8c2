package models

import "time"

// GraphSnapshot is a persisted copy of a graph's topology.
type GraphSnapshot struct {
	ID        string    `json:"id"                 yaml:"id"       validate:"required"`
	Name      string    `json:"name"               yaml:"name"`
	Nodes     []*Node   `json:"nodes"              yaml:"nodes"    validate:"dive"`
	Edges     []Edge    `json:"edges"              yaml:"edges"    validate:"dive"`
	AutoRun   []string  `json:"auto_run,omitempty" yaml:"auto_run"` // Formula nodes running automatically
	CreatedAt time.Time `json:"created_at"         yaml:"-"`
	UpdatedAt time.Time `json:"updated_at"         yaml:"-"`
}
