package models

// Edge is a directed, optionally field-addressed connection between two nodes.
type Edge struct {
	ID           string `json:"id"                      validate:"required"`
	Source       string `json:"source"                  validate:"required"`
	SourceHandle string `json:"source_handle,omitempty"` // Field path or output key on the source
	Target       string `json:"target"                  validate:"required,nefield=Source"`
	TargetHandle string `json:"target_handle,omitempty"` // Input key on the target
	Animated     bool   `json:"animated,omitempty"`      // UI hint: downstream formula is auto-running
}

// InputKey returns the key under which the edge delivers its value to the target.
// Edges without a target handle deliver under the source node id.
func (e Edge) InputKey() string {
	if e.TargetHandle != "" {
		return e.TargetHandle
	}

	return e.Source
}

// EdgeChangeType describes how an edge changed.
type EdgeChangeType string

const (
	EdgeAdded   EdgeChangeType = "add"
	EdgeRemoved EdgeChangeType = "remove"
)

// EdgeChange is a single add/remove mutation of the edge collection.
type EdgeChange struct {
	Type EdgeChangeType `json:"type" validate:"required,oneof=add remove"`
	Edge Edge           `json:"edge"`
}

// EdgeRef is one side of a dependency: the edge and the node on its other end.
type EdgeRef struct {
	EdgeID       string `json:"edge_id"`
	NodeID       string `json:"node_id"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// InputKey mirrors Edge.InputKey for an incoming reference.
func (r EdgeRef) InputKey() string {
	if r.TargetHandle != "" {
		return r.TargetHandle
	}

	return r.NodeID
}

// Dependencies is the derived dependency set of a node.
// InputNodes come from edges targeting the node, OutputNodes from edges leaving it.
type Dependencies struct {
	InputNodes  []EdgeRef `json:"input_nodes"`
	OutputNodes []EdgeRef `json:"output_nodes"`
}

// InputKeys returns the set of input keys fed by incoming edges.
func (d Dependencies) InputKeys() map[string]struct{} {
	keys := make(map[string]struct{}, len(d.InputNodes))
	for _, ref := range d.InputNodes {
		keys[ref.InputKey()] = struct{}{}
	}

	return keys
}
