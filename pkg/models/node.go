// Package models defines the core graph models for the formula playground runtime.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// NodeType represents the kind of a graph node.
type NodeType string

const (
	NodeTypeInput     NodeType = "input"     // Manually edited value
	NodeTypeFormula   NodeType = "formula"   // Computed from a formula definition
	NodeTypeOutput    NodeType = "output"    // Mirrors its single upstream value
	NodeTypeObject    NodeType = "object"    // Aggregates upstream values into a map
	NodeTypeArray     NodeType = "array"     // Concatenates upstream values
	NodeTypeAPI       NodeType = "api"       // HTTP response producer
	NodeTypeStreaming NodeType = "streaming" // Streaming topic producer
)

// ErrUnknownNodeType is returned when decoding a node whose type is not supported.
var ErrUnknownNodeType = errors.New("unknown node type")

// IsValid reports whether the type is one of the supported node types.
func (t NodeType) IsValid() bool {
	switch t {
	case NodeTypeInput, NodeTypeFormula, NodeTypeOutput, NodeTypeObject,
		NodeTypeArray, NodeTypeAPI, NodeTypeStreaming:
		return true
	default:
		return false
	}
}

// IsProducer reports whether nodes of this type produce values from outside the graph.
func (t NodeType) IsProducer() bool {
	return t == NodeTypeInput || t == NodeTypeAPI || t == NodeTypeStreaming
}

// NodeData is the type-specific payload of a node. Each node type has exactly one variant.
type NodeData interface {
	NodeType() NodeType
	CurrentValue() any
	WithValue(value any) NodeData
}

// Node represents a typed vertex in the formula graph.
type Node struct {
	ID   string   `json:"id"   validate:"required"`
	Type NodeType `json:"type" validate:"required,oneof=input formula output object array api streaming"`
	Data NodeData `json:"data"`
}

// NewNode creates a node whose type is taken from its payload.
func NewNode(id string, data NodeData) *Node {
	return &Node{
		ID:   id,
		Type: data.NodeType(),
		Data: data,
	}
}

// Value returns the node's current value, or nil when the node carries no payload.
func (n *Node) Value() any {
	if n == nil || n.Data == nil {
		return nil
	}

	return n.Data.CurrentValue()
}

// Clone returns a shallow copy of the node.
func (n *Node) Clone() *Node {
	c := *n

	return &c
}

type nodeEnvelope struct {
	ID   string          `json:"id"`
	Type NodeType        `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalJSON decodes a node using its type as the discriminator for the payload.
func (n *Node) UnmarshalJSON(raw []byte) error {
	var env nodeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}

	data, err := newNodeData(env.Type)
	if err != nil {
		return fmt.Errorf("node %s: %w", env.ID, err)
	}

	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return fmt.Errorf("node %s: failed to decode %s payload: %w", env.ID, env.Type, err)
		}
	}

	n.ID = env.ID
	n.Type = env.Type
	n.Data = derefNodeData(data)

	return nil
}

// UnmarshalYAML decodes a node from YAML through its JSON representation.
func (n *Node) UnmarshalYAML(unmarshal func(any) error) error {
	var generic map[string]any
	if err := unmarshal(&generic); err != nil {
		return err
	}

	raw, err := json.Marshal(normalizeYAML(generic))
	if err != nil {
		return err
	}

	return n.UnmarshalJSON(raw)
}

// EmptyData returns the zero payload for a node type.
func EmptyData(t NodeType) (NodeData, error) {
	data, err := newNodeData(t)
	if err != nil {
		return nil, err
	}

	return derefNodeData(data), nil
}

func newNodeData(t NodeType) (any, error) {
	switch t {
	case NodeTypeInput:
		return &InputData{}, nil
	case NodeTypeFormula:
		return &FormulaData{}, nil
	case NodeTypeOutput:
		return &OutputData{}, nil
	case NodeTypeObject:
		return &ObjectData{}, nil
	case NodeTypeArray:
		return &ArrayData{}, nil
	case NodeTypeAPI:
		return &APIData{}, nil
	case NodeTypeStreaming:
		return &StreamingData{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, t)
	}
}

func derefNodeData(data any) NodeData {
	switch d := data.(type) {
	case *InputData:
		return *d
	case *FormulaData:
		return *d
	case *OutputData:
		return *d
	case *ObjectData:
		return *d
	case *ArrayData:
		return *d
	case *APIData:
		return *d
	case *StreamingData:
		return *d
	default:
		return nil
	}
}

// normalizeYAML converts map[any]any values produced by some YAML decoders into JSON-friendly maps.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeYAML(item)
		}

		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}

		return out
	case []any:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}

		return val
	default:
		return v
	}
}

// InputData is the payload of a manually edited input node.
type InputData struct {
	Value     any       `json:"value"`
	ValueType ValueType `json:"value_type,omitempty"`
}

func (d InputData) NodeType() NodeType { return NodeTypeInput }
func (d InputData) CurrentValue() any  { return d.Value }

func (d InputData) WithValue(value any) NodeData {
	d.Value = value

	return d
}

// FormulaData is the payload of a computed formula node. Value holds the last successful result.
type FormulaData struct {
	FormulaID string `json:"formula_id"`
	Value     any    `json:"value,omitempty"`
}

func (d FormulaData) NodeType() NodeType { return NodeTypeFormula }
func (d FormulaData) CurrentValue() any  { return d.Value }

func (d FormulaData) WithValue(value any) NodeData {
	d.Value = value

	return d
}

// OutputData is the payload of an output node.
type OutputData struct {
	Value any `json:"value"`
}

func (d OutputData) NodeType() NodeType { return NodeTypeOutput }
func (d OutputData) CurrentValue() any  { return d.Value }

func (d OutputData) WithValue(value any) NodeData {
	d.Value = value

	return d
}

// ObjectData is the payload of an object aggregator node.
type ObjectData struct {
	Value map[string]any `json:"value"`
}

func (d ObjectData) NodeType() NodeType { return NodeTypeObject }
func (d ObjectData) CurrentValue() any  { return d.Value }

func (d ObjectData) WithValue(value any) NodeData {
	m, _ := value.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}

	d.Value = m

	return d
}

// ArrayData is the payload of an array aggregator node.
type ArrayData struct {
	Value []any `json:"value"`
}

func (d ArrayData) NodeType() NodeType { return NodeTypeArray }
func (d ArrayData) CurrentValue() any  { return d.Value }

func (d ArrayData) WithValue(value any) NodeData {
	items, _ := value.([]any)
	if items == nil {
		items = []any{}
	}

	d.Value = items

	return d
}

// APIData is the payload of an HTTP producer node.
type APIData struct {
	Value    any      `json:"value"`
	Method   string   `json:"method,omitempty"`
	Path     string   `json:"path"`
	Body     string   `json:"body,omitempty"`
	Schedule string   `json:"schedule,omitempty"` // Cron spec for periodic refresh
	Handles  []string `json:"handles,omitempty"`  // Field paths synthesized from the last response
}

func (d APIData) NodeType() NodeType { return NodeTypeAPI }
func (d APIData) CurrentValue() any  { return d.Value }

func (d APIData) WithValue(value any) NodeData {
	d.Value = value

	return d
}

// StreamingData is the payload of a streaming producer node.
type StreamingData struct {
	Value   any      `json:"value"`
	Topic   string   `json:"topic"`
	Handles []string `json:"handles,omitempty"`
}

func (d StreamingData) NodeType() NodeType { return NodeTypeStreaming }
func (d StreamingData) CurrentValue() any  { return d.Value }

func (d StreamingData) WithValue(value any) NodeData {
	d.Value = value

	return d
}
