// Package web provides HTTP request and response types for the playground API.
package web

import (
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/topology"
)

// ReplaceGraphRequest replaces the live node and edge collections.
type ReplaceGraphRequest struct {
	Nodes []*models.Node `json:"nodes" validate:"dive,required"`
	Edges []models.Edge  `json:"edges" validate:"dive"`
}

// ConnectRequest creates an edge. The edge ID is generated when omitted.
type ConnectRequest struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"                  validate:"required"`
	SourceHandle string `json:"source_handle,omitempty"`
	Target       string `json:"target"                  validate:"required,nefield=Source"`
	TargetHandle string `json:"target_handle,omitempty"`
}

func (r ConnectRequest) Edge() models.Edge {
	return models.Edge{
		ID:           r.ID,
		Source:       r.Source,
		SourceHandle: r.SourceHandle,
		Target:       r.Target,
		TargetHandle: r.TargetHandle,
	}
}

// ConnectResponse reports the stored edge and the edges it displaced.
type ConnectResponse struct {
	Edge     models.Edge   `json:"edge"`
	Replaced []models.Edge `json:"replaced"`
}

func NewConnectResponse(result topology.ConnectResult) ConnectResponse {
	replaced := result.Replaced
	if replaced == nil {
		replaced = []models.Edge{}
	}

	return ConnectResponse{Edge: result.Edge, Replaced: replaced}
}

// SetValueRequest edits a producer node's value. A null value is allowed.
type SetValueRequest struct {
	Value any `json:"value"`
}

type CreateContextRequest struct {
	FormulaID string `json:"formula_id" validate:"required"`
}

type UpdateInputsRequest struct {
	Inputs map[string]any `json:"inputs" validate:"required"`
}

type SaveGraphRequest struct {
	Name string `json:"name" validate:"max=255"`
}

type SetEndpointRequest struct {
	Endpoint string `json:"endpoint" validate:"omitempty,url"`
}

// StreamStatusResponse describes the shared streaming connection.
type StreamStatusResponse struct {
	Status   string `json:"status"`
	Endpoint string `json:"endpoint"`
	Topics   int    `json:"topics"`
}

// FormulaResponse is the public shape of a formula definition.
type FormulaResponse struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Inputs      []models.InputDescriptor  `json:"inputs"`
	Outputs     []models.OutputDescriptor `json:"outputs"`
}

func TransformFormulaResponse(def *models.FormulaDefinition) FormulaResponse {
	inputs := def.Inputs
	if inputs == nil {
		inputs = []models.InputDescriptor{}
	}

	outputs := def.Outputs
	if outputs == nil {
		outputs = []models.OutputDescriptor{}
	}

	return FormulaResponse{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Inputs:      inputs,
		Outputs:     outputs,
	}
}
