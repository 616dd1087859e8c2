package models

import "time"

// ExecutionStatus is the state of a formula node's execution context.
type ExecutionStatus string

const (
	ExecutionStatusIdle    ExecutionStatus = "idle"
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusError   ExecutionStatus = "error"
)

// NodeState is the read-only per-node projection consumed by the rendering layer.
type NodeState struct {
	NodeID            string          `json:"node_id"`
	Status            ExecutionStatus `json:"status"`
	IsAutoRunning     bool            `json:"is_auto_running"`
	LastResult        any             `json:"last_result,omitempty"`
	LastExecutionTime *time.Time      `json:"last_execution_time,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	InputValues       map[string]any  `json:"input_values"`
	Version           uint64          `json:"version"` // Monotonic per node
}
