package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event interface{ GetType() EventType }
		want  EventType
	}{
		{"node state", NodeStateChanged{}, NodeStateChangedEvent},
		{"stream status", StreamStatusChanged{}, StreamStatusChangedEvent},
		{"graph saved", GraphSaved{}, GraphSavedEvent},
		{"graph deleted", GraphDeleted{}, GraphDeletedEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.GetType())
		})
	}
}

func TestNewBaseEvent(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC()
	event := NewBaseEvent(GraphSavedEvent, "graph-1")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, GraphSavedEvent, event.Type)
	assert.Equal(t, "graph-1", event.GraphID)
	assert.False(t, event.Timestamp.Before(before))
	assert.NotNil(t, event.Metadata)
	assert.NotEqual(t, event.ID, NewBaseEvent(GraphSavedEvent, "graph-1").ID)
}

func TestNodeStateChanged_JSONSerialization(t *testing.T) {
	t.Parallel()

	original := NodeStateChanged{
		BaseEvent: NewBaseEvent(NodeStateChangedEvent, "graph-1"),
		State: models.NodeState{
			NodeID:        "total",
			Status:        models.ExecutionStatusSuccess,
			IsAutoRunning: true,
			LastResult:    42.0,
			InputValues:   map[string]any{"a": 6.0, "b": 7.0},
			Version:       3,
		},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"node.state.changed"`)
	assert.Contains(t, string(data), `"node_id":"total"`)
	assert.Contains(t, string(data), `"status":"success"`)

	var decoded NodeStateChanged
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.State.NodeID, decoded.State.NodeID)
	assert.Equal(t, original.State.LastResult, decoded.State.LastResult)
	assert.Equal(t, original.State.InputValues, decoded.State.InputValues)
	assert.Equal(t, uint64(3), decoded.State.Version)
}
