package runtime

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/jonboulle/clockwork"
)

// executionContext is the runtime state of one formula node. All fields are guarded by mu.
type executionContext struct {
	mu sync.Mutex

	nodeID string
	def    *models.FormulaDefinition

	inputValues       map[string]any
	status            models.ExecutionStatus
	autoRun           bool
	lastResult        any
	lastExecutionTime *time.Time
	errorMessage      string

	// generation counts started runs; active is the generation in flight, 0 when idle.
	generation uint64
	active     uint64
	applied    uint64
	dirty      bool
	cancel     context.CancelFunc
	timeout    clockwork.Timer
	debounce   clockwork.Timer
	disposed   bool
	waiters    []chan struct{}
	version    uint64
}

func newExecutionContext(nodeID string, def *models.FormulaDefinition) *executionContext {
	return &executionContext{
		nodeID:      nodeID,
		def:         def,
		inputValues: make(map[string]any),
		status:      models.ExecutionStatusIdle,
	}
}

func (ec *executionContext) running() bool {
	return ec.active != 0
}

// busy reports whether a run is in flight or about to start.
func (ec *executionContext) busy() bool {
	return ec.active != 0 || ec.debounce != nil
}

// stateLocked snapshots the context under a new projection version.
func (ec *executionContext) stateLocked(version uint64) models.NodeState {
	ec.version = version

	return ec.currentStateLocked()
}

func (ec *executionContext) currentStateLocked() models.NodeState {
	return models.NodeState{
		NodeID:            ec.nodeID,
		Status:            ec.status,
		IsAutoRunning:     ec.autoRun,
		LastResult:        ec.lastResult,
		LastExecutionTime: ec.lastExecutionTime,
		ErrorMessage:      ec.errorMessage,
		InputValues:       maps.Clone(ec.inputValues),
		Version:           ec.version,
	}
}

func (ec *executionContext) stopTimersLocked() {
	if ec.timeout != nil {
		ec.timeout.Stop()
		ec.timeout = nil
	}

	if ec.debounce != nil {
		ec.debounce.Stop()
		ec.debounce = nil
	}
}

// finishRunLocked releases the single-flight slot.
func (ec *executionContext) finishRunLocked() {
	ec.active = 0

	if ec.cancel != nil {
		ec.cancel()
		ec.cancel = nil
	}

	if ec.timeout != nil {
		ec.timeout.Stop()
		ec.timeout = nil
	}
}

// takeWaitersLocked hands over the Await channels once nothing is in flight or pending.
// Callers close them after publishing the state they were waiting for.
func (ec *executionContext) takeWaitersLocked() []chan struct{} {
	if ec.busy() && !ec.disposed {
		return nil
	}

	waiters := ec.waiters
	ec.waiters = nil

	return waiters
}

func release(waiters []chan struct{}) {
	for _, ch := range waiters {
		close(ch)
	}
}
