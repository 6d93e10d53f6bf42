package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/briefmill/briefmill/checkpoint"
	"github.com/briefmill/briefmill/workflow"
)

// checkpointSubjectPrefix is the NATS subject root for checkpoint events.
// The checkpoint code is appended, e.g. briefmill.checkpoint.draft_complete.
const checkpointSubjectPrefix = "briefmill.checkpoint"

// CheckpointEvent is the message published when a checkpoint is reached.
type CheckpointEvent struct {
	WorkflowID     string          `json:"workflow_id"`
	OrderID        string          `json:"order_id"`
	CheckpointCode checkpoint.Code `json:"checkpoint_code"`
	Blocking       bool            `json:"blocking"`
	Phase          float64         `json:"phase"`
}

// NATSNotifier publishes checkpoint events for customer-facing channels.
// Publishing is fire and forget: a broker outage never stalls the engine.
type NATSNotifier struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewNATSNotifier creates a notifier over an established connection.
func NewNATSNotifier(nc *nats.Conn, logger *slog.Logger) *NATSNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSNotifier{nc: nc, logger: logger}
}

// CheckpointReached implements Notifier.
func (n *NATSNotifier) CheckpointReached(_ context.Context, wf *workflow.Workflow, inst *checkpoint.Instance) {
	event := CheckpointEvent{
		WorkflowID:     wf.ID,
		OrderID:        wf.OrderID,
		CheckpointCode: inst.CheckpointCode,
		Blocking:       inst.Blocking,
		Phase:          wf.CurrentPhase,
	}
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("failed to marshal checkpoint event", "error", err)
		return
	}
	subject := fmt.Sprintf("%s.%s", checkpointSubjectPrefix, inst.CheckpointCode)
	if err := n.nc.Publish(subject, data); err != nil {
		n.logger.Error("failed to publish checkpoint event",
			"subject", subject, "error", err)
	}
}
