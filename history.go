package exchange

import "time"

// NodeDescriptor identifies a processing node for history records.
type NodeDescriptor interface {
	WorkflowID() string
	NodeID() string
}

// Node is a plain NodeDescriptor.
type Node struct {
	Workflow string
	ID       string
}

func (n Node) WorkflowID() string { return n.Workflow }
func (n Node) NodeID() string     { return n.ID }

// HistoryRecord is one visited node. Elapsed stays zero until the node finishes.
type HistoryRecord struct {
	WorkflowID string
	NodeID     string
	Created    time.Time
	Elapsed    time.Duration
	Done       bool
}
