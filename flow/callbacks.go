package flow

import "github.com/ellflow/ellflow-go/flow/relay"

// Callbacks receives execution lifecycle notifications.
//
// Every field is optional; nil callbacks are skipped. Callbacks fire from
// the run's dispatch goroutines, so implementations must be fast and
// thread-safe. They must not call back into the Executor for the same run
// (Resume and Cancel are safe from other goroutines).
//
// Example wiring progress to a UI transport:
//
//	cb := flow.Callbacks{
//	    OnNodeStart: func(nodeID string, node flow.Node) {
//	        sse.Send("node-start", nodeID, node.Label())
//	    },
//	    OnProgress: func(percent, total, completed int) {
//	        sse.Send("progress", percent)
//	    },
//	}
type Callbacks struct {
	// OnNodeStart fires when a node transitions to running.
	OnNodeStart func(nodeID string, node Node)

	// OnNodeComplete fires when a node completes, with its output.
	OnNodeComplete func(nodeID string, output map[string]interface{})

	// OnNodeError fires when a node fails or times out.
	OnNodeError func(nodeID string, err error)

	// OnStreamToken fires for every token relayed from a streaming node.
	OnStreamToken func(event relay.TokenEvent)

	// OnProgress fires after every node completes. Percent is
	// completed*100/total in integer arithmetic.
	OnProgress func(percent, total, completed int)

	// OnExecutionComplete fires once when the run reaches a terminal
	// status, completed or failed. A pause does not fire it; the run is
	// still live.
	OnExecutionComplete func(execution *WorkflowExecution)
}

func (c Callbacks) nodeStart(nodeID string, node Node) {
	if c.OnNodeStart != nil {
		c.OnNodeStart(nodeID, node)
	}
}

func (c Callbacks) nodeComplete(nodeID string, output map[string]interface{}) {
	if c.OnNodeComplete != nil {
		c.OnNodeComplete(nodeID, output)
	}
}

func (c Callbacks) nodeError(nodeID string, err error) {
	if c.OnNodeError != nil {
		c.OnNodeError(nodeID, err)
	}
}

func (c Callbacks) streamToken(event relay.TokenEvent) {
	if c.OnStreamToken != nil {
		c.OnStreamToken(event)
	}
}

func (c Callbacks) progress(percent, total, completed int) {
	if c.OnProgress != nil {
		c.OnProgress(percent, total, completed)
	}
}

func (c Callbacks) executionComplete(execution *WorkflowExecution) {
	if c.OnExecutionComplete != nil {
		c.OnExecutionComplete(execution)
	}
}
