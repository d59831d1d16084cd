package syncmgr

import (
	"sort"
	"sync"

	"noted/internal/changelog"
)

// incomingOp is a deserialized remote operation awaiting dispatch.
type incomingOp struct {
	OpID         string
	NoteID       string
	Kind         changelog.Kind
	Lamport      uint64
	OriginDevice string
	Payload      map[string]any
}

// pendingQueue holds update/delete operations that arrived before their
// note's create, keyed by note id. It is in-memory only: a same-process
// convergence optimization, not a durability guarantee. If the process
// restarts mid-gap, the normal at-least-once retransmission on the next
// sync cycle still converges correctly.
type pendingQueue struct {
	mu   sync.Mutex
	byID map[string][]incomingOp
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{byID: make(map[string][]incomingOp)}
}

func (p *pendingQueue) add(op incomingOp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[op.NoteID] = append(p.byID[op.NoteID], op)
}

// drain returns and removes every pending operation for noteID, sorted by
// Lamport order, ready to be re-dispatched immediately after a create for
// that note lands.
func (p *pendingQueue) drain(noteID string) []incomingOp {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := p.byID[noteID]
	delete(p.byID, noteID)
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Lamport != ops[j].Lamport {
			return ops[i].Lamport < ops[j].Lamport
		}
		return ops[i].OpID < ops[j].OpID
	})
	return ops
}
