package engine

import (
	"fmt"
	"sort"

	"github.com/weavelang/weave/pkgs/ast"
	"github.com/weavelang/weave/pkgs/eval"
)

const snapshotVersion = 1

// FrameState is a serializable cursor frame: the index of the
// conditional node in the parent frame that opened it, which branch was
// taken, and the next-node index within the frame. The root frame of a
// passage has NodeIndex -1.
type FrameState struct {
	NodeIndex int `json:"node"`
	Branch    int `json:"branch"`
	Index     int `json:"index"`
}

// CursorState is a serializable cursor position.
type CursorState struct {
	Passage string       `json:"passage"`
	Frames  []FrameState `json:"frames"`
}

// ChoiceRef names a choice by passage and depth-first ordinal, the same
// identity used for one-time consumption.
type ChoiceRef struct {
	Passage string `json:"passage"`
	Ordinal int    `json:"ordinal"`
}

// ThreadState is a serializable thread.
type ThreadState struct {
	ID       int                   `json:"id"`
	Priority int                   `json:"priority"`
	Status   string                `json:"status"`
	Seq      int                   `json:"seq"`
	Cursor   CursorState           `json:"cursor"`
	Tunnels  []CursorState         `json:"tunnels,omitempty"`
	Locals   map[string]eval.Value `json:"locals,omitempty"`
}

// Snapshot is a complete, JSON-serializable capture of a session's
// runtime state. Restoring it against the same model resumes the
// playthrough exactly, including pending choices and consumed one-time
// choices.
type Snapshot struct {
	Version      int                   `json:"version"`
	State        string                `json:"state"`
	Cursor       CursorState           `json:"cursor"`
	Globals      map[string]eval.Value `json:"globals,omitempty"`
	Tunnels      []CursorState         `json:"tunnels,omitempty"`
	Threads      []ThreadState         `json:"threads,omitempty"`
	NextThreadID int                   `json:"nextThreadId"`
	NextSeq      int                   `json:"nextSeq"`
	Visits       map[string]int        `json:"visits,omitempty"`
	Consumed     []ChoiceRef           `json:"consumed,omitempty"`
	Pending      []ChoiceRef           `json:"pending,omitempty"`
}

// Snapshot captures the session's current runtime state. The output
// buffer and tick events are transient and not captured.
func (s *Session) Snapshot() *Snapshot {
	snap := &Snapshot{
		Version:      snapshotVersion,
		State:        s.state.String(),
		Cursor:       encodeCursor(s.cursor),
		NextThreadID: s.nextThreadID,
		NextSeq:      s.nextSeq,
	}
	if len(s.globals) > 0 {
		snap.Globals = make(map[string]eval.Value, len(s.globals))
		for k, v := range s.globals {
			snap.Globals[k] = v
		}
	}
	for _, t := range s.tunnels {
		snap.Tunnels = append(snap.Tunnels, encodeCursor(t))
	}
	for _, t := range s.threads {
		ts := ThreadState{
			ID:       t.ID,
			Priority: t.Priority,
			Status:   t.Status.String(),
			Seq:      t.seq,
			Cursor:   encodeCursor(t.cursor),
		}
		for _, tc := range t.tunnels {
			ts.Tunnels = append(ts.Tunnels, encodeCursor(tc))
		}
		if len(t.locals) > 0 {
			ts.Locals = make(map[string]eval.Value, len(t.locals))
			for k, v := range t.locals {
				ts.Locals[k] = v
			}
		}
		snap.Threads = append(snap.Threads, ts)
	}
	if len(s.visits) > 0 {
		snap.Visits = make(map[string]int, len(s.visits))
		for k, v := range s.visits {
			snap.Visits[k] = v
		}
	}
	for key := range s.consumed {
		snap.Consumed = append(snap.Consumed, ChoiceRef{Passage: key.Passage, Ordinal: key.Ordinal})
	}
	sortChoiceRefs(snap.Consumed)
	for _, entry := range s.pending {
		snap.Pending = append(snap.Pending, ChoiceRef{Passage: entry.key.Passage, Ordinal: entry.key.Ordinal})
	}
	return snap
}

// Restore replaces the session's runtime state with a snapshot taken
// against the same model. The output buffer is cleared.
func (s *Session) Restore(snap *Snapshot) error {
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	state, err := parseState(snap.State)
	if err != nil {
		return err
	}
	mainCursor, err := s.decodeCursor(snap.Cursor)
	if err != nil {
		return fmt.Errorf("main cursor: %w", err)
	}
	tunnels := make([]cursor, 0, len(snap.Tunnels))
	for i, cs := range snap.Tunnels {
		c, err := s.decodeCursor(cs)
		if err != nil {
			return fmt.Errorf("tunnel frame %d: %w", i, err)
		}
		tunnels = append(tunnels, c)
	}
	threads := make([]*Thread, 0, len(snap.Threads))
	for _, ts := range snap.Threads {
		status, err := parseThreadStatus(ts.Status)
		if err != nil {
			return fmt.Errorf("thread %d: %w", ts.ID, err)
		}
		c, err := s.decodeCursor(ts.Cursor)
		if err != nil {
			return fmt.Errorf("thread %d cursor: %w", ts.ID, err)
		}
		t := &Thread{ID: ts.ID, Priority: ts.Priority, Status: status, seq: ts.Seq, cursor: c}
		for i, tcs := range ts.Tunnels {
			tc, err := s.decodeCursor(tcs)
			if err != nil {
				return fmt.Errorf("thread %d tunnel frame %d: %w", ts.ID, i, err)
			}
			t.tunnels = append(t.tunnels, tc)
		}
		t.locals = make(map[string]eval.Value, len(ts.Locals))
		for k, v := range ts.Locals {
			t.locals[k] = v
		}
		threads = append(threads, t)
	}
	pending := make([]pendingEntry, 0, len(snap.Pending))
	for _, ref := range snap.Pending {
		node, err := s.choiceByRef(ref)
		if err != nil {
			return err
		}
		pending = append(pending, pendingEntry{
			node: node,
			key:  choiceKey{Passage: ref.Passage, Ordinal: ref.Ordinal},
		})
	}
	consumed := make(map[choiceKey]bool, len(snap.Consumed))
	for _, ref := range snap.Consumed {
		if _, err := s.choiceByRef(ref); err != nil {
			return err
		}
		consumed[choiceKey{Passage: ref.Passage, Ordinal: ref.Ordinal}] = true
	}

	s.state = state
	s.err = nil
	s.cursor = mainCursor
	s.tunnels = tunnels
	s.threads = threads
	s.nextThreadID = snap.NextThreadID
	s.nextSeq = snap.NextSeq
	s.globals = make(map[string]eval.Value, len(snap.Globals))
	for k, v := range snap.Globals {
		s.globals[k] = v
	}
	s.visits = make(map[string]int, len(snap.Visits))
	for k, v := range snap.Visits {
		s.visits[k] = v
	}
	s.consumed = consumed
	s.pending = pending
	s.collected = nil
	s.output = nil
	s.events = nil
	return nil
}

func encodeCursor(c cursor) CursorState {
	cs := CursorState{Passage: c.passage}
	for _, f := range c.frames {
		cs.Frames = append(cs.Frames, FrameState{NodeIndex: f.nodeIdx, Branch: f.branch, Index: f.idx})
	}
	return cs
}

// decodeCursor rebuilds a live cursor by re-walking the model's content
// tree along the recorded frame path, validating every step.
func (s *Session) decodeCursor(cs CursorState) (cursor, error) {
	p, ok := s.model.Passage(cs.Passage)
	if !ok {
		return cursor{}, fmt.Errorf("no passage named %q", cs.Passage)
	}
	c := cursor{passage: cs.Passage}
	nodes := p.Nodes
	for depth, fs := range cs.Frames {
		if depth > 0 {
			parent := c.frames[depth-1]
			if fs.NodeIndex < 0 || fs.NodeIndex >= len(parent.nodes) {
				return cursor{}, fmt.Errorf("frame %d: node index %d out of range", depth, fs.NodeIndex)
			}
			block, ok := parent.nodes[fs.NodeIndex].(*ast.ConditionalBlock)
			if !ok {
				return cursor{}, fmt.Errorf("frame %d: node %d is not a conditional block", depth, fs.NodeIndex)
			}
			if fs.Branch < 0 || fs.Branch >= len(block.Branches) {
				return cursor{}, fmt.Errorf("frame %d: branch %d out of range", depth, fs.Branch)
			}
			nodes = block.Branches[fs.Branch].Body
		}
		if fs.Index < 0 || fs.Index > len(nodes) {
			return cursor{}, fmt.Errorf("frame %d: index %d out of range", depth, fs.Index)
		}
		c.frames = append(c.frames, frameRef{nodes: nodes, idx: fs.Index, nodeIdx: fs.NodeIndex, branch: fs.Branch})
	}
	return c, nil
}

func (s *Session) choiceByRef(ref ChoiceRef) (*ast.Choice, error) {
	p, ok := s.model.Passage(ref.Passage)
	if !ok {
		return nil, fmt.Errorf("choice ref: no passage named %q", ref.Passage)
	}
	list, cached := s.choiceNodes[ref.Passage]
	if !cached {
		list = enumerateChoices(p.Nodes, nil)
		ordinals := make(map[*ast.Choice]int, len(list))
		for i, ch := range list {
			ordinals[ch] = i
		}
		s.choiceNodes[ref.Passage] = list
		s.choiceOrdinals[ref.Passage] = ordinals
	}
	if ref.Ordinal < 0 || ref.Ordinal >= len(list) {
		return nil, fmt.Errorf("choice ref: passage %q has no choice %d", ref.Passage, ref.Ordinal)
	}
	return list[ref.Ordinal], nil
}

func parseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown session state %q", name)
}

func parseThreadStatus(name string) (ThreadStatus, error) {
	for i, n := range threadStatusNames {
		if n == name {
			return ThreadStatus(i), nil
		}
	}
	return ThreadRunning, fmt.Errorf("unknown thread status %q", name)
}

func sortChoiceRefs(refs []ChoiceRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Passage != refs[j].Passage {
			return refs[i].Passage < refs[j].Passage
		}
		return refs[i].Ordinal < refs[j].Ordinal
	})
}
