package engine

import (
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/weavelang/weave/pkgs/ast"
	"github.com/weavelang/weave/pkgs/eval"
	"github.com/weavelang/weave/pkgs/story"
)

// frameRef is one level of the content cursor: a node slice and the
// next index within it. nodeIdx/branch record where a nested frame came
// from in its parent, which is what makes cursors serializable.
type frameRef struct {
	nodes   []ast.Content
	idx     int
	nodeIdx int // index in the parent frame of the conditional that opened this frame; -1 for the passage body
	branch  int
}

// cursor is a position within a passage's content tree.
type cursor struct {
	passage string
	frames  []frameRef
}

func cloneCursor(c cursor) cursor {
	out := cursor{passage: c.passage, frames: make([]frameRef, len(c.frames))}
	copy(out.frames, c.frames)
	return out
}

// choiceKey identifies a choice stably across visits: the passage name
// plus the choice's position in a depth-first enumeration of the
// passage's choice nodes. One-time consumption is tracked per key.
type choiceKey struct {
	Passage string
	Ordinal int
}

type pendingEntry struct {
	node *ast.Choice
	key  choiceKey
}

// Session is one running playthrough of a story. It owns all mutable
// runtime state exclusively; the Model is read-only for its lifetime.
type Session struct {
	model *story.Model

	state State
	err   *RuntimeError

	cursor  cursor
	globals map[string]eval.Value
	tunnels []cursor

	threads      []*Thread
	nextThreadID int
	nextSeq      int

	visits    map[string]int
	consumed  map[choiceKey]bool
	collected []pendingEntry
	pending   []pendingEntry

	output []Fragment
	events []Event

	host eval.HostRuntime
	rng  *rand.Rand

	choiceOrdinals map[string]map[*ast.Choice]int
	choiceNodes    map[string][]*ast.Choice
}

// Option configures a Session.
type Option func(*Session)

// WithHostRuntime wires the embedded script escape hatch.
func WithHostRuntime(rt eval.HostRuntime) Option {
	return func(s *Session) { s.host = rt }
}

// WithSeed fixes the random source so playthroughs are reproducible.
func WithSeed(seed int64) Option {
	return func(s *Session) { s.rng = rand.New(rand.NewSource(seed)) }
}

// New creates an Idle session over a compiled story.
func New(model *story.Model, opts ...Option) *Session {
	s := &Session{
		model:          model,
		state:          Idle,
		globals:        make(map[string]eval.Value),
		visits:         make(map[string]int),
		consumed:       make(map[choiceKey]bool),
		nextThreadID:   MainThreadID + 1,
		choiceOrdinals: make(map[string]map[*ast.Choice]int),
		choiceNodes:    make(map[string][]*ast.Choice),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(1))
	}
	return s
}

// State reports the session's current state.
func (s *Session) State() State { return s.state }

// Err returns the runtime error that moved the session to Errored.
func (s *Session) Err() *RuntimeError { return s.err }

// IsEnded reports whether the story has finished cleanly.
func (s *Session) IsEnded() bool { return s.state == Ended }

// VisitCount reports how many times a passage has been entered. Counts
// are monotonic and increase by exactly one per entry.
func (s *Session) VisitCount(name string) int { return s.visits[name] }

// Var reads a global story variable. Unset names read as Null.
func (s *Session) Var(name string) eval.Value { return s.globals[name] }

// SetVar writes a global story variable from the host application.
func (s *Session) SetVar(name string, v eval.Value) { s.globals[name] = v }

// TunnelDepth is the number of unreturned tunnel calls on the main
// cursor's stack.
func (s *Session) TunnelDepth() int { return len(s.tunnels) }

// Output drains and returns the accumulated output buffer.
func (s *Session) Output() []Fragment {
	out := s.output
	s.output = nil
	return out
}

// Events drains and returns the events recorded by the last Advance or
// Choose call. Tick returns its events directly; hosts driving the
// session through Advance/Choose read them here.
func (s *Session) Events() []Event {
	return s.drainEvents()
}

// Start enters the story's designated start passage.
func (s *Session) Start() error {
	if s.state != Idle {
		return s.fail(&RuntimeError{Kind: ErrBadState, Message: "session already started", Passage: s.cursor.passage})
	}
	if s.model.Start == "" {
		return s.fail(&RuntimeError{Kind: ErrUnknownPassage, Message: "story has no start passage"})
	}
	if rerr := s.enterPassage(&s.cursor, s.model.Start); rerr != nil {
		return s.fail(rerr)
	}
	s.state = AtPassage
	return nil
}

// Reset returns the session to Idle, discarding all runtime state. The
// caller decides when to reset after an error; nothing retries
// automatically.
func (s *Session) Reset() {
	s.state = Idle
	s.err = nil
	s.cursor = cursor{}
	s.globals = make(map[string]eval.Value)
	s.tunnels = nil
	s.threads = nil
	s.nextThreadID = MainThreadID + 1
	s.nextSeq = 0
	s.visits = make(map[string]int)
	s.consumed = make(map[choiceKey]bool)
	s.collected = nil
	s.pending = nil
	s.output = nil
	s.events = nil
}

func (s *Session) fail(rerr *RuntimeError) *RuntimeError {
	s.err = rerr
	s.state = Errored
	return rerr
}

// enterPassage moves a cursor to the top of the named passage and
// increments its visit count — exactly once per entry.
func (s *Session) enterPassage(c *cursor, name string) *RuntimeError {
	p, ok := s.model.Passage(name)
	if !ok {
		return &RuntimeError{Kind: ErrUnknownPassage, Message: "no passage named " + name, Passage: c.passage}
	}
	s.visits[name]++
	*c = cursor{passage: name, frames: []frameRef{{nodes: p.Nodes, nodeIdx: -1}}}
	return nil
}

// Advance processes the main cursor's current content run: one passage
// worth of content, stopping at a suspension point (divert or tunnel
// boundary, pending choices, or end of content).
func (s *Session) Advance() (State, error) {
	if s.state != AtPassage && s.state != InTunnel {
		return s.state, s.fail(&RuntimeError{Kind: ErrBadState,
			Message: "advance called in state " + s.state.String(), Passage: s.cursor.passage})
	}
	s.events = nil
	s.advanceMain()
	if s.err != nil {
		return s.state, s.err
	}
	return s.state, nil
}

func (s *Session) advanceMain() {
	s.collected = nil
	res, _, rerr := s.run(&s.cursor, s.mainScope(), MainThreadID, &s.tunnels, true)
	if rerr != nil {
		s.fail(rerr)
		return
	}
	switch res {
	case resMoved:
		if len(s.tunnels) > 0 {
			s.state = InTunnel
		} else {
			s.state = AtPassage
		}
	case resEnd:
		s.computePending()
		if len(s.pending) > 0 {
			s.state = AwaitingChoice
			s.event(Event{ThreadID: MainThreadID, Kind: EventChoicesReady, Passage: s.cursor.passage})
		} else {
			s.state = Ended
			s.event(Event{ThreadID: MainThreadID, Kind: EventEnded, Passage: s.cursor.passage})
		}
	}
	s.overlayThreadsPending()
}

// computePending filters collected choices against the current
// variable store: guards are evaluated now, at choice-set computation
// time, and consumed one-time choices are dropped entirely. Indexes
// refer to positions within the visible set only.
func (s *Session) computePending() {
	s.pending = s.pending[:0]
	env := s.env(s.mainScope())
	for _, entry := range s.collected {
		if s.consumed[entry.key] {
			continue
		}
		if entry.node.Guard != nil {
			v, err := eval.Evaluate(entry.node.Guard, env)
			if err != nil {
				s.fail(s.evalError(err, s.cursor.passage, MainThreadID))
				return
			}
			if !v.Truthy() {
				continue
			}
		}
		s.pending = append(s.pending, entry)
	}
}

// PendingChoices returns the ordered, index-stable visible choice set.
func (s *Session) PendingChoices() []PendingChoice {
	out := make([]PendingChoice, len(s.pending))
	for i, entry := range s.pending {
		out[i] = PendingChoice{
			Index:  i,
			Label:  entry.node.Label,
			Target: entry.node.Target,
			Once:   entry.node.Once,
		}
	}
	return out
}

// Choose consumes the selected visible choice: one-time choices leave
// the pool permanently, the inline body applies, then control diverts.
func (s *Session) Choose(index int) (State, error) {
	if s.state != AwaitingChoice {
		return s.state, s.fail(&RuntimeError{Kind: ErrBadState,
			Message: "choose called in state " + s.state.String(), Passage: s.cursor.passage})
	}
	if index < 0 || index >= len(s.pending) {
		return s.state, s.fail(&RuntimeError{Kind: ErrBadChoiceIndex,
			Message: "no pending choice at index " + strconv.Itoa(index), Passage: s.cursor.passage})
	}
	s.events = nil
	entry := s.pending[index]
	if entry.node.Once {
		s.consumed[entry.key] = true
	}
	s.pending = nil
	s.collected = nil

	// Apply the inline body; a divert inside it wins over the choice's
	// own target.
	s.cursor.frames = []frameRef{{nodes: entry.node.Body, nodeIdx: -1}}
	res, _, rerr := s.run(&s.cursor, s.mainScope(), MainThreadID, &s.tunnels, false)
	if rerr != nil {
		return s.state, s.fail(rerr)
	}
	if res == resEnd {
		if entry.node.Target == "" {
			s.state = Ended
			s.event(Event{ThreadID: MainThreadID, Kind: EventEnded, Passage: s.cursor.passage})
			s.overlayThreadsPending()
			return s.state, nil
		}
		if rerr := s.enterPassage(&s.cursor, entry.node.Target); rerr != nil {
			return s.state, s.fail(rerr)
		}
	}
	if len(s.tunnels) > 0 {
		s.state = InTunnel
	} else {
		s.state = AtPassage
	}
	return s.state, nil
}

// Tick advances the story one turn: the main cursor first, to the end
// of its current content run or a suspension point, then every Running
// thread once, in ascending priority order, stable by creation order.
// deltaMS is accepted for the host's pacing; scheduling is turn-based
// and does not consume it.
func (s *Session) Tick(deltaMS int) ([]Event, error) {
	_ = deltaMS
	if s.state == Idle {
		return nil, s.fail(&RuntimeError{Kind: ErrBadState, Message: "tick before start"})
	}
	if s.state == Errored {
		return nil, s.err
	}
	s.events = nil

	if s.state == AtPassage || s.state == InTunnel {
		s.advanceMain()
		if s.err != nil {
			return s.drainEvents(), s.err
		}
	}

	for _, t := range s.runOrder() {
		if t.Status != ThreadRunning {
			continue
		}
		res, sawChoice, rerr := s.run(&t.cursor, s.threadScope(t), t.ID, &t.tunnels, false)
		if rerr != nil {
			t.Status = ThreadErrored
			s.fail(rerr)
			return s.drainEvents(), s.err
		}
		if res == resEnd {
			if sawChoice {
				t.Status = ThreadWaiting
			} else {
				t.Status = ThreadCompleted
				s.event(Event{ThreadID: t.ID, Kind: EventThreadCompleted, Passage: t.cursor.passage})
			}
		}
	}

	// Completed threads leave the table at end of tick, never mid-tick,
	// so iteration order stays stable.
	s.sweepThreads()
	s.overlayThreadsPending()
	return s.drainEvents(), nil
}

// RunUntilBlocked ticks until the session reaches a blocking state
// (pending choices with no runnable threads, Ended, or Errored) or the
// tick budget runs out. It returns the number of ticks consumed.
func (s *Session) RunUntilBlocked(maxTicks int) (int, error) {
	ticks := 0
	for ticks < maxTicks && !s.blocked() {
		if _, err := s.Tick(0); err != nil {
			return ticks + 1, err
		}
		ticks++
	}
	return ticks, nil
}

func (s *Session) blocked() bool {
	switch s.state {
	case AwaitingChoice, Ended, Errored:
		return s.runningThreads() == 0
	}
	return false
}

// SpawnThread registers a new narrative thread at the given passage
// and priority. The thread advances on subsequent ticks; spawning does
// not transfer control.
func (s *Session) SpawnThread(passage string, priority int) (int, error) {
	t, rerr := s.spawn(passage, priority)
	if rerr != nil {
		return 0, s.fail(rerr)
	}
	return t.ID, nil
}

func (s *Session) spawn(passage string, priority int) (*Thread, *RuntimeError) {
	t := &Thread{
		ID:       s.nextThreadID,
		Priority: priority,
		Status:   ThreadRunning,
		seq:      s.nextSeq,
		locals:   map[string]eval.Value{"thread_id": eval.Number(float64(s.nextThreadID))},
	}
	if rerr := s.enterPassage(&t.cursor, passage); rerr != nil {
		return nil, rerr
	}
	s.nextThreadID++
	s.nextSeq++
	s.threads = append(s.threads, t)
	s.event(Event{ThreadID: t.ID, Kind: EventThreadSpawned, Passage: passage})
	return t, nil
}

// CancelThread force-completes a thread. Cancellation is immediate and
// synchronous; the thread is swept from the table at the end of the
// next tick.
func (s *Session) CancelThread(id int) error {
	for _, t := range s.threads {
		if t.ID == id {
			t.Status = ThreadCompleted
			return nil
		}
	}
	return s.fail(&RuntimeError{Kind: ErrThreadNotFound,
		Message: "no thread with id " + strconv.Itoa(id), ThreadID: id})
}

// Threads returns a snapshot view of the thread table in run order.
func (s *Session) Threads() []Thread {
	order := s.runOrder()
	out := make([]Thread, len(order))
	for i, t := range order {
		out[i] = *t
	}
	return out
}

func (s *Session) runOrder() []*Thread {
	order := make([]*Thread, len(s.threads))
	copy(order, s.threads)
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].Priority != order[j].Priority {
			return order[i].Priority < order[j].Priority
		}
		return order[i].seq < order[j].seq
	})
	return order
}

func (s *Session) runningThreads() int {
	n := 0
	for _, t := range s.threads {
		if t.Status == ThreadRunning {
			n++
		}
	}
	return n
}

func (s *Session) sweepThreads() {
	kept := s.threads[:0]
	for _, t := range s.threads {
		if t.Status == ThreadCompleted || t.Status == ThreadErrored {
			continue
		}
		kept = append(kept, t)
	}
	s.threads = kept
}

// overlayThreadsPending maps the composite of main state and thread
// table onto the public state machine: a finished main cursor with
// runnable threads is ThreadsPending, not Ended.
func (s *Session) overlayThreadsPending() {
	if s.err != nil {
		return
	}
	if s.state == Ended && s.runningThreads() > 0 {
		s.state = ThreadsPending
	} else if s.state == ThreadsPending && s.runningThreads() == 0 {
		s.state = Ended
	}
}

// --- stepping core ---

type runResult int

const (
	resEnd   runResult = iota // content exhausted
	resMoved                  // cursor entered another passage or resumed from a tunnel
)

// run processes one content run for a cursor: nodes execute in order
// until a suspension point. Choices accumulate (when collecting)
// rather than executing. Nothing suspends mid-expression-evaluation.
func (s *Session) run(c *cursor, scope eval.Store, threadID int, tunnels *[]cursor, collect bool) (runResult, bool, *RuntimeError) {
	env := s.env(scope)
	sawChoice := false

	var buf strings.Builder
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		s.emit(threadID, c.passage, buf.String())
		buf.Reset()
	}
	emitText := func(text string) {
		buf.WriteString(text)
	}

	for {
		if len(c.frames) == 0 {
			flush()
			return resEnd, sawChoice, nil
		}
		top := &c.frames[len(c.frames)-1]
		if top.idx >= len(top.nodes) {
			c.frames = c.frames[:len(c.frames)-1]
			continue
		}
		node := top.nodes[top.idx]
		top.idx++

		switch n := node.(type) {
		case *ast.TextRun:
			emitText(n.Text)

		case *ast.LineBreak:
			flush()

		case *ast.Interpolation:
			v, err := eval.Evaluate(n.Value, env)
			if err != nil {
				flush()
				return resEnd, sawChoice, s.evalError(err, c.passage, threadID)
			}
			emitText(v.Display())

		case *ast.InlineTernary:
			text, err := s.renderTernary(n, env)
			if err != nil {
				flush()
				return resEnd, sawChoice, s.evalError(err, c.passage, threadID)
			}
			emitText(text)

		case *ast.Assignment:
			if rerr := s.assign(n, scope, env, c.passage, threadID); rerr != nil {
				flush()
				return resEnd, sawChoice, rerr
			}

		case *ast.ConditionalBlock:
			branchIdx, err := s.pickBranch(n, env)
			if err != nil {
				flush()
				return resEnd, sawChoice, s.evalError(err, c.passage, threadID)
			}
			if branchIdx >= 0 {
				parentNode := top.idx - 1
				c.frames = append(c.frames, frameRef{
					nodes:   n.Branches[branchIdx].Body,
					nodeIdx: parentNode,
					branch:  branchIdx,
				})
			}

		case *ast.Choice:
			sawChoice = true
			if collect {
				key := s.keyFor(c.passage, n)
				s.collected = append(s.collected, pendingEntry{node: n, key: key})
			}

		case *ast.Divert:
			flush()
			if rerr := s.enterPassage(c, n.Target); rerr != nil {
				rerr.ThreadID = threadID
				return resEnd, sawChoice, rerr
			}
			return resMoved, sawChoice, nil

		case *ast.TunnelCall:
			flush()
			*tunnels = append(*tunnels, cloneCursor(*c))
			if rerr := s.enterPassage(c, n.Target); rerr != nil {
				rerr.ThreadID = threadID
				return resEnd, sawChoice, rerr
			}
			return resMoved, sawChoice, nil

		case *ast.TunnelReturn:
			flush()
			if len(*tunnels) == 0 {
				return resEnd, sawChoice, &RuntimeError{Kind: ErrEmptyTunnel,
					Message: "tunnel return with empty stack", Passage: c.passage, ThreadID: threadID}
			}
			saved := (*tunnels)[len(*tunnels)-1]
			*tunnels = (*tunnels)[:len(*tunnels)-1]
			if n.Target != "" {
				// Redirecting return: the frame pops, control diverts.
				if rerr := s.enterPassage(c, n.Target); rerr != nil {
					rerr.ThreadID = threadID
					return resEnd, sawChoice, rerr
				}
			} else {
				*c = saved
			}
			return resMoved, sawChoice, nil

		case *ast.ThreadSpawn:
			flush()
			if _, rerr := s.spawn(n.Target, 0); rerr != nil {
				rerr.ThreadID = threadID
				return resEnd, sawChoice, rerr
			}
		}
	}
}

// pickBranch evaluates branch guards top to bottom and returns the
// first truthy branch (or the else branch, or -1 for none).
func (s *Session) pickBranch(block *ast.ConditionalBlock, env *eval.Env) (int, error) {
	for i, br := range block.Branches {
		if br.Cond == nil {
			return i, nil
		}
		v, err := eval.Evaluate(br.Cond, env)
		if err != nil {
			return -1, err
		}
		if v.Truthy() {
			return i, nil
		}
	}
	return -1, nil
}

func (s *Session) renderTernary(n *ast.InlineTernary, env *eval.Env) (string, error) {
	cond, err := eval.Evaluate(n.Condition, env)
	if err != nil {
		return "", err
	}
	arm := n.Then
	if !cond.Truthy() {
		arm = n.Else
	}
	var b strings.Builder
	for _, item := range arm {
		switch piece := item.(type) {
		case *ast.TextRun:
			b.WriteString(piece.Text)
		case *ast.Interpolation:
			v, err := eval.Evaluate(piece.Value, env)
			if err != nil {
				return "", err
			}
			b.WriteString(v.Display())
		case *ast.InlineTernary:
			text, err := s.renderTernary(piece, env)
			if err != nil {
				return "", err
			}
			b.WriteString(text)
		}
	}
	return b.String(), nil
}

func (s *Session) assign(n *ast.Assignment, scope eval.Store, env *eval.Env, passage string, threadID int) *RuntimeError {
	value, err := eval.Evaluate(n.Value, env)
	if err != nil {
		return s.evalError(err, passage, threadID)
	}
	if n.Op == ast.AssignSet {
		scope.Set(n.Name, value)
		return nil
	}

	current := scope.Get(n.Name)
	// Unset variables participate in compound assignment as the
	// identity for the operand's type.
	if current.Kind == eval.KindNull {
		if value.Kind == eval.KindString && n.Op == ast.AssignAdd {
			current = eval.String("")
		} else {
			current = eval.Number(0)
		}
	}

	if n.Op == ast.AssignAdd && current.Kind == eval.KindString && value.Kind == eval.KindString {
		scope.Set(n.Name, eval.String(current.Str+value.Str))
		return nil
	}
	if current.Kind != eval.KindNumber || value.Kind != eval.KindNumber {
		return &RuntimeError{Kind: ErrEval, Passage: passage, ThreadID: threadID,
			Message: "compound assignment needs numbers, $" + n.Name + " is " + current.Kind.String()}
	}
	result := current.Num
	switch n.Op {
	case ast.AssignAdd:
		result += value.Num
	case ast.AssignSub:
		result -= value.Num
	case ast.AssignMul:
		result *= value.Num
	case ast.AssignDiv:
		if value.Num == 0 {
			return &RuntimeError{Kind: ErrEval, Passage: passage, ThreadID: threadID,
				Message: "division by zero in assignment to $" + n.Name}
		}
		result /= value.Num
	}
	scope.Set(n.Name, eval.Number(result))
	return nil
}

func (s *Session) evalError(err error, passage string, threadID int) *RuntimeError {
	return &RuntimeError{Kind: ErrEval, Message: err.Error(), Passage: passage, ThreadID: threadID}
}

// keyFor returns the stable identity of a choice node within its
// passage, based on depth-first enumeration order.
func (s *Session) keyFor(passage string, node *ast.Choice) choiceKey {
	ordinals, ok := s.choiceOrdinals[passage]
	if !ok {
		ordinals = make(map[*ast.Choice]int)
		var list []*ast.Choice
		if p, found := s.model.Passage(passage); found {
			list = enumerateChoices(p.Nodes, nil)
		}
		for i, ch := range list {
			ordinals[ch] = i
		}
		s.choiceOrdinals[passage] = ordinals
		s.choiceNodes[passage] = list
	}
	return choiceKey{Passage: passage, Ordinal: ordinals[node]}
}

func enumerateChoices(nodes []ast.Content, acc []*ast.Choice) []*ast.Choice {
	for _, n := range nodes {
		switch node := n.(type) {
		case *ast.Choice:
			acc = append(acc, node)
			acc = enumerateChoices(node.Body, acc)
		case *ast.ConditionalBlock:
			for _, br := range node.Branches {
				acc = enumerateChoices(br.Body, acc)
			}
		}
	}
	return acc
}

// --- scopes, events, output ---

type globalScope struct{ s *Session }

func (g globalScope) Get(name string) eval.Value { return g.s.globals[name] }
func (g globalScope) Set(name string, v eval.Value) {
	g.s.globals[name] = v
}

// threadScope layers a thread's locals over the shared globals: reads
// shadow, writes go to an existing local else to globals. Locals are
// invisible to other threads and to the main cursor.
type threadScope struct {
	s *Session
	t *Thread
}

func (ts threadScope) Get(name string) eval.Value {
	if v, ok := ts.t.locals[name]; ok {
		return v
	}
	return ts.s.globals[name]
}

func (ts threadScope) Set(name string, v eval.Value) {
	if _, ok := ts.t.locals[name]; ok {
		ts.t.locals[name] = v
		return
	}
	ts.s.globals[name] = v
}

func (s *Session) mainScope() eval.Store { return globalScope{s: s} }

func (s *Session) threadScope(t *Thread) eval.Store { return threadScope{s: s, t: t} }

func (s *Session) env(scope eval.Store) *eval.Env {
	return &eval.Env{
		Vars:    scope,
		Visited: func(name string) int { return s.visits[name] },
		Host:    s.host,
		Rand:    s.rng,
	}
}

func (s *Session) emit(threadID int, passage, text string) {
	s.output = append(s.output, Fragment{ThreadID: threadID, Passage: passage, Text: text})
	s.event(Event{ThreadID: threadID, Kind: EventText, Passage: passage, Text: text})
}

func (s *Session) event(e Event) {
	s.events = append(s.events, e)
}

func (s *Session) drainEvents() []Event {
	out := s.events
	s.events = nil
	return out
}
