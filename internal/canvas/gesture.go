package canvas

// dragKind tags the current drag target. Modeling the target as a tagged
// variant keeps illegal combinations (node drag during a pinch) unrepresentable.
type dragKind int

const (
	dragNone dragKind = iota
	dragCanvas
	dragNode
	dragPinch
)

// pinchBaseline records the state at the start of a two-finger gesture.
// Every pinch frame recomputes from this fixed baseline rather than from the
// continuously updated viewport, so successive frames cannot accumulate drift.
type pinchBaseline struct {
	startDist  float64
	startScale float64
	startPan   Point
	startMid   Point
}

// NodeDrag is a canvas-space position delta for a dragged node, produced by
// Flush while a node is the drag target.
type NodeDrag struct {
	NodeID string
	DX, DY float64
}

// Engine is the gesture state machine. It owns the viewport and converts raw
// pointer/touch input into pan/zoom updates and node-drag deltas.
//
// Motion is coalesced: PointerMove only records the latest pointer position,
// and Flush (called at most once per rendered frame) applies a single delta
// from the last applied position to the latest one. Stale deltas are never
// summed.
type Engine struct {
	viewport Viewport

	drag       dragKind
	dragNodeID string
	pinch      pinchBaseline

	lastApplied Point // pointer position as of the last Flush
	latest      Point // most recent pointer position
	moved       bool  // a move arrived since the last Flush
}

// NewEngine creates an engine with the given initial viewport.
// A zero or negative scale is normalized to 1.
func NewEngine(initial Viewport) *Engine {
	if initial.Scale <= 0 {
		initial.Scale = 1
	}
	initial.Scale = ClampScale(initial.Scale)
	return &Engine{viewport: initial}
}

// Viewport returns the current viewport.
func (e *Engine) Viewport() Viewport {
	return e.viewport
}

// SetViewport replaces the viewport (used by reset controls).
func (e *Engine) SetViewport(v Viewport) {
	v.Scale = ClampScale(v.Scale)
	e.viewport = v
}

// PanBy translates the viewport by a screen-space delta, unconditionally.
func (e *Engine) PanBy(dx, dy float64) {
	e.viewport = e.viewport.PannedBy(dx, dy)
}

// ZoomAt rescales the viewport, preserving the canvas point under the given
// screen-space anchor.
func (e *Engine) ZoomAt(anchor Point, newScale float64) {
	e.viewport = e.viewport.ZoomedAt(anchor, newScale)
}

// ZoomStep applies a scale delta anchored at the given point (button zoom
// uses the viewport center, wheel zoom the pointer position).
func (e *Engine) ZoomStep(anchor Point, delta float64) {
	e.ZoomAt(anchor, e.viewport.Scale+delta)
}

// PointerDownCanvas begins a canvas pan drag.
func (e *Engine) PointerDownCanvas(p Point) {
	e.drag = dragCanvas
	e.dragNodeID = ""
	e.lastApplied = p
	e.latest = p
	e.moved = false
}

// PointerDownNode begins a node drag for the given node.
func (e *Engine) PointerDownNode(nodeID string, p Point) {
	e.drag = dragNode
	e.dragNodeID = nodeID
	e.lastApplied = p
	e.latest = p
	e.moved = false
}

// PointerMove records the latest pointer position. The movement is not
// applied until the next Flush.
func (e *Engine) PointerMove(p Point) {
	if e.drag != dragCanvas && e.drag != dragNode {
		return
	}
	e.latest = p
	e.moved = true
}

// Flush applies at most one coalesced motion update and reports a node drag
// delta if a node is the target. Call once per rendered frame.
//
// Node position deltas are divided by the current scale because node
// coordinates live in canvas space while pointer deltas are screen space.
func (e *Engine) Flush() (NodeDrag, bool) {
	if !e.moved {
		return NodeDrag{}, false
	}
	e.moved = false

	dx := e.latest.X - e.lastApplied.X
	dy := e.latest.Y - e.lastApplied.Y
	e.lastApplied = e.latest
	if dx == 0 && dy == 0 {
		return NodeDrag{}, false
	}

	switch e.drag {
	case dragNode:
		return NodeDrag{
			NodeID: e.dragNodeID,
			DX:     dx / e.viewport.Scale,
			DY:     dy / e.viewport.Scale,
		}, true
	case dragCanvas:
		e.PanBy(dx, dy)
	}
	return NodeDrag{}, false
}

// PointerUp ends any single-pointer drag.
func (e *Engine) PointerUp() {
	if e.drag == dragCanvas || e.drag == dragNode {
		e.clearGesture()
	}
}

// BeginPinch records the two-finger gesture baseline. Starting a pinch
// cancels any single-pointer drag. A pinch with zero starting distance is
// ignored.
func (e *Engine) BeginPinch(a, b Point) {
	dist := a.Dist(b)
	if dist == 0 {
		e.clearGesture()
		return
	}
	e.drag = dragPinch
	e.dragNodeID = ""
	e.moved = false
	e.pinch = pinchBaseline{
		startDist:  dist,
		startScale: e.viewport.Scale,
		startPan:   e.viewport.Pan,
		startMid:   a.Mid(b),
	}
}

// UpdatePinch recomputes scale and pan from the gesture baseline.
func (e *Engine) UpdatePinch(a, b Point) {
	if e.drag != dragPinch || e.pinch.startDist == 0 {
		return
	}
	dist := a.Dist(b)
	scaleFactor := dist / e.pinch.startDist
	newScale := ClampScale(e.pinch.startScale * scaleFactor)
	effective := newScale / e.pinch.startScale

	mid := a.Mid(b)
	e.viewport = Viewport{
		Pan: Point{
			X: mid.X - (e.pinch.startMid.X-e.pinch.startPan.X)*effective,
			Y: mid.Y - (e.pinch.startMid.Y-e.pinch.startPan.Y)*effective,
		},
		Scale: newScale,
	}
}

// EndPinch clears the pinch baseline.
func (e *Engine) EndPinch() {
	if e.drag == dragPinch {
		e.clearGesture()
	}
}

// Release clears all gesture state. A stray leftover gesture must never
// affect an unrelated future interaction.
func (e *Engine) Release() {
	e.clearGesture()
}

// Dragging reports whether a node drag is in progress and for which node.
func (e *Engine) Dragging() (string, bool) {
	if e.drag == dragNode {
		return e.dragNodeID, true
	}
	return "", false
}

func (e *Engine) clearGesture() {
	e.drag = dragNone
	e.dragNodeID = ""
	e.pinch = pinchBaseline{}
	e.moved = false
}
