package main

import (
	"context"
	"fmt"
	"strings"

	"flora/internal/canvas"
	"flora/internal/config"
	"flora/internal/export"
	"flora/internal/logging"
	"flora/internal/studio"
	"flora/internal/tree"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Canvas units per terminal cell. Node spacing is 320x400 canvas units, so a
// child lands 16 cells right / 16 rows down from its parent at scale 1.
const (
	unitX = 20.0
	unitY = 25.0

	nodeBoxWidth  = 22
	nodeBoxHeight = 5

	buttonZoomStep = 0.2
	wheelZoomStep  = 0.1
)

type configReloadedMsg struct{ keys int }

type generationDoneMsg struct {
	nodeID string
	err    error
}

// inputTarget says what the text input, when open, will submit.
type inputTarget int

const (
	inputNone inputTarget = iota
	inputCustom
	inputDirector
	inputSeed
)

var (
	nodeStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Width(nodeBoxWidth - 2)
	selectedNodeStyle = nodeStyle.BorderForeground(lipgloss.Color("212"))
	errorNodeStyle    = nodeStyle.BorderForeground(lipgloss.Color("196"))
	statusStyle       = lipgloss.NewStyle().Faint(true)
	labelStyle        = lipgloss.NewStyle().Bold(true)
)

type canvasModel struct {
	store     *tree.Store
	orch      *studio.Orchestrator
	cfg       *config.UserConfig
	workspace string

	engine  *canvas.Engine
	spinner spinner.Model
	input   textinput.Model
	target  inputTarget

	width  int
	height int
	status string
}

func newCanvasModel(store *tree.Store, orch *studio.Orchestrator, cfg *config.UserConfig, workspace string) *canvasModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	ti := textinput.New()
	ti.Placeholder = "describe the change..."
	ti.CharLimit = 500

	return &canvasModel{
		store:     store,
		orch:      orch,
		cfg:       cfg,
		workspace: workspace,
		engine:    canvas.NewEngine(canvas.Viewport{Scale: 1}),
		spinner:   sp,
		input:     ti,
		status:    "tab: select  g: pose  a: angles  c: custom  d: direct  s: seed  e: export  r: retry  x: delete  p: promote  q: quit",
	}
}

func (m *canvasModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}

	if m.store.Len() == 0 {
		prompt := m.cfg.GetSeedPrompt()
		if img := m.cfg.SeedImage; img != "" {
			id := m.store.InsertSeed(prompt, img)
			m.store.Select(id)
		} else {
			cmds = append(cmds, func() tea.Msg {
				id, err := m.orch.NewSeed(context.Background(), prompt)
				return generationDoneMsg{nodeID: id, err: err}
			})
		}
	}
	return tea.Batch(cmds...)
}

func (m *canvasModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case configReloadedMsg:
		m.status = fmt.Sprintf("credentials reloaded (%d keys)", msg.keys)
		return m, nil

	case generationDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("generation failed: %v", msg.err)
		} else {
			m.status = "generation complete"
			if _, ok := m.store.Selected(); !ok {
				m.store.Select(msg.nodeID)
			}
		}
		return m, nil

	case tea.KeyMsg:
		if m.target != inputNone {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)

	case tea.MouseMsg:
		return m.updateMouse(msg)
	}
	return m, nil
}

func (m *canvasModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "left":
		m.engine.PanBy(4, 0)
	case "right":
		m.engine.PanBy(-4, 0)
	case "up":
		m.engine.PanBy(0, 2)
	case "down":
		m.engine.PanBy(0, -2)

	case "+", "=":
		m.engine.ZoomStep(m.center(), buttonZoomStep)
	case "-":
		m.engine.ZoomStep(m.center(), -buttonZoomStep)
	case "0":
		m.resetViewport()

	case "tab":
		m.cycleSelection(1)
	case "shift+tab":
		m.cycleSelection(-1)

	case "g":
		if n, ok := m.selectedIdle(); ok {
			return m, m.branchCmd(studio.BranchRequest{ParentID: n.ID, Intent: studio.IntentRandomPose})
		}
	case "a":
		if n, ok := m.selectedIdle(); ok {
			return m, m.angleCmd(n.ID, 3)
		}
	case "c":
		return m.openInput(inputCustom, "describe the change...")
	case "d":
		return m.openInput(inputDirector, "director's instruction...")
	case "s":
		return m.openInput(inputSeed, "seed prompt...")

	case "e":
		if n, ok := m.store.Selected(); ok {
			path, err := export.Node(n, m.workspace)
			if err != nil {
				m.status = fmt.Sprintf("export failed: %v", err)
			} else {
				m.status = "exported " + path
			}
		}
	case "r":
		if n, ok := m.store.Selected(); ok {
			id := n.ID
			return m, func() tea.Msg {
				err := m.orch.Retry(context.Background(), id)
				return generationDoneMsg{nodeID: id, err: err}
			}
		}
	case "x":
		if n, ok := m.store.Selected(); ok {
			m.store.DeleteSubtree(n.ID)
			m.status = "branch deleted"
		}
	case "p":
		if n, ok := m.store.Selected(); ok {
			m.store.Promote(n.ID)
			m.status = "promoted to seed"
		}
	}
	return m, nil
}

func (m *canvasModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.target = inputNone
		m.input.Blur()
		return m, nil
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		target := m.target
		m.target = inputNone
		m.input.Blur()
		m.input.SetValue("")
		if text == "" {
			return m, nil
		}
		switch target {
		case inputCustom:
			if n, ok := m.selectedIdle(); ok {
				return m, m.branchCmd(studio.BranchRequest{ParentID: n.ID, Intent: studio.IntentCustom, CustomText: text})
			}
		case inputDirector:
			if n, ok := m.selectedIdle(); ok {
				id := n.ID
				return m, func() tea.Msg {
					childID, err := m.orch.Director(context.Background(), id, text)
					return generationDoneMsg{nodeID: childID, err: err}
				}
			}
		case inputSeed:
			return m, func() tea.Msg {
				id, err := m.orch.NewSeed(context.Background(), text)
				return generationDoneMsg{nodeID: id, err: err}
			}
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *canvasModel) updateMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	p := canvas.Point{X: float64(msg.X), Y: float64(msg.Y)}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.engine.ZoomStep(p, wheelZoomStep)
		return m, nil
	case tea.MouseButtonWheelDown:
		m.engine.ZoomStep(p, -wheelZoomStep)
		return m, nil
	}

	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button == tea.MouseButtonLeft {
			if id, ok := m.nodeAt(p); ok {
				m.store.Select(id)
				m.engine.PointerDownNode(id, p)
			} else {
				m.engine.PointerDownCanvas(p)
			}
		}
	case tea.MouseActionMotion:
		m.engine.PointerMove(p)
		if drag, ok := m.engine.Flush(); ok {
			logging.CanvasDebug("node drag id=%s dx=%.1f dy=%.1f", drag.NodeID, drag.DX, drag.DY)
			m.store.MoveBy(drag.NodeID, drag.DX*unitX, drag.DY*unitY)
		}
	case tea.MouseActionRelease:
		m.engine.PointerUp()
	}
	return m, nil
}

func (m *canvasModel) openInput(target inputTarget, placeholder string) (tea.Model, tea.Cmd) {
	if target != inputSeed {
		if _, ok := m.selectedIdle(); !ok {
			return m, nil
		}
	}
	m.target = target
	m.input.Placeholder = placeholder
	m.input.Focus()
	return m, textinput.Blink
}

func (m *canvasModel) branchCmd(req studio.BranchRequest) tea.Cmd {
	m.status = "generating..."
	return func() tea.Msg {
		id, err := m.orch.Branch(context.Background(), req)
		return generationDoneMsg{nodeID: id, err: err}
	}
}

func (m *canvasModel) angleCmd(parentID string, count int) tea.Cmd {
	m.status = "generating angle batch..."
	return func() tea.Msg {
		ids, err := m.orch.AngleBatch(context.Background(), parentID, count)
		var first string
		if len(ids) > 0 {
			first = ids[0]
		}
		return generationDoneMsg{nodeID: first, err: err}
	}
}

func (m *canvasModel) center() canvas.Point {
	return canvas.Point{X: float64(m.width) / 2, Y: float64(m.height) / 2}
}

// resetViewport returns to scale 1 with the selected node (or origin)
// centered.
func (m *canvasModel) resetViewport() {
	focus := canvas.Point{}
	if n, ok := m.store.Selected(); ok {
		focus = canvas.Point{X: n.Position.X / unitX, Y: n.Position.Y / unitY}
	}
	c := m.center()
	m.engine.SetViewport(canvas.Viewport{
		Pan:   canvas.Point{X: c.X - focus.X, Y: c.Y - focus.Y},
		Scale: 1,
	})
}

func (m *canvasModel) cycleSelection(dir int) {
	nodes := m.store.Nodes()
	if len(nodes) == 0 {
		return
	}
	cur := -1
	if sel, ok := m.store.Selected(); ok {
		for i, n := range nodes {
			if n.ID == sel.ID {
				cur = i
				break
			}
		}
	}
	next := (cur + dir + len(nodes)) % len(nodes)
	m.store.Select(nodes[next].ID)
}

// selectedIdle returns the selected node if it is not mid-generation.
func (m *canvasModel) selectedIdle() (tree.Node, bool) {
	n, ok := m.store.Selected()
	if !ok {
		return tree.Node{}, false
	}
	if n.Pending {
		m.status = "node is still generating"
		return tree.Node{}, false
	}
	return n, true
}

// screenPos projects a node's canvas position into cell coordinates.
func (m *canvasModel) screenPos(n tree.Node) canvas.Point {
	return m.engine.Viewport().ToScreen(canvas.Point{X: n.Position.X / unitX, Y: n.Position.Y / unitY})
}

// nodeAt hit-tests nodes topmost-last, matching draw order.
func (m *canvasModel) nodeAt(p canvas.Point) (string, bool) {
	nodes := m.store.Nodes()
	for i := len(nodes) - 1; i >= 0; i-- {
		s := m.screenPos(nodes[i])
		if p.X >= s.X && p.X < s.X+nodeBoxWidth && p.Y >= s.Y && p.Y < s.Y+nodeBoxHeight {
			return nodes[i].ID, true
		}
	}
	return "", false
}

func (m *canvasModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "loading..."
	}

	grid := newCellGrid(m.width, m.height-2)

	for _, conn := range m.store.Connections() {
		from, okF := m.store.Get(conn.From)
		to, okT := m.store.Get(conn.To)
		if !okF || !okT {
			continue
		}
		a := m.screenPos(from)
		b := m.screenPos(to)
		grid.line(
			int(a.X)+nodeBoxWidth/2, int(a.Y)+nodeBoxHeight/2,
			int(b.X)+nodeBoxWidth/2, int(b.Y)+nodeBoxHeight/2,
		)
	}

	selectedID := ""
	if sel, ok := m.store.Selected(); ok {
		selectedID = sel.ID
	}
	for _, n := range m.store.Nodes() {
		s := m.screenPos(n)
		grid.overlay(int(s.X), int(s.Y), m.renderNode(n, n.ID == selectedID))
	}

	var footer string
	if m.target != inputNone {
		footer = m.input.View()
	} else {
		footer = statusStyle.Render(m.status)
	}
	header := statusStyle.Render(fmt.Sprintf(" flora  scale %.1f  nodes %d", m.engine.Viewport().Scale, m.store.Len()))

	return header + "\n" + grid.String() + "\n" + footer
}

func (m *canvasModel) renderNode(n tree.Node, selected bool) string {
	style := nodeStyle
	if selected {
		style = selectedNodeStyle
	}
	if n.Label == tree.LabelError {
		style = errorNodeStyle
	}

	label := labelStyle.Render(truncate(n.Label, nodeBoxWidth-4))
	body := truncate(n.Prompt, nodeBoxWidth-4)
	state := "ready"
	switch {
	case n.Pending:
		state = m.spinner.View() + " generating"
	case n.Label == tree.LabelError:
		state = "failed (r to retry)"
	case n.ImageURL == "":
		state = "no image"
	}
	return style.Render(label + "\n" + body + "\n" + statusStyle.Render(state))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// cellGrid is a plain rune buffer the canvas composes into.
type cellGrid struct {
	w, h  int
	cells [][]rune
}

func newCellGrid(w, h int) *cellGrid {
	cells := make([][]rune, h)
	for i := range cells {
		row := make([]rune, w)
		for j := range row {
			row[j] = ' '
		}
		cells[i] = row
	}
	return &cellGrid{w: w, h: h, cells: cells}
}

func (g *cellGrid) set(x, y int, r rune) {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		return
	}
	g.cells[y][x] = r
}

// line draws a coarse connection between two cell coordinates.
func (g *cellGrid) line(x0, y0, x1, y1 int) {
	steps := max(abs(x1-x0), abs(y1-y0))
	if steps == 0 {
		return
	}
	for i := 0; i <= steps; i++ {
		x := x0 + (x1-x0)*i/steps
		y := y0 + (y1-y0)*i/steps
		g.set(x, y, '·')
	}
}

// overlay stamps a multi-line rendered block onto the grid. Styled (ANSI)
// content is stamped rune by rune after stripping is not needed because the
// grid renders last; instead we place plain runes and let borders carry the
// visual structure.
func (g *cellGrid) overlay(x, y int, block string) {
	for dy, line := range strings.Split(block, "\n") {
		dx := 0
		for _, r := range stripANSI(line) {
			g.set(x+dx, y+dy, r)
			dx++
		}
	}
}

func (g *cellGrid) String() string {
	var sb strings.Builder
	for i, row := range g.cells {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(string(row))
	}
	return sb.String()
}

// stripANSI removes escape sequences so the grid aligns by rune count.
func stripANSI(s string) []rune {
	out := make([]rune, 0, len(s))
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
		case r == '\x1b':
			inEscape = true
		default:
			out = append(out, r)
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
