// Package presentation decides where the active conversation is shown: on the
// messages route, as a floating widget, or not at all. All changes go through
// Machine's transition methods.
package presentation

import (
	"sync"

	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
)

type State int

const (
	Hidden State = iota
	MinimizedCollapsed
	MinimizedExpanded
	FullPage
)

func (s State) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case MinimizedCollapsed:
		return "minimized_collapsed"
	case MinimizedExpanded:
		return "minimized_expanded"
	case FullPage:
		return "full_page"
	}
	return "unknown"
}

const (
	MessagesRoute = "/messages"

	// DefaultMinWidth is the narrowest viewport that gets the floating widget.
	DefaultMinWidth = 700

	CollapsedWidth  = 256
	CollapsedHeight = 48
	ExpandedWidth   = 320
	ExpandedHeight  = 384
)

type EffectKind string

const (
	// EffectNavigate asks the client to change route, carrying the active
	// conversation id as navigation state.
	EffectNavigate EffectKind = "navigate"
	// EffectRestoreScroll asks the client to scroll once the route change
	// completes.
	EffectRestoreScroll EffectKind = "restore_scroll"
)

type Effect struct {
	Kind           EffectKind
	Path           string
	ConversationID string
	ScrollY        int
}

type Point struct {
	X, Y int
}

// View is a copy of the machine state.
type View struct {
	State          State
	ConversationID string
	// ListOpen: the expanded widget shows the conversation list instead of
	// the active thread.
	ListOpen bool
	Route    string
	Width    int
	Height   int
	Position Point
}

func (v View) Visible() bool { return v.State != Hidden }

func (v View) OnMessagesRoute() bool { return v.Route == MessagesRoute }

// Transition is what one method call did.
type Transition struct {
	Cause   string
	From    View
	To      View
	Effects []Effect
}

func (t Transition) Changed() bool {
	return t.From != t.To || len(t.Effects) > 0
}

// ConversationChanged reports whether the active conversation id moved.
func (t Transition) ConversationChanged() bool {
	return t.From.ConversationID != t.To.ConversationID
}

type Observer func(Transition)

type Machine struct {
	minWidth int

	mu          sync.Mutex
	view        View
	savedPath   string
	savedScroll int
	observers   []Observer
}

// New starts Hidden at route with the given viewport. A minWidth of zero
// means DefaultMinWidth.
func New(minWidth int, route string, width, height int) *Machine {
	if minWidth <= 0 {
		minWidth = DefaultMinWidth
	}
	m := &Machine{minWidth: minWidth}
	m.view = View{Route: route, Width: width, Height: height}
	if route == MessagesRoute {
		m.view.State = FullPage
	}
	return m
}

func (m *Machine) MinWidth() int { return m.minWidth }

func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// Observe registers fn for every transition that changed something. Observers
// run on the caller's goroutine after the machine lock is released.
func (m *Machine) Observe(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Machine) wide() bool { return m.view.Width > m.minWidth }

// capture remembers the page beneath the messaging UI.
func (m *Machine) capture(scrollY int) {
	if m.view.Route == MessagesRoute {
		return
	}
	m.savedPath = m.view.Route
	m.savedScroll = scrollY
}

func (m *Machine) apply(cause string, fn func(v *View) []Effect) Transition {
	m.mu.Lock()
	from := m.view
	effects := fn(&m.view)
	m.view.Position = m.clamp(m.view.Position)
	t := Transition{Cause: cause, From: from, To: m.view, Effects: effects}
	obs := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	if t.Changed() {
		for _, o := range obs {
			o(t)
		}
	}
	return t
}

// Minimize starts messaging from the current page. A non-empty convID becomes
// the active conversation. Wide viewports off the messages route get the
// collapsed widget; everything else goes full page.
func (m *Machine) Minimize(convID string, scrollY int) Transition {
	return m.apply("minimize", func(v *View) []Effect {
		if convID != "" {
			v.ConversationID = convID
			v.ListOpen = false
		}
		if v.ConversationID == "" {
			v.ListOpen = true
		}
		if v.Route != MessagesRoute && m.wide() {
			m.capture(scrollY)
			v.State = MinimizedCollapsed
			return nil
		}
		return m.toFull(v, scrollY)
	})
}

// ToggleWidget flips the widget between its collapsed bar and expanded body.
func (m *Machine) ToggleWidget() Transition {
	return m.apply("toggle_widget", func(v *View) []Effect {
		switch v.State {
		case MinimizedCollapsed:
			v.State = MinimizedExpanded
		case MinimizedExpanded:
			v.State = MinimizedCollapsed
		}
		return nil
	})
}

// Toggle is the global messaging button. On the messages route it minimizes
// and returns to the page captured before; elsewhere it takes a visible
// widget to full page or shows a hidden one.
func (m *Machine) Toggle(scrollY int) Transition {
	m.mu.Lock()
	v := m.view
	m.mu.Unlock()

	switch {
	case v.Route == MessagesRoute:
		return m.apply("toggle", func(v *View) []Effect {
			if !m.wide() {
				return nil
			}
			v.State = MinimizedCollapsed
			return m.back()
		})
	case v.Visible():
		return m.Full(scrollY)
	default:
		return m.Minimize("", scrollY)
	}
}

// Open selects convID. Off the messages route it shows the conversation in the
// expanded widget, minimizing first when nothing is visible.
func (m *Machine) Open(convID string, scrollY int) (Transition, error) {
	if convID == "" {
		return Transition{}, domain.Validation("presentation.Open", "conversation id is required")
	}
	if cur := m.View(); cur.State == Hidden && cur.Route != MessagesRoute {
		return m.Minimize(convID, scrollY), nil
	}
	return m.apply("open", func(v *View) []Effect {
		v.ConversationID = convID
		v.ListOpen = false
		if v.State == MinimizedCollapsed {
			v.State = MinimizedExpanded
		}
		return nil
	}), nil
}

// Back shows the conversation list inside the expanded widget. The active
// conversation is kept.
func (m *Machine) Back() Transition {
	return m.apply("back", func(v *View) []Effect {
		if v.State == MinimizedExpanded {
			v.ListOpen = true
		}
		return nil
	})
}

// Full moves the active conversation onto the messages route.
func (m *Machine) Full(scrollY int) Transition {
	return m.apply("full", func(v *View) []Effect {
		if v.State == FullPage {
			return nil
		}
		return m.toFull(v, scrollY)
	})
}

func (m *Machine) toFull(v *View, scrollY int) []Effect {
	prevScroll := m.savedScroll
	m.capture(scrollY)
	v.State = FullPage
	v.ListOpen = false
	if v.Route == MessagesRoute {
		return nil
	}
	v.Route = MessagesRoute
	return []Effect{
		{Kind: EffectNavigate, Path: MessagesRoute, ConversationID: v.ConversationID},
		{Kind: EffectRestoreScroll, ScrollY: prevScroll},
	}
}

// back navigates to the captured page and restores its scroll offset.
func (m *Machine) back() []Effect {
	path := m.savedPath
	if path == "" || path == MessagesRoute {
		return nil
	}
	m.view.Route = path
	return []Effect{
		{Kind: EffectNavigate, Path: path, ConversationID: m.view.ConversationID},
		{Kind: EffectRestoreScroll, ScrollY: m.savedScroll},
	}
}

// Close hides everything and forgets the active conversation.
func (m *Machine) Close() Transition {
	return m.apply("close", func(v *View) []Effect {
		v.State = Hidden
		v.ConversationID = ""
		v.ListOpen = false
		m.savedPath = ""
		m.savedScroll = 0
		return nil
	})
}

// Resize records a new viewport. Growing past the threshold while full page on
// the messages route turns the thread into the collapsed widget and returns to
// the page captured before it went full page.
func (m *Machine) Resize(width, height int) Transition {
	return m.apply("resize", func(v *View) []Effect {
		v.Width, v.Height = width, height
		if v.State == FullPage && v.Route == MessagesRoute && m.wide() {
			v.State = MinimizedCollapsed
			return m.back()
		}
		return nil
	})
}

// Navigate records a route change made by the client.
func (m *Machine) Navigate(path string) Transition {
	return m.apply("navigate", func(v *View) []Effect {
		if path == v.Route {
			return nil
		}
		leaving := v.Route == MessagesRoute
		v.Route = path
		switch {
		case path == MessagesRoute:
			v.State = FullPage
			v.ListOpen = false
		case leaving && v.State == FullPage:
			if m.wide() && v.ConversationID != "" {
				v.State = MinimizedCollapsed
			} else {
				v.State = Hidden
			}
		}
		return nil
	})
}

// Drag moves the widget, keeping it inside the viewport.
func (m *Machine) Drag(x, y int) Transition {
	return m.apply("drag", func(v *View) []Effect {
		if v.State != MinimizedCollapsed && v.State != MinimizedExpanded {
			return nil
		}
		v.Position = Point{X: x, Y: y}
		return nil
	})
}

func (m *Machine) clamp(p Point) Point {
	w, h := CollapsedWidth, CollapsedHeight
	if m.view.State == MinimizedExpanded {
		w, h = ExpandedWidth, ExpandedHeight
	}
	p.X = min(max(p.X, 0), max(m.view.Width-w, 0))
	p.Y = max(p.Y, 0)
	if m.view.Height > 0 {
		p.Y = min(p.Y, max(m.view.Height-h, 0))
	}
	return p
}
