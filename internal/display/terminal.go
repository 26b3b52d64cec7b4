package display

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/woxQAQ/pixelhost/internal/input"
	"github.com/woxQAQ/pixelhost/pkg/abi"
)

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	quitKey = key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit"))
)

// Terminal renders frames in the terminal with half-block cells, two pixel
// rows per text row, and feeds keyboard and mouse input into a queue.
// The bottom text row is a status line.
type Terminal struct {
	program *tea.Program
	queue   *input.Queue
	logger  *zap.Logger
	title   string
	onQuit  func()

	mu   sync.Mutex
	cols int
	rows int
}

// TerminalOption configures a Terminal.
type TerminalOption func(*Terminal)

// WithTitle sets the status line title.
func WithTitle(title string) TerminalOption {
	return func(t *Terminal) { t.title = title }
}

// WithQuitHandler is called when the user presses the quit key.
func WithQuitHandler(fn func()) TerminalOption {
	return func(t *Terminal) { t.onQuit = fn }
}

// WithProgramOptions appends bubbletea program options, e.g. custom I/O in tests.
func WithProgramOptions(opts ...tea.ProgramOption) TerminalOption {
	return func(t *Terminal) {
		t.program = tea.NewProgram(&terminalModel{term: t}, append(defaultProgramOptions(), opts...)...)
	}
}

func defaultProgramOptions() []tea.ProgramOption {
	return []tea.ProgramOption{tea.WithAltScreen(), tea.WithMouseAllMotion()}
}

// NewTerminal creates a terminal display pushing input into queue.
func NewTerminal(queue *input.Queue, logger *zap.Logger, opts ...TerminalOption) *Terminal {
	t := &Terminal{
		queue:  queue,
		logger: logger.With(zap.String("component", "terminal-display")),
		title:  "pixelhost",
		cols:   80,
		rows:   24,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.program == nil {
		t.program = tea.NewProgram(&terminalModel{term: t}, defaultProgramOptions()...)
	}
	return t
}

// Run drives the terminal UI until ctx is done or the user quits.
func (t *Terminal) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.program.Quit()
	}()
	_, err := t.program.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal display: %w", err)
	}
	return nil
}

// Size implements Display. Each text cell holds two vertically stacked pixels.
func (t *Terminal) Size() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rows := t.rows - 1
	if rows < 0 {
		rows = 0
	}
	return t.cols, rows * 2
}

func (t *Terminal) resize(cols, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cols, t.rows = cols, rows
}

// Present implements Display.
func (t *Terminal) Present(frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	t.program.Send(frameMsg{frame: frame, at: time.Now()})
	return nil
}

type frameMsg struct {
	frame Frame
	at    time.Time
}

type terminalModel struct {
	term   *Terminal
	frame  Frame
	frames int
	fps    float64
	last   time.Time
}

func (m *terminalModel) Init() tea.Cmd {
	return nil
}

func (m *terminalModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.term.resize(msg.Width, msg.Height)

	case frameMsg:
		if !m.last.IsZero() {
			if dt := msg.at.Sub(m.last).Seconds(); dt > 0 {
				m.fps = 0.9*m.fps + 0.1/dt
			}
		}
		m.last = msg.at
		m.frame = msg.frame
		m.frames++

	case tea.KeyMsg:
		if key.Matches(msg, quitKey) {
			if m.term.onQuit != nil {
				m.term.onQuit()
			}
			return m, tea.Quit
		}
		m.term.pushKey(msg)

	case tea.MouseMsg:
		m.term.pushMouse(msg)
	}
	return m, nil
}

func (m *terminalModel) View() string {
	var b strings.Builder
	renderHalfBlocks(&b, m.frame)
	status := fmt.Sprintf("%s  %dx%d  frame %d  %.0f fps", m.term.title, m.frame.Width, m.frame.Height, m.frames, m.fps)
	b.WriteString(statusStyle.Render(status))
	b.WriteString(" ")
	b.WriteString(helpStyle.Render(quitKey.Help().Key + " " + quitKey.Help().Desc))
	return b.String()
}

// renderHalfBlocks draws the frame with "▀": the foreground is the upper
// pixel and the background the lower one.
func renderHalfBlocks(b *strings.Builder, f Frame) {
	if f.Width == 0 || f.Height == 0 {
		return
	}
	for y := 0; y < f.Height; y += 2 {
		for x := 0; x < f.Width; x++ {
			style := lipgloss.NewStyle().Foreground(cellColor(f, x, y))
			if y+1 < f.Height {
				style = style.Background(cellColor(f, x, y+1))
			}
			b.WriteString(style.Render("▀"))
		}
		b.WriteByte('\n')
	}
}

func cellColor(f Frame, x, y int) lipgloss.Color {
	r, g, bl, _ := f.RGBA(x, y)
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", r, g, bl))
}

// pushKey queues a press followed by a release; terminals report no key-up.
func (t *Terminal) pushKey(msg tea.KeyMsg) {
	name := KeyName(msg)
	if name == "" {
		return
	}
	now := time.Now()
	for _, kind := range []abi.KeyEvent{abi.KeyDown, abi.KeyUp} {
		ev, err := input.NewKey(now, kind, name)
		if err != nil {
			t.logger.Debug("Dropping key", zap.String("key", name), zap.Error(err))
			return
		}
		t.queue.Push(ev)
	}
}

func (t *Terminal) pushMouse(msg tea.MouseMsg) {
	now := time.Now()
	x, y := uint64(max(msg.X, 0)), uint64(max(msg.Y, 0))*2

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		t.queue.Push(input.NewScroll(now, -1))
		return
	case tea.MouseButtonWheelDown:
		t.queue.Push(input.NewScroll(now, 1))
		return
	}

	switch msg.Action {
	case tea.MouseActionMotion:
		t.queue.Push(input.NewMove(now, x, y))
	case tea.MouseActionPress:
		t.queue.Push(input.NewMouse(now, abi.MouseDown, mouseButton(msg.Button), x, y))
	case tea.MouseActionRelease:
		t.queue.Push(input.NewMouse(now, abi.MouseUp, mouseButton(msg.Button), x, y))
	}
}

func mouseButton(b tea.MouseButton) abi.MouseButton {
	switch b {
	case tea.MouseButtonMiddle:
		return abi.ButtonMiddle
	case tea.MouseButtonRight:
		return abi.ButtonRight
	case tea.MouseButtonBackward:
		return abi.ButtonBack
	case tea.MouseButtonForward:
		return abi.ButtonForward
	default:
		return abi.ButtonLeft
	}
}

var keyNames = map[tea.KeyType]string{
	tea.KeyEnter:     "Enter",
	tea.KeyEsc:       "Escape",
	tea.KeySpace:     "Space",
	tea.KeyTab:       "Tab",
	tea.KeyBackspace: "Backspace",
	tea.KeyDelete:    "Delete",
	tea.KeyUp:        "ArrowUp",
	tea.KeyDown:      "ArrowDown",
	tea.KeyLeft:      "ArrowLeft",
	tea.KeyRight:     "ArrowRight",
	tea.KeyHome:      "Home",
	tea.KeyEnd:       "End",
	tea.KeyPgUp:      "PageUp",
	tea.KeyPgDown:    "PageDown",
}

// KeyName maps a terminal key to a DOM KeyboardEvent.code style name.
// Unmapped keys fall back to bubbletea's own name.
func KeyName(msg tea.KeyMsg) string {
	if name, ok := keyNames[msg.Type]; ok {
		return name
	}
	if msg.Type == tea.KeyRunes && len(msg.Runes) == 1 {
		r := msg.Runes[0]
		switch {
		case unicode.IsLetter(r) && r < unicode.MaxASCII:
			return "Key" + string(unicode.ToUpper(r))
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			return "Digit" + string(r)
		case r == ' ':
			return "Space"
		}
	}
	return msg.String()
}
