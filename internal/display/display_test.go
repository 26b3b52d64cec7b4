package display

import (
	"bytes"
	"image/png"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/pixelhost/internal/input"
	"github.com/woxQAQ/pixelhost/pkg/abi"
)

func twoPixelFrame() Frame {
	// 0xFF0000FF and 0x00FF00FF, little-endian.
	return Frame{Width: 2, Height: 1, Pix: []byte{0xFF, 0x00, 0x00, 0xFF, 0xFF, 0x00, 0xFF, 0x00}}
}

func TestFramePixels(t *testing.T) {
	f := twoPixelFrame()
	require.NoError(t, f.Validate())
	assert.Equal(t, []uint32{0xFF0000FF, 0x00FF00FF}, f.Pixels())
	assert.Equal(t, uint32(0x00FF00FF), f.At(1, 0))

	r, g, b, a := f.RGBA(0, 0)
	assert.Equal(t, [4]uint8{0xFF, 0, 0, 0xFF}, [4]uint8{r, g, b, a})
}

func TestFrameValidate(t *testing.T) {
	assert.Error(t, Frame{Width: 2, Height: 2, Pix: make([]byte, 8)}.Validate())
	assert.Error(t, Frame{Width: -1, Height: 1}.Validate())
	assert.NoError(t, Frame{}.Validate())
}

func TestFrameClone(t *testing.T) {
	f := twoPixelFrame()
	c := f.Clone()
	c.Pix[0] = 0
	assert.Equal(t, byte(0xFF), f.Pix[0])
}

func TestHeadless(t *testing.T) {
	h := NewHeadless(4, 3)
	w, ht := h.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 3, ht)

	_, ok := h.Last()
	assert.False(t, ok)

	require.NoError(t, h.Present(twoPixelFrame()))
	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, []uint32{0xFF0000FF, 0x00FF00FF}, last.Pixels())
	assert.Equal(t, 1, h.Presented())

	assert.Error(t, h.Present(Frame{Width: 1, Height: 1}))
	assert.Equal(t, 1, h.Presented())

	h.Resize(8, 8)
	w, ht = h.Size()
	assert.Equal(t, 8, w)
	assert.Equal(t, 8, ht)
}

func TestEncodePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, twoPixelFrame()))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())

	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xFFFF), r)
	assert.Equal(t, uint32(0), g)
	assert.Equal(t, uint32(0), b)
	assert.Equal(t, uint32(0xFFFF), a)
}

func TestKeyName(t *testing.T) {
	tests := []struct {
		msg  tea.KeyMsg
		want string
	}{
		{tea.KeyMsg{Type: tea.KeyEnter}, "Enter"},
		{tea.KeyMsg{Type: tea.KeyUp}, "ArrowUp"},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}}, "KeyA"},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'7'}}, "Digit7"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KeyName(tt.msg))
	}
}

func TestTerminalModelInput(t *testing.T) {
	q := input.NewQueue(0)
	term := NewTerminal(q, zaptest.NewLogger(t))
	m := &terminalModel{term: term}

	m.Update(tea.WindowSizeMsg{Width: 20, Height: 11})
	w, h := term.Size()
	assert.Equal(t, 20, w)
	assert.Equal(t, 20, h, "one status row, two pixels per row")

	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m.Update(tea.MouseMsg{X: 3, Y: 4, Action: tea.MouseActionPress, Button: tea.MouseButtonRight})
	m.Update(tea.MouseMsg{Button: tea.MouseButtonWheelDown, Action: tea.MouseActionPress})

	events := q.Drain()
	require.Len(t, events, 4)
	assert.Equal(t, input.KeyEvent{Kind: abi.KeyDown, Name: "Enter"}, events[0].Key)
	assert.Equal(t, abi.KeyUp, events[1].Key.Kind)
	assert.Equal(t, input.MouseEvent{Kind: abi.MouseDown, Button: abi.ButtonRight, X: 3, Y: 8}, events[2].Mouse)
	assert.Equal(t, 1.0, events[3].Scroll.DeltaY)
}

func TestTerminalQuitKey(t *testing.T) {
	quit := false
	term := NewTerminal(input.NewQueue(0), zaptest.NewLogger(t), WithQuitHandler(func() { quit = true }))
	m := &terminalModel{term: term}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.True(t, quit)
	require.NotNil(t, cmd)
}

func TestTerminalView(t *testing.T) {
	term := NewTerminal(input.NewQueue(0), zaptest.NewLogger(t), WithTitle("demo"))
	m := &terminalModel{term: term}
	m.Update(frameMsg{frame: twoPixelFrame()})

	view := m.View()
	assert.Contains(t, view, "▀")
	assert.Contains(t, view, "demo")
}
