package render

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/kestrelgb/dmgcore/dmgcore"
	"github.com/kestrelgb/dmgcore/dmgcore/disasm"
	"github.com/kestrelgb/dmgcore/dmgcore/memory"
)

const (
	width     = 160
	height    = 144
	scaleX    = 1
	scaleY    = 1
	frameTime = time.Second / 60

	gameAreaWidth  = width * scaleX
	gameAreaHeight = height * scaleY
	registerHeight = 7
	disasmHeight   = 9
	minTermWidth   = 100
	minTermHeight  = 35
)

var shadeChars = []rune{'█', '▓', '▒', '░'}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// TerminalRenderer drives the emulator inside a tcell terminal window,
// splitting the screen into the Game Boy display, CPU register dump,
// live disassembly around PC, and a scrolling log panel.
type TerminalRenderer struct {
	screen    tcell.Screen
	emulator  *dmgcore.Emulator
	running   bool
	logBuffer *LogBuffer
}

// NewTerminalRenderer initializes the terminal screen and redirects the
// default slog logger into an in-memory ring buffer rendered in its own panel.
func NewTerminalRenderer(emu *dmgcore.Emulator) (*TerminalRenderer, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize terminal: %w", err)
	}

	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize terminal: %w", err)
	}

	logBuffer := NewLogBuffer(100)
	slog.SetDefault(slog.New(NewLogBufferHandler(logBuffer, slog.LevelDebug)))
	slog.Info("Terminal renderer initialized")

	return &TerminalRenderer{
		screen:    screen,
		emulator:  emu,
		running:   true,
		logBuffer: logBuffer,
	}, nil
}

// Run drives the render loop at 60Hz until the user quits or the process
// receives a termination signal.
func (t *TerminalRenderer) Run() error {
	defer func() {
		slog.Info("Finishing terminal")
		t.screen.Fini()
	}()

	t.screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))
	t.screen.Clear()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)

	go t.handleInput()

	ticker := time.NewTicker(frameTime)
	defer ticker.Stop()

	for t.running {
		select {
		case <-ticker.C:
			t.emulator.RunUntilFrame()
			t.render()
			t.screen.Show()
		case <-signals:
			t.running = false
			slog.Info("Received signal to stop")
			return nil
		}
	}

	return nil
}

func (t *TerminalRenderer) handleInput() {
	for t.running {
		ev := t.screen.PollEvent()
		switch ev := ev.(type) {
		case *tcell.EventKey:
			switch ev.Key() {
			case tcell.KeyEscape, tcell.KeyCtrlC:
				t.running = false
				return
			case tcell.KeyEnter:
				t.emulator.HandleKeyPress(memory.JoypadStart)
			case tcell.KeyRight:
				t.emulator.HandleKeyPress(memory.JoypadRight)
			case tcell.KeyLeft:
				t.emulator.HandleKeyPress(memory.JoypadLeft)
			case tcell.KeyUp:
				t.emulator.HandleKeyPress(memory.JoypadUp)
			case tcell.KeyDown:
				t.emulator.HandleKeyPress(memory.JoypadDown)
			case tcell.KeyRune:
				switch ev.Rune() {
				case 'a':
					t.emulator.HandleKeyPress(memory.JoypadA)
				case 's':
					t.emulator.HandleKeyPress(memory.JoypadB)
				case 'q':
					t.emulator.HandleKeyPress(memory.JoypadSelect)
				case ' ':
					if t.emulator.GetDebuggerState() == dmgcore.DebuggerPaused {
						t.emulator.DebuggerResume()
					} else {
						t.emulator.DebuggerPause()
					}
				case 'n':
					t.emulator.DebuggerStepInstruction()
				case 'f':
					t.emulator.DebuggerStepFrame()
				case 'r':
					t.emulator.DebuggerResume()
				case 'p':
					t.emulator.DebuggerPause()
				}
			}
		case *tcell.EventResize:
			t.screen.Sync()
		}
	}
}

func (t *TerminalRenderer) render() {
	termWidth, termHeight := t.screen.Size()

	if termWidth < minTermWidth || termHeight < minTermHeight {
		t.screen.Clear()
		style := tcell.StyleDefault.Foreground(tcell.ColorRed)
		msg := fmt.Sprintf("Terminal too small! Need at least %dx%d", minTermWidth, minTermHeight)
		for i, ch := range msg {
			t.screen.SetContent(i, termHeight/2, ch, nil, style)
		}
		return
	}

	t.screen.Clear()
	t.drawBorders(termWidth, termHeight)
	t.drawGameBoy()
	t.drawRegisters(termWidth, termHeight)
	t.drawDisassembly(termWidth, termHeight)
	t.drawLogs(termWidth, termHeight)
}

func (t *TerminalRenderer) drawBorders(termWidth, termHeight int) {
	borderStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite)

	borderX := min(gameAreaWidth+1, termWidth/2)
	if borderX >= termWidth-10 {
		borderX = termWidth - 10
	}

	for y := 0; y < termHeight; y++ {
		if borderX < termWidth {
			t.screen.SetContent(borderX, y, '│', nil, borderStyle)
		}
	}

	registerEndY := registerHeight + 1
	if registerEndY < termHeight {
		for x := borderX + 1; x < termWidth; x++ {
			t.screen.SetContent(x, registerEndY, '─', nil, borderStyle)
		}
		t.screen.SetContent(borderX, registerEndY, '├', nil, borderStyle)
	}

	disasmEndY := registerEndY + disasmHeight + 1
	if disasmEndY < termHeight {
		for x := borderX + 1; x < termWidth; x++ {
			t.screen.SetContent(x, disasmEndY, '─', nil, borderStyle)
		}
		t.screen.SetContent(borderX, disasmEndY, '├', nil, borderStyle)
	}

	titleStyle := tcell.StyleDefault.Foreground(tcell.ColorYellow)

	title := " Game Boy "
	for i, ch := range title {
		t.screen.SetContent(1+i, 0, ch, nil, titleStyle)
	}

	title = " CPU Registers "
	for i, ch := range title {
		t.screen.SetContent(borderX+2+i, 0, ch, nil, titleStyle)
	}

	if registerEndY+1 < termHeight {
		title = " Disassembly "
		for i, ch := range title {
			t.screen.SetContent(borderX+2+i, registerEndY+1, ch, nil, titleStyle)
		}
	}

	if disasmEndY+1 < termHeight {
		title = " Logs "
		for i, ch := range title {
			t.screen.SetContent(borderX+2+i, disasmEndY+1, ch, nil, titleStyle)
		}
	}

	if termHeight > 10 {
		helpStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite)
		helpText := "Debug: SPACE=pause/resume N=step P=pause R=resume F=step-frame"
		maxWidth := min(len(helpText), termWidth-2)
		for i, ch := range helpText[:maxWidth] {
			t.screen.SetContent(1+i, termHeight-1, ch, nil, helpStyle)
		}
	}
}

func (t *TerminalRenderer) drawGameBoy() {
	fb := t.emulator.Framebuffer()
	frame := fb.ToSlice()

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pixel := frame[y*width+x]

			shade := 0
			switch pixel {
			case uint32(0x000000FF):
				shade = 0
			case uint32(0x4C4C4CFF):
				shade = 1
			case uint32(0x989898FF):
				shade = 2
			case uint32(0xFFFFFFFF):
				shade = 3
			}

			style := tcell.StyleDefault.Foreground(tcell.ColorWhite)
			char := shadeChars[shade]
			screenX := x * scaleX
			screenY := y*scaleY + 1

			for sx := 0; sx < scaleX; sx++ {
				if screenX+sx < gameAreaWidth {
					t.screen.SetContent(screenX+sx, screenY, char, nil, style)
				}
			}
		}
	}
}

func flagString(f uint8) string {
	flags := [4]byte{'-', '-', '-', '-'}
	if f&0x80 != 0 {
		flags[0] = 'Z'
	}
	if f&0x40 != 0 {
		flags[1] = 'N'
	}
	if f&0x20 != 0 {
		flags[2] = 'H'
	}
	if f&0x10 != 0 {
		flags[3] = 'C'
	}
	return string(flags[:])
}

func (t *TerminalRenderer) drawRegisters(termWidth, termHeight int) {
	c := t.emulator.GetCPU()
	startX := gameAreaWidth + 3
	startY := 1

	regStyle := tcell.StyleDefault.Foreground(tcell.ColorGreen)

	debugState := t.emulator.GetDebuggerState()
	debugStatus := ""
	debugStyle := regStyle
	switch debugState {
	case dmgcore.DebuggerRunning:
		debugStatus = "RUNNING"
		debugStyle = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	case dmgcore.DebuggerPaused:
		debugStatus = "PAUSED"
		debugStyle = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	case dmgcore.DebuggerStep:
		debugStatus = "STEP"
		debugStyle = tcell.StyleDefault.Foreground(tcell.ColorBlue)
	case dmgcore.DebuggerStepFrame:
		debugStatus = "FRAME"
		debugStyle = tcell.StyleDefault.Foreground(tcell.ColorRed)
	}

	registers := []string{
		fmt.Sprintf("Status: %s", debugStatus),
		fmt.Sprintf("A: 0x%02X  F: 0x%02X [%s]", c.A(), c.F(), flagString(c.F())),
		fmt.Sprintf("B: 0x%02X  C: 0x%02X", c.B(), c.C()),
		fmt.Sprintf("D: 0x%02X  E: 0x%02X", c.D(), c.E()),
		fmt.Sprintf("H: 0x%02X  L: 0x%02X", c.H(), c.L()),
		fmt.Sprintf("SP: 0x%04X  PC: 0x%04X", c.SP(), c.PC()),
		fmt.Sprintf("Frame: %d  Instr: %d", t.emulator.GetFrameCount(), t.emulator.GetInstructionCount()),
	}

	for i, reg := range registers {
		if startY+i >= registerHeight+1 || startY+i >= termHeight {
			break
		}

		style := regStyle
		if i == 0 {
			style = debugStyle
		}

		x := startX
		for _, ch := range reg {
			if x >= termWidth {
				break
			}
			t.screen.SetContent(x, startY+i, ch, nil, style)
			x++
		}
	}
}

func (t *TerminalRenderer) drawDisassembly(termWidth, termHeight int) {
	startX := gameAreaWidth + 3
	startY := registerHeight + 3

	c := t.emulator.GetCPU()
	mmu := t.emulator.GetMMU()
	currentPC := c.PC()

	lines := disasm.DisassembleAround(currentPC, 4, 4, mmu)

	disasmStyle := tcell.StyleDefault.Foreground(tcell.ColorGreen)
	currentPCStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorBlue)

	maxLines := min(len(lines), disasmHeight)
	for i := 0; i < maxLines; i++ {
		if startY+i >= termHeight {
			break
		}

		line := lines[i]
		isCurrentPC := line.Address == currentPC
		text := disasm.FormatDisassemblyLine(line, isCurrentPC)

		style := disasmStyle
		if isCurrentPC {
			style = currentPCStyle
		}

		x := startX
		maxWidth := termWidth - startX - 1
		if len(text) > maxWidth && maxWidth > 3 {
			text = text[:maxWidth-3] + "..."
		}

		for _, ch := range text {
			if x >= termWidth {
				break
			}
			t.screen.SetContent(x, startY+i, ch, nil, style)
			x++
		}
	}
}

func (t *TerminalRenderer) drawLogs(termWidth, termHeight int) {
	startX := gameAreaWidth + 3
	startY := registerHeight + 3 + disasmHeight + 1
	availableHeight := termHeight - startY

	if availableHeight <= 0 {
		return
	}

	logs := t.logBuffer.GetRecent(availableHeight)

	logStyle := tcell.StyleDefault.Foreground(tcell.ColorBlue)
	warnStyle := tcell.StyleDefault.Foreground(tcell.ColorYellow)
	errStyle := tcell.StyleDefault.Foreground(tcell.ColorRed)

	for i, logEntry := range logs {
		if i >= availableHeight {
			break
		}

		style := logStyle
		switch logEntry.Level {
		case slog.LevelWarn:
			style = warnStyle
		case slog.LevelError:
			style = errStyle
		}

		logText := FormatLogEntry(logEntry)
		y := startY + i
		x := startX

		maxWidth := termWidth - startX - 1
		if len(logText) > maxWidth && maxWidth > 3 {
			logText = logText[:maxWidth-3] + "..."
		}

		for _, ch := range logText {
			if x >= termWidth {
				break
			}
			t.screen.SetContent(x, y, ch, nil, style)
			x++
		}
	}
}
