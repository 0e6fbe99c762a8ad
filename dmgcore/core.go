package dmgcore

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/kestrelgb/dmgcore/dmgcore/addr"
	"github.com/kestrelgb/dmgcore/dmgcore/audio"
	"github.com/kestrelgb/dmgcore/dmgcore/config"
	"github.com/kestrelgb/dmgcore/dmgcore/cpu"
	"github.com/kestrelgb/dmgcore/dmgcore/debug"
	"github.com/kestrelgb/dmgcore/dmgcore/memory"
	"github.com/kestrelgb/dmgcore/dmgcore/video"
)

// cyclesPerFrame is the number of T-cycles in one 59.7Hz DMG frame:
// 154 scanlines (144 visible + 10 VBlank) of 456 T-cycles each.
const cyclesPerFrame = 70224

// DebuggerState represents the current debugger mode
type DebuggerState int

const (
	DebuggerRunning   DebuggerState = iota // Normal execution
	DebuggerPaused                         // Paused, waiting for commands
	DebuggerStep                           // Execute one instruction then pause
	DebuggerStepFrame                      // Execute one frame then pause
)

// Emulator represents the root struct and entry point for running the emulation.
// It owns the CPU, PPU and memory bus, and drives them in lockstep one
// instruction at a time, ticking the rest of the system by the T-cycles
// that instruction consumed.
type Emulator struct {
	cpu      *cpu.CPU
	gpu      *video.GPU
	mem      *memory.MMU
	audioOut *audio.Sink

	// Debugger state
	debuggerState    DebuggerState
	debuggerMutex    sync.RWMutex
	stepRequested    bool
	frameRequested   bool
	instructionCount uint64
	frameCount       uint64

	completionMaxFrames    uint64
	completionMinLoopCount int
}

func (e *Emulator) init(mem *memory.MMU, cfg config.Config) {
	e.cpu = cpu.New(mem)
	e.gpu = video.NewGpu(mem)
	e.mem = mem
	e.audioOut = audio.NewSink(mem.APU)
	mem.SetTimerSeed(0xABCC)

	e.audioOut.SetMasterVolume(cfg.MasterVolume)
	e.ConfigureCompletionDetection(cfg.CompletionMax, cfg.CompletionMinLoop)
}

// New creates a new emulator instance with no cartridge loaded.
func New(opts ...config.Option) *Emulator {
	mem, err := memory.NewWithCartridge(memory.NewCartridge())
	if err != nil {
		// NewCartridge always produces a NoMBCType cartridge, which is
		// always supported; this can never actually happen.
		panic(err)
	}

	e := &Emulator{}
	e.init(mem, config.Apply(opts...))
	return e
}

// NewWithFile creates a new emulator instance and loads the ROM file at path into it.
func NewWithFile(path string, opts ...config.Option) (*Emulator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ROM file: %w", err)
	}

	cart, err := memory.NewCartridgeWithData(data)
	if err != nil {
		return nil, fmt.Errorf("loading cartridge: %w", err)
	}

	slog.Info("Loaded ROM", "title", cart.Title(), "mbc", cart.MBCType(), "size", len(data))

	mem, err := memory.NewWithCartridge(cart)
	if err != nil {
		return nil, fmt.Errorf("initializing memory bus: %w", err)
	}

	e := &Emulator{}
	e.init(mem, config.Apply(opts...))
	return e, nil
}

// step runs a single CPU instruction and advances every other subsystem by
// the T-cycles it consumed.
func (e *Emulator) step() int {
	cycles := e.cpu.Step()
	e.mem.Tick(cycles)
	e.gpu.Tick(cycles)
	e.instructionCount++
	return cycles
}

// RunUntilFrame advances the emulator according to the current debugger
// state: a full frame when running, a single instruction or frame when
// single-stepping, or nothing while paused.
func (e *Emulator) RunUntilFrame() {
	e.debuggerMutex.RLock()
	state := e.debuggerState
	e.debuggerMutex.RUnlock()

	switch state {
	case DebuggerPaused:
		return

	case DebuggerStep:
		e.debuggerMutex.Lock()
		requested := e.stepRequested
		e.stepRequested = false
		e.debuggerMutex.Unlock()

		if !requested {
			return
		}

		oldPC := e.cpu.PC()
		e.step()
		slog.Debug("Step executed", "pc", fmt.Sprintf("0x%04X", oldPC), "new_pc", fmt.Sprintf("0x%04X", e.cpu.PC()))
		e.SetDebuggerState(DebuggerPaused)
		return

	case DebuggerStepFrame:
		e.debuggerMutex.Lock()
		requested := e.frameRequested
		e.frameRequested = false
		e.debuggerMutex.Unlock()

		if !requested {
			return
		}

		e.runFrame()
		e.SetDebuggerState(DebuggerPaused)
		return

	default:
		e.runFrame()
	}
}

// runFrame executes CPU instructions until at least cyclesPerFrame T-cycles
// have elapsed, then pulls that frame's worth of audio into the host FIFO.
func (e *Emulator) runFrame() {
	total := 0
	for total < cyclesPerFrame {
		total += e.step()
	}
	e.frameCount++

	// 44100Hz / 59.7Hz ~= 735 stereo frames per DMG frame.
	e.audioOut.Pull(735)

	if e.frameCount%60 == 0 {
		slog.Debug("Frame completed", "frame", e.frameCount, "pc", fmt.Sprintf("0x%04X", e.cpu.PC()))
	}
}

// StepFrame runs exactly one frame regardless of debugger state. Used by
// headless/benchmark callers that drive the emulator on their own loop.
func (e *Emulator) StepFrame() {
	e.runFrame()
}

// ConfigureCompletionDetection sets the bounds RunUntilComplete uses to
// recognize a headless test ROM has finished: a hard frame cap, and a
// minimum number of consecutive frames PC must hold in place (a test ROM's
// pass/fail spin loop) before stopping early. A zero minLoopCount disables
// the early-exit check and RunUntilComplete always runs exactly maxFrames.
func (e *Emulator) ConfigureCompletionDetection(maxFrames uint64, minLoopCount int) {
	e.completionMaxFrames = maxFrames
	e.completionMinLoopCount = minLoopCount
}

// RunUntilComplete runs frames until either the configured frame cap is hit
// or PC has sampled the same value at frame boundaries for minLoopCount
// consecutive frames, whichever comes first. Intended for headless test-ROM
// harnesses that have no other way to know a ROM without serial output has
// reached its terminal state.
func (e *Emulator) RunUntilComplete() {
	e.SetDebuggerState(DebuggerRunning)

	var lastPC uint16
	loopCount := 0

	for e.frameCount < e.completionMaxFrames {
		e.runFrame()

		pc := e.cpu.PC()
		if pc == lastPC {
			loopCount++
			if e.completionMinLoopCount > 0 && loopCount >= e.completionMinLoopCount {
				break
			}
		} else {
			loopCount = 0
			lastPC = pc
		}
	}
}

// Framebuffer returns the current PPU frame buffer.
func (e *Emulator) Framebuffer() *video.FrameBuffer {
	return e.gpu.GetFrameBuffer()
}

// GetCurrentFrame is a legacy alias for Framebuffer.
func (e *Emulator) GetCurrentFrame() *video.FrameBuffer {
	return e.Framebuffer()
}

// AudioBuffer copies up to len(out) interleaved stereo float32 samples from
// the APU's output FIFO into out, zero-filling any underrun.
func (e *Emulator) AudioBuffer(out []float32) int {
	return e.audioOut.Read(out)
}

// SetMasterVolume sets the overall audio output gain, in [0, 1].
func (e *Emulator) SetMasterVolume(volume float32) {
	e.audioOut.SetMasterVolume(volume)
}

// GetMasterVolume returns the overall audio output gain.
func (e *Emulator) GetMasterVolume() float32 {
	return e.audioOut.GetMasterVolume()
}

// UpdateButton presses or releases a joypad key.
func (e *Emulator) UpdateButton(key memory.JoypadKey, pressed bool) {
	if pressed {
		e.mem.HandleKeyPress(key)
	} else {
		e.mem.HandleKeyRelease(key)
	}
}

func (e *Emulator) HandleKeyPress(key memory.JoypadKey) {
	e.mem.HandleKeyPress(key)
}

func (e *Emulator) HandleKeyRelease(key memory.JoypadKey) {
	e.mem.HandleKeyRelease(key)
}

func (e *Emulator) GetCPU() *cpu.CPU {
	return e.cpu
}

// Debugger control methods
func (e *Emulator) SetDebuggerState(state DebuggerState) {
	e.debuggerMutex.Lock()
	defer e.debuggerMutex.Unlock()
	e.debuggerState = state
	slog.Debug("Debugger state changed", "state", state)
}

func (e *Emulator) GetDebuggerState() DebuggerState {
	e.debuggerMutex.RLock()
	defer e.debuggerMutex.RUnlock()
	return e.debuggerState
}

func (e *Emulator) DebuggerPause() {
	e.SetDebuggerState(DebuggerPaused)
	slog.Info("Emulator paused")
}

func (e *Emulator) DebuggerResume() {
	e.SetDebuggerState(DebuggerRunning)
	slog.Info("Emulator resumed")
}

func (e *Emulator) DebuggerStepInstruction() {
	e.debuggerMutex.Lock()
	defer e.debuggerMutex.Unlock()
	e.stepRequested = true
	e.debuggerState = DebuggerStep
	slog.Info("Step instruction requested")
}

func (e *Emulator) DebuggerStepFrame() {
	e.debuggerMutex.Lock()
	defer e.debuggerMutex.Unlock()
	e.frameRequested = true
	e.debuggerState = DebuggerStepFrame
	slog.Info("Step frame requested")
}

func (e *Emulator) GetInstructionCount() uint64 {
	return e.instructionCount
}

func (e *Emulator) GetFrameCount() uint64 {
	return e.frameCount
}

func (e *Emulator) GetMMU() *memory.MMU {
	return e.mem
}

// debugSnapshotSize is the number of bytes captured around PC for the
// debugger's memory view, truncated near the top of address space.
const debugSnapshotSize = 200

// ExtractDebugData snapshots the CPU, memory, OAM and VRAM state for debug UIs.
func (e *Emulator) ExtractDebugData(currentLine, spriteHeight int) *debug.CompleteDebugData {
	pc := e.cpu.PC()

	size := debugSnapshotSize
	if uint32(pc)+uint32(size) > 0x10000 {
		size = int(0x10000 - uint32(pc))
	}

	bytes := make([]uint8, size)
	for i := 0; i < size; i++ {
		bytes[i] = e.mem.Read(pc + uint16(i))
	}

	return &debug.CompleteDebugData{
		OAM:  debug.ExtractOAMDataFromReader(e.mem, currentLine, spriteHeight),
		VRAM: debug.ExtractVRAMDataFromReader(e.mem),
		CPU: &debug.CPUState{
			A: e.cpu.A(), F: e.cpu.F(),
			B: e.cpu.B(), C: e.cpu.C(),
			D: e.cpu.D(), E: e.cpu.E(),
			H: e.cpu.H(), L: e.cpu.L(),
			SP:     e.cpu.SP(),
			PC:     pc,
			IME:    e.cpu.IME(),
			Cycles: e.cpu.Cycles(),
		},
		Memory: &debug.MemorySnapshot{
			StartAddr: pc,
			Bytes:     bytes,
		},
		DebuggerState:   debug.DebuggerState(e.GetDebuggerState()),
		InterruptEnable: e.mem.Read(addr.IE),
		InterruptFlags:  e.mem.Read(addr.IF),
	}
}
