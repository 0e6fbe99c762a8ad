package memory

import (
	"github.com/kestrelgb/dmgcore/dmgcore/addr"
	"github.com/kestrelgb/dmgcore/dmgcore/bit"
)

// Timer encapsulates the divider/TIMA/TMA/TAC behavior, including the
// four-T-cycle overflow delay and the subsequent four-T-cycle reload
// window during which TIMA and TMA writes interact in hardware-accurate
// but surprising ways (see the overflow/reload state machine below).
type Timer struct {
	systemCounter uint16 // internal 16-bit counter; DIV is its upper byte
	lastTimerBit  bool   // previous AND(enable, counter-bit) result, for edge detection

	// overflowDelay counts down the four T-cycles between TIMA wrapping to
	// 0 and the reload committing. While it is nonzero TIMA reads as 0; a
	// write to TIMA during this window cancels the reload and the
	// interrupt that would otherwise follow.
	overflowDelay int

	// reloadWindow counts down the four T-cycles right after the reload
	// commits. Writes to TIMA are ignored during this window; writes to
	// TMA retroactively update TIMA too, since TIMA == TMA throughout it.
	reloadWindow int

	div  byte
	tima byte
	tma  byte
	tac  byte

	TimerInterruptHandler func()
}

// SetSeed initializes the internal divider counter and writes DIV accordingly.
func (t *Timer) SetSeed(seed uint16) {
	t.systemCounter = seed
	t.lastTimerBit = false
	t.overflowDelay = 0
	t.reloadWindow = 0
	t.div = byte(t.systemCounter >> 8)
}

// counterBit returns the internal-counter bit TAC's low two bits select.
func counterBit(tac byte) uint16 {
	switch tac & 0x03 {
	case 0x00:
		return 9
	case 0x01:
		return 3
	case 0x02:
		return 5
	default:
		return 7
	}
}

// andResult computes enable-bit AND counter-bit for the given TAC/counter pair.
func andResult(tac byte, counter uint16) bool {
	if tac&0x04 == 0 {
		return false
	}
	return bit.IsSet16(counterBit(tac), counter)
}

// clockTIMA performs one falling-edge-triggered TIMA increment, entering
// the overflow-delay state on wraparound rather than reloading immediately.
func (t *Timer) clockTIMA() {
	if t.tima == 0xFF {
		t.tima = 0x00
		t.overflowDelay = 4
	} else {
		t.tima++
	}
}

// Tick advances the timer by cycles T-cycles, one at a time so the
// overflow-delay and reload-window state transitions land on the exact
// T-cycle the spec requires.
func (t *Timer) Tick(cycles int) {
	for i := 0; i < cycles; i++ {
		if t.reloadWindow > 0 {
			t.reloadWindow--
		}

		if t.overflowDelay > 0 {
			t.overflowDelay--
			if t.overflowDelay == 0 {
				t.tima = t.tma
				t.reloadWindow = 4
				if t.TimerInterruptHandler != nil {
					t.TimerInterruptHandler()
				}
			}
		}

		t.systemCounter++
		t.div = byte(t.systemCounter >> 8)

		current := andResult(t.tac, t.systemCounter)
		if t.lastTimerBit && !current && t.overflowDelay == 0 {
			t.clockTIMA()
		}
		t.lastTimerBit = current
	}
}

func (t *Timer) Read(address uint16) byte {
	switch address {
	case addr.DIV:
		return t.div
	case addr.TIMA:
		if t.overflowDelay > 0 {
			return 0
		}
		return t.tima
	case addr.TMA:
		return t.tma
	case addr.TAC:
		return t.tac | 0xF8
	default:
		return 0xFF
	}
}

func (t *Timer) Write(address uint16, value byte) {
	switch address {
	case addr.DIV:
		t.resetCounter()
	case addr.TIMA:
		switch {
		case t.overflowDelay > 0:
			// Writing during the overflow cycle cancels both the
			// pending reload and the interrupt it would have raised.
			t.overflowDelay = 0
			t.tima = value
		case t.reloadWindow > 0:
			// Ignored: hardware is busy copying TMA into TIMA.
		default:
			t.tima = value
		}
	case addr.TMA:
		t.tma = value
		if t.reloadWindow > 0 {
			// TIMA == TMA throughout the reload window, so it tracks
			// any further write to TMA during that window.
			t.tima = value
		}
	case addr.TAC:
		t.writeTAC(value)
	}
}

// resetCounter implements the DIV-write quirk: the whole 16-bit counter
// resets to zero, and since every counter bit falls to zero this may
// itself be observed as a timer falling edge.
func (t *Timer) resetCounter() {
	t.systemCounter = 0
	t.div = 0

	current := andResult(t.tac, t.systemCounter)
	if t.lastTimerBit && !current && t.overflowDelay == 0 {
		t.clockTIMA()
	}
	t.lastTimerBit = current
}

// writeTAC stores only the low three bits and recomputes the cached AND
// result immediately, since changing the enable bit or the frequency
// select can itself produce a falling edge against the unchanged counter.
func (t *Timer) writeTAC(value byte) {
	t.tac = value & 0x07

	current := andResult(t.tac, t.systemCounter)
	if t.lastTimerBit && !current && t.overflowDelay == 0 {
		t.clockTIMA()
	}
	t.lastTimerBit = current
}
