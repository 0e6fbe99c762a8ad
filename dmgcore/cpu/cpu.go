package cpu

import (
	"github.com/kestrelgb/dmgcore/dmgcore/addr"
	"github.com/kestrelgb/dmgcore/dmgcore/bit"
	"github.com/kestrelgb/dmgcore/dmgcore/memory"
)

// Flag is one of the 4 possible flags used in the flag register (high nibble of F).
type Flag uint8

const (
	zeroFlag      Flag = 0x80
	subFlag       Flag = 0x40
	halfCarryFlag Flag = 0x20
	carryFlag     Flag = 0x10
)

// CPU holds the SM83 register file plus the handful of latches that
// drive interrupt dispatch, HALT and STOP semantics.
type CPU struct {
	bus *memory.MMU

	a, f    uint8
	b, c    uint8
	d, e    uint8
	h, l    uint8
	sp, pc  uint16
	cycles  uint64

	currentOpcode uint16

	interruptsEnabled bool
	eiPending         bool
	halted            bool
	haltBug           bool
	stopped           bool
}

// New returns a CPU wired to bus, initialized to the well-known DMG
// post-boot register state (no boot ROM is executed).
func New(bus *memory.MMU) *CPU {
	c := &CPU{bus: bus}
	c.a, c.f = 0x01, 0xB0
	c.b, c.c = 0x00, 0x13
	c.d, c.e = 0x00, 0xD8
	c.h, c.l = 0x01, 0x4D
	c.sp = 0xFFFE
	c.pc = 0x0100
	return c
}

func (c *CPU) PC() uint16 { return c.pc }
func (c *CPU) SP() uint16 { return c.sp }

func (c *CPU) A() uint8 { return c.a }
func (c *CPU) F() uint8 { return c.f }
func (c *CPU) B() uint8 { return c.b }
func (c *CPU) C() uint8 { return c.c }
func (c *CPU) D() uint8 { return c.d }
func (c *CPU) E() uint8 { return c.e }
func (c *CPU) H() uint8 { return c.h }
func (c *CPU) L() uint8 { return c.l }

// IME reports whether the interrupt master enable flag is currently set.
func (c *CPU) IME() bool { return c.interruptsEnabled }

// Cycles returns the running total of T-cycles spent servicing interrupts
// since the CPU was created. Instruction cycles are tracked by the caller.
func (c *CPU) Cycles() uint64 { return c.cycles }

// Step runs a single instruction (or, while halted, a single idle
// M-cycle) and returns the number of T-cycles it consumed.
func (c *CPU) Step() int {
	cyclesBefore := c.cycles
	interruptPending := c.handleInterrupts()
	interruptCycles := int(c.cycles - cyclesBefore)

	if c.eiPending {
		c.eiPending = false
		c.interruptsEnabled = true
	}

	if c.halted {
		if interruptPending {
			c.halted = false
		} else {
			return 4
		}
	}

	if c.stopped {
		return 4 + interruptCycles
	}

	opcode := Decode(c)

	if c.haltBug {
		// HALT bug: this fetch does not advance PC, so the byte after
		// HALT is read again by the next fetch.
		c.haltBug = false
	} else if c.currentOpcode&0xCB00 == 0xCB00 {
		c.pc += 2
	} else {
		c.pc++
	}

	cycles := opcode(c)

	return cycles + interruptCycles
}

// Decode peeks the next opcode from the bus (following a 0xCB prefix
// byte when present) without advancing PC, stores it in currentOpcode
// and returns the handler to execute. Callers are responsible for
// advancing PC past the opcode byte(s) before invoking the handler.
func Decode(c *CPU) Opcode {
	first := c.bus.Read(c.pc)

	if first == 0xCB {
		second := c.bus.Read(c.pc + 1)
		c.currentOpcode = 0xCB00 | uint16(second)
		return opcodeCBMap[second]
	}

	c.currentOpcode = uint16(first)
	return opcodeMap[first]
}

// handleInterrupts checks IE & IF & 0x1F and, when IME is set,
// services the highest-priority pending interrupt: two wait cycles,
// then PC is pushed high-byte-first, then lower-byte-first, with the
// pending mask re-evaluated after the pushes (a push that lands on IE
// can retarget or cancel the dispatch), then PC is set to the vector
// (or 0x0000 if nothing remains pending) and IME is cleared. Returns
// whether any interrupt was pending, regardless of whether IME
// allowed it to be serviced — callers use this to wake from HALT.
func (c *CPU) handleInterrupts() bool {
	fired := c.pendingInterrupts()
	if fired == 0 {
		return false
	}

	if !c.interruptsEnabled {
		return true
	}

	c.interruptsEnabled = false
	vector := lowestSetBit(fired)

	c.sp--
	c.bus.Write(c.sp, bit.High(c.pc))
	c.sp--
	c.bus.Write(c.sp, bit.Low(c.pc))

	fired = c.pendingInterrupts()
	if fired&(1<<vector) == 0 {
		if fired != 0 {
			vector = lowestSetBit(fired)
		} else {
			c.pc = 0x0000
			c.cycles += 20
			return true
		}
	}

	ifReg := c.bus.Read(addr.IF)
	c.bus.Write(addr.IF, ifReg&^(1<<vector))
	c.pc = 0x40 + uint16(vector)*8
	c.cycles += 20

	return true
}

func (c *CPU) pendingInterrupts() uint8 {
	ifReg := c.bus.Read(addr.IF)
	ieReg := c.bus.Read(addr.IE)
	return ifReg & ieReg & 0x1F
}

func lowestSetBit(v uint8) uint8 {
	for i := uint8(0); i < 8; i++ {
		if v&(1<<i) != 0 {
			return i
		}
	}
	return 0
}

func (c *CPU) setFlag(flag Flag) {
	c.f |= uint8(flag)
}

func (c *CPU) resetFlag(flag Flag) {
	c.f &^= uint8(flag)
}

func (c *CPU) setFlagToCondition(flag Flag, condition bool) {
	if condition {
		c.setFlag(flag)
	} else {
		c.resetFlag(flag)
	}
}

func (c *CPU) isSetFlag(flag Flag) bool {
	return c.f&uint8(flag) != 0
}

func (c *CPU) flagToBit(flag Flag) uint8 {
	if c.isSetFlag(flag) {
		return 1
	}
	return 0
}

func (c *CPU) getBC() uint16 { return bit.Combine(c.b, c.c) }
func (c *CPU) getDE() uint16 { return bit.Combine(c.d, c.e) }
func (c *CPU) getHL() uint16 { return bit.Combine(c.h, c.l) }
func (c *CPU) getAF() uint16 { return bit.Combine(c.a, c.f&0xF0) }

func (c *CPU) setBC(v uint16) { c.b, c.c = bit.High(v), bit.Low(v) }
func (c *CPU) setDE(v uint16) { c.d, c.e = bit.High(v), bit.Low(v) }
func (c *CPU) setHL(v uint16) { c.h, c.l = bit.High(v), bit.Low(v) }
func (c *CPU) setAF(v uint16) { c.a, c.f = bit.High(v), bit.Low(v)&0xF0 }

// peekImmediate reads the byte at PC and advances PC past it.
func (c *CPU) peekImmediate() uint8 {
	value := c.bus.Read(c.pc)
	c.pc++
	return value
}

// peekImmediateSigned reads the byte at PC, interpreted as signed, and advances PC.
func (c *CPU) peekImmediateSigned() int8 {
	return int8(c.peekImmediate())
}

// peekImmediateWord reads the little-endian word at PC and advances PC past it.
func (c *CPU) peekImmediateWord() uint16 {
	low := c.peekImmediate()
	high := c.peekImmediate()
	return bit.Combine(high, low)
}
