package input

import (
	"strings"

	"github.com/kestrelgb/dmgcore/dmgcore/memory"
)

// DefaultKeyMap provides default key mappings that work across backends.
// Backends can use these mappings as a base and override/extend as needed.
var DefaultKeyMap = map[string]memory.JoypadKey{
	"z":      memory.JoypadA,
	"x":      memory.JoypadB,
	"Enter":  memory.JoypadStart,
	"Shift":  memory.JoypadSelect,
	"Select": memory.JoypadSelect,
	"Up":     memory.JoypadUp,
	"Down":   memory.JoypadDown,
	"Left":   memory.JoypadLeft,
	"Right":  memory.JoypadRight,

	// Alternative arrow keys (WASD)
	"w": memory.JoypadUp,
	"s": memory.JoypadDown,
	"a": memory.JoypadLeft,
	"d": memory.JoypadRight,
}

// GetDefaultMapping returns the default joypad key for a host key, if one
// exists. Host toolkits disagree on case for single-letter keys (tcell
// reports runes, SDL reports capitalized scancode names), so single-character
// keys are matched case-insensitively.
func GetDefaultMapping(key string) (memory.JoypadKey, bool) {
	if k, ok := DefaultKeyMap[key]; ok {
		return k, ok
	}
	if len(key) == 1 {
		if k, ok := DefaultKeyMap[strings.ToLower(key)]; ok {
			return k, ok
		}
	}
	return 0, false
}
