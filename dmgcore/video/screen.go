package video

import (
	"fmt"
	"unsafe"

	"github.com/veandco/go-sdl2/sdl"
)

const renderScale = 3

// Screen is an SDL2-backed window that presents a FrameBuffer at a fixed
// integer scale. It owns no emulation state; callers push frames with Draw.
type Screen struct {
	window   *sdl.Window
	renderer *sdl.Renderer
	fb       []uint32
}

// NewScreen creates and shows an SDL2 window sized for the DMG's 160x144
// display at renderScale.
func NewScreen() (*Screen, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, fmt.Errorf("sdl init: %w", err)
	}

	s := &Screen{}

	window, err := sdl.CreateWindow("dmgcore",
		sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		FramebufferWidth*renderScale,
		FramebufferHeight*renderScale,
		sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return nil, fmt.Errorf("sdl create window: %w", err)
	}
	s.window = window

	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED)
	if err != nil {
		window.Destroy()
		return nil, fmt.Errorf("sdl create renderer: %w", err)
	}
	s.renderer = renderer

	s.fb = make([]uint32, FramebufferWidth*FramebufferHeight)

	return s, nil
}

// Draw presents the given FrameBuffer's pixels to the window.
func (s *Screen) Draw(frame *FrameBuffer) error {
	copy(s.fb, frame.ToSlice())

	surface, err := sdl.CreateRGBSurfaceFrom(
		unsafe.Pointer(&s.fb[0]),
		FramebufferWidth,
		FramebufferHeight,
		32,
		4*FramebufferWidth,
		0xFF000000,
		0x00FF0000,
		0x0000FF00,
		0x000000FF)
	if err != nil {
		return fmt.Errorf("sdl create surface: %w", err)
	}

	tex, err := s.renderer.CreateTextureFromSurface(surface)
	surface.Free()
	if err != nil {
		return fmt.Errorf("sdl create texture: %w", err)
	}
	defer tex.Destroy()

	s.renderer.Clear()
	s.renderer.Copy(tex, nil, nil)
	s.renderer.Present()
	return nil
}

// KeyEvent reports a host keyboard transition, using SDL's scancode name
// (e.g. "Up", "Z") as the key identifier so it lines up with input.DefaultKeyMap.
type KeyEvent struct {
	Key     string
	Pressed bool
}

// PollEvents drains pending SDL events, reporting whether the window was
// asked to close and any keyboard transitions observed this poll.
func (s *Screen) PollEvents() (quit bool, keys []KeyEvent) {
	for {
		ev := sdl.PollEvent()
		if ev == nil {
			return quit, keys
		}
		switch e := ev.(type) {
		case *sdl.QuitEvent:
			quit = true
		case *sdl.KeyboardEvent:
			if e.Repeat != 0 {
				continue
			}
			name := sdl.GetKeyName(e.Keysym.Sym)
			keys = append(keys, KeyEvent{Key: name, Pressed: e.Type == sdl.KEYDOWN})
		}
	}
}

// Destroy releases the window and renderer.
func (s *Screen) Destroy() {
	s.renderer.Destroy()
	s.window.Destroy()
	sdl.Quit()
}
