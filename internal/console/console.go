// Package console holds the contracts the framebuffer device consumes from
// the display subsystem: the shared graphics context, the VGA renderer, and
// the remote-display server. The wire protocol and rendering live outside
// this core; the in-process Console here only owns the shared image state
// and the render callback registration.
package console

import "sync"

// Image is the display surface shared between the framebuffer device and
// the render path. VGAMode is flipped by the device's mode state machine
// and read by renderers; pixel data is shared without synchronization,
// tearing is acceptable for display output.
type Image struct {
	Width   int
	Height  int
	VGAMode bool
	Pixels  []byte
}

// Graphics is the drawing surface handed to render callbacks.
type Graphics interface {
	Resize(width, height int)
	Image() *Image
}

// RenderFunc is invoked by the display refresh path, asynchronously with
// respect to guest I/O.
type RenderFunc func(gc Graphics)

// VGARenderer renders legacy VGA text/graphics modes.
type VGARenderer interface {
	Render(gc Graphics)
}

// DisplayServer serves the current image to remote clients. Start blocks
// until a client connects only when wait is set.
type DisplayServer interface {
	Start(host string, port int, wait bool, password string) error
}

// Console owns the shared image and the registered framebuffer render
// callback.
type Console struct {
	mu     sync.Mutex
	image  Image
	render RenderFunc
}

// New builds a console over the supplied frame memory.
func New(width, height int, frame []byte) *Console {
	return &Console{
		image: Image{
			Width:  width,
			Height: height,
			Pixels: frame,
		},
	}
}

// RegisterRender installs the framebuffer render callback.
func (c *Console) RegisterRender(fn RenderFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.render = fn
}

// Image returns the shared image. Callers hold the pointer for the life of
// the console; geometry fields are owned by Resize, the VGAMode flag by the
// framebuffer device.
func (c *Console) Image() *Image {
	return &c.image
}

// Resize implements Graphics.
func (c *Console) Resize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.image.Width = width
	c.image.Height = height
}

// Refresh runs the registered render callback against this console. The
// display refresh loop calls this on its own thread.
func (c *Console) Refresh() {
	c.mu.Lock()
	render := c.render
	c.mu.Unlock()

	if render != nil {
		render(c)
	}
}

var _ Graphics = (*Console)(nil)
