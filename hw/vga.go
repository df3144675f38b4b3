package hw

import (
	"image"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/veandco/go-sdl2/sdl"
	"golang.org/x/image/bmp"

	"github.com/mini65/mini65/sim"
)

const (
	vgaWidth    = 640
	vgaHeight   = 480
	vgaPageSize = 8192
)

// Video modes, low two bits of the mode register.
const (
	vgaModeText = iota
	vgaModeHires
	vgaModeHiclr
	vgaModeLores
)

var vgaPalR = [16]uint8{0, 0, 0, 0, 150, 150, 150, 150, 104, 104, 104, 104, 255, 255, 255, 255}
var vgaPalG = [16]uint8{0, 0, 150, 150, 0, 0, 150, 150, 104, 104, 255, 255, 104, 104, 255, 255}
var vgaPalB = [16]uint8{0, 150, 0, 150, 0, 150, 0, 150, 104, 255, 104, 255, 104, 255, 104, 255}

// VGA is the framebuffer at $FE60. The CPU sees an 8KiB window of the
// 64KiB video memory at $D000, selected by the page register; a render
// goroutine shadows that window and draws the full screen into an SDL
// window at roughly 50Hz. The window opens on the first register
// access.
type VGA struct {
	mu   sync.Mutex
	mem  []byte // full 64KiB video memory
	pmem []byte // CPU window at $D000

	page       uint8
	hvMode     uint8
	pixHeight  uint32
	bitmapBase uint32
	colorBase  uint32
	fontBase   uint32

	frame    []byte // RGB output, vgaWidth*vgaHeight*3
	start    sync.Once
	stop     sync.Once
	done     chan struct{}
	headless bool
}

// NewVGA returns a VGA shadowing the simulator's video RAM window.
func NewVGA(s *sim.Sim) *VGA {
	return &VGA{
		mem:       make([]byte, 0x10000),
		pmem:      s.GetPByte(0xD000)[:vgaPageSize],
		pixHeight: 15,
		colorBase: 4096,
		fontBase:  32,
		frame:     make([]byte, vgaWidth*vgaHeight*3),
		done:      make(chan struct{}),
	}
}

// SetHeadless disables the SDL window; the frame is still rendered and
// available through Screenshot.
func (v *VGA) SetHeadless(headless bool) {
	v.headless = headless
}

// syncPage copies the CPU window into the shadow memory.
func (v *VGA) syncPage() {
	v.mu.Lock()
	copy(v.mem[int(v.page&7)*vgaPageSize:], v.pmem)
	v.mu.Unlock()
}

// genLine renders one scan line of RGB triples into buf.
func (v *VGA) genLine(buf []byte, baddr, line uint32) {
	put := func(c uint8) {
		buf[0] = vgaPalR[c&15]
		buf[1] = vgaPalG[c&15]
		buf[2] = vgaPalB[c&15]
		buf = buf[3:]
	}
	putBit := func(b, c uint8) {
		if b&1 != 0 {
			put(c)
		} else {
			put(c >> 4)
		}
	}
	switch v.hvMode {
	case vgaModeText:
		for col := uint32(0); col < 80; col++ {
			ch := v.mem[(v.bitmapBase+baddr+col)&0xFFFF]
			c := v.mem[(v.colorBase+baddr+col)&0xFFFF]
			b := v.mem[((v.fontBase+line)*256+uint32(ch))&0xFFFF]
			for i := 0; i < 8; i++ {
				putBit(b, c)
				b >>= 1
			}
		}
	case vgaModeHires:
		for col := uint32(0); col < 80; col++ {
			b := v.mem[(v.bitmapBase+baddr+col)&0xFFFF]
			c := v.mem[(v.colorBase+baddr+col)&0xFFFF]
			for i := 0; i < 8; i++ {
				putBit(b, c)
				b >>= 1
			}
		}
	case vgaModeHiclr:
		for col := uint32(0); col < 160; col++ {
			b := v.mem[(v.bitmapBase+baddr+col)&0xFFFF]
			put(b)
			put(b >> 4)
		}
	case vgaModeLores:
		for col := uint32(0); col < 40; col++ {
			b := v.mem[(v.bitmapBase+baddr+col)&0xFFFF]
			c := v.mem[(v.colorBase+baddr+col)&0xFFFF]
			for i := 0; i < 8; i++ {
				// Low resolution doubles every pixel.
				putBit(b, c)
				putBit(b, c)
				b >>= 1
			}
		}
	}
}

// render composes the whole frame from the shadow memory.
func (v *VGA) render() {
	var lcount, xaddr uint32
	for y := 0; y < vgaHeight; y++ {
		v.genLine(v.frame[y*vgaWidth*3:(y+1)*vgaWidth*3], xaddr, lcount)
		if lcount == v.pixHeight {
			lcount = 0
			switch v.hvMode {
			case vgaModeHiclr:
				xaddr += 160
			case vgaModeHires, vgaModeText:
				xaddr += 80
			default:
				xaddr += 40
			}
		} else {
			lcount++
		}
	}
}

// runWindow is the render goroutine: it shadows the CPU page and
// repaints an SDL window until stopped.
func (v *VGA) runWindow() {
	runtime.LockOSThread()
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return
	}
	defer sdl.Quit()
	window, err := sdl.CreateWindow("mini65", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		vgaWidth, vgaHeight, sdl.WINDOW_SHOWN)
	if err != nil {
		return
	}
	defer window.Destroy()
	surface, err := window.GetSurface()
	if err != nil {
		return
	}
	pixels := surface.Pixels()
	bpp := int(surface.Format.BytesPerPixel)

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-v.done:
			return
		case <-tick.C:
		}
		sdl.PollEvent()
		v.syncPage()
		v.render()
		// Poke the surface directly, the conversion in Surface.Set
		// is too slow for a full frame.
		for y := 0; y < vgaHeight; y++ {
			src := v.frame[y*vgaWidth*3:]
			row := int(surface.Pitch) * y
			for x := 0; x < vgaWidth; x++ {
				i := row + x*bpp
				pixels[i+0] = src[x*3+0]
				pixels[i+1] = src[x*3+1]
				pixels[i+2] = src[x*3+2]
				pixels[i+3] = 0xFF
			}
		}
		window.UpdateSurface()
	}
}

func (v *VGA) access(s *sim.Sim, regs *sim.Registers, addr uint16, data int) int {
	if !v.headless {
		v.start.Do(func() { go v.runWindow() })
	}

	if data == sim.CbRead {
		return 0xFF
	}
	switch addr & 7 {
	case 0: // VGAPAGE
		newPage := uint8(data) & 7
		if newPage != v.page {
			v.mu.Lock()
			// Swap the CPU window: old page out, new page in.
			copy(v.mem[int(v.page)*vgaPageSize:], v.pmem)
			v.page = newPage
			copy(v.pmem, v.mem[int(v.page)*vgaPageSize:(int(v.page)+1)*vgaPageSize])
			v.mu.Unlock()
		}
	case 1: // VGAMODE
		v.hvMode = uint8(data) & 3
		v.pixHeight = uint32(data>>3) & 31
	case 2: // VGAGBASE_L
		v.bitmapBase = v.bitmapBase&0xFF00 | uint32(data)&0xFF
	case 3: // VGAGBASE_H
		v.bitmapBase = v.bitmapBase&0xFF | uint32(data)<<8&0xFF00
	case 4: // VGACBASE_L
		v.colorBase = v.colorBase&0xFF00 | uint32(data)&0xFF
	case 5: // VGACBASE_H
		v.colorBase = v.colorBase&0xFF | uint32(data)<<8&0xFF00
	case 6: // VGAFBASE
		v.fontBase = uint32(data) & 0xFF
	}
	return 0
}

// Screenshot renders the current frame and writes it as a BMP image.
func (v *VGA) Screenshot(w io.Writer) error {
	v.syncPage()
	v.render()
	img := image.NewRGBA(image.Rect(0, 0, vgaWidth, vgaHeight))
	for y := 0; y < vgaHeight; y++ {
		for x := 0; x < vgaWidth; x++ {
			si := (y*vgaWidth + x) * 3
			di := img.PixOffset(x, y)
			img.Pix[di+0] = v.frame[si+0]
			img.Pix[di+1] = v.frame[si+1]
			img.Pix[di+2] = v.frame[si+2]
			img.Pix[di+3] = 0xFF
		}
	}
	return bmp.Encode(w, img)
}

// Stop shuts down the render goroutine.
func (v *VGA) Stop() {
	v.stop.Do(func() { close(v.done) })
}
