// Package pixmap implements the daemon's trust-boundary pixel marker:
// a two-pixel yellow border painted onto every icon pixmap received
// from the guest before it is cached or exposed on the host bus.
//
// Grounded line-for-line on original_source/src/bin/sni-daemon.rs's
// inline border loop. spec.md §1 frames the visual design of this
// marker as out of scope ("a trivial visual marker"); only the exact
// byte values and edge width are load-bearing, which is why this
// package is kept to a single small function.
package pixmap

import "github.com/qubesos/sni-bridge/internal/wire"

// borderWidth is the number of pixels of border painted along each edge.
const borderWidth = 2

// border channel bytes, written to each border pixel in this order.
var borderPixel = [4]byte{255, 255, 0, 0}

// ApplyTrustBorder paints a two-pixel yellow border on all four edges
// of d in place. It is deterministic and independent of the existing
// pixel content; a 2x2 (or smaller) image ends up entirely border.
func ApplyTrustBorder(d *wire.IconData) {
	w, h := int(d.Width), int(d.Height)
	if w == 0 || h == 0 || len(d.Data) < 4*w*h {
		return
	}

	set := func(x, y int) {
		if x < 0 || x >= w || y < 0 || y >= h {
			return
		}
		base := (y*w + x) * 4
		copy(d.Data[base:base+4], borderPixel[:])
	}

	for x := 0; x < borderWidth; x++ {
		for y := 0; y < h; y++ {
			set(x, y)
			set(w-1-x, y)
		}
	}
	for y := 0; y < borderWidth; y++ {
		for x := 0; x < w; x++ {
			set(x, y)
			set(x, h-1-y)
		}
	}
}
