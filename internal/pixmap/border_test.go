package pixmap

import (
	"testing"

	"github.com/qubesos/sni-bridge/internal/wire"
)

func TestApplyTrustBorderFullyBordersSmallImage(t *testing.T) {
	d := wire.IconData{Width: 2, Height: 2, Data: make([]byte, 16)}
	ApplyTrustBorder(&d)

	for i := 0; i < 4; i++ {
		px := d.Data[i*4 : i*4+4]
		want := [4]byte{255, 255, 0, 0}
		if px[0] != want[0] || px[1] != want[1] || px[2] != want[2] || px[3] != want[3] {
			t.Errorf("pixel %d = %v, want %v", i, px, want)
		}
	}
}

func TestApplyTrustBorderLeavesInteriorUntouched(t *testing.T) {
	const w, h = 5, 5
	data := make([]byte, 4*w*h)
	for i := range data {
		data[i] = 0x7f
	}
	d := wire.IconData{Width: w, Height: h, Data: data}
	ApplyTrustBorder(&d)

	// center pixel (2,2) is interior for a 5x5 image with a 2px border.
	base := (2*w + 2) * 4
	for i := 0; i < 4; i++ {
		if d.Data[base+i] != 0x7f {
			t.Errorf("interior pixel byte %d = %d, want untouched 0x7f", i, d.Data[base+i])
		}
	}

	// edge pixel (0,0) must be bordered.
	if d.Data[0] != 255 || d.Data[1] != 255 || d.Data[2] != 0 || d.Data[3] != 0 {
		t.Errorf("corner pixel = %v, want [255 255 0 0]", d.Data[0:4])
	}
}

func TestApplyTrustBorderHandlesMismatchedBufferSafely(t *testing.T) {
	d := wire.IconData{Width: 10, Height: 10, Data: make([]byte, 4)}
	ApplyTrustBorder(&d) // must not panic
}
