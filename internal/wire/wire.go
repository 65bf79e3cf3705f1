// Package wire implements the length-prefixed frame codec shared by the
// agent and the daemon, and the tagged-union event types it carries.
//
// A frame is a 32-bit little-endian byte count followed by that many
// bytes of a CBOR-encoded payload. Encoding is deterministic: payloads
// are produced with a canonical CBOR encoding mode so encode is a total
// function and two calls with the same input produce byte-identical
// output.
package wire

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameLength is the largest length prefix this codec will accept
// before allocating a buffer for the payload. Frames larger than this
// are a protocol violation, not a recoverable error.
const MaxFrameLength = 1 << 31

// ErrMalformedFrame indicates a frame's bytes could not be decoded into
// a well-formed payload, or its encoded length did not match the frame
// header.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// ErrFrameTooLarge indicates a frame's declared length exceeds MaxFrameLength.
var ErrFrameTooLarge = errors.New("wire: frame too large")

var encMode = func() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building CBOR encode mode: %v", err))
	}
	return mode
}()

var decMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building CBOR decode mode: %v", err))
	}
	return mode
}()

// IconType identifies which pixmap (or title/status) slot an event
// refers to. Values are bit-distinct so they double as the agent's
// per-icon coalescing mask.
type IconType uint8

const (
	IconTypeNormal    IconType = 1 << 0
	IconTypeOverlay   IconType = 1 << 1
	IconTypeAttention IconType = 1 << 2
	IconTypeTitle     IconType = 1 << 3
	IconTypeStatus    IconType = 1 << 4
)

func (t IconType) String() string {
	switch t {
	case IconTypeNormal:
		return "Normal"
	case IconTypeOverlay:
		return "Overlay"
	case IconTypeAttention:
		return "Attention"
	case IconTypeTitle:
		return "Title"
	case IconTypeStatus:
		return "Status"
	default:
		return fmt.Sprintf("IconType(%d)", uint8(t))
	}
}

// IconData is an ARGB32 pixmap: width, height, and width*height*4 bytes.
type IconData struct {
	Width  uint32 `cbor:"1,keyasint"`
	Height uint32 `cbor:"2,keyasint"`
	Data   []byte `cbor:"3,keyasint"`
}

// Valid reports whether the pixel buffer length matches the declared
// dimensions and the dimensions are within a sane limit.
func (d IconData) Valid() bool {
	const maxDim = 4096
	if d.Width > maxDim || d.Height > maxDim {
		return false
	}
	return uint64(len(d.Data)) == 4*uint64(d.Width)*uint64(d.Height)
}

// Tooltip is the rich tooltip payload: a title, a description, and a
// set of candidate icon pixmaps.
type Tooltip struct {
	Title       string     `cbor:"1,keyasint"`
	Description string     `cbor:"2,keyasint"`
	IconData    []IconData `cbor:"3,keyasint"`
}

// ClientEventTag discriminates the ClientEvent tagged union.
type ClientEventTag uint8

const (
	ClientEventCreate ClientEventTag = iota
	ClientEventTitle
	ClientEventStatus
	ClientEventIcon
	ClientEventRemoveIcon
	ClientEventTooltip
	ClientEventRemoveTooltip
	ClientEventDestroy
)

// ClientEvent is a guest-to-host event describing the observable state
// of an SNI-publishing application. Exactly one of the fields relevant
// to Tag is populated; see the ClientEventCreate/... constructors.
type ClientEvent struct {
	Tag ClientEventTag `cbor:"1,keyasint"`

	// Create
	Category string `cbor:"2,keyasint,omitempty"`
	AppID    string `cbor:"3,keyasint,omitempty"`
	HasMenu  bool   `cbor:"4,keyasint,omitempty"`

	// Title / Status: nil means "unset" (None in the source)
	Text *string `cbor:"5,keyasint,omitempty"`

	// Icon / RemoveIcon
	IconType IconType   `cbor:"6,keyasint,omitempty"`
	Icons    []IconData `cbor:"7,keyasint,omitempty"`

	// Tooltip
	Tooltip *Tooltip `cbor:"8,keyasint,omitempty"`
}

// NewCreateEvent builds a Create ClientEvent.
func NewCreateEvent(category, appID string, hasMenu bool) ClientEvent {
	return ClientEvent{Tag: ClientEventCreate, Category: category, AppID: appID, HasMenu: hasMenu}
}

// NewTitleEvent builds a Title ClientEvent. A nil text means the title
// is unavailable.
func NewTitleEvent(text *string) ClientEvent {
	return ClientEvent{Tag: ClientEventTitle, Text: text}
}

// NewStatusEvent builds a Status ClientEvent. A nil text means the
// status is unavailable.
func NewStatusEvent(text *string) ClientEvent {
	return ClientEvent{Tag: ClientEventStatus, Text: text}
}

// NewIconEvent builds an Icon ClientEvent carrying the pixmaps for typ.
func NewIconEvent(typ IconType, icons []IconData) ClientEvent {
	return ClientEvent{Tag: ClientEventIcon, IconType: typ, Icons: icons}
}

// NewRemoveIconEvent builds a RemoveIcon ClientEvent for typ.
func NewRemoveIconEvent(typ IconType) ClientEvent {
	return ClientEvent{Tag: ClientEventRemoveIcon, IconType: typ}
}

// NewTooltipEvent builds a Tooltip ClientEvent.
func NewTooltipEvent(t Tooltip) ClientEvent {
	return ClientEvent{Tag: ClientEventTooltip, Tooltip: &t}
}

// NewRemoveTooltipEvent builds a RemoveTooltip ClientEvent.
func NewRemoveTooltipEvent() ClientEvent {
	return ClientEvent{Tag: ClientEventRemoveTooltip}
}

// NewDestroyEvent builds a Destroy ClientEvent.
func NewDestroyEvent() ClientEvent {
	return ClientEvent{Tag: ClientEventDestroy}
}

// ServerEventTag discriminates the ServerEvent tagged union.
type ServerEventTag uint8

const (
	ServerEventActivate ServerEventTag = iota
	ServerEventSecondaryActivate
	ServerEventContextMenu
	ServerEventScroll
)

// ServerEvent is a host-to-guest event describing a user interaction
// with the host panel's representation of a forwarded icon.
type ServerEvent struct {
	Tag ServerEventTag `cbor:"1,keyasint"`

	// Activate / SecondaryActivate / ContextMenu
	X int32 `cbor:"2,keyasint,omitempty"`
	Y int32 `cbor:"3,keyasint,omitempty"`

	// Scroll
	Delta       int32  `cbor:"4,keyasint,omitempty"`
	Orientation string `cbor:"5,keyasint,omitempty"`
}

// NewActivateEvent builds an Activate ServerEvent.
func NewActivateEvent(x, y int32) ServerEvent {
	return ServerEvent{Tag: ServerEventActivate, X: x, Y: y}
}

// NewSecondaryActivateEvent builds a SecondaryActivate ServerEvent.
func NewSecondaryActivateEvent(x, y int32) ServerEvent {
	return ServerEvent{Tag: ServerEventSecondaryActivate, X: x, Y: y}
}

// NewContextMenuEvent builds a ContextMenu ServerEvent.
func NewContextMenuEvent(x, y int32) ServerEvent {
	return ServerEvent{Tag: ServerEventContextMenu, X: x, Y: y}
}

// NewScrollEvent builds a Scroll ServerEvent.
func NewScrollEvent(delta int32, orientation string) ServerEvent {
	return ServerEvent{Tag: ServerEventScroll, Delta: delta, Orientation: orientation}
}

// IconClientEvent pairs a ClientEvent with the IconId it concerns.
type IconClientEvent struct {
	ID    uint64      `cbor:"1,keyasint"`
	Event ClientEvent `cbor:"2,keyasint"`
}

// IconServerEvent pairs a ServerEvent with the IconId it concerns.
type IconServerEvent struct {
	ID    uint64      `cbor:"1,keyasint"`
	Event ServerEvent `cbor:"2,keyasint"`
}

// EncodePayload deterministically encodes v (an IconClientEvent or
// IconServerEvent) to its CBOR representation.
func EncodePayload(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return b, nil
}

// DecodePayload decodes raw CBOR bytes into v, failing with
// ErrMalformedFrame (wrapped) if the bytes are not a well-formed
// encoding of v's shape, or if trailing bytes remain.
func DecodePayload(raw []byte, v any) error {
	dec := decMode.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if n := dec.NumBytesRead(); n != len(raw) {
		return fmt.Errorf("%w: trailing bytes (%d of %d consumed)", ErrMalformedFrame, n, len(raw))
	}
	return nil
}
