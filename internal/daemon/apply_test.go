package daemon

import (
	"testing"

	"github.com/qubesos/sni-bridge/internal/busnames"
	"github.com/qubesos/sni-bridge/internal/display"
	"github.com/qubesos/sni-bridge/internal/wire"
)

func TestIconSlotRoutesEachPixmapType(t *testing.T) {
	n := &NotifierIcon{}

	slot, signal, ok := n.iconSlot(wire.IconTypeNormal)
	if !ok || slot != &n.icon || signal != busnames.NewIconFn {
		t.Errorf("iconSlot(Normal) = (%p, %q, %v)", slot, signal, ok)
	}

	slot, signal, ok = n.iconSlot(wire.IconTypeAttention)
	if !ok || slot != &n.attentionIcon || signal != busnames.NewAttentionIconFn {
		t.Errorf("iconSlot(Attention) = (%p, %q, %v)", slot, signal, ok)
	}

	slot, signal, ok = n.iconSlot(wire.IconTypeOverlay)
	if !ok || slot != &n.overlayIcon || signal != busnames.NewOverlayIconFn {
		t.Errorf("iconSlot(Overlay) = (%p, %q, %v)", slot, signal, ok)
	}

	if _, _, ok := n.iconSlot(wire.IconTypeTitle); ok {
		t.Error("iconSlot(Title) should not resolve to a pixmap slot")
	}
}

func TestApplyIconRejectsTitleAndStatusTypes(t *testing.T) {
	n := &NotifierIcon{id: 1}

	if err := n.applyIcon(wire.IconTypeTitle, nil); err == nil {
		t.Error("applyIcon(Title) should fail, got nil")
	}
	if err := n.applyRemoveIcon(wire.IconTypeStatus); err == nil {
		t.Error("applyRemoveIcon(Status) should fail, got nil")
	}
}

func TestSanitizedTextPassesThroughAndSanitizes(t *testing.T) {
	if got := sanitizedText(nil, display.Default); got != nil {
		t.Errorf("sanitizedText(nil) = %v, want nil", got)
	}

	raw := "hello\x07world"
	got := sanitizedText(&raw, display.Default)
	if got == nil {
		t.Fatal("sanitizedText returned nil for non-nil input")
	}
	if *got == raw {
		t.Errorf("sanitizedText left control character untouched: %q", *got)
	}
}
