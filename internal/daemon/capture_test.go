package daemon

import (
	"bytes"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/qubesos/sni-bridge/internal/busnames"
	"github.com/qubesos/sni-bridge/internal/wire"
)

func strPtr(s string) *string { return &s }

func TestNotifierIconGetReturnsCachedValues(t *testing.T) {
	n := &NotifierIcon{
		appID:    "org.qubes_os.vm.app_id.my_app",
		category: "ApplicationStatus",
		title:    strPtr("hello"),
	}

	v, derr := n.Get(busnames.ItemIface, "Title")
	if derr != nil {
		t.Fatalf("Get(Title) error: %v", derr)
	}
	if got := v.Value().(string); got != "hello" {
		t.Errorf("Title = %q, want hello", got)
	}

	v, derr = n.Get(busnames.ItemIface, "Category")
	if derr != nil {
		t.Fatalf("Get(Category) error: %v", derr)
	}
	if got := v.Value().(string); got != "ApplicationStatus" {
		t.Errorf("Category = %q, want ApplicationStatus", got)
	}
}

func TestNotifierIconGetTitleUnsetIsNoSuchProperty(t *testing.T) {
	n := &NotifierIcon{appID: "org.qubes_os.vm.app_id.my_app"}

	_, derr := n.Get(busnames.ItemIface, "Title")
	if derr == nil || derr.Name != busnames.ErrNoSuchProperty {
		t.Fatalf("Get(Title) on unset title = %v, want NoSuchProperty", derr)
	}
}

func TestNotifierIconGetMenuAbsentWhenNotAMenu(t *testing.T) {
	n := &NotifierIcon{isMenu: false}
	_, derr := n.Get(busnames.ItemIface, "Menu")
	if derr == nil || derr.Name != busnames.ErrNoSuchProperty {
		t.Fatalf("Get(Menu) on non-menu item = %v, want NoSuchProperty", derr)
	}
}

func TestNotifierIconGetMenuPresentWhenIsMenu(t *testing.T) {
	n := &NotifierIcon{isMenu: true}
	v, derr := n.Get(busnames.ItemIface, "Menu")
	if derr != nil {
		t.Fatalf("Get(Menu) error: %v", derr)
	}
	if got := v.Value().(dbus.ObjectPath); got != busnames.MenuPath {
		t.Errorf("Menu = %v, want %v", got, busnames.MenuPath)
	}
}

func TestNotifierIconGetIconNamesAlwaysAbsent(t *testing.T) {
	n := &NotifierIcon{}
	for _, name := range []string{"IconName", "OverlayIconName", "AttentionIconName", "AttentionMovieName", "IconThemePath"} {
		_, derr := n.Get(busnames.ItemIface, name)
		if derr == nil || derr.Name != busnames.ErrNoSuchProperty {
			t.Errorf("Get(%s) = %v, want NoSuchProperty", name, derr)
		}
	}
}

func TestNotifierIconGetAllSkipsUnsetProperties(t *testing.T) {
	n := &NotifierIcon{appID: "org.qubes_os.vm.app_id.my_app", category: "ApplicationStatus"}
	all, derr := n.GetAll(busnames.ItemIface)
	if derr != nil {
		t.Fatalf("GetAll error: %v", derr)
	}
	if _, ok := all["Title"]; ok {
		t.Error("GetAll included unset Title")
	}
	if _, ok := all["Category"]; !ok {
		t.Error("GetAll missing Category")
	}
}

func TestNotifierIconSetAlwaysFails(t *testing.T) {
	n := &NotifierIcon{}
	if derr := n.Set(busnames.ItemIface, "Title", dbus.MakeVariant("x")); derr == nil {
		t.Fatal("Set succeeded, want read-only failure")
	}
}

func TestActivateWritesServerEvent(t *testing.T) {
	var buf bytes.Buffer
	n := &NotifierIcon{id: 7, out: &buf}

	if derr := n.Activate(10, 20); derr != nil {
		t.Fatalf("Activate error: %v", derr)
	}

	evt, err := wire.ReadServerEvent(&buf)
	if err != nil {
		t.Fatalf("ReadServerEvent: %v", err)
	}
	if evt.ID != 7 || evt.Event.Tag != wire.ServerEventActivate || evt.Event.X != 10 || evt.Event.Y != 20 {
		t.Errorf("got %+v, want Activate{7,10,20}", evt)
	}
}

func TestScrollWritesServerEvent(t *testing.T) {
	var buf bytes.Buffer
	n := &NotifierIcon{id: 3, out: &buf}

	if derr := n.Scroll(5, "vertical"); derr != nil {
		t.Fatalf("Scroll error: %v", derr)
	}

	evt, err := wire.ReadServerEvent(&buf)
	if err != nil {
		t.Fatalf("ReadServerEvent: %v", err)
	}
	if evt.Event.Tag != wire.ServerEventScroll || evt.Event.Delta != 5 || evt.Event.Orientation != "vertical" {
		t.Errorf("got %+v, want Scroll{5,vertical}", evt)
	}
}

func TestGetIconPixmapReturnsEmptyWhenUnset(t *testing.T) {
	n := &NotifierIcon{}
	v, derr := n.Get(busnames.ItemIface, "IconPixmap")
	if derr != nil {
		t.Fatalf("Get(IconPixmap) error: %v", derr)
	}
	if got := v.Value().([]pixmapTuple); len(got) != 0 {
		t.Errorf("IconPixmap = %+v, want empty", got)
	}
}

func TestGetIconPixmapReturnsEveryStoredResolution(t *testing.T) {
	n := &NotifierIcon{
		icon: []wire.IconData{
			{Width: 16, Height: 16, Data: make([]byte, 16*16*4)},
			{Width: 32, Height: 32, Data: make([]byte, 32*32*4)},
		},
	}
	v, derr := n.Get(busnames.ItemIface, "IconPixmap")
	if derr != nil {
		t.Fatalf("Get(IconPixmap) error: %v", derr)
	}
	got := v.Value().([]pixmapTuple)
	if len(got) != 2 {
		t.Fatalf("IconPixmap = %+v, want 2 entries", got)
	}
	if got[0].Width != 16 || got[1].Width != 32 {
		t.Errorf("IconPixmap resolutions = %+v, want [16 32]", got)
	}
}

func TestTuplesFromSlice(t *testing.T) {
	data := []wire.IconData{
		{Width: 1, Height: 1, Data: []byte{1, 2, 3, 4}},
		{Width: 2, Height: 2, Data: []byte{5, 6, 7, 8}},
	}
	got := tuplesFromSlice(data)
	if len(got) != 2 || got[1].Width != 2 {
		t.Errorf("tuplesFromSlice = %+v", got)
	}
}
