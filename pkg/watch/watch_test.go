package watch

import "testing"

func TestAddReplaceAndRemove(t *testing.T) {
	w := New()
	if replaced := w.Add("buf", Watchpoint{Start: 0x1000, Len: 16}); replaced {
		t.Errorf("first Add should not report a replacement")
	}
	if replaced := w.Add("buf", Watchpoint{Start: 0x2000, Len: 16}); !replaced {
		t.Errorf("second Add with the same name should report a replacement")
	}
	if !w.Remove("buf") {
		t.Errorf("Remove should find the watchpoint")
	}
	if w.Remove("buf") {
		t.Errorf("second Remove should find nothing")
	}
}

func TestOverlapTriggersOnlyEnabled(t *testing.T) {
	w := New()
	w.Add("buf", Watchpoint{Start: 0x1000, Len: 16})
	triggers := w.ProcessTriggers(0x1004, true, 4, false)
	if len(triggers) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(triggers))
	}
	w.Disable("buf")
	triggers = w.ProcessTriggers(0x1004, true, 4, false)
	if len(triggers) != 0 {
		t.Errorf("disabled watchpoint should not trigger")
	}
	w.Enable("buf")
	triggers = w.ProcessTriggers(0x1004, true, 4, false)
	if len(triggers) != 1 {
		t.Errorf("re-enabled watchpoint should trigger again")
	}
}

func TestNoOverlapDoesNotTrigger(t *testing.T) {
	w := New()
	w.Add("buf", Watchpoint{Start: 0x1000, Len: 16})
	triggers := w.ProcessTriggers(0x2000, true, 4, false)
	if len(triggers) != 0 {
		t.Errorf("access outside the watched range should not trigger")
	}
}

func TestUnknownAddressAlwaysTriggers(t *testing.T) {
	w := New()
	w.Add("buf", Watchpoint{Start: 0x1000, Len: 16})
	triggers := w.ProcessTriggers(0, false, 4, true)
	if len(triggers) != 1 {
		t.Errorf("a symbolic address must conservatively trigger every enabled watchpoint")
	}
}

func TestCloneIndependence(t *testing.T) {
	w := New()
	w.Add("buf", Watchpoint{Start: 0x1000, Len: 16})
	clone := w.Clone()
	clone.Disable("buf")
	if triggers := w.ProcessTriggers(0x1000, true, 1, false); len(triggers) != 1 {
		t.Errorf("original should be unaffected by clone's Disable")
	}
}
