package adapter

import "testing"

func TestRegistry_RegisterGetList(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(Manifest{Name: "reviewer", Capabilities: []string{"update_status", "comment"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(Manifest{Name: "planner", Capabilities: []string{"decompose"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	m, ok := r.Get("reviewer")
	if !ok {
		t.Fatalf("expected reviewer to be registered")
	}
	if len(m.Capabilities) != 2 {
		t.Fatalf("expected 2 capabilities, got %d", len(m.Capabilities))
	}

	list := r.List()
	if len(list) != 2 || list[0].Name != "planner" || list[1].Name != "reviewer" {
		t.Fatalf("expected sorted [planner reviewer], got %+v", list)
	}

	if !r.HasCapability("reviewer", "comment") {
		t.Fatalf("expected reviewer to have comment capability")
	}
	if r.HasCapability("reviewer", "decompose") {
		t.Fatalf("did not expect reviewer to have decompose capability")
	}
}

func TestRegistry_RegisterRejectsEmptyName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Manifest{Name: ""}); err == nil {
		t.Fatalf("expected error for empty manifest name")
	}
}

func TestRegistry_ReregisterSupersedes(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Manifest{Name: "reviewer", Capabilities: []string{"a"}})
	_ = r.Register(Manifest{Name: "reviewer", Capabilities: []string{"a", "b"}})

	m, _ := r.Get("reviewer")
	if len(m.Capabilities) != 2 {
		t.Fatalf("expected re-registration to supersede, got %+v", m)
	}
}

func TestRegistry_Deregister(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Manifest{Name: "reviewer", Capabilities: []string{"a"}})
	r.Deregister("reviewer")
	if _, ok := r.Get("reviewer"); ok {
		t.Fatalf("expected reviewer to be gone after Deregister")
	}
}
