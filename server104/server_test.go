package server104

import (
	"testing"
)

func TestNewRedundancyGroupRejectsEmptyAllowList(t *testing.T) {
	_, err := newRedundancyGroup(GroupConfig{Name: "control-room"})
	if err == nil {
		t.Fatalf("expected error for empty allow-list")
	}
}

func TestNewRejectsRedundantModeWithNoGroups(t *testing.T) {
	opt := NewOption("127.0.0.1:2404", nil)
	opt.SetRedundantMode(nil)
	if _, err := New(opt); err == nil {
		t.Fatalf("expected error constructing redundant-mode server with no groups")
	}
}

func TestRedundancyGroupExclusiveActivation(t *testing.T) {
	g, err := newRedundancyGroup(GroupConfig{Name: "g", Allow: []string{"10.0.0.1", "10.0.0.2"}})
	if err != nil {
		t.Fatalf("newRedundancyGroup: %v", err)
	}
	a := &Conn{}
	b := &Conn{}

	if !g.TryActivate(a) {
		t.Fatalf("first activation should succeed")
	}
	if g.TryActivate(b) {
		t.Fatalf("second activation should be refused while a is active")
	}
	g.Deactivate(a)
	if !g.TryActivate(b) {
		t.Fatalf("activation should succeed once a deactivates")
	}
}

func TestRedundancyGroupContainsHonorsAllowList(t *testing.T) {
	g, err := newRedundancyGroup(GroupConfig{Name: "g", Allow: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("newRedundancyGroup: %v", err)
	}
	if !g.Contains("10.0.0.1") {
		t.Fatalf("expected 10.0.0.1 to be a member")
	}
	if g.Contains("10.0.0.2") {
		t.Fatalf("expected 10.0.0.2 to not be a member")
	}
}
