package resolver

import "testing"

func TestParseBasic(t *testing.T) {
	addr, err := Parse("role1@MyProject@alice")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if addr.RoleTag != "role1" || addr.ProjectTag != "MyProject" || addr.Owner != "alice" {
		t.Errorf("addr = %+v", addr)
	}
	if addr.App != DefaultApp {
		t.Errorf("App = %q, want default", addr.App)
	}
}

func TestParseWithApp(t *testing.T) {
	addr, err := Parse("role1@proj#MyMobileApp")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if addr.App != "MyMobileApp" {
		t.Errorf("App = %q, want MyMobileApp", addr.App)
	}
	if addr.Owner != "" {
		t.Errorf("Owner = %q, want empty", addr.Owner)
	}
	if !addr.IsExternal() {
		t.Error("expected IsExternal to be true")
	}
}

func TestParseExpansionRoles(t *testing.T) {
	for _, tag := range []string{"everyone in room", "others in room", "*", "EVERYONE IN ROOM"} {
		addr, err := Parse(tag + "@proj@owner")
		if err != nil {
			t.Fatalf("Parse(%q): %v", tag, err)
		}
		if !addr.IsExpansionRole() {
			t.Errorf("tag %q: expected IsExpansionRole", tag)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range []string{"", "@proj", "role@", "a@b@c@d"} {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q) expected error", raw)
		}
	}
}
