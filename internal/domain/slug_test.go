package domain

import "testing"

func TestEntityUUIDForName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Aria", "char:Aria"},
		{"  Aria   Stone  ", "char:Aria_Stone"},
		{"d'Artagnan!", "char:dArtagnan"},
		{"night-warden", "char:night-warden"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tc := range cases {
		if got := EntityUUIDForName(tc.in); got != tc.want {
			t.Fatalf("EntityUUIDForName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	// Repeated mentions with different spacing converge to one id.
	if EntityUUIDForName("Aria  Stone") != EntityUUIDForName("Aria Stone") {
		t.Fatalf("spacing variants must share one entity id")
	}
}

func TestDisplayIDFromEntityRef(t *testing.T) {
	if got := DisplayIDFromEntityRef("char:Aria_Stone"); got != "Aria Stone" {
		t.Fatalf("display id = %q, want %q", got, "Aria Stone")
	}
	if got := DisplayIDFromEntityRef("Bren"); got != "Bren" {
		t.Fatalf("raw name should pass through, got %q", got)
	}
}

func TestEventAndMilestoneIDs(t *testing.T) {
	if got := EventIDForAction(ActionReplace, "Aria", "Bren"); got != "event:REPLACE:Aria->Bren" {
		t.Fatalf("event id = %q", got)
	}
	if got := EventIDForAction(ActionDelete, "", ""); got != "event:DELETE:Unknown->Unknown" {
		t.Fatalf("event id fallback = %q", got)
	}
	if got := EventKeyFor("t1", 0, "event:EVOLVE:A->B"); got != "t1:1:event:EVOLVE:A->B" {
		t.Fatalf("event key = %q", got)
	}
	if got := MilestoneIDFor("t1", 2); got != "milestone:t1:3" {
		t.Fatalf("milestone id = %q", got)
	}
}
