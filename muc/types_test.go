package muc

import "testing"

func TestDefaultRole(t *testing.T) {
	cases := []struct {
		aff       Affiliation
		moderated bool
		want      Role
	}{
		{AffiliationOwner, false, RoleModerator},
		{AffiliationAdmin, false, RoleModerator},
		{AffiliationMember, true, RoleParticipant},
		{AffiliationNone, true, RoleVisitor},
		{AffiliationNone, false, RoleParticipant},
		{AffiliationOutcast, false, RoleParticipant},
	}
	for _, c := range cases {
		if got := DefaultRole(c.aff, c.moderated); got != c.want {
			t.Fatalf("DefaultRole(%s, %v) = %s, want %s", c.aff, c.moderated, got, c.want)
		}
	}
}

func TestDefaultHistoryRequest(t *testing.T) {
	req := DefaultHistoryRequest()
	if req.Disabled() {
		t.Fatalf("default history request should not be disabled")
	}
	if req.Requested {
		t.Fatalf("default history request should not be marked as explicitly requested")
	}
}

func TestHistoryRequestDisabled(t *testing.T) {
	req := HistoryRequest{Requested: true, MaxStanzas: 0}
	if !req.Disabled() {
		t.Fatalf("maxstanzas=0 explicit request should disable history")
	}
}
