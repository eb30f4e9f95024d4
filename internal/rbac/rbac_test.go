package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer react", role: RoleViewer, action: ActionReact, allow: false},
		{name: "viewer comment", role: RoleViewer, action: ActionComment, allow: false},
		{name: "member react", role: RoleMember, action: ActionReact, allow: true},
		{name: "member promote", role: RoleMember, action: ActionPromote, allow: true},
		{name: "member admin", role: RoleMember, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown read", role: Role("ghost"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(""); got != RoleMember {
		t.Fatalf("Normalize(\"\") = %q, want member", got)
	}
	if got := Normalize("viewer"); got != RoleViewer {
		t.Fatalf("Normalize(viewer) = %q", got)
	}
}
