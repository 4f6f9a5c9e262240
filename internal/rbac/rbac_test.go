package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "customer read", role: RoleCustomer, action: ActionRead, allow: true},
		{name: "customer comment", role: RoleCustomer, action: ActionComment, allow: true},
		{name: "customer support", role: RoleCustomer, action: ActionSupport, allow: false},
		{name: "customer publish", role: RoleCustomer, action: ActionPublish, allow: false},
		{name: "agent support", role: RoleAgent, action: ActionSupport, allow: true},
		{name: "agent publish", role: RoleAgent, action: ActionPublish, allow: false},
		{name: "editor publish", role: RoleEditor, action: ActionPublish, allow: true},
		{name: "editor support", role: RoleEditor, action: ActionSupport, allow: false},
		{name: "editor admin", role: RoleEditor, action: ActionAdmin, allow: false},
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
	if Normalize("agent") != RoleAgent {
		t.Fatal("agent should normalize to itself")
	}
	if Normalize("superuser") != RoleCustomer {
		t.Fatal("unknown roles should fall back to customer")
	}
	if IsStaff(RoleCustomer) || !IsStaff(RoleAgent) {
		t.Fatal("unexpected staff classification")
	}
}
