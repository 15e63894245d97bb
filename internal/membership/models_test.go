package membership

import "testing"

func TestCreateMembershipInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   CreateMembershipInput
		wantErr error
	}{
		{
			name: "valid organisation membership",
			input: CreateMembershipInput{
				Role:          RoleMember,
				Scope:         Scope{Kind: ScopeOrganisation, ID: "org-1"},
				PrincipalKind: PrincipalUser,
				PrincipalID:   "user-1",
			},
			wantErr: nil,
		},
		{
			name: "valid client principal on case scope",
			input: CreateMembershipInput{
				Role:          RoleClient,
				Scope:         Scope{Kind: ScopeCase, ID: "case-1"},
				PrincipalKind: PrincipalClient,
				PrincipalID:   "client-link-1",
			},
			wantErr: nil,
		},
		{
			name: "unknown role",
			input: CreateMembershipInput{
				Role:          Role("superuser"),
				Scope:         Scope{Kind: ScopeTeam, ID: "team-1"},
				PrincipalKind: PrincipalUser,
				PrincipalID:   "user-1",
			},
			wantErr: ErrInvalidRole,
		},
		{
			name: "missing scope id",
			input: CreateMembershipInput{
				Role:          RoleOwner,
				Scope:         Scope{Kind: ScopeOrganisation},
				PrincipalKind: PrincipalUser,
				PrincipalID:   "user-1",
			},
			wantErr: ErrInvalidScope,
		},
		{
			name: "unknown scope kind",
			input: CreateMembershipInput{
				Role:          RoleOwner,
				Scope:         Scope{Kind: ScopeKind("project"), ID: "p-1"},
				PrincipalKind: PrincipalUser,
				PrincipalID:   "user-1",
			},
			wantErr: ErrInvalidScope,
		},
		{
			name: "missing principal",
			input: CreateMembershipInput{
				Role:          RoleMember,
				Scope:         Scope{Kind: ScopeTeam, ID: "team-1"},
				PrincipalKind: PrincipalUser,
			},
			wantErr: ErrPrincipalRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestScopeValid(t *testing.T) {
	if (Scope{}).Valid() {
		t.Error("zero scope should be invalid")
	}
	if (Scope{Kind: ScopeTeam}).Valid() {
		t.Error("scope without id should be invalid")
	}
	if !(Scope{Kind: ScopeTeamContext, ID: "tc-1"}).Valid() {
		t.Error("team_context scope with id should be valid")
	}
}

func TestBuildListWhere(t *testing.T) {
	tests := []struct {
		name     string
		filter   ListFilter
		want     string
		wantArgs int
	}{
		{
			name:     "empty filter",
			filter:   ListFilter{},
			want:     "",
			wantArgs: 0,
		},
		{
			name:     "kind only",
			filter:   ListFilter{Kind: ScopeOrganisation},
			want:     " WHERE scope_kind = $1",
			wantArgs: 1,
		},
		{
			name:     "kind and principal",
			filter:   ListFilter{Kind: ScopeTeam, PrincipalID: "user-1"},
			want:     " WHERE scope_kind = $1 AND principal_id = $2",
			wantArgs: 2,
		},
		{
			name:     "all fields",
			filter:   ListFilter{Kind: ScopeCase, ScopeID: "c-1", PrincipalID: "user-1", Role: RoleAssignee},
			want:     " WHERE scope_kind = $1 AND scope_id = $2 AND principal_id = $3 AND role = $4",
			wantArgs: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildListWhere(tt.filter)
			if where != tt.want {
				t.Errorf("where = %q, want %q", where, tt.want)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("len(args) = %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}
