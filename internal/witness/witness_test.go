package witness

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/user"
)

type fakeProjects struct {
	info *ProjectInfo
	err  error
}

func (f fakeProjects) ProjectInfo(context.Context, uuid.UUID) (*ProjectInfo, error) {
	return f.info, f.err
}

type fakeGroups struct {
	owner string
	err   error
}

func (f fakeGroups) GroupOwner(context.Context, uuid.UUID) (string, error) {
	return f.owner, f.err
}

type fakeUsers struct {
	u   *user.User
	err error
}

func (f fakeUsers) GetByID(context.Context, uuid.UUID) (*user.User, error) {
	return f.u, f.err
}

func newMinter(p ProjectLookup, g GroupLookup, u UserLookup) *Minter {
	return NewMinter(p, g, u, zerolog.Nop())
}

func TestMintEditProject_OwnerAllowed(t *testing.T) {
	projectID := uuid.New()
	m := newMinter(fakeProjects{info: &ProjectInfo{Owner: "alice"}}, fakeGroups{}, fakeUsers{})
	_, err := m.MintEditProject(context.Background(), Session{Username: "alice"}, projectID)
	if err != nil {
		t.Fatalf("MintEditProject for owner: %v", err)
	}
}

func TestMintEditProject_StrangerDenied(t *testing.T) {
	projectID := uuid.New()
	m := newMinter(fakeProjects{info: &ProjectInfo{Owner: "alice"}}, fakeGroups{}, fakeUsers{})
	_, err := m.MintEditProject(context.Background(), Session{Username: "mallory"}, projectID)
	if err != ErrForbidden {
		t.Fatalf("MintEditProject for stranger err = %v, want ErrForbidden", err)
	}
}

func TestMintEditProject_CollaboratorAllowed(t *testing.T) {
	projectID := uuid.New()
	m := newMinter(fakeProjects{info: &ProjectInfo{Owner: "alice", Collaborators: []string{"bob"}}}, fakeGroups{}, fakeUsers{})
	if _, err := m.MintEditProject(context.Background(), Session{Username: "bob"}, projectID); err != nil {
		t.Fatalf("MintEditProject for collaborator: %v", err)
	}
}

func TestMintViewProject_PublicAllowsAnonymous(t *testing.T) {
	projectID := uuid.New()
	m := newMinter(fakeProjects{info: &ProjectInfo{Owner: "alice", Public: true}}, fakeGroups{}, fakeUsers{})
	if _, err := m.MintViewProject(context.Background(), nil, projectID); err != nil {
		t.Fatalf("MintViewProject public/anonymous: %v", err)
	}
}

func TestMintViewProject_PrivateDeniesAnonymous(t *testing.T) {
	projectID := uuid.New()
	m := newMinter(fakeProjects{info: &ProjectInfo{Owner: "alice"}}, fakeGroups{}, fakeUsers{})
	if _, err := m.MintViewProject(context.Background(), nil, projectID); err != ErrForbidden {
		t.Fatalf("MintViewProject private/anonymous err = %v, want ErrForbidden", err)
	}
}

func TestMintEditUser_SelfAllowed(t *testing.T) {
	id := uuid.New()
	m := newMinter(fakeProjects{}, fakeGroups{}, fakeUsers{})
	if _, err := m.MintEditUser(context.Background(), Session{UserID: id}, id); err != nil {
		t.Fatalf("MintEditUser self: %v", err)
	}
}

func TestMintEditUser_GroupOwnerAllowed(t *testing.T) {
	target := uuid.New()
	groupID := uuid.New()
	caller := uuid.New()
	m := newMinter(fakeProjects{}, fakeGroups{owner: "teacher1"}, fakeUsers{u: &user.User{ID: target, GroupID: &groupID}})
	if _, err := m.MintEditUser(context.Background(), Session{UserID: caller, Username: "teacher1"}, target); err != nil {
		t.Fatalf("MintEditUser group owner: %v", err)
	}
}

func TestMintEditUser_UnrelatedDenied(t *testing.T) {
	target := uuid.New()
	m := newMinter(fakeProjects{}, fakeGroups{}, fakeUsers{u: &user.User{ID: target}})
	if _, err := m.MintEditUser(context.Background(), Session{UserID: uuid.New(), Username: "mallory"}, target); err != ErrForbidden {
		t.Fatalf("MintEditUser unrelated err = %v, want ErrForbidden", err)
	}
}

func TestMintIsAdmin(t *testing.T) {
	m := newMinter(fakeProjects{}, fakeGroups{}, fakeUsers{})
	if _, err := m.MintIsAdmin(Session{Role: user.RoleAdmin}); err != nil {
		t.Fatalf("MintIsAdmin admin: %v", err)
	}
	if _, err := m.MintIsAdmin(Session{Role: user.RoleUser}); err != ErrForbidden {
		t.Fatalf("MintIsAdmin non-admin err = %v, want ErrForbidden", err)
	}
}

func TestMintAppLevel(t *testing.T) {
	hostID := uuid.New()
	m := newMinter(fakeProjects{}, fakeGroups{}, fakeUsers{})
	if _, err := m.MintAppLevel(hostID, true); err != nil {
		t.Fatalf("MintAppLevel match: %v", err)
	}
	if _, err := m.MintAppLevel(hostID, false); err != ErrForbidden {
		t.Fatalf("MintAppLevel mismatch err = %v, want ErrForbidden", err)
	}
}
