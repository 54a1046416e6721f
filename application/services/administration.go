package services

import (
	"context"

	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// ProvisionInstitution creates the caller's institution together with the caller's own Admin
// user. The institution id is the caller's; an explicit institutionId must agree with it.
func (s *RecordStore) ProvisionInstitution(ctx context.Context, caller Caller, fields map[string]any) (*entities.Institution, error) {
	c := s.begin(caller, entities.ActionCreate, "provisionInstitution",
		entities.InstitutionTarget(caller.InstitutionID))
	return execute(ctx, s, c, func() (*entities.Institution, error) {
		if err := c.authorize(permAdministration); err != nil {
			return nil, err
		}
		input, err := s.schemas.Institution(fields)
		if err != nil {
			return nil, err
		}
		if input.InstitutionID != "" && input.InstitutionID != caller.InstitutionID {
			return nil, pkgerrors.NewForbiddenError("institutions are provisioned under the caller's own institution id")
		}
		now := s.now()
		institution := entities.NewInstitution(caller.InstitutionID, input.Name, input.Config, now)
		admin := entities.NewUser(caller.UserID, caller.InstitutionID, entities.RoleAdmin, input.AdminDisplayName, now)
		if err := s.repos.Institutions.ProvisionInstitution(ctx, institution, admin, s.entry(c, c.target)); err != nil {
			return nil, err
		}
		return institution, nil
	})
}

// GetInstitution returns the caller's institution and its config.
func (s *RecordStore) GetInstitution(ctx context.Context, caller Caller) (*entities.Institution, error) {
	c := s.begin(caller, entities.ActionRead, "getInstitution",
		entities.InstitutionTarget(caller.InstitutionID))
	c.unaudited = true
	return execute(ctx, s, c, func() (*entities.Institution, error) {
		if err := c.authorize(permAdministration); err != nil {
			return nil, err
		}
		return s.institution(ctx, c)
	})
}

// UpdateInstitutionConfig applies a partial config update to the caller's institution.
func (s *RecordStore) UpdateInstitutionConfig(ctx context.Context, caller Caller, fields map[string]any,
	expectedVersion *int) (*entities.Institution, error) {
	c := s.begin(caller, entities.ActionUpdate, "updateInstitutionConfig",
		entities.InstitutionTarget(caller.InstitutionID))
	return execute(ctx, s, c, func() (*entities.Institution, error) {
		if err := c.authorize(permAdministration); err != nil {
			return nil, err
		}
		update, err := s.schemas.InstitutionConfig(fields)
		if err != nil {
			return nil, err
		}
		institution, err := s.institution(ctx, c)
		if err != nil {
			return nil, err
		}
		if err := checkVersion(expectedVersion, institution.Version); err != nil {
			return nil, err
		}
		version := institution.Version
		institution.UpdateConfig(update, s.now())
		if err := s.repos.Institutions.UpdateInstitution(ctx, institution, version, s.entry(c, c.target)); err != nil {
			return nil, err
		}
		return institution, nil
	})
}

// CreateUser adds a user to the caller's institution.
func (s *RecordStore) CreateUser(ctx context.Context, caller Caller, fields map[string]any) (*entities.User, error) {
	c := s.begin(caller, entities.ActionCreate, "createUser",
		entities.TargetRef{Kind: entities.KindUser})
	return execute(ctx, s, c, func() (*entities.User, error) {
		if err := c.authorize(permAdministration); err != nil {
			return nil, err
		}
		input, err := s.schemas.User(fields)
		if err != nil {
			return nil, err
		}
		c.target.ID = input.UserID
		user := entities.NewUser(input.UserID, caller.InstitutionID, input.Role, input.DisplayName, s.now())
		if err := s.repos.Users.CreateUser(ctx, user, s.entry(c, c.target)); err != nil {
			return nil, err
		}
		return user, nil
	})
}

// ChangeUserRole assigns a new role to an active user of the caller's institution.
func (s *RecordStore) ChangeUserRole(ctx context.Context, caller Caller, userID, role string, expectedVersion *int) (*entities.User, error) {
	c := s.begin(caller, entities.ActionUpdate, "changeUserRole",
		entities.UserTarget(caller.InstitutionID, userID))
	return execute(ctx, s, c, func() (*entities.User, error) {
		if err := c.authorize(permAdministration); err != nil {
			return nil, err
		}
		newRole, err := s.schemas.Role(role)
		if err != nil {
			return nil, err
		}
		return s.changeUser(ctx, c, userID, expectedVersion, func(u *entities.User) error {
			return u.ChangeRole(newRole, s.now())
		})
	})
}

// DeactivateUser disables a user of the caller's institution. Users are never deleted.
func (s *RecordStore) DeactivateUser(ctx context.Context, caller Caller, userID string, expectedVersion *int) (*entities.User, error) {
	c := s.begin(caller, entities.ActionUpdate, "deactivateUser",
		entities.UserTarget(caller.InstitutionID, userID))
	return execute(ctx, s, c, func() (*entities.User, error) {
		if err := c.authorize(permAdministration); err != nil {
			return nil, err
		}
		if userID == caller.UserID {
			return nil, pkgerrors.NewForbiddenError("admins cannot deactivate themselves")
		}
		return s.changeUser(ctx, c, userID, expectedVersion, func(u *entities.User) error {
			return u.Deactivate(s.now())
		})
	})
}

// ListUsers returns one page of the caller institution's users.
func (s *RecordStore) ListUsers(ctx context.Context, caller Caller, page ports.PageRequest) (ports.Page[*entities.User], error) {
	c := s.begin(caller, entities.ActionRead, "listUsers",
		entities.TargetRef{Kind: entities.KindUser})
	c.unaudited = true
	return execute(ctx, s, c, func() (ports.Page[*entities.User], error) {
		if err := c.authorize(permAdministration); err != nil {
			return ports.Page[*entities.User]{}, err
		}
		return s.repos.Users.ListUsers(ctx, caller.InstitutionID, page)
	})
}

// changeUser loads a user of the caller's institution, applies change and persists it.
// Users of other institutions are reported as missing.
func (s *RecordStore) changeUser(ctx context.Context, c *call, userID string, expectedVersion *int,
	change func(*entities.User) error) (*entities.User, error) {
	if err := s.schemas.IDs(map[string]string{"userId": userID}); err != nil {
		return nil, err
	}
	user, err := s.repos.Users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.InstitutionID != c.caller.InstitutionID {
		return nil, pkgerrors.NewNotFoundError("user")
	}
	if err := checkVersion(expectedVersion, user.Version); err != nil {
		return nil, err
	}
	version := user.Version
	if err := change(user); err != nil {
		return nil, err
	}
	if err := s.repos.Users.UpdateUser(ctx, user, version, s.entry(c, c.target)); err != nil {
		return nil, err
	}
	return user, nil
}
