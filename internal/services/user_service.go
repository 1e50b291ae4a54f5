package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/models"
	pgrepo "github.com/yoockh/yoodocs/internal/repositories/postgres"
	"github.com/yoockh/yoodocs/internal/utils"
)

type UserPage struct {
	Users []models.User `json:"users"`
	Total int64         `json:"total"`
}

// CreateUserInput is an admin-created account. Role defaults to user.
type CreateUserInput struct {
	Email    string          `json:"email"`
	Name     string          `json:"name"`
	Password string          `json:"password"`
	Role     models.UserRole `json:"role"`
}

// UserUpdate changes only the fields that are set. Role needs an admin.
type UserUpdate struct {
	Email    *string          `json:"email"`
	Name     *string          `json:"name"`
	Password *string          `json:"password"`
	Role     *models.UserRole `json:"role"`
}

type UserService interface {
	Me(ctx context.Context, userID string) (*models.User, error)
	Get(ctx context.Context, actor Actor, id string) (*models.User, error)
	List(ctx context.Context, limit, offset int) (*UserPage, error)
	Create(ctx context.Context, in CreateUserInput) (*models.User, error)
	Update(ctx context.Context, actor Actor, id string, in UserUpdate) (*models.User, error)
	SetRole(ctx context.Context, userID string, role models.UserRole) (*models.User, error)
	Delete(ctx context.Context, actor Actor, id string) error
}

type userService struct {
	users  pgrepo.UserRepository
	docs   DocumentService
	convos pgrepo.ConversationRepo
	log    *logrus.Logger
	now    func() time.Time
}

// NewUserService needs docs and convos only for Delete, which removes the
// user's documents (index entries included) and conversations first.
func NewUserService(users pgrepo.UserRepository, docs DocumentService, convos pgrepo.ConversationRepo, log *logrus.Logger) UserService {
	if log == nil {
		log = logrus.New()
	}
	return &userService{users: users, docs: docs, convos: convos, log: log, now: time.Now}
}

func validRole(r models.UserRole) bool { return r == models.RoleUser || r == models.RoleAdmin }

func selfOrAdmin(op string, actor Actor, id string) error {
	if !actor.Admin && actor.UserID != id {
		return utils.E(utils.CodeForbidden, op, "not allowed to access this user", nil)
	}
	return nil
}

func (s *userService) load(ctx context.Context, op, id string) (*models.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "user not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get user", err)
	}
	return u, nil
}

func (s *userService) Me(ctx context.Context, userID string) (*models.User, error) {
	const op = "UserService.Me"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	return s.load(ctx, op, userID)
}

func (s *userService) Get(ctx context.Context, actor Actor, id string) (*models.User, error) {
	const op = "UserService.Get"

	if err := selfOrAdmin(op, actor, id); err != nil {
		return nil, err
	}
	return s.load(ctx, op, id)
}

func (s *userService) List(ctx context.Context, limit, offset int) (*UserPage, error) {
	const op = "UserService.List"

	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	rows, total, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list users", err)
	}
	if rows == nil {
		rows = []models.User{}
	}
	return &UserPage{Users: rows, Total: total}, nil
}

func (s *userService) Create(ctx context.Context, in CreateUserInput) (*models.User, error) {
	const op = "UserService.Create"

	email := normalizeEmail(in.Email)
	if !validEmail(email) {
		return nil, utils.E(utils.CodeInvalidArgument, op, "a valid email is required", nil)
	}
	if err := utils.ValidatePassword(in.Password); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, err.Error(), nil)
	}
	role := in.Role
	if role == "" {
		role = models.RoleUser
	}
	if !validRole(role) {
		return nil, utils.E(utils.CodeInvalidArgument, op, "role must be user or admin", nil)
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to hash password", err)
	}
	now := s.now().UTC()
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, utils.ErrDuplicate) {
			return nil, utils.E(utils.CodeConflict, op, "email already registered", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to create user", err)
	}
	s.log.WithFields(logrus.Fields{"user_id": u.ID, "role": u.Role}).Info("user created by admin")
	return u, nil
}

func (s *userService) Update(ctx context.Context, actor Actor, id string, in UserUpdate) (*models.User, error) {
	const op = "UserService.Update"

	if err := selfOrAdmin(op, actor, id); err != nil {
		return nil, err
	}
	current, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if !validEmail(email) {
			return nil, utils.E(utils.CodeInvalidArgument, op, "a valid email is required", nil)
		}
		if email != current.Email {
			fields["email"] = email
		}
	}
	if in.Name != nil {
		fields["name"] = strings.TrimSpace(*in.Name)
	}
	if in.Password != nil {
		if err := utils.ValidatePassword(*in.Password); err != nil {
			return nil, utils.E(utils.CodeInvalidArgument, op, err.Error(), nil)
		}
		hash, err := utils.HashPassword(*in.Password)
		if err != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to hash password", err)
		}
		fields["password_hash"] = hash
	}
	if in.Role != nil {
		if !actor.Admin {
			return nil, utils.E(utils.CodeForbidden, op, "only an admin can change roles", nil)
		}
		if !validRole(*in.Role) {
			return nil, utils.E(utils.CodeInvalidArgument, op, "role must be user or admin", nil)
		}
		fields["role"] = *in.Role
	}
	if len(fields) == 0 {
		return current, nil
	}

	if err := s.users.Update(ctx, id, fields); err != nil {
		switch {
		case errors.Is(err, utils.ErrDuplicate):
			return nil, utils.E(utils.CodeConflict, op, "email already in use", err)
		case errors.Is(err, utils.ErrNotFound):
			return nil, utils.E(utils.CodeNotFound, op, "user not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to update user", err)
	}
	s.log.WithFields(logrus.Fields{"user_id": id, "by_user": actor.UserID}).Info("user updated")
	return s.load(ctx, op, id)
}

func (s *userService) SetRole(ctx context.Context, userID string, role models.UserRole) (*models.User, error) {
	const op = "UserService.SetRole"

	if !validRole(role) {
		return nil, utils.E(utils.CodeInvalidArgument, op, "role must be user or admin", nil)
	}
	if err := s.users.UpdateRole(ctx, userID, role); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "user not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to update role", err)
	}
	return s.Me(ctx, userID)
}

const purgePage = 100

// Delete removes a user with everything they own. Admins cannot delete
// their own account.
func (s *userService) Delete(ctx context.Context, actor Actor, id string) error {
	const op = "UserService.Delete"

	if !actor.Admin {
		return utils.E(utils.CodeForbidden, op, "only an admin can delete users", nil)
	}
	if actor.UserID == id {
		return utils.E(utils.CodeInvalidArgument, op, "admins cannot delete their own account", nil)
	}
	if _, err := s.load(ctx, op, id); err != nil {
		return err
	}

	removedDocs := 0
	for {
		docs, err := s.docs.List(ctx, id, purgePage, 0)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			break
		}
		for _, d := range docs {
			if err := s.docs.Delete(ctx, id, d.ID); err != nil {
				return err
			}
			removedDocs++
		}
	}
	removedConvos, err := s.convos.DeleteByOwner(ctx, id)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to delete conversations", err)
	}

	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "user not found", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to delete user", err)
	}
	s.log.WithFields(logrus.Fields{
		"user_id":       id,
		"by_user":       actor.UserID,
		"documents":     removedDocs,
		"conversations": removedConvos,
	}).Info("user deleted")
	return nil
}
