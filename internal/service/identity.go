package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"tms/internal/apperr"
	"tms/internal/auth"
	"tms/internal/models"
	"tms/internal/storage"
)

// Credentials is a username/password pair as submitted by a client.
type Credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (c Credentials) validate() error {
	if strings.TrimSpace(c.Username) == "" || c.Password == "" {
		return apperr.BadRequest("Username and password are required")
	}
	return nil
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	Role      models.Role `json:"role"`
	User      models.User `json:"user"`
}

// Identity handles accounts, credentials and bearer identity.
type Identity struct {
	repo   Repository
	hasher auth.Hasher
	tokens *auth.TokenIssuer
	logger *slog.Logger
}

// NewIdentity wires the identity service.
func NewIdentity(repo Repository, hasher auth.Hasher, tokens *auth.TokenIssuer, logger *slog.Logger) *Identity {
	if logger == nil {
		logger = slog.Default()
	}
	return &Identity{repo: repo, hasher: hasher, tokens: tokens, logger: logger}
}

// Register creates a regular user account.
func (s *Identity) Register(ctx context.Context, creds Credentials) error {
	_, err := s.createAccount(ctx, creds, models.RoleUser)
	return err
}

// RegisterAdmin creates an admin account on behalf of an existing admin
// whose credentials are verified first.
func (s *Identity) RegisterAdmin(ctx context.Context, creds Credentials, adminUsername, adminPassword string) error {
	admin, err := s.repo.GetUserByUsername(ctx, adminUsername)
	if err != nil && !isNotFound(err) {
		return internal("look up admin", err)
	}
	if err != nil || !admin.IsAdmin() || !s.hasher.Verify(adminPassword, admin.PasswordHash) {
		return apperr.Unauthorized("Invalid admin credentials")
	}

	created, err := s.createAccount(ctx, creds, models.RoleAdmin)
	if err != nil {
		return err
	}
	s.logger.Info("admin account created", slog.String("username", created.Username), slog.String("by", admin.Username))
	return nil
}

// RegisterInitialAdmin creates the first admin. It refuses once any admin exists.
func (s *Identity) RegisterInitialAdmin(ctx context.Context, creds Credentials) error {
	exists, err := s.repo.AdminExists(ctx)
	if err != nil {
		return internal("check for admins", err)
	}
	if exists {
		return apperr.Conflict("An admin already exists")
	}

	created, err := s.createAccount(ctx, creds, models.RoleAdmin)
	if err != nil {
		return err
	}
	s.logger.Info("initial admin created", slog.String("username", created.Username))
	return nil
}

func (s *Identity) createAccount(ctx context.Context, creds Credentials, role models.Role) (models.User, error) {
	if err := creds.validate(); err != nil {
		return models.User{}, err
	}
	if len(creds.Password) > auth.MaxPasswordBytes {
		return models.User{}, apperr.BadRequest("Password must be at most %d bytes", auth.MaxPasswordBytes)
	}

	// Fast path only; the unique index decides under concurrency.
	_, err := s.repo.GetUserByUsername(ctx, creds.Username)
	if err == nil {
		return models.User{}, apperr.Conflict("User already exists")
	}
	if !isNotFound(err) {
		return models.User{}, internal("look up user", err)
	}

	digest, err := s.hasher.Hash(creds.Password)
	if err != nil {
		return models.User{}, internal("hash password", err)
	}

	user, err := s.repo.CreateUser(ctx, models.User{Username: creds.Username, PasswordHash: digest, Role: role})
	if errors.Is(err, storage.ErrDuplicate) {
		return models.User{}, apperr.Conflict("User already exists")
	}
	if err != nil {
		return models.User{}, internal("create user", err)
	}
	return user, nil
}

// Login verifies credentials and issues a bearer token bound to the user.
func (s *Identity) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	user, err := s.repo.GetUserByUsername(ctx, creds.Username)
	if err != nil && !isNotFound(err) {
		return LoginResult{}, internal("look up user", err)
	}
	if err != nil || !s.hasher.Verify(creds.Password, user.PasswordHash) {
		return LoginResult{}, apperr.Unauthorized("Invalid username or password")
	}

	token, claims, err := s.tokens.Issue(user)
	if err != nil {
		return LoginResult{}, internal("issue token", err)
	}
	return LoginResult{Token: token, ExpiresAt: claims.ExpiresAt.Time, Role: user.Role, User: user}, nil
}

// Logout revokes the token described by claims. Revoking twice is harmless.
func (s *Identity) Logout(ctx context.Context, claims auth.Claims) error {
	if claims.ID == "" {
		return nil
	}
	expires := time.Now()
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	if err := s.repo.RevokeToken(ctx, claims.ID, expires); err != nil {
		return internal("revoke token", err)
	}
	return nil
}

// Authenticate resolves a raw bearer token to the current user record.
func (s *Identity) Authenticate(ctx context.Context, raw string) (models.User, auth.Claims, error) {
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return models.User{}, auth.Claims{}, apperr.Unauthorized("Invalid or expired token")
	}
	revoked, err := s.repo.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return models.User{}, auth.Claims{}, internal("check token", err)
	}
	if revoked {
		return models.User{}, auth.Claims{}, apperr.Unauthorized("Token has been revoked")
	}

	id, err := claims.UserID()
	if err != nil {
		return models.User{}, auth.Claims{}, apperr.Unauthorized("Invalid or expired token")
	}
	user, err := s.repo.GetUserByID(ctx, id)
	if isNotFound(err) {
		return models.User{}, auth.Claims{}, apperr.Unauthorized("User no longer exists")
	}
	if err != nil {
		return models.User{}, auth.Claims{}, internal("load user", err)
	}
	return user, claims, nil
}

// GetProfile returns username's account with its assigned and created tasks.
func (s *Identity) GetProfile(ctx context.Context, caller models.User, username string) (models.UserProfile, error) {
	target, err := s.repo.GetUserByUsername(ctx, username)
	if isNotFound(err) {
		return models.UserProfile{}, apperr.NotFound("User not found")
	}
	if err != nil {
		return models.UserProfile{}, internal("load user", err)
	}
	if err := auth.Authorize(caller, auth.ActionViewProfile, auth.Resource{User: &target}); err != nil {
		return models.UserProfile{}, err
	}

	assigned, err := s.repo.ListTasks(ctx, models.TaskFilter{AssignedToID: &target.ID})
	if err != nil {
		return models.UserProfile{}, internal("load assigned tasks", err)
	}
	created, err := s.repo.ListTasks(ctx, models.TaskFilter{CreatedByID: &target.ID})
	if err != nil {
		return models.UserProfile{}, internal("load created tasks", err)
	}

	return models.UserProfile{
		ID:            target.ID,
		Username:      target.Username,
		Role:          target.Role,
		AssignedTasks: summaries(assigned),
		CreatedTasks:  summaries(created),
	}, nil
}

// GetUserProfile returns the caller's own account record.
func (s *Identity) GetUserProfile(ctx context.Context, caller models.User) (models.User, error) {
	user, err := s.repo.GetUserByID(ctx, caller.ID)
	if isNotFound(err) {
		return models.User{}, apperr.Unauthorized("User not found")
	}
	if err != nil {
		return models.User{}, internal("load user", err)
	}
	return user, nil
}

// DeleteUser lets an admin remove a non-admin account and the tasks assigned to it.
func (s *Identity) DeleteUser(ctx context.Context, caller models.User, id int64) error {
	if err := auth.Authorize(caller, auth.ActionDeleteUser, auth.Resource{}); err != nil {
		return err
	}
	target, err := s.repo.GetUserByID(ctx, id)
	if isNotFound(err) {
		return apperr.NotFound("User not found")
	}
	if err != nil {
		return internal("load user", err)
	}
	if err := auth.Authorize(caller, auth.ActionDeleteUser, auth.Resource{User: &target}); err != nil {
		return err
	}

	if err := s.repo.DeleteUser(ctx, target.ID, false); err != nil {
		if isNotFound(err) {
			return apperr.NotFound("User not found")
		}
		return internal("delete user", err)
	}
	s.logger.Info("user deleted", slog.String("username", target.Username), slog.String("by", caller.Username))
	return nil
}

// DeleteOwnAccount removes the caller's account together with every task it
// created or was assigned, in one commit.
func (s *Identity) DeleteOwnAccount(ctx context.Context, caller models.User, username string) error {
	target, err := s.repo.GetUserByUsername(ctx, username)
	if isNotFound(err) {
		return apperr.NotFound("User not found")
	}
	if err != nil {
		return internal("load user", err)
	}
	if err := auth.Authorize(caller, auth.ActionDeleteOwnAccount, auth.Resource{User: &target}); err != nil {
		return err
	}

	if err := s.repo.DeleteUser(ctx, target.ID, true); err != nil {
		return apperr.Internal("An error occurred while deleting the account", err)
	}
	return nil
}

// ListNonAdminUsers returns the accounts tasks can be assigned to.
func (s *Identity) ListNonAdminUsers(ctx context.Context, caller models.User) ([]models.UserRef, error) {
	if err := auth.Authorize(caller, auth.ActionListUsers, auth.Resource{}); err != nil {
		return nil, err
	}
	users, err := s.repo.ListNonAdminUsers(ctx)
	if err != nil {
		return nil, internal("list users", err)
	}
	refs := make([]models.UserRef, 0, len(users))
	for _, u := range users {
		refs = append(refs, u.Ref())
	}
	return refs, nil
}

func summaries(tasks []models.Task) []models.TaskSummary {
	out := make([]models.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Summary())
	}
	return out
}
