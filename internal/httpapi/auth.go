package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/fabirmss/notaFi/internal/store"
	"github.com/fabirmss/notaFi/internal/xid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
)

// AuthManager issues and verifies access tokens. Accounts live in the
// user store and are mirrored in memory, keyed by username and e-mail.
type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	logger    zerolog.Logger
	users     map[string]credential
	emails    map[string]string
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	UpdateUser(ctx context.Context, user domain.UserAccount) error
	DeleteUser(ctx context.Context, id string) error
}

type credential struct {
	id        string
	username  string
	email     string
	name      string
	password  string
	role      string
	emitterID string
	active    bool
	created   time.Time
}

type notaClaims struct {
	jwtlib.RegisteredClaims
	Username  string `json:"username"`
	Role      string `json:"role"`
	EmitterID string `json:"emitter_id,omitempty"`
}

func NewAuthManager(ctx context.Context, secret string, tokenTTL time.Duration, userStore UserStore, logger zerolog.Logger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		logger:    logger.With().Str("component", "auth").Logger(),
		users:     make(map[string]credential),
		emails:    make(map[string]string),
	}
	manager.bootstrapUsers(ctx)
	return manager
}

// Login accepts either the username or the e-mail address as identifier.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.bootstrapUsers(ctx)

	cred, ok := a.lookup(req.Username)
	if !ok || !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(cred, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		EmitterID:   cred.emitterID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) lookup(identifier string) (credential, bool) {
	key := strings.ToLower(strings.TrimSpace(identifier))
	if key == "" {
		return credential{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if cred, ok := a.users[key]; ok {
		return cred, true
	}
	if username, ok := a.emails[key]; ok {
		cred, ok := a.users[username]
		return cred, ok
	}
	return credential{}, false
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &notaClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer("notafi"))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	if claims.Role == domain.RoleStore && claims.EmitterID == "" {
		return domain.Actor{}, errors.New("store token without emitter")
	}
	// Tokens die with the account: deleted, deactivated or rebound users
	// must log in again.
	cred, ok := a.lookup(claims.Username)
	if !ok || cred.id != sub || !cred.active || cred.role != claims.Role || cred.emitterID != claims.EmitterID {
		return domain.Actor{}, errors.New("account changed since token was issued")
	}
	return domain.Actor{
		UserID:    sub,
		Username:  claims.Username,
		Role:      claims.Role,
		EmitterID: claims.EmitterID,
	}, nil
}

func (a *AuthManager) sign(cred credential, expiresAt time.Time) (string, error) {
	claims := notaClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   cred.id,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "notafi",
		},
		Username:  cred.username,
		Role:      cred.role,
		EmitterID: cred.emitterID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// CreateStoreUser registers a store operator bound to one emitter.
func (a *AuthManager) CreateStoreUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserAccount, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.UserAccount{}, fmt.Errorf("%w: username must be at least 4 characters", store.ErrInvalidInput)
	}
	if strings.ContainsAny(username, " \t\r\n@") {
		return domain.UserAccount{}, fmt.Errorf("%w: username must not contain spaces or @", store.ErrInvalidInput)
	}
	if len(req.Password) < 6 {
		return domain.UserAccount{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidInput)
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, exists := a.lookup(username); exists {
		return domain.UserAccount{}, fmt.Errorf("%w: username already exists", store.ErrConflict)
	}
	if email != "" {
		if _, exists := a.lookup(email); exists {
			return domain.UserAccount{}, fmt.Errorf("%w: e-mail already in use", store.ErrConflict)
		}
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.UserAccount{
		ID:        xid.New("user"),
		Username:  username,
		Email:     email,
		Name:      strings.TrimSpace(req.Name),
		Password:  passwordHash,
		Role:      domain.RoleStore,
		EmitterID: strings.TrimSpace(req.EmitterID),
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, user); err != nil {
			return domain.UserAccount{}, err
		}
	}

	a.mu.Lock()
	a.remember(user)
	a.mu.Unlock()

	a.logger.Info().Str("username", username).Str("emitter_id", user.EmitterID).Msg("store user created")
	user.Password = ""
	return user, nil
}

func (a *AuthManager) ListUsers(ctx context.Context) []domain.UserAccount {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.UserAccount, 0, len(a.users))
	for _, cred := range a.users {
		user := cred.account()
		user.Password = ""
		result = append(result, user)
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// UpdateUser edits an account in place. The username and role never
// change; only store accounts can be moved to another emitter.
func (a *AuthManager) UpdateUser(ctx context.Context, id string, req domain.UserUpdateRequest) (domain.UserAccount, error) {
	a.bootstrapUsers(ctx)
	cred, ok := a.lookupID(id)
	if !ok {
		return domain.UserAccount{}, store.ErrNotFound
	}

	user := cred.account()
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if other, exists := a.lookup(email); email != "" && exists && other.id != cred.id {
			return domain.UserAccount{}, fmt.Errorf("%w: e-mail already in use", store.ErrConflict)
		}
		user.Email = email
	}
	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	if req.EmitterID != nil {
		emitterID := strings.TrimSpace(*req.EmitterID)
		if cred.role != domain.RoleStore || emitterID == "" {
			return domain.UserAccount{}, fmt.Errorf("%w: only store users are bound to an emitter", store.ErrInvalidInput)
		}
		user.EmitterID = emitterID
	}
	newHash := ""
	if req.Password != nil {
		if len(*req.Password) < 6 {
			return domain.UserAccount{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidInput)
		}
		hashed, err := hashPassword(*req.Password)
		if err != nil {
			return domain.UserAccount{}, fmt.Errorf("hash password: %w", err)
		}
		newHash = hashed
	}

	if a.userStore != nil {
		update := user
		update.Password = newHash
		if err := a.userStore.UpdateUser(ctx, update); err != nil {
			return domain.UserAccount{}, err
		}
	}
	if newHash != "" {
		user.Password = newHash
	}

	a.mu.Lock()
	if cred.email != "" {
		delete(a.emails, cred.email)
	}
	a.remember(user)
	a.mu.Unlock()

	a.logger.Info().Str("username", user.Username).Bool("active", user.Active).Msg("user updated")
	user.Password = ""
	return user, nil
}

// DeleteUser removes an account. Admins cannot remove themselves.
func (a *AuthManager) DeleteUser(ctx context.Context, actor domain.Actor, id string) error {
	a.bootstrapUsers(ctx)
	if id == actor.UserID {
		return fmt.Errorf("%w: cannot delete your own account", store.ErrInvalidInput)
	}
	cred, ok := a.lookupID(id)
	if !ok {
		return store.ErrNotFound
	}
	if a.userStore != nil {
		if err := a.userStore.DeleteUser(ctx, id); err != nil {
			return err
		}
	}

	a.mu.Lock()
	delete(a.users, cred.username)
	if cred.email != "" {
		delete(a.emails, cred.email)
	}
	a.mu.Unlock()

	a.logger.Info().Str("username", cred.username).Str("by", actor.Username).Msg("user deleted")
	return nil
}

func (a *AuthManager) lookupID(id string) (credential, bool) {
	if id == "" {
		return credential{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, cred := range a.users {
		if cred.id == id {
			return cred, true
		}
	}
	return credential{}, false
}

func (c credential) account() domain.UserAccount {
	return domain.UserAccount{
		ID:        c.id,
		Username:  c.username,
		Email:     c.email,
		Name:      c.name,
		Password:  c.password,
		Role:      c.role,
		EmitterID: c.emitterID,
		Active:    c.active,
		CreatedAt: c.created,
	}
}

// bootstrapUsers mirrors the user store into memory and upgrades legacy
// plain-text passwords to bcrypt hashes. The mirror is rebuilt so users
// removed from the store stop resolving.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("load users")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.users = make(map[string]credential, len(users))
	a.emails = make(map[string]string, len(users))
	for _, user := range users {
		if strings.TrimSpace(user.Username) == "" {
			continue
		}
		if !isPasswordHash(user.Password) && user.Password != "" {
			hashed, err := hashPassword(user.Password)
			if err == nil {
				user.Password = hashed
				if err := a.userStore.UpdateUserPassword(ctx, user.Username, hashed); err != nil {
					a.logger.Warn().Err(err).Str("username", user.Username).Msg("upgrade legacy password")
				}
			}
		}
		a.remember(user)
	}
}

// remember must be called with a.mu held.
func (a *AuthManager) remember(user domain.UserAccount) {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	email := strings.ToLower(strings.TrimSpace(user.Email))
	a.users[username] = credential{
		id:        user.ID,
		username:  username,
		email:     email,
		name:      user.Name,
		password:  user.Password,
		role:      user.Role,
		emitterID: user.EmitterID,
		active:    user.Active,
		created:   user.CreatedAt,
	}
	if email != "" {
		a.emails[email] = username
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
