package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"flowplay/internal/apperr"
	"flowplay/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	minPasswordLength = 6
	maxPasswordLength = 72
	maxUsernameLength = 50
	maxDisplayLength  = 100
	errBadCredentials = "invalid credentials"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Store is the persistence the credential store needs.
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	UserTaken(ctx context.Context, username, email string) (bool, bool, error)
	TouchLastLogin(ctx context.Context, id string) (time.Time, error)
	UpdateUserProfile(ctx context.Context, u *models.User) error
	GetUserStats(ctx context.Context, id string) (models.UserStats, error)
}

// RegisterInput is the payload accepted by Register.
type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
}

// Session is returned by Register and Login.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// Service owns user identity: registration, login, token validation and
// profile updates.
type Service struct {
	store  Store
	tokens *TokenIssuer
	cost   int
	logger *logrus.Logger

	// compared against when the login matches no user
	dummyHash string
}

// NewService creates a new authentication service
func NewService(store Store, tokens *TokenIssuer, bcryptCost int, logger *logrus.Logger) (*Service, error) {
	dummy, err := hashPassword("flowplay-dummy-password", bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare password hasher: %w", err)
	}
	return &Service{
		store:     store,
		tokens:    tokens,
		cost:      bcryptCost,
		logger:    logger,
		dummyHash: dummy,
	}, nil
}

// Register validates input, creates the user with default preferences and
// issues a session token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))
	displayName := strings.TrimSpace(in.DisplayName)

	if err := validateRegistration(username, email, in.Password, displayName); err != nil {
		return nil, err
	}

	usernameTaken, emailTaken, err := s.store.UserTaken(ctx, username, email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if usernameTaken {
		return nil, apperr.Conflict("username", "username already taken")
	}
	if emailTaken {
		return nil, apperr.Conflict("email", "email already registered")
	}

	hash, err := hashPassword(in.Password, s.cost)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to hash password: %w", err))
	}

	if displayName == "" {
		displayName = username
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		Preferences:  models.DefaultPreferences(),
	}
	// a concurrent registration can still win the race; the unique index reports it
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, apperr.Classify(err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("User registered")

	return s.newSession(user)
}

// Login authenticates by username or email. Unknown users and wrong
// passwords produce the same Unauthorized error.
func (s *Service) Login(ctx context.Context, login, password string) (*Session, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, apperr.Validation("username", "MISSING_USERNAME", "username or email is required")
	}
	if password == "" {
		return nil, apperr.Validation("password", "MISSING_PASSWORD", "password is required")
	}

	user, err := s.store.GetUserByLogin(ctx, login)
	if errors.Is(err, apperr.ErrNotFound) {
		checkPassword(s.dummyHash, password)
		return nil, apperr.Unauthorized(errBadCredentials)
	}
	if err != nil {
		return nil, apperr.Classify(err)
	}

	if !checkPassword(user.PasswordHash, password) {
		s.logger.WithField("user_id", user.ID).Warn("Failed login attempt")
		return nil, apperr.Unauthorized(errBadCredentials)
	}

	lastLogin, err := s.store.TouchLastLogin(ctx, user.ID)
	if err != nil {
		return nil, apperr.Classify(err)
	}
	user.LastLogin = lastLogin
	user.UpdatedAt = lastLogin

	return s.newSession(user)
}

// ValidateToken resolves a bearer token to a user id.
func (s *Service) ValidateToken(token string) (string, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// Profile returns the user with derived stats.
func (s *Service) Profile(ctx context.Context, userID string) (*models.User, models.UserStats, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, models.UserStats{}, apperr.Classify(err)
	}
	stats, err := s.store.GetUserStats(ctx, userID)
	if err != nil {
		return nil, models.UserStats{}, apperr.Classify(err)
	}
	return user, stats, nil
}

// UpdateProfile applies a partial update. Preferences merge key by key.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd models.ProfileUpdate) (*models.User, error) {
	if err := validateProfileUpdate(upd); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, apperr.Classify(err)
	}

	if upd.DisplayName != nil {
		if name := strings.TrimSpace(*upd.DisplayName); name != "" {
			user.DisplayName = name
		}
	}
	if upd.Avatar != nil {
		user.Avatar = strings.TrimSpace(*upd.Avatar)
	}
	if upd.Preferences != nil {
		user.Preferences = upd.Preferences.Apply(user.Preferences)
	}

	if err := s.store.UpdateUserProfile(ctx, user); err != nil {
		return nil, apperr.Classify(err)
	}
	return user, nil
}

func (s *Service) newSession(user *models.User) (*Session, error) {
	token, expires, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}

func validateRegistration(username, email, password, displayName string) error {
	switch {
	case username == "":
		return apperr.Validation("username", "MISSING_USERNAME", "username is required")
	case len(username) > maxUsernameLength:
		return apperr.Validation("username", "USERNAME_TOO_LONG", fmt.Sprintf("username too long (max %d characters)", maxUsernameLength))
	case strings.ContainsAny(username, " \t\r\n\x00@"):
		return apperr.Validation("username", "INVALID_USERNAME", "username contains invalid characters")
	case email == "":
		return apperr.Validation("email", "MISSING_EMAIL", "email is required")
	case !emailPattern.MatchString(email):
		return apperr.Validation("email", "INVALID_EMAIL", "email is not valid")
	case password == "":
		return apperr.Validation("password", "MISSING_PASSWORD", "password is required")
	case len(password) < minPasswordLength:
		return apperr.Validation("password", "PASSWORD_TOO_SHORT", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	case len(password) > maxPasswordLength:
		// bcrypt rejects longer input
		return apperr.Validation("password", "PASSWORD_TOO_LONG", fmt.Sprintf("password too long (max %d bytes)", maxPasswordLength))
	case len(displayName) > maxDisplayLength:
		return apperr.Validation("displayName", "DISPLAY_NAME_TOO_LONG", fmt.Sprintf("display name too long (max %d characters)", maxDisplayLength))
	}
	return nil
}

func validateProfileUpdate(upd models.ProfileUpdate) error {
	if upd.DisplayName != nil && len(strings.TrimSpace(*upd.DisplayName)) > maxDisplayLength {
		return apperr.Validation("displayName", "DISPLAY_NAME_TOO_LONG", fmt.Sprintf("display name too long (max %d characters)", maxDisplayLength))
	}
	if p := upd.Preferences; p != nil {
		if p.Volume != nil && (*p.Volume < 0 || *p.Volume > 1) {
			return apperr.Validation("preferences.volume", "INVALID_VOLUME", "volume must be between 0 and 1")
		}
		if p.Repeat != nil {
			switch *p.Repeat {
			case models.RepeatNone, models.RepeatOne, models.RepeatAll:
			default:
				return apperr.Validation("preferences.repeat", "INVALID_REPEAT", "repeat must be one of none, one, all")
			}
		}
		if p.Theme != nil && strings.TrimSpace(*p.Theme) == "" {
			return apperr.Validation("preferences.theme", "INVALID_THEME", "theme cannot be empty")
		}
	}
	return nil
}
