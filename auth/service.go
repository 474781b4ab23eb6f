package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidPhone signals the phone number failed validation.
	ErrInvalidPhone = errors.New("auth: invalid phone number")
	// ErrInvalidCode signals a wrong, expired, or missing verification code.
	ErrInvalidCode = errors.New("auth: invalid verification code")
	// ErrTooManyAttempts signals the code was burned by repeated failures.
	ErrTooManyAttempts = errors.New("auth: too many failed attempts")
	// ErrCodeStillActive signals an unexpired code already exists for the phone.
	ErrCodeStillActive = errors.New("auth: a verification code is still active")
)

const (
	codeTTL         = 5 * time.Minute
	maxCodeAttempts = 3
	tokenTTL        = 24 * time.Hour
)

// Hong Kong numbers: 8 digits with optional +852 prefix.
var phonePattern = regexp.MustCompile(`^(\+852)?[456789][0-9]{7}$`)

// SMSSender delivers the verification code. The production implementation
// lives in the notify package; tests inject a fake.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) error
}

// Service handles verification-code login and session tokens.
type Service struct {
	repo        Repository
	sms         SMSSender
	jwtSecret   []byte
	adminEmails map[string]struct{}
	now         func() time.Time
	codeGen     func() (string, error)
}

// LoginResult bundles the token and domain user returned after verification.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new authentication service.
func NewService(repo Repository, sms SMSSender, jwtSecret string, adminEmails map[string]struct{}) *Service {
	return &Service{
		repo:        repo,
		sms:         sms,
		jwtSecret:   []byte(jwtSecret),
		adminEmails: adminEmails,
		now:         time.Now,
		codeGen:     randomCode,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithCodeGenerator overrides code generation for tests.
func (s *Service) WithCodeGenerator(gen func() (string, error)) *Service {
	s.codeGen = gen
	return s
}

// RequestCode generates a 6-digit login code, stores its hash, and sends it
// over SMS. At most one code per phone is live at a time.
func (s *Service) RequestCode(ctx context.Context, phone string) error {
	phone = normalizePhone(phone)
	if !phonePattern.MatchString(phone) {
		return ErrInvalidPhone
	}

	if existing, err := s.repo.GetActiveCode(ctx, phone); err == nil {
		if existing.ExpiresAt.After(s.now()) && existing.Attempts < maxCodeAttempts {
			return ErrCodeStillActive
		}
	} else if !errors.Is(err, ErrCodeNotFound) {
		return err
	}

	code, err := s.codeGen()
	if err != nil {
		return fmt.Errorf("auth: generate code: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash code: %w", err)
	}

	if err := s.repo.InvalidateCodes(ctx, phone); err != nil {
		return err
	}
	if err := s.repo.CreateCode(ctx, VerificationCode{
		Phone:     phone,
		CodeHash:  string(hash),
		ExpiresAt: s.now().Add(codeTTL),
	}); err != nil {
		return err
	}

	message := fmt.Sprintf("【搬屋易】您的驗證碼是 %s，5分鐘內有效。", code)
	if err := s.sms.SendSMS(ctx, phone, message); err != nil {
		return fmt.Errorf("auth: send code: %w", err)
	}
	return nil
}

// VerifyCode exchanges a valid code for a JWT session, creating the account
// on first login.
func (s *Service) VerifyCode(ctx context.Context, req VerifyCodeRequest) (LoginResult, error) {
	phone := normalizePhone(req.Phone)
	if !phonePattern.MatchString(phone) {
		return LoginResult{}, ErrInvalidPhone
	}

	code, err := s.repo.GetActiveCode(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return LoginResult{}, ErrInvalidCode
		}
		return LoginResult{}, err
	}
	if code.Attempts >= maxCodeAttempts {
		return LoginResult{}, ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(code.CodeHash), []byte(req.Code)) != nil {
		attempts, incErr := s.repo.IncrementAttempts(ctx, code.ID)
		if incErr != nil {
			return LoginResult{}, incErr
		}
		if attempts >= maxCodeAttempts {
			return LoginResult{}, ErrTooManyAttempts
		}
		return LoginResult{}, ErrInvalidCode
	}

	if err := s.repo.ConsumeCode(ctx, code.ID); err != nil {
		return LoginResult{}, err
	}

	role := req.Role
	if role != RolePartner {
		role = RoleCustomer
	}
	user, err := s.repo.UpsertUser(ctx, phone, role)
	if err != nil {
		return LoginResult{}, err
	}

	if user.Role != RoleAdmin && user.Email != nil && s.isAdminEmail(*user.Email) {
		if err := s.repo.SetRole(ctx, user.ID, RoleAdmin); err != nil {
			return LoginResult{}, err
		}
		user.Role = RoleAdmin
	}

	token, err := s.generateToken(user.ID, user.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{Token: token, User: user}, nil
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile stores the display name and email. Adding an allowlisted
// email promotes the account to admin.
func (s *Service) UpdateProfile(ctx context.Context, userID, fullName string, email *string) (User, error) {
	user, err := s.repo.UpdateProfile(ctx, userID, fullName, email)
	if err != nil {
		return User{}, err
	}
	if user.Role != RoleAdmin && user.Email != nil && s.isAdminEmail(*user.Email) {
		if err := s.repo.SetRole(ctx, user.ID, RoleAdmin); err != nil {
			return User{}, err
		}
		user.Role = RoleAdmin
	}
	return user, nil
}

// VerifyToken validates a JWT token and returns the user ID and role.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("auth: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		userID, ok := claims["user_id"].(string)
		if !ok {
			return "", "", fmt.Errorf("auth: invalid user_id in token")
		}
		roleStr, ok := claims["role"].(string)
		if !ok {
			return "", "", fmt.Errorf("auth: invalid role in token")
		}
		role := Role(roleStr)
		if !isValidRole(role) {
			return "", "", fmt.Errorf("auth: invalid role %q in token", roleStr)
		}
		return userID, role, nil
	}

	return "", "", fmt.Errorf("auth: invalid token")
}

func (s *Service) generateToken(userID string, role Role) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     s.now().Add(tokenTTL).Unix(),
		"iat":     s.now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Service) isAdminEmail(email string) bool {
	_, ok := s.adminEmails[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

func normalizePhone(phone string) string {
	return strings.ReplaceAll(strings.TrimSpace(phone), " ", "")
}

func isValidRole(role Role) bool {
	switch role {
	case RoleCustomer, RolePartner, RoleAdmin:
		return true
	default:
		return false
	}
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
