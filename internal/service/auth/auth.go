// Package auth handles sign-up, password login and TOTP verification.
package auth

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"net/url"
	"strings"

	"github.com/pquerna/otp"
	"github.com/samber/lo"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"wbcscan/internal/config"
	"wbcscan/internal/logger"
	"wbcscan/internal/model"
	"wbcscan/internal/repository"
)

const qrSize = 200

var (
	ErrInvalidEmail       = errors.New("wrong email")
	ErrInvalidName        = errors.New("wrong name")
	ErrInvalidPassword    = errors.New("wrong password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("wrong password or email")
	ErrInvalidCode        = errors.New("invalid verification code")
)

// MFASetup carries what an authenticator app needs to enroll an account.
type MFASetup struct {
	URL    string `json:"url"`
	QRCode string `json:"qrCode"` // base64 PNG
}

// Service authenticates users.
type Service struct {
	users  repository.UserRepository
	admins []string
	issuer string
	cost   int
	logger *logger.Logger
}

// NewService creates an auth service.
func NewService(config *config.Config, users repository.UserRepository, logger *logger.Logger) *Service {
	issuer := config.MFAIssuer
	if issuer == "" {
		issuer = "WBC_Scan"
	}
	return &Service{users: users, admins: config.AdminEmails, issuer: issuer, cost: bcrypt.DefaultCost, logger: logger}
}

// ValidateSignUp checks the sign-up form fields.
func ValidateSignUp(email, firstName, password1, password2 string) error {
	switch {
	case len(strings.TrimSpace(email)) < 4:
		return ErrInvalidEmail
	case len(strings.TrimSpace(firstName)) < 2:
		return ErrInvalidName
	case password1 == "" || password1 != password2:
		return ErrInvalidPassword
	}
	return nil
}

// SignUp creates an account with a hashed password and a fresh TOTP secret.
func (s *Service) SignUp(email, firstName, password1, password2 string) (*model.User, error) {
	if err := ValidateSignUp(email, firstName, password1, password2); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)

	if _, err := s.users.GetByEmail(email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password1), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{Issuer: s.issuer, AccountName: email})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	user := &model.User{
		Email:        email,
		FirstName:    strings.TrimSpace(firstName),
		PasswordHash: string(hash),
		TOTPSecret:   key.Secret(),
	}
	id, err := s.users.Insert(user)
	if err != nil {
		return nil, err
	}
	user.ID = id

	s.logger.Info("Account created for %s", email)
	return user, nil
}

// Login checks an email and password pair.
func (s *Service) Login(email, password string) (*model.User, error) {
	user, err := s.users.GetByEmail(strings.TrimSpace(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Warning("Failed login for %s", email)
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// User returns the account with the given ID.
func (s *Service) User(userID int64) (*model.User, error) {
	return s.users.GetByID(userID)
}

// IsAdmin reports whether the account is listed in ADMIN_EMAILS.
func (s *Service) IsAdmin(userID int64) (bool, error) {
	user, err := s.users.GetByID(userID)
	if err != nil {
		return false, err
	}
	return lo.Contains(s.admins, strings.ToLower(user.Email)), nil
}

// Setup returns the provisioning URL and QR code of a user's TOTP secret.
func (s *Service) Setup(userID int64) (*MFASetup, error) {
	user, err := s.users.GetByID(userID)
	if err != nil {
		return nil, err
	}

	key, err := otp.NewKeyFromURL(s.provisioningURL(user))
	if err != nil {
		return nil, fmt.Errorf("failed to build provisioning key: %w", err)
	}

	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &MFASetup{
		URL:    key.URL(),
		QRCode: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

func (s *Service) provisioningURL(user *model.User) string {
	u := url.URL{
		Scheme: "otpauth",
		Host:   "totp",
		Path:   "/" + s.issuer + ":" + user.Email,
		RawQuery: url.Values{
			"secret": {user.TOTPSecret},
			"issuer": {s.issuer},
		}.Encode(),
	}
	return u.String()
}

// Verify checks a TOTP code for the user.
func (s *Service) Verify(userID int64, code string) error {
	user, err := s.users.GetByID(userID)
	if err != nil {
		return err
	}
	if !totp.Validate(strings.TrimSpace(code), user.TOTPSecret) {
		return ErrInvalidCode
	}
	return nil
}
