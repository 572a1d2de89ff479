package handler

import (
	"errors"
	"net/http"

	"wbcscan/internal/logger"
	"wbcscan/internal/service/auth"
	"wbcscan/internal/service/session"
)

type signUpBody struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	Password1 string `json:"password1"`
	Password2 string `json:"password2"`
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyBody struct {
	Code string `json:"code"`
}

// SignUpHandler handles POST /auth/sign-up. The new account still has to enroll
// its authenticator before it can log in fully.
func SignUpHandler(authService *auth.Service, sessions *session.Store, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body signUpBody
		if err := decodeJSON(r, &body); err != nil {
			writeMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		user, err := authService.SignUp(body.Email, body.FirstName, body.Password1, body.Password2)
		switch {
		case errors.Is(err, auth.ErrInvalidEmail):
			writeMessage(w, http.StatusBadRequest, "Wrong email")
			return
		case errors.Is(err, auth.ErrInvalidName):
			writeMessage(w, http.StatusBadRequest, "Wrong name")
			return
		case errors.Is(err, auth.ErrInvalidPassword):
			writeMessage(w, http.StatusBadRequest, "Wrong password")
			return
		case errors.Is(err, auth.ErrEmailTaken):
			writeMessage(w, http.StatusConflict, "Email already registered")
			return
		case err != nil:
			internalError(w, logger, "sign up", err)
			return
		}

		if err := sessions.Save(w, &session.Data{UserID: user.ID, Enrolling: true}); err != nil {
			internalError(w, logger, "save session", err)
			return
		}
		logger.Info("Account created for user %d", user.ID)
		writeMessage(w, http.StatusCreated, "Account created!")
	}
}

// LoginHandler handles POST /auth/login by checking the password and starting a
// session that waits for the TOTP code.
func LoginHandler(authService *auth.Service, sessions *session.Store, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body loginBody
		if err := decodeJSON(r, &body); err != nil {
			writeMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		user, err := authService.Login(body.Email, body.Password)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeMessage(w, http.StatusUnauthorized, "Wrong password or email")
			return
		}
		if err != nil {
			internalError(w, logger, "log in", err)
			return
		}

		if err := sessions.Save(w, &session.Data{UserID: user.ID}); err != nil {
			internalError(w, logger, "save session", err)
			return
		}
		writeMessage(w, http.StatusOK, "Enter the code from your authenticator app")
	}
}

// MFASetupHandler handles GET /auth/mfa/setup and returns the provisioning URL and QR code.
// Only the session started by sign-up may see the secret; a password login must
// prove the second factor instead.
func MFASetupHandler(authService *auth.Service, sessions *session.Store, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := sessions.Load(r)
		if data == nil || data.UserID == 0 {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if !data.Enrolling {
			writeMessage(w, http.StatusForbidden, "Authenticator already enrolled")
			return
		}

		setup, err := authService.Setup(data.UserID)
		if err != nil {
			internalError(w, logger, "set up MFA", err)
			return
		}
		writeJSON(w, http.StatusOK, setup)
	}
}

// MFAVerifyHandler handles POST /auth/mfa/verify and completes the login.
func MFAVerifyHandler(authService *auth.Service, sessions *session.Store, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := sessions.Load(r)
		if data == nil || data.UserID == 0 {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var body verifyBody
		if err := decodeJSON(r, &body); err != nil {
			writeMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		err := authService.Verify(data.UserID, body.Code)
		if errors.Is(err, auth.ErrInvalidCode) {
			writeMessage(w, http.StatusUnauthorized, "Invalid verification code")
			return
		}
		if err != nil {
			internalError(w, logger, "verify code", err)
			return
		}

		data.MFAVerified = true
		data.Enrolling = false
		if err := sessions.Save(w, data); err != nil {
			internalError(w, logger, "save session", err)
			return
		}
		logger.Info("User %d logged in", data.UserID)
		writeMessage(w, http.StatusOK, "Successful Login!")
	}
}

// LogoutHandler clears the session.
func LogoutHandler(sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions.Clear(w)
		writeMessage(w, http.StatusOK, "Logged out")
	}
}

// CurrentUserHandler returns the account of the session user.
func CurrentUserHandler(authService *auth.Service, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := authService.User(currentUserID(r))
		if err != nil {
			internalError(w, logger, "load user", err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}
