// Package session stores the login state in a signed and encrypted cookie.
package session

import (
	"context"
	"crypto/sha256"
	"net/http"

	"github.com/gorilla/securecookie"

	"wbcscan/internal/config"
)

const cookieName = "wbcscan_session"

// Data is the state kept between requests.
type Data struct {
	UserID      int64
	MFAVerified bool
	// Enrolling is set only by sign-up; the TOTP secret is shown only then.
	Enrolling bool
}

// Authenticated reports whether both the password and the TOTP step succeeded.
func (d *Data) Authenticated() bool {
	return d != nil && d.UserID > 0 && d.MFAVerified
}

// Store reads and writes session cookies.
type Store struct {
	codec *securecookie.SecureCookie
}

// NewStore derives the cookie keys from the configured session key. Without one
// it uses random keys, so sessions do not survive a restart.
func NewStore(config *config.Config) *Store {
	if config.SessionKey == "" {
		return &Store{codec: securecookie.New(securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32))}
	}
	hashKey := sha256.Sum256([]byte("hash:" + config.SessionKey))
	blockKey := sha256.Sum256([]byte("block:" + config.SessionKey))
	return &Store{codec: securecookie.New(hashKey[:], blockKey[:])}
}

// Load returns the session of the request, or nil when there is none or it was tampered with.
func (s *Store) Load(r *http.Request) *Data {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return nil
	}
	var data Data
	if err := s.codec.Decode(cookieName, cookie.Value, &data); err != nil {
		return nil
	}
	return &data
}

// Save writes data as the session cookie.
func (s *Store) Save(w http.ResponseWriter, data *Data) error {
	encoded, err := s.codec.Encode(cookieName, data)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear removes the session cookie.
func (s *Store) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

type contextKey struct{}

// WithData attaches session data to a context.
func WithData(ctx context.Context, data *Data) context.Context {
	return context.WithValue(ctx, contextKey{}, data)
}

// FromContext returns the session attached by WithData.
func FromContext(ctx context.Context) *Data {
	data, _ := ctx.Value(contextKey{}).(*Data)
	return data
}
