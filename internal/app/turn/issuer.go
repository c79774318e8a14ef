// Package turn mints coturn-compatible TURN REST credentials
// (draft-uberti-behave-turn-rest, "use-auth-secret" mode):
//
//	username = <unix_expiry>:user_<label>
//	password = base64(hmac_sha1(secret, username))
//
// Credentials are never stored. Any party holding the secret verifies them
// by recomputing the HMAC and checking the embedded expiry.
package turn

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTTL  = 24 * time.Hour
	labelPrefix = "user_"
)

var (
	ErrMissingSecret   = errors.New("turn: shared secret is required")
	ErrInvalidTTL      = errors.New("turn: ttl must be positive")
	ErrMalformedName   = errors.New("turn: malformed username")
	ErrBadCredential   = errors.New("turn: credential does not match username")
	ErrCredentialStale = errors.New("turn: credential expired")
)

// Credential is handed to a joining client as its turnConfig.
type Credential struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Expiry   int64    `json:"expiry"`
	TTL      int64    `json:"ttl"`
	URIs     []string `json:"uris,omitempty"`
}

type Config struct {
	Secret   string
	TTL      time.Duration
	TURNURLs []string
	STUNURLs []string

	// Now and LabelSource are replaceable for tests.
	Now         func() time.Time
	LabelSource func() (string, error)
}

type Issuer struct {
	secret   []byte
	ttl      time.Duration
	turnURLs []string
	stunURLs []string
	now      func() time.Time
	label    func() (string, error)
}

// NewIssuer validates cfg once; a missing secret is a start-up failure,
// never a per-request one.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < time.Second {
		return nil, ErrInvalidTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LabelSource == nil {
		cfg.LabelSource = randomLabel
	}
	return &Issuer{
		secret:   []byte(cfg.Secret),
		ttl:      cfg.TTL,
		turnURLs: cfg.TURNURLs,
		stunURLs: cfg.STUNURLs,
		now:      cfg.Now,
		label:    cfg.LabelSource,
	}, nil
}

// Issue returns a fresh credential valid until now+TTL.
func (i *Issuer) Issue() Credential {
	label, err := i.label()
	if err != nil {
		// crypto/rand failing is not recoverable in a useful way; fall back to
		// the clock so the credential stays well-formed.
		log.Warn().Err(err).Str("module", "app.turn").Msg("label source failed, using clock")
		label = strconv.FormatInt(i.now().UnixNano(), 36)
	}
	ttl := int64(i.ttl / time.Second)
	expiry := i.now().UTC().Unix() + ttl
	username := fmt.Sprintf("%d:%s%s", expiry, labelPrefix, label)
	log.Debug().Str("module", "app.turn").Str("username", username).Msg("issued credential")
	return Credential{
		Username: username,
		Password: sign(i.secret, username),
		Expiry:   expiry,
		TTL:      ttl,
		URIs:     i.turnURLs,
	}
}

// Verify performs the relay-server side check: the HMAC must match and the
// embedded expiry must not have passed.
func (i *Issuer) Verify(username, password string) error {
	exp, _, ok := strings.Cut(username, ":")
	if !ok {
		return ErrMalformedName
	}
	expiry, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedName, err)
	}
	want := sign(i.secret, username)
	if !hmac.Equal([]byte(want), []byte(password)) {
		return ErrBadCredential
	}
	if i.now().UTC().Unix() >= expiry {
		return ErrCredentialStale
	}
	return nil
}

// ICEServers lists the configured STUN servers as-is and the TURN servers
// stamped with c.
func (i *Issuer) ICEServers(c Credential) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, 2)
	if len(i.stunURLs) > 0 {
		out = append(out, webrtc.ICEServer{URLs: i.stunURLs})
	}
	if len(i.turnURLs) > 0 {
		out = append(out, webrtc.ICEServer{
			URLs:       i.turnURLs,
			Username:   c.Username,
			Credential: c.Password,
		})
	}
	return out
}

func (i *Issuer) TTL() time.Duration { return i.ttl }

func sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func randomLabel() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
