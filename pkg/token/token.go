// Package token encodes invitation references into short tamper-evident
// strings that fit a chat deep-link start parameter.
//
// A token is base64url(raw invite id || HMAC-SHA256(cbor(claims))[:16]).
// The claims themselves are not carried: the verifier rebuilds them from
// the stored invitation. The MAC key is derived from the root secret and
// the team id, so a token moved to another team no longer verifies.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/segmentio/ksuid"
	"golang.org/x/crypto/hkdf"
)

// ErrTampered covers every way a token can fail to parse or verify.
var ErrTampered = errors.New("token is malformed or tampered")

const (
	idSize  = 20
	macSize = 16
	rawSize = idSize + macSize

	// MinSecretSize is the minimum accepted root secret length.
	MinSecretSize = 32

	// Length is the encoded token length. Telegram start parameters
	// are limited to 64 characters from [A-Za-z0-9_-].
	Length = (rawSize*8 + 5) / 6

	// MaxTokenLength bounds the accepted input before trimming.
	MaxTokenLength = 512
)

// Payload is the set of invitation fields the MAC covers.
type Payload struct {
	InviteID string `cbor:"1,keyasint"`
	RecordID string `cbor:"2,keyasint"`
	TeamID   string `cbor:"3,keyasint"`
	Role     string `cbor:"4,keyasint"`
}

func (p Payload) validate() error {
	if p.InviteID == "" || p.RecordID == "" || p.TeamID == "" || p.Role == "" {
		return fmt.Errorf("token payload is incomplete")
	}
	return nil
}

// Ref is what a token carries. Signature is the hex MAC, which the
// invitation record stores for comparison.
type Ref struct {
	InviteID  string
	Signature string

	mac []byte
}

var (
	encMode  cbor.EncMode
	encoding = base64.RawURLEncoding.Strict()
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("token: CBOR encoder initialization failed: " + err.Error())
	}
}

type Codec struct {
	secret []byte
}

func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretSize)
	}
	return &Codec{secret: append([]byte(nil), secret...)}, nil
}

func (c *Codec) teamKey(teamID string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.secret, nil, []byte("team:"+teamID)), key); err != nil {
		return nil, fmt.Errorf("derive team key: %w", err)
	}
	return key, nil
}

func (c *Codec) mac(p Payload) ([]byte, error) {
	body, err := encMode.Marshal(p)
	if err != nil {
		return nil, err
	}
	key, err := c.teamKey(p.TeamID)
	if err != nil {
		return nil, err
	}
	m := hmac.New(sha256.New, key)
	_, _ = m.Write(body)
	return m.Sum(nil)[:macSize], nil
}

// Encode signs the payload and returns the token with its hex signature.
// The invite id must be a KSUID.
func (c *Codec) Encode(p Payload) (token string, signature string, err error) {
	if err = p.validate(); err != nil {
		return
	}

	id, err := ksuid.Parse(p.InviteID)
	if err != nil {
		err = fmt.Errorf("invite id is not a ksuid: %w", err)
		return
	}

	sum, err := c.mac(p)
	if err != nil {
		return
	}

	token = encoding.EncodeToString(append(id.Bytes(), sum...))
	signature = hex.EncodeToString(sum)
	return
}

// Parse checks the token shape and extracts the invite id. The result
// is not trusted until Verify accepts it against the stored invitation.
func (c *Codec) Parse(token string) (Ref, error) {
	if len(token) > MaxTokenLength {
		return Ref{}, ErrTampered
	}
	token = strings.TrimSpace(token)
	if len(token) != Length {
		return Ref{}, ErrTampered
	}

	raw, err := encoding.DecodeString(token)
	if err != nil || len(raw) != rawSize {
		return Ref{}, ErrTampered
	}

	id, err := ksuid.FromBytes(raw[:idSize])
	if err != nil {
		return Ref{}, ErrTampered
	}

	sum := raw[idSize:]
	return Ref{InviteID: id.String(), Signature: hex.EncodeToString(sum), mac: sum}, nil
}

// Verify recomputes the MAC over p and compares it with the token's.
// Expiry is not checked here; the invitation record is the authority
// for that.
func (c *Codec) Verify(ref Ref, p Payload) error {
	if ref.InviteID != p.InviteID || len(ref.mac) != macSize || p.validate() != nil {
		return ErrTampered
	}

	expected, err := c.mac(p)
	if err != nil || !hmac.Equal(expected, ref.mac) {
		return ErrTampered
	}
	return nil
}
