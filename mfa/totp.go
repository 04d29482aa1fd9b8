package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const secretBytes = 20

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTPConfig fixes the code parameters.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string
}

// DefaultTOTPConfig accepts codes up to three steps (90 seconds) either side
// of now.
func DefaultTOTPConfig() TOTPConfig {
	return TOTPConfig{
		Issuer:    "Vuebie",
		Digits:    6,
		Period:    30,
		Skew:      3,
		Algorithm: "SHA1",
	}
}

func (c TOTPConfig) normalized() TOTPConfig {
	def := DefaultTOTPConfig()
	if c.Issuer == "" {
		c.Issuer = def.Issuer
	}
	if c.Digits <= 0 {
		c.Digits = def.Digits
	}
	if c.Period <= 0 {
		c.Period = def.Period
	}
	if c.Skew < 0 {
		c.Skew = 0
	}
	if c.Algorithm == "" {
		c.Algorithm = def.Algorithm
	}
	return c
}

// newSecret returns a fresh random secret in raw and encoded form.
func newSecret() ([]byte, string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, secretEncoding.EncodeToString(raw), nil
}

// DecodeSecret accepts the encoded secret in any case, with or without
// padding or spaces.
func DecodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, ErrInvalidSecret
	}
	raw, err := secretEncoding.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}

// ProvisionURI builds the otpauth:// URI rendered as a QR code by
// authenticator apps.
func ProvisionURI(cfg TOTPConfig, secretBase32, account string) string {
	cfg = cfg.normalized()
	label := url.PathEscape(cfg.Issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", cfg.Issuer)
	v.Set("period", strconv.Itoa(cfg.Period))
	v.Set("digits", strconv.Itoa(cfg.Digits))
	v.Set("algorithm", strings.ToUpper(cfg.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// GenerateCode returns the code for the step containing now.
func GenerateCode(cfg TOTPConfig, secret []byte, now time.Time) (string, error) {
	cfg = cfg.normalized()
	return hotpCode(secret, now.Unix()/int64(cfg.Period), cfg.Digits, cfg.Algorithm)
}

// VerifyCode checks code against every step within the skew window. A
// malformed code is a mismatch, not an error. The matched counter is
// returned on success.
func VerifyCode(cfg TOTPConfig, secret []byte, code string, now time.Time) (bool, int64, error) {
	cfg = cfg.normalized()

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != cfg.Digits || !isNumeric(trimmed) {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, ErrInvalidSecret
	}

	matched := false
	var matchedCounter int64
	baseCounter := now.Unix() / int64(cfg.Period)
	for step := -cfg.Skew; step <= cfg.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, cfg.Digits, cfg.Algorithm)
		if err != nil {
			return false, 0, err
		}
		// Keep scanning after a match so timing does not reveal the step.
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 && !matched {
			matched = true
			matchedCounter = counter
		}
	}
	return matched, matchedCounter, nil
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
