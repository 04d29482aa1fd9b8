package mfa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RecoveryCodeAlphabet omits characters that are easy to confuse (0/O,
// 1/I). It has 32 symbols, so the low five bits of a random byte pick one
// uniformly.
const RecoveryCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// FormatRecoveryCode splits codes of 8 or more characters with a dash.
func FormatRecoveryCode(code string) string {
	if len(code) < 8 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeRecoveryCode upper-cases and drops dashes and whitespace, so
// "abcde-fghjk" and "ABCDEFGHJK" are the same code.
func CanonicalizeRecoveryCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == ' ' || r == '\t':
			return -1
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return r
	}, strings.TrimSpace(code))
}

// HashRecoveryCode is HMAC-SHA256 of the canonical code keyed by its
// owner, so equal codes of different users never share a hash.
func HashRecoveryCode(userID, canonicalCode string) string {
	mac := hmac.New(sha256.New, []byte(userID))
	mac.Write([]byte(canonicalCode))
	return hex.EncodeToString(mac.Sum(nil))
}

// recoveryBatch is a fresh set of codes: display form for the user, hashes
// for the store.
type recoveryBatch struct {
	codes  []string
	hashes []string
}

// errRecoveryEntropy means the entropy source kept producing codes already
// in the batch.
var errRecoveryEntropy = errors.New("recovery codes: entropy source repeats")

// maxRecoveryDraws bounds reads per code; a healthy source collides with
// probability 32^-length per draw.
const maxRecoveryDraws = 8

func newRecoveryBatch(entropy io.Reader, userID string, count, length int) (recoveryBatch, error) {
	b := recoveryBatch{
		codes:  make([]string, 0, count),
		hashes: make([]string, 0, count),
	}
	seen := make(map[string]struct{}, count)
	buf := make([]byte, length)
	for draws := 0; len(b.codes) < count; draws++ {
		if draws >= count*maxRecoveryDraws {
			return recoveryBatch{}, errRecoveryEntropy
		}
		if _, err := io.ReadFull(entropy, buf); err != nil {
			return recoveryBatch{}, fmt.Errorf("read entropy: %w", err)
		}
		for i, v := range buf {
			buf[i] = RecoveryCodeAlphabet[v&0x1f]
		}
		raw := string(buf)
		h := HashRecoveryCode(userID, raw)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		b.codes = append(b.codes, FormatRecoveryCode(raw))
		b.hashes = append(b.hashes, h)
	}
	return b, nil
}
