package goGuard

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/identity"
	"github.com/redis/go-redis/v9"
)

const (
	mfaLoginKeyPrefix = "mfa"
	// Version 2 moved the attempt counter out of the encoded session.
	mfaLoginRecordVersion = 2
)

var (
	errMFALoginChallengeNotFound = errors.New("mfa challenge not found")
	errMFALoginChallengeExpired  = errors.New("mfa challenge expired")
	errMFALoginChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// mfaLoginChallenge holds a session that was issued by the credential store
// but not yet handed to the caller because a second factor is pending.
type mfaLoginChallenge struct {
	Session       identity.Session
	UserAgentHash [32]byte
	ExpiresAt     int64
	Attempts      uint16
}

type mfaChallengeStore interface {
	Save(ctx context.Context, challengeID string, record *mfaLoginChallenge, ttl time.Duration) error
	Get(ctx context.Context, challengeID string) (*mfaLoginChallenge, error)
	Delete(ctx context.Context, challengeID string) (bool, error)
	// RecordFailure counts a wrong code and deletes the challenge once
	// maxAttempts is reached, reporting exceeded.
	RecordFailure(ctx context.Context, challengeID string, maxAttempts int) (exceeded bool, err error)
}

/*
====================================
REDIS
====================================
*/

// A challenge is a hash: "session" holds the encoded record, "attempts"
// and "expires" are plain integers so failures can be counted server-side.
const (
	fieldSession  = "session"
	fieldAttempts = "attempts"
	fieldExpires  = "expires"
)

// recordFailureLua returns -1 for a missing challenge, -2 for an expired
// one, 1 when the attempt budget is spent (the challenge is deleted) and 0
// otherwise.
//
// KEYS[1] challenge key
// ARGV[1] max attempts
// ARGV[2] now, unix seconds
var recordFailureLua = redis.NewScript(`
local exp = redis.call('HGET', KEYS[1], 'expires')
if not exp then
  return -1
end
if tonumber(ARGV[2]) > tonumber(exp) then
  redis.call('DEL', KEYS[1])
  return -2
end
local n = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if n >= tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

type redisChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func newRedisChallengeStore(client redis.UniversalClient, prefix string, now func() time.Time) *redisChallengeStore {
	return &redisChallengeStore{redis: client, prefix: prefix, now: now}
}

func (s *redisChallengeStore) key(challengeID string) string {
	if s.prefix == "" {
		return mfaLoginKeyPrefix + ":" + challengeID
	}
	return s.prefix + ":" + mfaLoginKeyPrefix + ":" + challengeID
}

func (s *redisChallengeStore) Save(ctx context.Context, challengeID string, record *mfaLoginChallenge, ttl time.Duration) error {
	encoded, err := encodeMFALoginChallenge(record)
	if err != nil {
		return err
	}
	key := s.key(challengeID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldSession, encoded,
			fieldAttempts, int64(record.Attempts),
			fieldExpires, record.ExpiresAt,
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errMFALoginChallengeBackend, err)
	}
	return nil
}

func (s *redisChallengeStore) Get(ctx context.Context, challengeID string) (*mfaLoginChallenge, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(challengeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMFALoginChallengeBackend, err)
	}
	raw, ok := fields[fieldSession]
	if !ok {
		return nil, errMFALoginChallengeNotFound
	}
	record, err := decodeMFALoginChallenge([]byte(raw))
	if err != nil {
		return nil, err
	}
	attempts, _ := strconv.ParseUint(fields[fieldAttempts], 10, 16)
	record.Attempts = uint16(attempts)

	if s.now().Unix() > record.ExpiresAt {
		_ = s.redis.Del(ctx, s.key(challengeID)).Err()
		return nil, errMFALoginChallengeExpired
	}
	return record, nil
}

func (s *redisChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errMFALoginChallengeBackend, err)
	}
	return n > 0, nil
}

func (s *redisChallengeStore) RecordFailure(ctx context.Context, challengeID string, maxAttempts int) (bool, error) {
	res, err := recordFailureLua.Run(ctx, s.redis, []string{s.key(challengeID)}, maxAttempts, s.now().Unix()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errMFALoginChallengeBackend, err)
	}
	switch res {
	case -1:
		return false, errMFALoginChallengeNotFound
	case -2:
		return false, errMFALoginChallengeExpired
	}
	return res == 1, nil
}

/*
====================================
IN PROCESS
====================================
*/

type memoryChallengeStore struct {
	mu      sync.Mutex
	records map[string]mfaLoginChallenge
	now     func() time.Time
}

func newMemoryChallengeStore(now func() time.Time) *memoryChallengeStore {
	return &memoryChallengeStore{records: make(map[string]mfaLoginChallenge), now: now}
}

func (s *memoryChallengeStore) Save(_ context.Context, challengeID string, record *mfaLoginChallenge, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.records[challengeID] = *record
	return nil
}

func (s *memoryChallengeStore) Get(_ context.Context, challengeID string) (*mfaLoginChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[challengeID]
	if !ok {
		return nil, errMFALoginChallengeNotFound
	}
	if s.now().Unix() > record.ExpiresAt {
		delete(s.records, challengeID)
		return nil, errMFALoginChallengeExpired
	}
	return &record, nil
}

func (s *memoryChallengeStore) Delete(_ context.Context, challengeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[challengeID]
	delete(s.records, challengeID)
	return ok, nil
}

func (s *memoryChallengeStore) RecordFailure(_ context.Context, challengeID string, maxAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[challengeID]
	if !ok {
		return false, errMFALoginChallengeNotFound
	}
	if s.now().Unix() > record.ExpiresAt {
		delete(s.records, challengeID)
		return false, errMFALoginChallengeExpired
	}
	record.Attempts++
	if int(record.Attempts) >= maxAttempts {
		delete(s.records, challengeID)
		return true, nil
	}
	s.records[challengeID] = record
	return false, nil
}

func (s *memoryChallengeStore) sweepLocked() {
	now := s.now().Unix()
	for id, r := range s.records {
		if now > r.ExpiresAt {
			delete(s.records, id)
		}
	}
}

/*
====================================
ENCODING
====================================
*/

// Record layout, big endian:
//
//	version(1) expires(8) sessionExpires(8) uaHash(32)
//	then userID, email, role, accessToken, refreshToken as len(2)+bytes
//
// Attempts are not encoded; each store keeps them beside the record.
const mfaLoginRecordHeader = 1 + 8 + 8 + 32

func encodeMFALoginChallenge(record *mfaLoginChallenge) ([]byte, error) {
	sess := record.Session
	fields := [...]string{sess.User.ID, sess.User.Email, string(sess.User.Role), sess.AccessToken, sess.RefreshToken}

	size := mfaLoginRecordHeader
	for _, f := range fields {
		if len(f) > 0xFFFF {
			return nil, errors.New("mfa challenge field too long")
		}
		size += 2 + len(f)
	}

	out := make([]byte, 0, size)
	out = append(out, mfaLoginRecordVersion)
	out = binary.BigEndian.AppendUint64(out, uint64(record.ExpiresAt))
	out = binary.BigEndian.AppendUint64(out, uint64(sess.ExpiresAt.Unix()))
	out = append(out, record.UserAgentHash[:]...)
	for _, f := range fields {
		out = binary.BigEndian.AppendUint16(out, uint16(len(f)))
		out = append(out, f...)
	}
	return out, nil
}

var errMFALoginRecordCorrupt = errors.New("mfa challenge record corrupt")

func decodeMFALoginChallenge(data []byte) (*mfaLoginChallenge, error) {
	if len(data) < mfaLoginRecordHeader {
		return nil, errMFALoginRecordCorrupt
	}
	if data[0] != mfaLoginRecordVersion {
		return nil, fmt.Errorf("mfa challenge record version %d", data[0])
	}

	record := &mfaLoginChallenge{
		ExpiresAt: int64(binary.BigEndian.Uint64(data[1:9])),
	}
	sessExpiry := int64(binary.BigEndian.Uint64(data[9:17]))
	copy(record.UserAgentHash[:], data[17:mfaLoginRecordHeader])

	rest := data[mfaLoginRecordHeader:]
	var fields [5]string
	for i := range fields {
		if len(rest) < 2 {
			return nil, errMFALoginRecordCorrupt
		}
		n := int(binary.BigEndian.Uint16(rest))
		rest = rest[2:]
		if len(rest) < n {
			return nil, errMFALoginRecordCorrupt
		}
		fields[i], rest = string(rest[:n]), rest[n:]
	}
	if len(rest) != 0 {
		return nil, errMFALoginRecordCorrupt
	}

	record.Session = identity.Session{
		AccessToken:  fields[3],
		RefreshToken: fields[4],
		ExpiresAt:    time.Unix(sessExpiry, 0).UTC(),
		User:         identity.User{ID: fields[0], Email: fields[1], Role: identity.Role(fields[2])},
	}
	return record, nil
}
