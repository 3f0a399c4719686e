package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTokenNotFound is returned when no record exists for a token hash.
var ErrTokenNotFound = errors.New("refresh token not found")

// ErrRecordCorrupt is returned when a stored blob cannot be decoded.
var ErrRecordCorrupt = errors.New("refresh token record corrupt")

// ErrRedisUnavailable wraps backend transport failures.
var ErrRedisUnavailable = errors.New("session redis unavailable")

// RotateStatus is the outcome of a rotation attempt. Everything except
// RotateOK leaves the presented row untouched; the revoked case is the
// caller's theft signal.
type RotateStatus int

const (
	RotateNotFound RotateStatus = iota
	RotateExpired
	RotateReuse
	RotateOK
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusReuse    int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusCorrupt  int64 = 4
)

// luaHelpers is prepended to every script: big-endian int64 read/write over
// the fixed record header, and the in-place revocation rewrite (set flag
// bit 0, stamp revokedAt, keep everything else).
const luaHelpers = `
local function read_be64(s, i)
  local n = 0
  for off = 0, 7 do
    local b = string.byte(s, i + off)
    if not b then
      return nil
    end
    n = n * 256 + b
  end
  return n
end

local function write_be64(n)
  local b = {}
  for i = 8, 1, -1 do
    b[i] = string.char(n % 256)
    n = math.floor(n / 256)
  end
  return table.concat(b)
end

local function mark_revoked(data, now)
  local flags = string.byte(data, 2)
  return string.sub(data, 1, 1) .. string.char(flags + 1) ..
    string.sub(data, 3, 18) .. write_be64(now) .. string.sub(data, 27)
end
`

const rotateScript = luaHelpers + `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end
if string.byte(data, 1) ~= 1 then
  return {4}
end
local expires = read_be64(data, 3)
if not expires then
  return {4}
end
local now = tonumber(ARGV[1])
if expires <= now then
  return {1, data}
end
if string.byte(data, 2) % 2 == 1 then
  return {2, data}
end
redis.call("SET", KEYS[1], mark_revoked(data, now))
redis.call("SET", KEYS[2], ARGV[2])
redis.call("SADD", KEYS[3], ARGV[3])
return {3, data}
`

const revokeScript = luaHelpers + `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end
if string.byte(data, 2) % 2 == 1 then
  return {2, data}
end
redis.call("SET", KEYS[1], mark_revoked(data, tonumber(ARGV[1])))
return {1, data}
`

const revokeFamilyScript = luaHelpers + `
local members = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, member in ipairs(members) do
  local key = ARGV[2] .. member
  local data = redis.call("GET", key)
  if data and string.byte(data, 2) % 2 == 0 then
    redis.call("SET", key, mark_revoked(data, tonumber(ARGV[1])))
    revoked = revoked + 1
  end
end
return revoked
`

var (
	rotateLua       = redis.NewScript(rotateScript)
	revokeLua       = redis.NewScript(revokeScript)
	revokeFamilyLua = redis.NewScript(revokeFamilyScript)
)

// Store is a Redis-backed refresh-token store. Records are keyed by token
// hash, grouped into family sets, and family IDs are grouped per user.
// Record keys carry no TTL: deletion is the janitor's job, so recently
// revoked rows stay visible for forensic review.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a Store under the given key prefix ("ar" when empty).
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ar"
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *Store) recordKey(member string) string {
	return s.prefix + ":t:" + member
}

func (s *Store) familyKey(familyID string) string {
	return s.prefix + ":f:" + familyID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func member(tokenHash [32]byte) string {
	return hex.EncodeToString(tokenHash[:])
}

// Save persists a new ACTIVE record and registers it in its family and user
// sets. Used for session issuance; rotation writes successors itself.
func (s *Store) Save(ctx context.Context, tokenHash [32]byte, rec *Record) error {
	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.recordKey(member(tokenHash)), encoded, 0)
	pipe.SAdd(ctx, s.familyKey(rec.FamilyID), member(tokenHash))
	pipe.SAdd(ctx, s.userKey(rec.UserID), rec.FamilyID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get returns the record for a token hash, or ErrTokenNotFound.
func (s *Store) Get(ctx context.Context, tokenHash [32]byte) (*Record, error) {
	data, err := s.redis.Get(ctx, s.recordKey(member(tokenHash))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return decodeRecord(data)
}

// Rotate atomically consumes the presented token and writes its successor.
// The script revokes the presented row and creates the successor in one
// round trip, so of any number of concurrent attempts exactly one observes
// RotateOK. The pre-transition record is returned for every outcome that
// found a row, so callers can identify the family on reuse.
func (s *Store) Rotate(ctx context.Context, presented, next [32]byte, successor *Record) (RotateStatus, *Record, error) {
	encoded, err := encodeRecord(successor)
	if err != nil {
		return 0, nil, err
	}

	res, err := rotateLua.Run(ctx, s.redis,
		[]string{
			s.recordKey(member(presented)),
			s.recordKey(member(next)),
			s.familyKey(successor.FamilyID),
		},
		time.Now().Unix(), encoded, member(next),
	).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	status, old, err := parseScriptResult(res)
	if err != nil {
		return 0, nil, err
	}

	switch status {
	case rotateStatusNotFound:
		return RotateNotFound, nil, nil
	case rotateStatusExpired:
		return RotateExpired, old, nil
	case rotateStatusReuse:
		return RotateReuse, old, nil
	case rotateStatusRotated:
		return RotateOK, old, nil
	default:
		return 0, nil, ErrRecordCorrupt
	}
}

// Revoke marks a single record revoked (logout). The returned bool reports
// whether the row was already revoked before this call.
func (s *Store) Revoke(ctx context.Context, tokenHash [32]byte) (*Record, bool, error) {
	res, err := revokeLua.Run(ctx, s.redis,
		[]string{s.recordKey(member(tokenHash))},
		time.Now().Unix(),
	).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	status, rec, err := parseScriptResult(res)
	if err != nil {
		return nil, false, err
	}

	switch status {
	case 0:
		return nil, false, ErrTokenNotFound
	case 2:
		return rec, true, nil
	default:
		return rec, false, nil
	}
}

// RevokeFamily marks every row in the family revoked and returns how many
// transitioned on this call. Rows already revoked are left untouched, which
// keeps the theft response idempotent.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	res, err := revokeFamilyLua.Run(ctx, s.redis,
		[]string{s.familyKey(familyID)},
		time.Now().Unix(), s.recordKey(""),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return int(res), nil
}

// RevokeAllForUser revokes every family the user owns (logout-all, password
// change, account deletion).
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	families, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	total := 0
	for _, familyID := range families {
		n, err := s.RevokeFamily(ctx, familyID)
		if err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}

// Sweep deletes rows that are expired, or revoked longer ago than the
// retention window permits (createdAt is the reference point, matching the
// forensic-retention rule). Family and user sets are pruned as their last
// members disappear. Returns the number of deleted rows.
func (s *Store) Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	deleted := 0
	cutoff := now.Add(-retention).Unix()

	iter := s.redis.Scan(ctx, 0, s.recordKey("*"), 256).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		data, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		rec, err := decodeRecord(data)
		if err != nil {
			return 0, err
		}

		expired := rec.Expired(now.Unix())
		stale := rec.Revoked && rec.CreatedAt <= cutoff
		if !expired && !stale {
			continue
		}

		tokenMember := strings.TrimPrefix(key, s.recordKey(""))
		pipe := s.redis.TxPipeline()
		pipe.Del(ctx, key)
		pipe.SRem(ctx, s.familyKey(rec.FamilyID), tokenMember)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		deleted++

		if err := s.pruneFamily(ctx, rec.UserID, rec.FamilyID); err != nil {
			return 0, err
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return deleted, nil
}

func (s *Store) pruneFamily(ctx context.Context, userID, familyID string) error {
	remaining, err := s.redis.SCard(ctx, s.familyKey(familyID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if remaining > 0 {
		return nil
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.familyKey(familyID))
	pipe.SRem(ctx, s.userKey(userID), familyID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

func parseScriptResult(res interface{}) (int64, *Record, error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) == 0 {
		return 0, nil, ErrRecordCorrupt
	}

	status, ok := arr[0].(int64)
	if !ok {
		return 0, nil, ErrRecordCorrupt
	}

	var rec *Record
	if len(arr) > 1 {
		blob, ok := arr[1].(string)
		if !ok {
			return 0, nil, ErrRecordCorrupt
		}
		decoded, err := decodeRecord([]byte(blob))
		if err != nil {
			return 0, nil, err
		}
		rec = decoded
	}

	return status, rec, nil
}
