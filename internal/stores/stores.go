// Package stores persists the single-use, time-limited tokens delivered out
// of band: password resets and email verifications. Records are keyed by
// token hash; consumption sets usedAt exactly once under a Redis WATCH
// transaction, so a second consumer always loses.
package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenRecordVersionV1 byte = 1

var errRecordCorrupt = errors.New("single-use token record corrupt")

// TokenRecord is one reset or verification row. UsedAt stays zero until the
// token is consumed; it is never set twice.
type TokenRecord struct {
	UserID    string
	ExpiresAt int64
	CreatedAt int64
	UsedAt    int64
}

// Used reports whether the token has already been consumed.
func (r *TokenRecord) Used() bool {
	return r.UsedAt != 0
}

// Expired reports whether the token is past its expiry.
func (r *TokenRecord) Expired(nowUnix int64) bool {
	return r.ExpiresAt <= nowUnix
}

// singleUseStore carries the mechanics shared by both token kinds; the
// exported stores wrap it with their own key prefix and error sentinels.
type singleUseStore struct {
	redis  redis.UniversalClient
	prefix string

	errNotFound    error
	errExpired     error
	errUsed        error
	errUnavailable error
}

func (s *singleUseStore) key(tokenHash [32]byte) string {
	return s.prefix + ":" + hex.EncodeToString(tokenHash[:])
}

func (s *singleUseStore) save(ctx context.Context, tokenHash [32]byte, rec *TokenRecord) error {
	encoded, err := encodeTokenRecord(rec)
	if err != nil {
		return err
	}

	// No TTL: the janitor owns deletion so counts stay observable.
	if err := s.redis.Set(ctx, s.key(tokenHash), encoded, 0).Err(); err != nil {
		return wrap(s.errUnavailable, err)
	}

	return nil
}

func (s *singleUseStore) get(ctx context.Context, tokenHash [32]byte) (*TokenRecord, error) {
	data, err := s.redis.Get(ctx, s.key(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, s.errNotFound
		}
		return nil, wrap(s.errUnavailable, err)
	}

	return decodeTokenRecord(data)
}

// consume performs the single-use transition. The WATCH/MULTI retry loop is
// the compare-and-set: if another consumer touches the key between read and
// write, the transaction fails and we re-read, observing usedAt already set.
func (s *singleUseStore) consume(ctx context.Context, tokenHash [32]byte, now time.Time) (*TokenRecord, error) {
	const maxRetries = 4
	key := s.key(tokenHash)

	for i := 0; i < maxRetries; i++ {
		var consumed *TokenRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeTokenRecord(data)
			if err != nil {
				return err
			}

			if rec.Used() {
				return s.errUsed
			}
			if rec.Expired(now.Unix()) {
				return s.errExpired
			}

			rec.UsedAt = now.Unix()
			updated, err := encodeTokenRecord(rec)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, 0)
				return nil
			})
			if err != nil {
				return err
			}

			consumed = rec
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, s.errNotFound
			case errors.Is(err, s.errUsed), errors.Is(err, s.errExpired), errors.Is(err, errRecordCorrupt):
				return nil, err
			default:
				return nil, wrap(s.errUnavailable, err)
			}
		}

		return consumed, nil
	}

	return nil, s.errNotFound
}

func (s *singleUseStore) sweep(ctx context.Context, now time.Time) (int, error) {
	deleted := 0

	iter := s.redis.Scan(ctx, 0, s.prefix+":*", 256).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		data, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return 0, wrap(s.errUnavailable, err)
		}

		rec, err := decodeTokenRecord(data)
		if err != nil {
			return 0, err
		}
		if !rec.Expired(now.Unix()) && !rec.Used() {
			continue
		}

		if err := s.redis.Del(ctx, key).Err(); err != nil {
			return 0, wrap(s.errUnavailable, err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return 0, wrap(s.errUnavailable, err)
	}

	return deleted, nil
}

func wrap(sentinel error, cause error) error {
	return errors.Join(sentinel, cause)
}

func encodeTokenRecord(rec *TokenRecord) ([]byte, error) {
	if len(rec.UserID) > 65535 {
		return nil, errors.New("token record user id too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(tokenRecordVersionV1)

	for _, v := range []int64{rec.UsedAt, rec.ExpiresAt, rec.CreatedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(rec.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(rec.UserID)

	return buf.Bytes(), nil
}

func decodeTokenRecord(data []byte) (*TokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != tokenRecordVersionV1 {
		return nil, errRecordCorrupt
	}

	rec := &TokenRecord{}
	for _, dst := range []*int64{&rec.UsedAt, &rec.ExpiresAt, &rec.CreatedAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, errRecordCorrupt
		}
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return nil, errRecordCorrupt
	}
	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, errRecordCorrupt
	}
	rec.UserID = string(userID)

	return rec, nil
}
