package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	oauthRecordVersionV1 = 1
	maxFieldLen          = 4096
)

var (
	ErrStateNotFound         = errors.New("oauth state not found")
	ErrStateRedisUnavailable = errors.New("oauth state redis unavailable")
)

// OAuthStateRecord is the server-side half of an in-flight authorization
// request.
type OAuthStateRecord struct {
	State      string
	Verifier   string
	LinkUserID string
	ExpiresAt  int64
}

// OAuthStateStore keeps one record per (browser session, provider).
type OAuthStateStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewOAuthStateStore(redisClient redis.UniversalClient, prefix string) *OAuthStateStore {
	if prefix == "" {
		prefix = "aos"
	}
	return &OAuthStateStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

// WithClock overrides the clock used for record expiry checks.
func (s *OAuthStateStore) WithClock(now func() time.Time) *OAuthStateStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *OAuthStateStore) key(sessionID, provider string) string {
	return s.prefix + ":" + sessionID + ":" + provider
}

// Save replaces any pending record for the pair.
func (s *OAuthStateStore) Save(ctx context.Context, sessionID, provider string, record *OAuthStateRecord, ttl time.Duration) error {
	if record.ExpiresAt == 0 {
		record.ExpiresAt = s.now().Add(ttl).Unix()
	}

	encoded, err := encodeOAuthStateRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(sessionID, provider), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateRedisUnavailable, err)
	}
	return nil
}

// Take atomically fetches and deletes the record for the pair.
func (s *OAuthStateStore) Take(ctx context.Context, sessionID, provider string) (*OAuthStateRecord, error) {
	data, err := s.redis.GetDel(ctx, s.key(sessionID, provider)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStateRedisUnavailable, err)
	}

	record, err := decodeOAuthStateRecord(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > record.ExpiresAt {
		return nil, ErrStateNotFound
	}

	return record, nil
}

// DeleteSession removes every pending record for sessionID.
func (s *OAuthStateStore) DeleteSession(ctx context.Context, sessionID string) error {
	iter := s.redis.Scan(ctx, 0, s.prefix+":"+sessionID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateRedisUnavailable, err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateRedisUnavailable, err)
	}
	return nil
}

func encodeOAuthStateRecord(record *OAuthStateRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(oauthRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	for _, field := range []string{record.State, record.Verifier, record.LinkUserID} {
		if err := writeField(&buf, field); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeOAuthStateRecord(data []byte) (*OAuthStateRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != oauthRecordVersionV1 {
		return nil, errors.New("invalid oauth state record version")
	}

	record := &OAuthStateRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	for _, dst := range []*string{&record.State, &record.Verifier, &record.LinkUserID} {
		if *dst, err = readField(reader); err != nil {
			return nil, err
		}
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in oauth state record")
	}

	return record, nil
}

func writeField(buf *bytes.Buffer, v string) error {
	if len(v) > maxFieldLen {
		return errors.New("oauth state field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(v))); err != nil {
		return err
	}
	buf.WriteString(v)
	return nil
}

func readField(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > maxFieldLen {
		return "", errors.New("oauth state field too long")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
