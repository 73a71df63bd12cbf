package signing

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	noncePrefix = "nonce:"
	seenPrefix  = "seen:"
)

// LevelDBNonceLog keeps nonces in a LevelDB directory. Each nonce has a
// lookup key and a time-ordered key used for pruning and warm-up scans.
type LevelDBNonceLog struct {
	db *leveldb.DB
}

// OpenLevelDB opens or creates the nonce log at dir.
func OpenLevelDB(dir string) (*LevelDBNonceLog, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("signing: nonce store path required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("signing: resolve nonce store: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("signing: open nonce store: %w", err)
	}
	return &LevelDBNonceLog{db: db}, nil
}

func (l *LevelDBNonceLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *LevelDBNonceLog) Remember(_ context.Context, rec NonceRecord) (bool, error) {
	if rec.APIKey == "" || rec.Timestamp == "" || rec.Nonce == "" {
		return false, errors.New("signing: nonce record incomplete")
	}
	at := rec.ObservedAt.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	composite := strings.Join([]string{rec.APIKey, rec.Timestamp, rec.Nonce}, "|")
	lookup := []byte(noncePrefix + composite)
	switch _, err := l.db.Get(lookup, nil); {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("signing: load nonce: %w", err)
	default:
		return true, nil
	}
	batch := new(leveldb.Batch)
	var stamp [8]byte
	binary.BigEndian.PutUint64(stamp[:], uint64(at.UnixNano()))
	batch.Put(lookup, stamp[:])
	batch.Put(seenKey(at.UnixNano(), composite), nil)
	if err := l.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("signing: record nonce: %w", err)
	}
	return false, nil
}

func (l *LevelDBNonceLog) Since(ctx context.Context, cutoff time.Time) ([]NonceRecord, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(seenPrefix)), nil)
	defer iter.Release()
	var out []NonceRecord
	for ok := iter.Seek(seenKey(cutoff.UTC().UnixNano(), "")); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		composite, nanos, ok := parseSeenKey(iter.Key())
		if !ok {
			continue
		}
		parts := strings.SplitN(composite, "|", 3)
		if len(parts) != 3 {
			continue
		}
		out = append(out, NonceRecord{APIKey: parts[0], Timestamp: parts[1], Nonce: parts[2], ObservedAt: time.Unix(0, nanos).UTC()})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("signing: scan nonces: %w", err)
	}
	return out, nil
}

func (l *LevelDBNonceLog) Prune(ctx context.Context, cutoff time.Time) error {
	limit := seenKey(cutoff.UTC().UnixNano(), "")
	iter := l.db.NewIterator(util.BytesPrefix([]byte(seenPrefix)), nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if bytes.Compare(iter.Key(), limit) >= 0 {
			break
		}
		composite, _, ok := parseSeenKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(noncePrefix + composite))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("signing: scan nonces: %w", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("signing: prune nonces: %w", err)
	}
	return nil
}

func seenKey(nanos int64, composite string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", seenPrefix, nanos, composite))
}

func parseSeenKey(key []byte) (string, int64, bool) {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[2], nanos, true
}
