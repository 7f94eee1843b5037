package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sprite-ai/revpad/internal/model"
)

// Key layout:
//
//	review/<seq>  JSON-encoded CodeReview, seq zero-padded so keys sort by creation
//	id/<uuid>     primary key of the review with that ID
//	seq/review    badger sequence
var (
	reviewPrefix = []byte("review/")
	idPrefix     = []byte("id/")
	seqKey       = []byte("seq/review")
)

// Config controls how the database is opened.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	// Logger receives badger's own log output. Nil silences it.
	Logger *slog.Logger
}

var _ Store = (*BadgerStore)(nil)

// BadgerStore is a Store backed by BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	now func() time.Time
}

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("store directory is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	seq, err := db.GetSequence(seqKey, 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open review sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq, now: time.Now}, nil
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*BadgerStore, error) {
	return Open(Config{InMemory: true})
}

func primaryKey(n uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", reviewPrefix, n))
}

func indexKey(id string) []byte {
	return append(append([]byte(nil), idPrefix...), id...)
}

func (s *BadgerStore) Save(ctx context.Context, review model.CodeReview) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if review.Timestamp.IsZero() {
		review.Timestamp = s.now().UTC()
	}
	if review.Result.Issues == nil {
		review.Result.Issues = []model.Issue{}
	}

	data, err := json.Marshal(review)
	if err != nil {
		return "", fmt.Errorf("encode review: %w", err)
	}
	n, err := s.seq.Next()
	if err != nil {
		return "", fmt.Errorf("next review sequence: %w", err)
	}
	pk := primaryKey(n)

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(indexKey(review.ID)); err == nil {
			return ErrExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(pk, data); err != nil {
			return err
		}
		return txn.Set(indexKey(review.ID), pk)
	})
	if err != nil {
		if errors.Is(err, ErrExists) {
			return "", fmt.Errorf("save %s: %w", review.ID, err)
		}
		return "", fmt.Errorf("save review: %w", err)
	}
	return review.ID, nil
}

func (s *BadgerStore) Load(ctx context.Context, id string) (model.CodeReview, error) {
	if err := ctx.Err(); err != nil {
		return model.CodeReview{}, err
	}
	var review model.CodeReview
	err := s.db.View(func(txn *badger.Txn) error {
		pk, err := lookup(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(pk)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &review)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		err = ErrNotFound
	}
	if err != nil {
		return model.CodeReview{}, fmt.Errorf("load %s: %w", id, err)
	}
	return review, nil
}

func (s *BadgerStore) List(ctx context.Context) ([]model.CodeReview, error) {
	reviews := []model.CodeReview{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = reviewPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var review model.CodeReview
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &review)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			reviews = append(reviews, review)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}

func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		pk, err := lookup(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(pk); err != nil {
			return err
		}
		return txn.Delete(indexKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		err = ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// Close releases the sequence and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return fmt.Errorf("release review sequence: %w", err)
	}
	return s.db.Close()
}

func lookup(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(indexKey(id))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// badgerLogger routes badger's printf-style logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
