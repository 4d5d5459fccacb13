package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/migration-release-go/pkg/funds"
	"github.com/Layr-Labs/migration-release-go/pkg/merkle"
	"github.com/Layr-Labs/migration-release-go/pkg/persistence"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

// Key prefixes for namespacing
const (
	keyCommitment        = "commitment:active"
	keyFunds             = "funds:main"
	keyPrefixClaim       = "claim:"
	keyPrefixPayout      = "payout:"
	keyPayoutSequence    = "metadata:payout_sequence"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerPersistence is a production-ready persistence implementation using Badger.
// Provides durable, disk-based storage with ACID guarantees.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool

	// applyMu serializes payout sequence allocation across ApplyRelease calls
	applyMu sync.Mutex
}

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for durability.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true // fsync on every write
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open badger database at %s", absPath)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func claimKey(id types.ClaimID) []byte {
	return []byte(keyPrefixClaim + id.Key())
}

func payoutKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefixPayout, seq))
}

// getValue copies the value at key. A missing key yields nil, nil.
func getValue(txn *badgerdb.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err == badgerdb.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (b *BadgerPersistence) load(key []byte) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		data, err = getValue(txn, key)
		return err
	})
	return data, err
}

func (b *BadgerPersistence) store(key, value []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key, value)
	})
}

// SaveCommitment replaces the active commitment
func (b *BadgerPersistence) SaveCommitment(commitment *merkle.Commitment) error {
	if commitment == nil {
		return fmt.Errorf("cannot save nil Commitment")
	}

	data, err := persistence.MarshalCommitment(commitment)
	if err != nil {
		return fmt.Errorf("failed to marshal Commitment: %w", err)
	}
	if err := b.store([]byte(keyCommitment), data); err != nil {
		return fmt.Errorf("failed to save Commitment: %w", err)
	}
	return nil
}

// LoadCommitment retrieves the active commitment
func (b *BadgerPersistence) LoadCommitment() (*merkle.Commitment, error) {
	data, err := b.load([]byte(keyCommitment))
	if err != nil {
		return nil, fmt.Errorf("failed to load Commitment: %w", err)
	}
	if data == nil {
		return nil, nil // Not found
	}
	return persistence.UnmarshalCommitment(data)
}

// LoadClaimState retrieves the state of one claim identity
func (b *BadgerPersistence) LoadClaimState(id types.ClaimID) (*types.ClaimState, error) {
	data, err := b.load(claimKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load ClaimState %s: %w", id, err)
	}
	if data == nil {
		return nil, nil // Not found
	}
	return persistence.UnmarshalClaimState(data)
}

// ListClaimStates returns all claim states ordered by recipient, then epoch
func (b *BadgerPersistence) ListClaimStates() ([]*types.ClaimState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	states := make([]*types.ClaimState, 0)
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixClaim)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			state, err := persistence.UnmarshalClaimState(data)
			if err != nil {
				// A claim state that cannot be read must not silently become claimable again
				return fmt.Errorf("corrupt claim state at %s: %w", string(item.Key()), err)
			}
			states = append(states, state)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ClaimStates: %w", err)
	}

	persistence.SortClaimStates(states)
	return states, nil
}

// SaveFunds overwrites the funds account
func (b *BadgerPersistence) SaveFunds(account *funds.Account) error {
	if account == nil {
		return fmt.Errorf("cannot save nil Account")
	}

	data, err := persistence.MarshalFunds(account)
	if err != nil {
		return fmt.Errorf("failed to marshal Account: %w", err)
	}
	if err := b.store([]byte(keyFunds), data); err != nil {
		return fmt.Errorf("failed to save Account: %w", err)
	}
	return nil
}

// LoadFunds retrieves the funds account
func (b *BadgerPersistence) LoadFunds() (*funds.Account, error) {
	data, err := b.load([]byte(keyFunds))
	if err != nil {
		return nil, fmt.Errorf("failed to load Account: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalFunds(data)
}

// ApplyRelease writes claim state, funds and the next payout event in one transaction
func (b *BadgerPersistence) ApplyRelease(update *persistence.ReleaseUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	stateData, err := persistence.MarshalClaimState(update.State)
	if err != nil {
		return err
	}
	fundsData, err := persistence.MarshalFunds(update.Funds)
	if err != nil {
		return err
	}
	eventData, err := persistence.MarshalPayoutEvent(update.Event)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	b.applyMu.Lock()
	defer b.applyMu.Unlock()

	err = b.db.Update(func(txn *badgerdb.Txn) error {
		raw, err := getValue(txn, []byte(keyPayoutSequence))
		if err != nil {
			return err
		}
		var seq uint64
		if raw != nil {
			if len(raw) != 8 {
				return fmt.Errorf("invalid payout sequence length: %d", len(raw))
			}
			seq = binary.BigEndian.Uint64(raw)
		}

		next := make([]byte, 8)
		binary.BigEndian.PutUint64(next, seq+1)

		if err := txn.Set(claimKey(update.State.ID), stateData); err != nil {
			return err
		}
		if err := txn.Set([]byte(keyFunds), fundsData); err != nil {
			return err
		}
		if err := txn.Set(payoutKey(seq), eventData); err != nil {
			return err
		}
		return txn.Set([]byte(keyPayoutSequence), next)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to apply release for %s", update.State.ID)
	}
	return nil
}

// ListPayoutEvents returns payout events in apply order
func (b *BadgerPersistence) ListPayoutEvents() ([]*types.PayoutEvent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	events := make([]*types.PayoutEvent, 0)
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixPayout)

		it := txn.NewIterator(opts)
		defer it.Close()

		// Keys are zero-padded sequence numbers, so iteration order is apply order
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			event, err := persistence.UnmarshalPayoutEvent(data)
			if err != nil {
				return fmt.Errorf("corrupt payout event at %s: %w", string(item.Key()), err)
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list PayoutEvents: %w", err)
	}
	return events, nil
}

// Close shuts down the persistence layer
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, idempotent
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
