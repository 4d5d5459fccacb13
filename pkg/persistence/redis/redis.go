package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/migration-release-go/pkg/funds"
	"github.com/Layr-Labs/migration-release-go/pkg/merkle"
	"github.com/Layr-Labs/migration-release-go/pkg/persistence"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

// Key prefixes for namespacing in Redis
const (
	keyCommitment        = "release:commitment:active"
	keyFunds             = "release:funds:main"
	keyPrefixClaim       = "release:claim:"
	keyPayouts           = "release:payouts"
	keySchemaVersion     = "release:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Key set for listing claim states (Redis doesn't support prefix iteration natively)
	keySetClaims = "release:claims:index"
)

// RedisPersistence is a persistence implementation using Redis.
// Suitable for deployments where the ledger process is replaced freely and
// state lives in a managed Redis.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant setups).
	// If set, "myapp:" would result in keys like "myapp:release:claim:0x..:1".
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to connect to Redis at %s", cfg.Address)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.KeyPrefix != "" {
		logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	} else {
		logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB)
	}

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) claimKey(id types.ClaimID) string {
	return r.prefixKey(keyPrefixClaim + id.Key())
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

func (r *RedisPersistence) get(ctx context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found is not an error
	}
	return data, err
}

func (r *RedisPersistence) set(ctx context.Context, key string, value []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}
	return r.client.Set(ctx, key, value, 0).Err()
}

// SaveCommitment replaces the active commitment
func (r *RedisPersistence) SaveCommitment(commitment *merkle.Commitment) error {
	if commitment == nil {
		return fmt.Errorf("cannot save nil Commitment")
	}

	data, err := persistence.MarshalCommitment(commitment)
	if err != nil {
		return fmt.Errorf("failed to marshal Commitment: %w", err)
	}
	if err := r.set(context.Background(), r.prefixKey(keyCommitment), data); err != nil {
		return fmt.Errorf("failed to save Commitment: %w", err)
	}
	return nil
}

// LoadCommitment retrieves the active commitment
func (r *RedisPersistence) LoadCommitment() (*merkle.Commitment, error) {
	data, err := r.get(context.Background(), r.prefixKey(keyCommitment))
	if err != nil {
		return nil, fmt.Errorf("failed to load Commitment: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalCommitment(data)
}

// LoadClaimState retrieves the state of one claim identity
func (r *RedisPersistence) LoadClaimState(id types.ClaimID) (*types.ClaimState, error) {
	data, err := r.get(context.Background(), r.claimKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load ClaimState %s: %w", id, err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalClaimState(data)
}

// ListClaimStates returns all claim states ordered by recipient, then epoch
func (r *RedisPersistence) ListClaimStates() ([]*types.ClaimState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx := context.Background()

	ids, err := r.client.SMembers(ctx, r.prefixKey(keySetClaims)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list claim ids: %w", err)
	}
	if len(ids) == 0 {
		return []*types.ClaimState{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.prefixKey(keyPrefixClaim + id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get ClaimStates: %w", err)
	}

	states := make([]*types.ClaimState, 0, len(values))
	for i, val := range values {
		if val == nil {
			return nil, fmt.Errorf("claim %s is indexed but has no state", ids[i])
		}
		str, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected value type for claim %s", ids[i])
		}
		state, err := persistence.UnmarshalClaimState([]byte(str))
		if err != nil {
			return nil, fmt.Errorf("corrupt claim state %s: %w", ids[i], err)
		}
		states = append(states, state)
	}

	persistence.SortClaimStates(states)
	return states, nil
}

// SaveFunds overwrites the funds account
func (r *RedisPersistence) SaveFunds(account *funds.Account) error {
	if account == nil {
		return fmt.Errorf("cannot save nil Account")
	}

	data, err := persistence.MarshalFunds(account)
	if err != nil {
		return fmt.Errorf("failed to marshal Account: %w", err)
	}
	if err := r.set(context.Background(), r.prefixKey(keyFunds), data); err != nil {
		return fmt.Errorf("failed to save Account: %w", err)
	}
	return nil
}

// LoadFunds retrieves the funds account
func (r *RedisPersistence) LoadFunds() (*funds.Account, error) {
	data, err := r.get(context.Background(), r.prefixKey(keyFunds))
	if err != nil {
		return nil, fmt.Errorf("failed to load Account: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalFunds(data)
}

// ApplyRelease writes claim state, funds and the payout event in one MULTI/EXEC
func (r *RedisPersistence) ApplyRelease(update *persistence.ReleaseUpdate) error {
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

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx := context.Background()
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.claimKey(update.State.ID), stateData, 0)
		pipe.SAdd(ctx, r.prefixKey(keySetClaims), update.State.ID.Key())
		pipe.Set(ctx, r.prefixKey(keyFunds), fundsData, 0)
		pipe.RPush(ctx, r.prefixKey(keyPayouts), eventData)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to apply release for %s", update.State.ID)
	}
	return nil
}

// ListPayoutEvents returns payout events in apply order
func (r *RedisPersistence) ListPayoutEvents() ([]*types.PayoutEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx := context.Background()
	values, err := r.client.LRange(ctx, r.prefixKey(keyPayouts), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list PayoutEvents: %w", err)
	}

	events := make([]*types.PayoutEvent, 0, len(values))
	for i, val := range values {
		event, err := persistence.UnmarshalPayoutEvent([]byte(val))
		if err != nil {
			return nil, fmt.Errorf("corrupt payout event at index %d: %w", i, err)
		}
		events = append(events, event)
	}
	return events, nil
}

// Close shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil // Already closed, idempotent
	}
	r.closed = true

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	exists, err := r.client.Exists(ctx, r.prefixKey(keySchemaVersion)).Result()
	if err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("schema version not found - database may be corrupted")
	}

	return nil
}
