package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DatabaseConfig configures a DatabaseStore.
type DatabaseConfig struct {
	DSN        string
	DefaultTTL TTL
	Logger     *zap.Logger
	Now        func() time.Time
}

// StringEntry is a row of kv_strings.
type StringEntry struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	ExpiresAt *int64 `gorm:"index"`
}

func (StringEntry) TableName() string { return "kv_strings" }

// RawEntry is a row of kv_raw.
type RawEntry struct {
	Key       string `gorm:"primaryKey"`
	Value     []byte
	ExpiresAt *int64 `gorm:"index"`
}

func (RawEntry) TableName() string { return "kv_raw" }

// CounterEntry is a row of kv_counters.
type CounterEntry struct {
	Key   string `gorm:"primaryKey"`
	Value int64
}

func (CounterEntry) TableName() string { return "kv_counters" }

// DatabaseStore implements Storage on PostgreSQL. Each shape has its own
// table and every operation is a single statement.
type DatabaseStore struct {
	db         *gorm.DB
	defaultTTL TTL
	logger     *zap.Logger
	now        func() time.Time
}

func NewDatabaseStore(ctx context.Context, cfg DatabaseConfig) (*DatabaseStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, connectionFailure("connect", "", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, connectionFailure("connect", "", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, connectionFailure("connect", "", err)
	}

	// Auto-create tables if needed
	if err := db.WithContext(ctx).AutoMigrate(&StringEntry{}, &RawEntry{}, &CounterEntry{}); err != nil {
		_ = sqlDB.Close()
		return nil, connectionFailure("migrate", "", err)
	}
	logger.Info("connected to postgres")

	return &DatabaseStore{db: db, defaultTTL: cfg.DefaultTTL, logger: logger, now: now}, nil
}

type upsertResult struct {
	Inserted bool
}

// upsert writes a row and reports whether it was inserted. xmax is zero only
// for a freshly inserted tuple.
func (ds *DatabaseStore) upsert(ctx context.Context, op, table, key string, value any, expiresAt *int64) (StoreState, error) {
	var res upsertResult
	sql := fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
RETURNING (xmax = 0) AS inserted`, table)
	if err := ds.db.WithContext(ctx).Raw(sql, key, value, expiresAt).Scan(&res).Error; err != nil {
		return StateNew, connectionFailure(op, key, err)
	}
	return stateOf(!res.Inserted), nil
}

func (ds *DatabaseStore) expiry(ttl TTL) *int64 {
	at, ok := ttl.Or(ds.defaultTTL).expiresAt(ds.now())
	if !ok {
		return nil
	}
	return &at
}

// purgeExpired removes the row only if it is still expired.
func (ds *DatabaseStore) purgeExpired(ctx context.Context, op string, model any, key string, now time.Time) error {
	res := ds.db.WithContext(ctx).
		Where("key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, now.Unix()).
		Delete(model)
	if res.Error != nil {
		return connectionFailure(op, key, res.Error)
	}
	if res.RowsAffected > 0 {
		ds.logger.Debug("purged expired entry", zap.String("key", key))
	}
	return nil
}

func (ds *DatabaseStore) StoreStringWithExpiry(ctx context.Context, key, value string, ttl TTL) (StoreState, error) {
	if err := checkKey(OpStoreString, key); err != nil {
		return StateNew, err
	}
	return ds.upsert(ctx, OpStoreString, StringEntry{}.TableName(), key, value, ds.expiry(ttl))
}

func (ds *DatabaseStore) StoreString(ctx context.Context, key, value string) (StoreState, error) {
	return ds.StoreStringWithExpiry(ctx, key, value, NoTTL)
}

func (ds *DatabaseStore) LoadString(ctx context.Context, key string) (string, bool, error) {
	if err := checkKey(OpLoadString, key); err != nil {
		return "", false, err
	}
	var row StringEntry
	err := ds.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, connectionFailure(OpLoadString, key, err)
	}
	now := ds.now()
	if row.ExpiresAt != nil && expired(*row.ExpiresAt, now) {
		return "", false, ds.purgeExpired(ctx, OpLoadString, &StringEntry{}, key, now)
	}
	return row.Value, true, nil
}

func (ds *DatabaseStore) DeleteString(ctx context.Context, key string) error {
	if err := checkKey(OpDeleteString, key); err != nil {
		return err
	}
	if err := ds.db.WithContext(ctx).Where("key = ?", key).Delete(&StringEntry{}).Error; err != nil {
		return connectionFailure(OpDeleteString, key, err)
	}
	return nil
}

func (ds *DatabaseStore) StoreRawWithExpiry(ctx context.Context, key string, value []byte, ttl TTL) (StoreState, error) {
	if err := checkKey(OpStoreRaw, key); err != nil {
		return StateNew, err
	}
	if value == nil {
		value = []byte{}
	}
	return ds.upsert(ctx, OpStoreRaw, RawEntry{}.TableName(), key, value, ds.expiry(ttl))
}

func (ds *DatabaseStore) StoreRaw(ctx context.Context, key string, value []byte) (StoreState, error) {
	return ds.StoreRawWithExpiry(ctx, key, value, NoTTL)
}

func (ds *DatabaseStore) LoadRaw(ctx context.Context, key string) ([]byte, bool, error) {
	if err := checkKey(OpLoadRaw, key); err != nil {
		return nil, false, err
	}
	var row RawEntry
	err := ds.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, connectionFailure(OpLoadRaw, key, err)
	}
	now := ds.now()
	if row.ExpiresAt != nil && expired(*row.ExpiresAt, now) {
		return nil, false, ds.purgeExpired(ctx, OpLoadRaw, &RawEntry{}, key, now)
	}
	return row.Value, true, nil
}

func (ds *DatabaseStore) DeleteRaw(ctx context.Context, key string) error {
	if err := checkKey(OpDeleteRaw, key); err != nil {
		return err
	}
	if err := ds.db.WithContext(ctx).Where("key = ?", key).Delete(&RawEntry{}).Error; err != nil {
		return connectionFailure(OpDeleteRaw, key, err)
	}
	return nil
}

func (ds *DatabaseStore) AtomicStore(ctx context.Context, key string, value int64) (StoreState, error) {
	if err := checkKey(OpAtomicStore, key); err != nil {
		return StateNew, err
	}
	var res upsertResult
	err := ds.db.WithContext(ctx).Raw(`INSERT INTO kv_counters (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
RETURNING (xmax = 0) AS inserted`, key, value).Scan(&res).Error
	if err != nil {
		return StateNew, connectionFailure(OpAtomicStore, key, err)
	}
	return stateOf(!res.Inserted), nil
}

func (ds *DatabaseStore) AtomicLoad(ctx context.Context, key string) (int64, bool, error) {
	if err := checkKey(OpAtomicLoad, key); err != nil {
		return 0, false, err
	}
	var row CounterEntry
	err := ds.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, connectionFailure(OpAtomicLoad, key, err)
	}
	return row.Value, true, nil
}

func (ds *DatabaseStore) AtomicDelete(ctx context.Context, key string) error {
	if err := checkKey(OpAtomicDelete, key); err != nil {
		return err
	}
	if err := ds.db.WithContext(ctx).Where("key = ?", key).Delete(&CounterEntry{}).Error; err != nil {
		return connectionFailure(OpAtomicDelete, key, err)
	}
	return nil
}

type incrementResult struct {
	Previous int64
}

func (ds *DatabaseStore) AtomicIncrement(ctx context.Context, key string, delta int64) (int64, bool, error) {
	if err := checkKey(OpAtomicIncrement, key); err != nil {
		return 0, false, err
	}
	var rows []incrementResult
	err := ds.db.WithContext(ctx).Raw(`UPDATE kv_counters SET value = value + ? WHERE key = ?
RETURNING value - ? AS previous`, delta, key, delta).Scan(&rows).Error
	if err != nil {
		return 0, false, connectionFailure(OpAtomicIncrement, key, err)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Previous, true, nil
}

// Close closes the database connection
func (ds *DatabaseStore) Close() error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
