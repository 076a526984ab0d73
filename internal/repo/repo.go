package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/vending-service/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrTransactionNotFound is returned when no row carries the reference.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrStatusConflict means the persisted status was not the expected one,
	// i.e. another writer won the compare-and-set.
	ErrStatusConflict = errors.New("transaction status conflict")
)

// TransactionStore restricts Repository methods (keeps services mockable).
type TransactionStore interface {
	CreateTransaction(ctx context.Context, t *model.Transaction) error
	FindByReference(ctx context.Context, reference string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, int64, error)
	TransitionStatus(ctx context.Context, reference string, from, to model.TransactionStatus, amend func(*model.Meta)) (*model.Transaction, error)
	AmendMeta(ctx context.Context, reference string, amend func(*model.Meta)) error
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	CacheBalance(ctx context.Context, provider string, bal decimal.Decimal, ttl time.Duration) error
	GetCachedBalance(ctx context.Context, provider string) (decimal.Decimal, error)
	CacheToken(ctx context.Context, key, token string, ttl time.Duration) error
	GetCachedToken(ctx context.Context, key string) (string, error)
}

var _ TransactionStore = (*Repository)(nil)

// Repository implements TransactionStore.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// Migrate creates the tables owned by the repository.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&model.Transaction{}, &model.OutboxEvent{}, &model.Setting{})
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// CreateTransaction inserts the row and its transaction.created event atomically.
func (r *Repository) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return r.CreateOutboxEvent(ctx, tx, lifecycleEvent(t, "transaction.created"))
	})
}

// FindByReference loads a transaction by its unique reference.
func (r *Repository) FindByReference(ctx context.Context, reference string) (*model.Transaction, error) {
	var t model.Transaction
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TransitionStatus moves reference from -> to only if the stored status is
// still from. amend, when non-nil, edits the meta document in the same write.
// A lost race returns ErrStatusConflict and changes nothing.
func (r *Repository) TransitionStatus(ctx context.Context, reference string, from, to model.TransactionStatus, amend func(*model.Meta)) (*model.Transaction, error) {
	if !model.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s is not allowed", ErrStatusConflict, from, to)
	}
	var out model.Transaction
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur model.Transaction
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("reference = ?", reference).First(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTransactionNotFound
		}
		if err != nil {
			return err
		}
		if cur.Status != from {
			return ErrStatusConflict
		}
		meta := cur.Metadata()
		if amend != nil {
			amend(&meta)
		}
		now := time.Now()
		res := tx.Model(&model.Transaction{}).
			Where("reference = ? AND status = ?", reference, from).
			Updates(map[string]interface{}{
				"status":     to,
				"meta":       datatypes.NewJSONType(meta),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStatusConflict
		}
		cur.Status = to
		cur.SetMetadata(meta)
		cur.UpdatedAt = now
		if err := r.CreateOutboxEvent(ctx, tx, lifecycleEvent(&cur, "transaction."+string(to))); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AmendMeta edits meta under a row lock without touching status.
func (r *Repository) AmendMeta(ctx context.Context, reference string, amend func(*model.Meta)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur model.Transaction
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("reference = ?", reference).First(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTransactionNotFound
		}
		if err != nil {
			return err
		}
		meta := cur.Metadata()
		amend(&meta)
		return tx.Model(&model.Transaction{}).
			Where("id = ?", cur.ID).
			Updates(map[string]interface{}{
				"meta":       datatypes.NewJSONType(meta),
				"updated_at": time.Now(),
			}).Error
	})
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka, keyed by transaction id so one row's events stay ordered.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.AggregateID)),
		Value: []byte(evt.Payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
		},
		Time: time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// GetSetting returns the runtime override for key, if any.
func (r *Repository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var s model.Setting
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s.Value, true, nil
}

// SetSetting upserts a runtime override.
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&model.Setting{Key: key, Value: value}).Error
}

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, provider string, bal decimal.Decimal, ttl time.Duration) error {
	return r.rdb.Set(ctx, balanceKey(provider), bal.String(), ttl).Err()
}

// GetCachedBalance reads Redis. A miss surfaces as redis.Nil.
func (r *Repository) GetCachedBalance(ctx context.Context, provider string) (decimal.Decimal, error) {
	str, err := r.rdb.Get(ctx, balanceKey(provider)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}

// CacheToken stores a vendor access token until just before it expires.
func (r *Repository) CacheToken(ctx context.Context, key, token string, ttl time.Duration) error {
	return r.rdb.Set(ctx, tokenKey(key), token, ttl).Err()
}

// GetCachedToken reads a vendor access token. A miss surfaces as redis.Nil.
func (r *Repository) GetCachedToken(ctx context.Context, key string) (string, error) {
	return r.rdb.Get(ctx, tokenKey(key)).Result()
}

func balanceKey(provider string) string { return "wallet:balance:" + provider }

func tokenKey(key string) string { return "vendor:token:" + key }

func lifecycleEvent(t *model.Transaction, eventType string) *model.OutboxEvent {
	payload, _ := json.Marshal(map[string]interface{}{
		"reference": t.Reference,
		"type":      t.Type,
		"status":    t.Status,
		"amount":    t.Amount,
		"provider":  t.ProviderName,
	})
	return &model.OutboxEvent{
		Aggregate:   "Transaction",
		AggregateID: t.ID,
		EventType:   eventType,
		Payload:     string(payload),
	}
}
