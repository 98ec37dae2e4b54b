package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mshuraleva/go-wallet-backend/internal/models"
	"github.com/mshuraleva/go-wallet-backend/internal/storage"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
)

// refreshDoc — представление refresh-токена в коллекции refresh_tokens.
// _id — хэш секрета: уникальность живого токена по хэшу обеспечивается
// первичным ключом.
type refreshDoc struct {
	TokenHash      string     `bson:"_id"`
	AccountID      string     `bson:"account_id"`
	CreatedAt      time.Time  `bson:"created_at"`
	ExpiresAt      time.Time  `bson:"expires_at"`
	RevokedAt      *time.Time `bson:"revoked_at,omitempty"`
	ReplacedByHash string     `bson:"replaced_by,omitempty"`
}

func toRefreshDoc(t *models.RefreshToken) refreshDoc {
	doc := refreshDoc{
		TokenHash:      t.TokenHash,
		AccountID:      t.AccountID,
		CreatedAt:      toMS(t.CreatedAt),
		ExpiresAt:      toMS(t.ExpiresAt),
		ReplacedByHash: t.ReplacedByHash,
	}
	if t.RevokedAt != nil {
		at := toMS(*t.RevokedAt)
		doc.RevokedAt = &at
	}

	return doc
}

func (d refreshDoc) toModel() *models.RefreshToken {
	return &models.RefreshToken{
		TokenHash:      d.TokenHash,
		AccountID:      d.AccountID,
		CreatedAt:      d.CreatedAt,
		ExpiresAt:      d.ExpiresAt,
		RevokedAt:      d.RevokedAt,
		ReplacedByHash: d.ReplacedByHash,
	}
}

// SaveRefreshToken сохраняет новый refresh-token.
func (m *Mongo) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.mongo.SaveRefreshToken"

	if _, err := m.refresh.InsertOne(ctx, toRefreshDoc(token)); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RefreshTokenByHash находит refresh-токен по его хэшу.
func (m *Mongo) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.mongo.RefreshTokenByHash"

	var doc refreshDoc
	if err := m.refresh.FindOne(ctx, bson.D{{Key: "_id", Value: hash}}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return doc.toModel(), nil
}

// RevokeRefreshTokenIfActive пытается отозвать refresh-токен, если он ещё
// не был отозван. Однодокументный UpdateOne с условием revoked_at == null
// атомарен на стороне MongoDB: из двух конкурирующих ротаций одного секрета
// ровно одна увидит ModifiedCount == 1.
func (m *Mongo) RevokeRefreshTokenIfActive(ctx context.Context, hash, replacedBy string, now time.Time) (bool, error) {
	const op = "storage.mongo.RevokeRefreshTokenIfActive"

	filter := bson.D{
		{Key: "_id", Value: hash},
		{Key: "revoked_at", Value: bson.D{{Key: "$exists", Value: false}}},
	}

	set := bson.D{{Key: "revoked_at", Value: toMS(now)}}
	if replacedBy != "" {
		set = append(set, bson.E{Key: "replaced_by", Value: replacedBy})
	}

	res, err := m.refresh.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}

	// CAS не прошёл: выясняем, существует ли токен вообще.
	err = m.refresh.FindOne(ctx, bson.D{{Key: "_id", Value: hash}}).Err()
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	return false, nil
}

// RevokeAllForAccount отзывает все живые токены аккаунта (breach response).
func (m *Mongo) RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int64, error) {
	const op = "storage.mongo.RevokeAllForAccount"

	filter := bson.D{
		{Key: "account_id", Value: accountID},
		{Key: "revoked_at", Value: bson.D{{Key: "$exists", Value: false}}},
	}

	res, err := m.refresh.UpdateMany(ctx, filter,
		bson.D{{Key: "$set", Value: bson.D{{Key: "revoked_at", Value: toMS(now)}}}})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return res.ModifiedCount, nil
}

// DeleteExpiredTokens удаляет все просроченные токены.
// Дублирует TTL-индекс: корректность от него не зависит, потому что
// проверка expires_at выполняется при валидации.
func (m *Mongo) DeleteExpiredTokens(ctx context.Context, now time.Time) error {
	const op = "storage.mongo.DeleteExpiredTokens"

	_, err := m.refresh.DeleteMany(ctx,
		bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: toMS(now)}}}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
