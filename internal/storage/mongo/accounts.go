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
	"go.mongodb.org/mongo-driver/mongo/options"
)

// accountDoc — представление аккаунта в коллекции accounts.
// Отдельный тип с bson-тегами, чтобы не протаскивать сериализацию
// в доменные модели.
type accountDoc struct {
	ID               string     `bson:"_id"`
	Email            string     `bson:"email"`
	PasswordHash     string     `bson:"password_hash,omitempty"`
	Role             string     `bson:"role"`
	LinkedProviderID string     `bson:"linked_provider_id,omitempty"`
	MigratedAt       *time.Time `bson:"migrated_at,omitempty"`
	CreatedAt        time.Time  `bson:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at"`
}

// MongoDB DateTime хранит миллисекунды.
func toMS(t time.Time) time.Time { return t.UTC().Truncate(time.Millisecond) }

func toAccountDoc(a *models.Account) accountDoc {
	doc := accountDoc{
		ID:               a.ID,
		Email:            a.Email,
		PasswordHash:     a.PasswordHash,
		Role:             a.Role,
		LinkedProviderID: a.LinkedProviderID,
		CreatedAt:        toMS(a.CreatedAt),
		UpdatedAt:        toMS(a.UpdatedAt),
	}
	if a.MigratedAt != nil {
		at := toMS(*a.MigratedAt)
		doc.MigratedAt = &at
	}

	return doc
}

func (d accountDoc) toModel() *models.Account {
	return &models.Account{
		ID:               d.ID,
		Email:            d.Email,
		PasswordHash:     d.PasswordHash,
		Role:             d.Role,
		LinkedProviderID: d.LinkedProviderID,
		MigratedAt:       d.MigratedAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// SaveAccount создает новый аккаунт.
func (m *Mongo) SaveAccount(ctx context.Context, account *models.Account) error {
	const op = "storage.mongo.SaveAccount"

	if _, err := m.accounts.InsertOne(ctx, toAccountDoc(account)); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// AccountByID находит аккаунт по ID.
func (m *Mongo) AccountByID(ctx context.Context, id string) (*models.Account, error) {
	const op = "storage.mongo.AccountByID"

	return m.findAccount(ctx, op, bson.D{{Key: "_id", Value: id}})
}

// AccountByEmail находит аккаунт по нормализованному email.
func (m *Mongo) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	const op = "storage.mongo.AccountByEmail"

	return m.findAccount(ctx, op, bson.D{{Key: "email", Value: email}})
}

// AccountByProviderID находит аккаунт по subject id legacy-провайдера.
func (m *Mongo) AccountByProviderID(ctx context.Context, providerID string) (*models.Account, error) {
	const op = "storage.mongo.AccountByProviderID"

	return m.findAccount(ctx, op, bson.D{{Key: "linked_provider_id", Value: providerID}})
}

func (m *Mongo) findAccount(ctx context.Context, op string, filter bson.D) (*models.Account, error) {
	var doc accountDoc
	if err := m.accounts.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return doc.toModel(), nil
}

// EstablishPassword одноразово устанавливает локальный пароль.
// Условная запись: фильтр требует отсутствия password_hash, поэтому
// конкурирующие вызовы migrate не перезапишут установленный хэш —
// проигравший получает ErrAlreadyExists.
func (m *Mongo) EstablishPassword(ctx context.Context, accountID, passwordHash, providerID string, now time.Time) (*models.Account, error) {
	const op = "storage.mongo.EstablishPassword"

	nowMS := toMS(now)

	filter := bson.D{
		{Key: "_id", Value: accountID},
		{Key: "password_hash", Value: bson.D{{Key: "$exists", Value: false}}},
	}

	set := bson.D{
		{Key: "password_hash", Value: passwordHash},
		{Key: "migrated_at", Value: nowMS},
		{Key: "updated_at", Value: nowMS},
	}
	if providerID != "" {
		// linked_provider_id выставляется только если ещё не установлен:
		// $setOnInsert здесь не подходит, поэтому дополняем фильтр ниже
		// отдельной попыткой.
		set = append(set, bson.E{Key: "linked_provider_id", Value: providerID})
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "linked_provider_id", Value: bson.D{{Key: "$exists", Value: false}}}},
			bson.D{{Key: "linked_provider_id", Value: providerID}},
		}})
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc accountDoc
	err := m.accounts.FindOneAndUpdate(ctx, filter, bson.D{{Key: "$set", Value: set}}, opts).Decode(&doc)
	if err == nil {
		return doc.toModel(), nil
	}
	if !errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Фильтр не совпал: либо аккаунта нет, либо пароль уже установлен.
	existing, ferr := m.findAccount(ctx, op, bson.D{{Key: "_id", Value: accountID}})
	if ferr != nil {
		return nil, ferr
	}
	if existing.IsLocallyAuthenticable() {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	// Аккаунт есть, пароль не установлен — значит не совпал linked_provider_id.
	return nil, fmt.Errorf("%s: provider id conflict: %w", op, storage.ErrAlreadyExists)
}
