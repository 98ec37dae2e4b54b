package mongo

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mshuraleva/go-wallet-backend/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	accountsCollection = "accounts"
	refreshCollection  = "refresh_tokens"
	defaultDBName      = "wallet"
)

// Mongo - тонкий адаптер для подключения и коллекций MongoDB.
type Mongo struct {
	client   *mongodriver.Client
	db       *mongodriver.Database
	accounts *mongodriver.Collection
	refresh  *mongodriver.Collection
}

// New подключается к MongoDB, проверяет соединение, подготавливает
// коллекции и обеспечивает индексацию.
func New(ctx context.Context, mongoURL string) (*Mongo, error) {
	const op = "storage.mongo.New"

	if mongoURL == "" {
		return nil, fmt.Errorf("%s: empty mongo url", op)
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(mongoURL))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := cli.Database(databaseFromURI(mongoURL))

	m := &Mongo{
		client:   cli,
		db:       db,
		accounts: db.Collection(accountsCollection),
		refresh:  db.Collection(refreshCollection),
	}

	if err := m.ensureIndexes(ctx); err != nil {
		_ = m.Close(ctx)
		return nil, err
	}

	return m, nil
}

// Close закрывает подключение к MongoDB.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// ensureIndexes создает индексы, необходимые auth-сервису:
//   - accounts: уникальный email; уникальный (sparse) linked_provider_id;
//   - refresh_tokens: account_id для breach response;
//     TTL по expires_at (expireAfterSeconds=0 -> используется временная
//     метка, сохранённая в документе) — страховка к DeleteExpiredTokens.
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	accountModels := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("uniq_email").SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "linked_provider_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_linked_provider_id").
				SetUnique(true).
				SetSparse(true),
		},
	}

	if _, err := m.accounts.Indexes().CreateMany(ctx, accountModels); err != nil {
		return fmt.Errorf("mongo ensure account indexes: %w", err)
	}

	refreshModels := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "account_id", Value: 1}},
			Options: options.Index().SetName("account_id"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("ttl_expires_at").SetExpireAfterSeconds(0),
		},
	}

	if _, err := m.refresh.Indexes().CreateMany(ctx, refreshModels); err != nil {
		return fmt.Errorf("mongo ensure refresh indexes: %w", err)
	}

	return nil
}

// databaseFromURI извлекает имя базы данных из URI-пути mongodb.
// Если оно отсутствует или не поддаётся расшифровке, возвращает
// значение по умолчанию.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultDBName
	}

	name := strings.Trim(u.Path, "/")
	if name == "" {
		return defaultDBName
	}

	return name
}

// isDuplicateKey распознаёт нарушение уникального индекса.
func isDuplicateKey(err error) bool {
	return mongodriver.IsDuplicateKeyError(err)
}

// Проверка на соответствие интерфейсу Storage.
var _ storage.Storage = (*Mongo)(nil)
