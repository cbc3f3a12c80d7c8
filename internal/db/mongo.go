package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/alpinegear/identity/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const accountsCollection = "accounts"

// ConnectMongo establishes a connection to MongoDB and verifies it with a ping.
func ConnectMongo(ctx context.Context, cfg config.DatabaseConfig) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, err
	}
	ctxPing, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := client.Ping(ctxPing, nil); err != nil {
		disconnectCtx, cancelDisconnect := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelDisconnect()
		_ = client.Disconnect(disconnectCtx)
		return nil, err
	}
	slog.Debug("connected to mongodb", "db", cfg.MongoDB)
	return client, nil
}

// AccountsCollection returns the collection holding accounts.
func AccountsCollection(client *mongo.Client, cfg config.DatabaseConfig) *mongo.Collection {
	return client.Database(cfg.MongoDB).Collection(accountsCollection)
}
