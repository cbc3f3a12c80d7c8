package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpinegear/identity/types"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoAccountRepository handles persistence for accounts in a MongoDB collection.
type MongoAccountRepository struct {
	col *mongo.Collection
}

func NewMongoAccountRepository(col *mongo.Collection) *MongoAccountRepository {
	return &MongoAccountRepository{col: col}
}

// EnsureIndexes creates the unique email index that makes InsertIfAbsent atomic.
func (r *MongoAccountRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("accounts_email_unique"),
	})
	if err != nil {
		return fmt.Errorf("create email index: %w", err)
	}
	return nil
}

func (r *MongoAccountRepository) FindByEmail(ctx context.Context, email string) (types.Account, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoAccountRepository) FindByID(ctx context.Context, id string) (types.Account, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoAccountRepository) InsertIfAbsent(ctx context.Context, account types.Account) (types.Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	if _, err := r.col.InsertOne(ctx, account); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.Account{}, ErrDuplicateIdentity
		}
		return types.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

func (r *MongoAccountRepository) UpdateByID(ctx context.Context, id string, patch types.AccountPatch) (types.Account, error) {
	if patch.Empty() && patch.IfCode == "" {
		return r.FindByID(ctx, id)
	}

	filter, update := buildMongoUpdate(id, patch, time.Now().UTC())
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var account types.Account
	err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, fmt.Errorf("update account: %w", err)
	}
	return account, nil
}

func (r *MongoAccountRepository) findOne(ctx context.Context, filter bson.M) (types.Account, error) {
	var account types.Account
	err := r.col.FindOne(ctx, filter).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, fmt.Errorf("find account: %w", err)
	}
	return account, nil
}

func buildMongoUpdate(id string, patch types.AccountPatch, now time.Time) (bson.M, bson.M) {
	filter := bson.M{"_id": id}
	if patch.IfCode != "" {
		filter["verification.code"] = patch.IfCode
	}

	set := bson.M{"updated_at": now}
	if patch.PasswordHash != nil {
		set["password_hash"] = *patch.PasswordHash
	}
	if patch.RealName != nil {
		set["real_name"] = *patch.RealName
	}
	if patch.LastName != nil {
		set["last_name"] = *patch.LastName
	}
	if patch.PhoneNumber != nil {
		set["phone_number"] = *patch.PhoneNumber
	}
	if patch.Role != nil {
		set["role"] = string(*patch.Role)
	}
	if patch.IsVerified != nil {
		set["is_verified"] = *patch.IsVerified
	}

	update := bson.M{}
	switch {
	case patch.ClearVerification:
		update["$unset"] = bson.M{"verification": ""}
	case patch.Verification != nil:
		set["verification"] = *patch.Verification
	}
	update["$set"] = set
	return filter, update
}
