package standby

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// lockDocument is the distributed lock document stored in MongoDB.
type lockDocument struct {
	ID         string    `bson:"_id"`
	InstanceID string    `bson:"instanceId"`
	AcquiredAt time.Time `bson:"acquiredAt"`
	ExpiresAt  time.Time `bson:"expiresAt"`
}

// MongoLockProvider implements LockProvider using a TTL-indexed collection
// instead of row locks, so it is safe for single-leader coordination even
// when the outbox collection itself is never locked.
type MongoLockProvider struct {
	collection *mongo.Collection
}

// NewMongoLockProvider creates a lock provider backed by the given database's
// "leader_locks" collection. It ensures a TTL index on expiresAt exists so
// abandoned locks are cleaned up by MongoDB even if no instance ever calls
// Release.
func NewMongoLockProvider(ctx context.Context, db *mongo.Database) (*MongoLockProvider, error) {
	collection := db.Collection("leader_locks")

	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().
			SetExpireAfterSeconds(0).
			SetName("ttl_expiresAt"),
	}

	if _, err := collection.Indexes().CreateOne(ctx, indexModel); err != nil {
		slog.Debug("could not create leader lock TTL index (may already exist)", "error", err)
	}

	return &MongoLockProvider{collection: collection}, nil
}

// TryAcquire attempts to atomically create or take over an expired lock
// document for key, recording instanceID as the holder.
func (p *MongoLockProvider) TryAcquire(ctx context.Context, key, instanceID string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	filter := bson.M{
		"_id": key,
		"$or": []bson.M{
			{"expiresAt": bson.M{"$lt": now}},
			{"instanceId": instanceID},
		},
	}

	update := bson.M{
		"$set": bson.M{
			"instanceId": instanceID,
			"acquiredAt": now,
			"expiresAt":  expiresAt,
		},
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var result lockDocument
	err := p.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&result)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		if err == mongo.ErrNoDocuments {
			// Another instance's upsert raced ahead of ours between the
			// filter check and the write; treat it the same as losing
			// the race for a plain insert.
			doc := lockDocument{ID: key, InstanceID: instanceID, AcquiredAt: now, ExpiresAt: expiresAt}
			if _, insertErr := p.collection.InsertOne(ctx, doc); insertErr != nil {
				if mongo.IsDuplicateKeyError(insertErr) {
					return false, nil
				}
				return false, insertErr
			}
			return true, nil
		}
		return false, err
	}

	return result.InstanceID == instanceID, nil
}

// Refresh extends the lock's expiry if instanceID still owns it.
func (p *MongoLockProvider) Refresh(ctx context.Context, key, instanceID string, ttl time.Duration) (bool, error) {
	filter := bson.M{"_id": key, "instanceId": instanceID}
	update := bson.M{"$set": bson.M{"expiresAt": time.Now().Add(ttl)}}

	result, err := p.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return result.MatchedCount > 0, nil
}

// Release deletes the lock document if instanceID still owns it.
func (p *MongoLockProvider) Release(ctx context.Context, key, instanceID string) error {
	filter := bson.M{"_id": key, "instanceId": instanceID}
	_, err := p.collection.DeleteOne(ctx, filter)
	return err
}

// GetHolder returns the instance ID currently holding an unexpired lock, or
// "" if the lock is free.
func (p *MongoLockProvider) GetHolder(ctx context.Context, key string) (string, error) {
	filter := bson.M{"_id": key, "expiresAt": bson.M{"$gt": time.Now()}}

	var doc lockDocument
	err := p.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "", nil
		}
		return "", err
	}
	return doc.InstanceID, nil
}

// IsAvailable pings the collection's database to confirm MongoDB is reachable.
func (p *MongoLockProvider) IsAvailable(ctx context.Context) bool {
	return p.collection.Database().Client().Ping(ctx, nil) == nil
}

// Close is a no-op; the underlying *mongo.Client is owned by the caller.
func (p *MongoLockProvider) Close() error {
	return nil
}
