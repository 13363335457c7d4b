package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/synsocial/chatsync/internal/domain"
	"github.com/synsocial/chatsync/internal/syncerr"
)

const opTimeout = 3 * time.Second

// MongoMessages is the Mongo-backed MessageStore over the messages
// collection.
type MongoMessages struct {
	coll *mongo.Collection
}

func NewMongoMessages(db *mongo.Database) *MongoMessages {
	r := &MongoMessages{coll: db.Collection("messages")}
	_, _ = r.coll.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
	})
	return r
}

func (r *MongoMessages) Insert(ctx context.Context, m *domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": m.ID},
		bson.M{"$setOnInsert": m},
		options.Update().SetUpsert(true),
	)
	return syncerr.Transport(err)
}

func (r *MongoMessages) Get(ctx context.Context, id string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	var m domain.Message
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, syncerr.ErrNotFound
		}
		return nil, syncerr.Transport(err)
	}
	return &m, nil
}

func (r *MongoMessages) ListForViewer(ctx context.Context, chatID, viewerID string, limit int64, before time.Time) ([]*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"chat_id":           chatID,
		"deleted_for_users": bson.M{"$ne": viewerID},
	}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	// newest first then reversed, so limit trims the oldest
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, syncerr.Transport(err)
	}
	defer cur.Close(ctx)

	var out []*domain.Message
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, syncerr.Transport(err)
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, syncerr.Transport(err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *MongoMessages) Since(ctx context.Context, chatID string, since time.Time) ([]*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	filter := bson.M{"chat_id": chatID, "created_at": bson.M{"$gt": since}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, syncerr.Transport(err)
	}
	defer cur.Close(ctx)
	var out []*domain.Message
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, syncerr.Transport(err)
		}
		out = append(out, &m)
	}
	return out, syncerr.Transport(cur.Err())
}

func (r *MongoMessages) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "state": bson.M{"$lt": domain.StateDelivered}},
		bson.M{"$set": bson.M{"state": domain.StateDelivered, "delivered_at": at}},
	)
	return syncerr.Transport(err)
}

func (r *MongoMessages) MarkReadThrough(ctx context.Context, chatID, readerID, watermarkID string, at time.Time) (int, error) {
	wm, err := r.Get(ctx, watermarkID)
	if err != nil {
		return 0, err
	}
	if wm.ChatID != chatID {
		return 0, syncerr.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"chat_id":   chatID,
		"sender_id": bson.M{"$ne": readerID},
		"state":     bson.M{"$lt": domain.StateRead},
		"$or": []bson.M{
			{"created_at": bson.M{"$lt": wm.CreatedAt}},
			{"created_at": wm.CreatedAt, "_id": bson.M{"$lte": wm.ID}},
		},
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"state":        domain.StateRead,
			"read_at":      at,
			"delivered_at": bson.M{"$ifNull": bson.A{"$delivered_at", at}},
		}}},
	}
	res, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, syncerr.Transport(err)
	}
	return int(res.ModifiedCount), nil
}

func (r *MongoMessages) ApplyEdit(ctx context.Context, id, newContent string, snap domain.EditSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set": bson.M{
				"content":   newContent,
				"is_edited": true,
				"edited_at": snap.EditedAt,
			},
			"$push": bson.M{
				"edit_history": bson.M{
					"$each":  bson.A{snap},
					"$slice": -domain.MaxEditHistory,
				},
			},
		},
	)
	if err != nil {
		return syncerr.Transport(err)
	}
	if res.MatchedCount == 0 {
		return syncerr.ErrNotFound
	}
	return nil
}

func (r *MongoMessages) TombstoneFor(ctx context.Context, id, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"deleted_for_users": userID}},
	)
	if err != nil {
		return syncerr.Transport(err)
	}
	if res.MatchedCount == 0 {
		return syncerr.ErrNotFound
	}
	return nil
}

func (r *MongoMessages) DeleteForEveryone(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set":   bson.M{"is_deleted_for_everyone": true, "content": domain.DeletedPlaceholder},
			"$unset": bson.M{"media": ""},
		},
	)
	if err != nil {
		return syncerr.Transport(err)
	}
	if res.MatchedCount == 0 {
		return syncerr.ErrNotFound
	}
	return nil
}

func (r *MongoMessages) LastVisible(ctx context.Context, chatID, viewerID string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	filter := bson.M{"chat_id": chatID, "deleted_for_users": bson.M{"$ne": viewerID}}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var m domain.Message
	if err := r.coll.FindOne(ctx, filter, opts).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, syncerr.ErrNotFound
		}
		return nil, syncerr.Transport(err)
	}
	return &m, nil
}

func (r *MongoMessages) CountUnread(ctx context.Context, chatID, viewerID string, after time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := r.coll.CountDocuments(ctx, bson.M{
		"chat_id":           chatID,
		"sender_id":         bson.M{"$ne": viewerID},
		"deleted_for_users": bson.M{"$ne": viewerID},
		"created_at":        bson.M{"$gt": after},
	})
	if err != nil {
		return 0, syncerr.Transport(err)
	}
	return int(n), nil
}
