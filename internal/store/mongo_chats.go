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

// MongoChats is the Mongo-backed ChatStore over the chats and
// chat_participants collections.
type MongoChats struct {
	chats        *mongo.Collection
	participants *mongo.Collection
	messages     *mongo.Collection
}

func NewMongoChats(db *mongo.Database) *MongoChats {
	r := &MongoChats{
		chats:        db.Collection("chats"),
		participants: db.Collection("chat_participants"),
		messages:     db.Collection("messages"),
	}
	_, _ = r.participants.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	_, _ = r.participants.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	return r
}

func (r *MongoChats) GetOrCreateDirect(ctx context.Context, userA, userB string) (*domain.Chat, error) {
	if userA == "" || userB == "" {
		return nil, syncerr.Validationf("both user ids required")
	}
	if userA == userB {
		return nil, syncerr.Validationf("cannot create chat with yourself")
	}
	id := domain.DirectChatID(userA, userB)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// setOnInsert makes a concurrent create race resolve to the same row
	doc := bson.M{
		"_id":        id,
		"is_group":   false,
		"created_by": userA,
		"created_at": time.Now().UTC(),
	}
	if _, err := r.chats.UpdateByID(ctx, id,
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	); err != nil {
		return nil, syncerr.Transport(err)
	}

	for userID, role := range map[string]domain.Role{userA: domain.RoleAdmin, userB: domain.RoleMember} {
		_, err := r.participants.UpdateOne(ctx,
			bson.M{"chat_id": id, "user_id": userID},
			bson.M{"$setOnInsert": bson.M{"chat_id": id, "user_id": userID, "role": role}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return nil, syncerr.Transport(err)
		}
	}
	return r.Get(ctx, id)
}

func (r *MongoChats) Get(ctx context.Context, chatID string) (*domain.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	var c domain.Chat
	if err := r.chats.FindOne(ctx, bson.M{"_id": chatID}).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, syncerr.ErrNotFound
		}
		return nil, syncerr.Transport(err)
	}
	return &c, nil
}

func (r *MongoChats) ChatsFor(ctx context.Context, userID string) ([]*domain.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cur, err := r.participants.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, syncerr.Transport(err)
	}
	var chatIDs []string
	for cur.Next(ctx) {
		var p domain.Participant
		if err := cur.Decode(&p); err != nil {
			cur.Close(ctx)
			return nil, syncerr.Transport(err)
		}
		chatIDs = append(chatIDs, p.ChatID)
	}
	cur.Close(ctx)
	if len(chatIDs) == 0 {
		return nil, nil
	}

	ccur, err := r.chats.Find(ctx, bson.M{"_id": bson.M{"$in": chatIDs}})
	if err != nil {
		return nil, syncerr.Transport(err)
	}
	defer ccur.Close(ctx)
	var out []*domain.Chat
	for ccur.Next(ctx) {
		var c domain.Chat
		if err := ccur.Decode(&c); err != nil {
			return nil, syncerr.Transport(err)
		}
		out = append(out, &c)
	}
	return out, syncerr.Transport(ccur.Err())
}

func (r *MongoChats) Participants(ctx context.Context, chatID string) ([]domain.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	cur, err := r.participants.Find(ctx, bson.M{"chat_id": chatID})
	if err != nil {
		return nil, syncerr.Transport(err)
	}
	defer cur.Close(ctx)
	var out []domain.Participant
	for cur.Next(ctx) {
		var p domain.Participant
		if err := cur.Decode(&p); err != nil {
			return nil, syncerr.Transport(err)
		}
		out = append(out, p)
	}
	return out, syncerr.Transport(cur.Err())
}

func (r *MongoChats) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := r.participants.CountDocuments(ctx, bson.M{"chat_id": chatID, "user_id": userID})
	if err != nil {
		return false, syncerr.Transport(err)
	}
	return n > 0, nil
}

func (r *MongoChats) Cursor(ctx context.Context, chatID, userID string) (*domain.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	var p domain.Participant
	err := r.participants.FindOne(ctx, bson.M{"chat_id": chatID, "user_id": userID}).Decode(&p)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, syncerr.ErrNotFound
		}
		return nil, syncerr.Transport(err)
	}
	return &p, nil
}

func (r *MongoChats) AdvanceCursor(ctx context.Context, chatID, userID, messageID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var wm domain.Message
	if err := r.messages.FindOne(ctx, bson.M{"_id": messageID, "chat_id": chatID}).Decode(&wm); err != nil {
		if err == mongo.ErrNoDocuments {
			return syncerr.ErrNotFound
		}
		return syncerr.Transport(err)
	}

	var cur domain.Participant
	if err := r.participants.FindOne(ctx, bson.M{"chat_id": chatID, "user_id": userID}).Decode(&cur); err != nil {
		if err == mongo.ErrNoDocuments {
			return syncerr.ErrNotFound
		}
		return syncerr.Transport(err)
	}

	// advance only; a stale watermark never moves the cursor backwards.
	// Writers for one (chat, user) pair are serialized through the
	// read-receipt batcher, so read-compare-write is race-free here.
	if cur.LastReadMessageID != "" {
		var prev domain.Message
		err := r.messages.FindOne(ctx, bson.M{"_id": cur.LastReadMessageID}).Decode(&prev)
		if err == nil && !prev.Before(&wm) {
			return nil
		}
	}

	_, err := r.participants.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "user_id": userID},
		bson.M{"$set": bson.M{"last_read_message_id": messageID, "last_read_at": at}},
	)
	return syncerr.Transport(err)
}

func (r *MongoChats) UpdateSummary(ctx context.Context, chatID, preview string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := r.chats.UpdateByID(ctx, chatID,
		bson.M{"$set": bson.M{"last_message": preview, "last_message_time": at}},
	)
	return syncerr.Transport(err)
}
