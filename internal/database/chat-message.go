package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matheus-giordani/emme7-bot/entity"
)

// UpsertChat returns the session for phone and instance, creating it on
// first contact and moving last_interacted_at forward otherwise.
func (m *MongoDB) UpsertChat(ctx context.Context, phone, instance string, at time.Time) (*entity.ChatSession, error) {
	collection := m.collection(chatsCollection)
	fresh := entity.NewChatSession(phone, instance, at)

	filter := bson.D{{Key: "phone", Value: phone}, {Key: "instance", Value: instance}}
	update := bson.D{
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "_id", Value: fresh.ID},
			{Key: "created_at", Value: fresh.CreatedAt},
		}},
		{Key: "$max", Value: bson.D{{Key: "last_interacted_at", Value: at}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var chat entity.ChatSession
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&chat)
	if mongo.IsDuplicateKeyError(err) {
		// lost an insert race, the other writer's document is there now
		err = collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&chat)
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb upsert chat: %w", err)
	}
	return &chat, nil
}

func (m *MongoDB) GetChat(ctx context.Context, id string) (*entity.ChatSession, error) {
	var chat entity.ChatSession
	err := m.collection(chatsCollection).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&chat)
	if err != nil {
		return nil, m.findError(err)
	}
	return &chat, nil
}

// AppendMessage reports false when the dedup key is already stored.
func (m *MongoDB) AppendMessage(ctx context.Context, msg *entity.ChatMessage) (bool, error) {
	_, err := m.collection(messagesCollection).InsertOne(ctx, msg)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mongodb insert chat message: %w", err)
	}
	return true, nil
}

// ListMessages returns the last limit messages of a chat, oldest first.
func (m *MongoDB) ListMessages(ctx context.Context, chatID string, limit int) ([]entity.ChatMessage, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := m.collection(messagesCollection).Find(ctx, bson.D{{Key: "chat_id", Value: chatID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find chat messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []entity.ChatMessage
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("mongodb decode chat messages: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (m *MongoDB) LastMessageBy(ctx context.Context, chatID, sender string) (*entity.ChatMessage, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var msg entity.ChatMessage
	err := m.collection(messagesCollection).
		FindOne(ctx, bson.D{{Key: "chat_id", Value: chatID}, {Key: "sender", Value: sender}}, opts).
		Decode(&msg)
	if err != nil {
		return nil, m.findError(err)
	}
	return &msg, nil
}

func (m *MongoDB) GetMessageByKey(ctx context.Context, chatID, dedupKey string) (*entity.ChatMessage, error) {
	var msg entity.ChatMessage
	err := m.collection(messagesCollection).
		FindOne(ctx, bson.D{{Key: "chat_id", Value: chatID}, {Key: "dedup_key", Value: dedupKey}}).
		Decode(&msg)
	if err != nil {
		return nil, m.findError(err)
	}
	return &msg, nil
}
