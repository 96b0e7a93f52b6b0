package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matheus-giordani/emme7-bot/entity"
)

func (m *MongoDB) GetLeadByChat(ctx context.Context, chatID string) (*entity.CustomerLead, error) {
	var lead entity.CustomerLead
	err := m.collection(leadsCollection).FindOne(ctx, bson.D{{Key: "chat_id", Value: chatID}}).Decode(&lead)
	if err != nil {
		return nil, m.findError(err)
	}
	return &lead, nil
}

// CreateLead reports false when the chat already has a lead.
func (m *MongoDB) CreateLead(ctx context.Context, lead *entity.CustomerLead) (bool, error) {
	_, err := m.collection(leadsCollection).InsertOne(ctx, lead)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mongodb insert lead: %w", err)
	}
	return true, nil
}

func (m *MongoDB) ListLeads(ctx context.Context, limit, offset int) ([]entity.CustomerLead, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := m.collection(leadsCollection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find leads: %w", err)
	}
	defer cursor.Close(ctx)

	leads := make([]entity.CustomerLead, 0)
	if err = cursor.All(ctx, &leads); err != nil {
		return nil, fmt.Errorf("mongodb decode leads: %w", err)
	}
	return leads, nil
}
