package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "reconciliations"

type MongoJournal struct {
	collection *mongo.Collection
}

func NewMongoJournal(db *mongo.Database) *MongoJournal {
	return &MongoJournal{collection: db.Collection(collectionName)}
}

func (m *MongoJournal) CreateIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "checkout_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoJournal) Record(ctx context.Context, e Escalation) error {
	now := time.Now().UTC()
	filter := bson.M{"checkout_id": e.CheckoutID}
	update := bson.M{
		"$set": bson.M{
			"user_id":      e.UserID,
			"charge_id":    e.ChargeID,
			"amount_minor": e.AmountMinor,
			"currency":     e.Currency,
			"reason":       e.Reason,
			"status":       StatusOpen,
			"updated_at":   now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}

	_, err := m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to record escalation: %w", err)
	}
	return nil
}

// Backfill inserts e unless the checkout is already journaled, so a replayed
// event never reopens a resolved escalation. It reports whether e was inserted.
func (m *MongoJournal) Backfill(ctx context.Context, e Escalation) (bool, error) {
	now := time.Now().UTC()
	filter := bson.M{"checkout_id": e.CheckoutID}
	update := bson.M{"$setOnInsert": bson.M{
		"checkout_id":  e.CheckoutID,
		"user_id":      e.UserID,
		"charge_id":    e.ChargeID,
		"amount_minor": e.AmountMinor,
		"currency":     e.Currency,
		"reason":       e.Reason,
		"status":       StatusOpen,
		"created_at":   now,
		"updated_at":   now,
	}}

	res, err := m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("failed to backfill escalation: %w", err)
	}
	return res.UpsertedCount > 0, nil
}

func (m *MongoJournal) ListOpen(ctx context.Context) ([]Escalation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := m.collection.Find(ctx, bson.M{"status": StatusOpen}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	defer cursor.Close(ctx)

	var out []Escalation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode escalations: %w", err)
	}
	return out, nil
}

func (m *MongoJournal) Resolve(ctx context.Context, checkoutID, note string) error {
	filter := bson.M{"checkout_id": checkoutID}
	update := bson.M{"$set": bson.M{
		"status":     StatusResolved,
		"note":       note,
		"updated_at": time.Now().UTC(),
	}}

	res, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to resolve escalation: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrEscalationNotFound
	}
	return nil
}
