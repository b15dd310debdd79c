package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names used by the billing engine.
const (
	CollSubscriptions  = "subscriptions"
	CollInvoices       = "subscription_invoices"
	CollHistory        = "subscription_history"
	CollOrders         = "orders"
	CollCustomers      = "customers"
	CollPaymentMethods = "payment_methods"
	CollEmailTemplates = "email_templates"
)

// IdxUniqueSubscriptionCycle is the unique index enforcing one invoice per
// subscription per billing cycle. Its name appears in duplicate key error
// messages, which callers use to tell a cycle collision from an _id collision.
const IdxUniqueSubscriptionCycle = "uniq_subscription_cycle"

// ConnectDB initializes and returns a MongoDB client and database instance.
func ConnectDB(uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the primary node
	ctxPing, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		// Disconnect if ping fails
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	fmt.Println("Successfully connected to MongoDB!")

	return client, db, nil
}

// DisconnectDB closes the MongoDB client connection.
func DisconnectDB(client *mongo.Client) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect MongoDB: %w", err)
	}
	fmt.Println("MongoDB connection closed.")
	return nil
}

// EnsureIndexes creates the indexes the billing selection queries and the
// idempotency constraint depend on. Safe to call on every startup.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	// One invoice per subscription per billing cycle. This is the store-level
	// idempotency constraint; the executor's pre-check is the fast path only.
	_, err := database.Collection(CollInvoices).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "subscription_id", Value: 1}, {Key: "billing_date", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(IdxUniqueSubscriptionCycle),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "next_retry_at", Value: 1}},
			Options: options.Index().SetName("retry_selection"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create invoice indexes: %w", err)
	}

	_, err = database.Collection(CollSubscriptions).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}, {Key: "next_billing_date", Value: 1}},
		Options: options.Index().SetName("due_selection"),
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription index: %w", err)
	}

	_, err = database.Collection(CollHistory).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "subscription_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("history_by_subscription"),
	})
	if err != nil {
		return fmt.Errorf("failed to create history index: %w", err)
	}

	_, err = database.Collection(CollEmailTemplates).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "template_id", Value: 1}, {Key: "locale", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_template_locale"),
	})
	if err != nil {
		return fmt.Errorf("failed to create email template index: %w", err)
	}

	return nil
}
