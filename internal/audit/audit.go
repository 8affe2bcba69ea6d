package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/nimasrn/anchor-platform/internal/model"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	OutcomeDelivered = "delivered"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Entry is one delivered (or abandoned) event. The event id is the document
// id, so recording the same event twice keeps the first entry.
type Entry struct {
	EventID       string    `bson:"_id"`
	Type          string    `bson:"type"`
	TransactionID string    `bson:"transaction_id"`
	Sep           string    `bson:"sep"`
	Status        string    `bson:"status"`
	Outcome       string    `bson:"outcome"`
	Endpoint      string    `bson:"endpoint,omitempty"`
	Error         string    `bson:"error,omitempty"`
	Attempts      int       `bson:"attempts"`
	OccurredAt    time.Time `bson:"occurred_at"`
	ProcessedAt   time.Time `bson:"processed_at"`
}

func NewEntry(event *model.TransactionEvent, outcome string) Entry {
	e := Entry{
		EventID:    event.ID,
		Type:       string(event.Type),
		Sep:        string(event.Sep),
		Outcome:    outcome,
		OccurredAt: event.Timestamp,
	}
	if event.Transaction != nil {
		e.TransactionID = event.Transaction.ID
		e.Status = string(event.Transaction.Status)
	}
	return e
}

type collection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter interface{}, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error)
}

type Repository struct {
	collection collection
	now        func() time.Time
}

func NewRepository(client *mongo.Client, database, name string) *Repository {
	return &Repository{
		collection: client.Database(database).Collection(name),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Connect opens a client and checks the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func (r *Repository) Record(ctx context.Context, entry Entry) error {
	entry.ProcessedAt = r.now()
	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ByTransaction lists the entries of one transaction, oldest first.
func (r *Repository) ByTransaction(ctx context.Context, transactionID string) ([]Entry, error) {
	cur, err := r.collection.Find(ctx, bson.D{{Key: "transaction_id", Value: transactionID}},
		options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	var out []Entry
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode audit entries: %w", err)
	}
	return out, nil
}

// NopRecorder is used when no MONGO_URI is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) error { return nil }
