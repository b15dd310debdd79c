package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mhol1961/waggin-meals-sub004/internal/db"
	"github.com/mhol1961/waggin-meals-sub004/internal/models"
)

// IHistoryService defines the interface for the subscription audit trail.
type IHistoryService interface {
	Append(ctx context.Context, entry *models.HistoryEntry) error
}

// historyService implements IHistoryService. History is append-only: there
// are no update or delete operations on this collection anywhere.
type historyService struct {
	db *mongo.Database
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(database *mongo.Database) IHistoryService {
	return &historyService{db: database}
}

func (s *historyService) Append(ctx context.Context, entry *models.HistoryEntry) error {
	if entry.ActorType == "" {
		entry.ActorType = "system"
	}
	entry.CreatedAt = time.Now().UTC()

	err := db.Try(func() error {
		entry.GenID()
		_, insertErr := s.db.Collection(db.CollHistory).InsertOne(ctx, entry)
		return insertErr
	})
	if err != nil {
		return fmt.Errorf("error appending history entry: %w", err)
	}
	return nil
}
