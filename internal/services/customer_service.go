package services

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mhol1961/waggin-meals-sub004/internal/db"
	"github.com/mhol1961/waggin-meals-sub004/internal/models"
	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

// ICustomerService defines the interface for customer lookups. The billing
// engine only ever reads customers, for notification addressing.
type ICustomerService interface {
	FindByID(ctx context.Context, id utils.SixID) (*models.Customer, error)
}

// customerService implements ICustomerService.
type customerService struct {
	db *mongo.Database
}

// NewCustomerService creates a new CustomerService.
func NewCustomerService(database *mongo.Database) ICustomerService {
	return &customerService{db: database}
}

func (s *customerService) FindByID(ctx context.Context, id utils.SixID) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.Collection(db.CollCustomers).FindOne(ctx, bson.M{"_id": id}).Decode(&customer)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("customer %s not found", id)
		}
		return nil, fmt.Errorf("error finding customer: %w", err)
	}
	return &customer, nil
}
