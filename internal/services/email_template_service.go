package services

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mhol1961/waggin-meals-sub004/internal/db"
	"github.com/mhol1961/waggin-meals-sub004/internal/models"
)

// Default email templates used as fallback when not found in database
var defaultEmailTemplates = map[string]models.EmailTemplate{
	"payment_success": {
		TemplateID: "payment_success",
		Locale:     "en-US",
		Subject:    "Your Waggin Meals order is on its way!",
		Body:       "Hi {{.first_name}}, we've processed your subscription payment of ${{.amount}} (ref {{.transaction_id}}) and your order {{.order_number}} is being prepared.",
	},
	"payment_retry_scheduled": {
		TemplateID: "payment_retry_scheduled",
		Locale:     "en-US",
		Subject:    "Payment issue with your Waggin Meals subscription",
		Body:       "Hi {{.first_name}}, we couldn't process your payment of ${{.amount}} ({{.reason}}). We'll automatically retry on {{.next_retry_date}}. Please update your card if needed.",
	},
	"subscription_cancelled": {
		TemplateID: "subscription_cancelled",
		Locale:     "en-US",
		Subject:    "Your Waggin Meals subscription has been cancelled",
		Body:       "Hi {{.first_name}}, after {{.total_attempts}} failed payment attempts we've had to cancel your subscription. You can restart it any time from your account.",
	},
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
}

// EmailTemplateService handles operations related to email templates
type EmailTemplateService struct {
	db *mongo.Database
}

// NewEmailTemplateService creates a new instance of EmailTemplateService
func NewEmailTemplateService(database *mongo.Database) *EmailTemplateService {
	return &EmailTemplateService{
		db: database,
	}
}

// GetTemplate retrieves an email template by ID and locale
func (s *EmailTemplateService) GetTemplate(ctx context.Context, templateID string, locale string) (*models.EmailTemplate, error) {
	collection := s.db.Collection(db.CollEmailTemplates)
	filter := bson.M{
		"template_id": templateID,
		"locale":      locale,
	}

	var template models.EmailTemplate
	err := collection.FindOne(ctx, filter).Decode(&template)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			// If template not found in DB, try to get from defaults
			if defaultTemplate, ok := defaultEmailTemplates[templateID]; ok {
				return &defaultTemplate, nil
			}
			return nil, fmt.Errorf("template not found: %s (locale: %s)", templateID, locale)
		}
		return nil, fmt.Errorf("error retrieving template: %w", err)
	}

	return &template, nil
}
