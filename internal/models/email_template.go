package models

// EmailTemplate defines the structure for notification email templates stored in the DB.
// When no row exists for a template_id/locale the dispatcher falls back to
// compiled-in defaults.
type EmailTemplate struct {
	Base       `bson:",inline"`
	TemplateID string `bson:"template_id" json:"template_id"` // e.g., "payment_success", "payment_retry_scheduled"
	Locale     string `bson:"locale" json:"locale"`           // e.g., "en-US"
	Subject    string `bson:"subject" json:"subject"`         // Subject template
	Body       string `bson:"body" json:"body"`               // Body template (plain text)
}
