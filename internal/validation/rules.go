package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/temcen/productimporter/internal/apperrors"
	"github.com/temcen/productimporter/internal/config"
	"github.com/temcen/productimporter/pkg/models"
)

// Rules applies the field constraints shared by the product API, the webhook
// API and the CSV importer.
type Rules struct {
	validate *validator.Validate
	importer config.ImporterConfig
	webhooks config.WebhookConfig
}

func NewRules(importer config.ImporterConfig, webhooks config.WebhookConfig) *Rules {
	return &Rules{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		importer: importer,
		webhooks: webhooks,
	}
}

// NormalizeSKU trims and lower-cases a SKU.
func NormalizeSKU(sku string) string {
	// cases.Caser is stateful, one per call
	return cases.Lower(language.Und).String(strings.TrimSpace(sku))
}

// Product validates API input and returns it normalized. Over-long
// descriptions are rejected here; the importer truncates them instead.
func (r *Rules) Product(in models.ProductInput) (models.ProductInput, error) {
	out := models.ProductInput{
		SKU:  NormalizeSKU(in.SKU),
		Name: strings.TrimSpace(in.Name),
	}
	if in.Description != nil {
		desc := strings.TrimSpace(*in.Description)
		if desc != "" {
			out.Description = &desc
		}
	}

	fields := make(map[string]string)
	r.check(fields, "sku", "SKU", out.SKU, true, r.importer.SKUMaxLength)
	r.check(fields, "name", "Name", out.Name, true, r.importer.NameMaxLength)
	if out.Description != nil {
		r.check(fields, "description", "Description", *out.Description, false, r.importer.DescriptionMaxLength)
	}

	if len(fields) > 0 {
		return out, apperrors.NewFieldValidation(fields)
	}
	return out, nil
}

// Webhook validates subscription input and returns it normalized.
func (r *Rules) Webhook(in models.WebhookInput) (models.WebhookInput, error) {
	out := in
	out.URL = strings.TrimSpace(in.URL)
	out.EventType = strings.TrimSpace(in.EventType)
	if in.Secret != nil {
		secret := strings.TrimSpace(*in.Secret)
		out.Secret = nil
		if secret != "" {
			out.Secret = &secret
		}
	}

	fields := make(map[string]string)
	if r.check(fields, "url", "URL", out.URL, true, r.webhooks.URLMaxLength) {
		if r.validate.Var(out.URL, "http_url") != nil {
			fields["url"] = "Enter a valid URL."
		}
	}

	switch {
	case out.EventType == "":
		fields["event_type"] = "Event type is required"
	case r.validate.Var(out.EventType, "oneof="+eventTypeList()) != nil:
		fields["event_type"] = fmt.Sprintf("\"%s\" is not a valid choice.", out.EventType)
	}

	if out.Secret != nil {
		r.check(fields, "secret", "Secret", *out.Secret, false, r.webhooks.SecretMaxLength)
	}

	if len(fields) > 0 {
		return out, apperrors.NewFieldValidation(fields)
	}
	return out, nil
}

// ImportRow is a CSV row after trimming and normalization.
type ImportRow struct {
	SKU         string
	Name        string
	Description *string
}

// Row normalizes one CSV row. A non-empty reason means the row is rejected.
func (r *Rules) Row(sku, name, description string) (ImportRow, string) {
	row := ImportRow{
		SKU:  NormalizeSKU(sku),
		Name: strings.TrimSpace(name),
	}

	switch {
	case row.SKU == "":
		return row, "SKU is required"
	case row.Name == "":
		return row, "Name is required"
	case r.tooLong(row.SKU, r.importer.SKUMaxLength):
		return row, fmt.Sprintf("SKU exceeds %d characters", r.importer.SKUMaxLength)
	case r.tooLong(row.Name, r.importer.NameMaxLength):
		return row, fmt.Sprintf("Name exceeds %d characters", r.importer.NameMaxLength)
	}

	desc := strings.TrimSpace(description)
	if desc != "" {
		desc = Truncate(desc, r.importer.DescriptionMaxLength)
		row.Description = &desc
	}
	return row, ""
}

// check records the first failing constraint for field and reports whether
// the value passed.
func (r *Rules) check(fields map[string]string, field, label, value string, required bool, limit int) bool {
	if required && r.validate.Var(value, "required") != nil {
		fields[field] = label + " is required"
		return false
	}
	if r.tooLong(value, limit) {
		fields[field] = fmt.Sprintf("%s must be at most %d characters", label, limit)
		return false
	}
	return true
}

// tooLong compares in characters, the validator's max tag counts runes.
func (r *Rules) tooLong(value string, limit int) bool {
	if limit <= 0 {
		return false
	}
	return r.validate.Var(value, fmt.Sprintf("max=%d", limit)) != nil
}

// Truncate cuts s to at most limit characters.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

func eventTypeList() string {
	names := make([]string, 0, len(models.EventTypes))
	for _, et := range models.EventTypes {
		names = append(names, string(et))
	}
	return strings.Join(names, " ")
}
