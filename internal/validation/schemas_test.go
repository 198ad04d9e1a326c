package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidator_Embedded(t *testing.T) {
	sv := NewSchemaValidator()
	require.NoError(t, sv.LoadEmbedded())
	assert.True(t, sv.SchemaExists(SchemaProduct))
	assert.True(t, sv.SchemaExists(SchemaWebhook))

	result := sv.ValidateJSON(SchemaProduct, []byte(`{"sku":"a","name":"b","description":null}`))
	assert.True(t, result.Valid)

	result = sv.ValidateJSON(SchemaProduct, []byte(`{"sku":123,"name":"b"}`))
	assert.False(t, result.Valid)
	assert.Contains(t, result.FieldErrors(), "sku")

	result = sv.ValidateJSON(SchemaWebhook, []byte(`{"url":"https://x","event_type":"import.failed","enabled":"yes"}`))
	assert.True(t, result.Valid)

	result = sv.ValidateJSON(SchemaWebhook, []byte(`[]`))
	assert.False(t, result.Valid)
}

func TestSchemaValidator_UnknownSchema(t *testing.T) {
	sv := NewSchemaValidator()
	result := sv.ValidateJSON("missing", []byte(`{}`))
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "SCHEMA_NOT_FOUND", result.Errors[0].Code)
}
