package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaEmbedded(t *testing.T) {
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS vouchers")
	assert.Contains(t, schema, "vouchers_code_key")
	assert.Contains(t, schema, "offer_inventory")
}
