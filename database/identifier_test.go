package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"orders", "_private", "res_partner", "Mixed_Case", "col$1", "a"}
	for _, name := range valid {
		assert.NoError(t, ValidateIdentifier(name), name)
	}

	invalid := []string{
		"",
		"1table",
		"orders; DROP TABLE users",
		`orders"`,
		"orders--",
		"public.orders",
		"white space",
		"ünïcode",
		"a/*b*/",
		"x'y",
		string(make([]byte, 64)),
		"abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyzabcdefghijkl",
	}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateIdentifier(name), ErrInvalidIdentifier, name)
	}
}

func TestValidateLiteral(t *testing.T) {
	for _, v := range []string{"account_accountant", "account.asset", "web-enterprise", "mrp_plm.2", "to upgrade"} {
		assert.NoError(t, ValidateLiteral(v), v)
	}
	for _, v := range []string{"", "x'; DELETE FROM y; --", " leading", ".hidden", "name%", "semi;colon"} {
		assert.ErrorIs(t, ValidateLiteral(v), ErrInvalidLiteral, v)
	}
}

func TestAllowlist(t *testing.T) {
	a := NewAllowlist("orders", "order_lines", "bad name")

	assert.True(t, a.Contains("orders"))
	assert.False(t, a.Contains("bad name"), "invalid identifiers are never allowed")
	assert.NoError(t, a.Check("order_lines"))
	assert.ErrorIs(t, a.Check("customers"), ErrInvalidIdentifier)
	assert.ErrorIs(t, a.Check("orders;"), ErrInvalidIdentifier)
	assert.Equal(t, []string{"order_lines", "orders"}, a.Names())

	var nilList *Allowlist
	assert.False(t, nilList.Contains("orders"))
}
