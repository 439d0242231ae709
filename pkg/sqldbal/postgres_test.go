package sqldbal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHexBytea(t *testing.T) {
	data, err := decodeHexBytea(`\xdeadbeef`)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data)

	data, err = decodeHexBytea(`\x`)
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = decodeHexBytea("deadbeef")
	assert.Error(t, err, "missing \\x prefix must fail")

	_, err = decodeHexBytea(`\xdead beef`)
	assert.Error(t, err, "embedded space is not valid hex")

	_, err = decodeHexBytea(`\xabc`)
	assert.Error(t, err, "odd-length hex must fail")

	_, err = decodeHexBytea(`\xzz`)
	assert.Error(t, err, "non-hex characters must fail")
}

func TestPGLiteralRendering(t *testing.T) {
	assert.Equal(t, "NULL", pgLiteral(boundParam{kind: paramNull}))
	assert.Equal(t, "42", pgLiteral(boundParam{kind: paramInt64, i64: 42}))
	assert.Equal(t, "-7", pgLiteral(boundParam{kind: paramInt64, i64: -7}))
	assert.Equal(t, `'it''s'`, pgLiteral(boundParam{kind: paramText, text: "it's"}))
	assert.Equal(t, `E'\\xdeadbeef'`, pgLiteral(boundParam{kind: paramBlob, blob: []byte{0xde, 0xad, 0xbe, 0xef}}))
}

func TestCountDollarPlaceholders(t *testing.T) {
	assert.Equal(t, 0, countDollarPlaceholders("SELECT 1"))
	assert.Equal(t, 2, countDollarPlaceholders("INSERT INTO t (a, b) VALUES ($1, $2)"))
	assert.Equal(t, 3, countDollarPlaceholders("UPDATE t SET a = $3, b = $1 WHERE c = $2"))
}

func TestQuotePGValue(t *testing.T) {
	assert.Equal(t, "plain", quotePGValue("plain"))
	assert.Equal(t, `'has space'`, quotePGValue("has space"))
	assert.Equal(t, `'it\'s'`, quotePGValue("it's"))
}

func TestBuildPostgresConnString(t *testing.T) {
	s, err := buildPostgresConnString("db.example.com", "5432", "widgets", "alice", "secret", "", "", "", "", "require")
	require.NoError(t, err)
	assert.Contains(t, s, "host=db.example.com")
	assert.Contains(t, s, "dbname=widgets")
	assert.Contains(t, s, "sslmode=require")
	assert.NotContains(t, s, "sslkey=")
}
