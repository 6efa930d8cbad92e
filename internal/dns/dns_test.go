package dns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecords(t *testing.T) {
	records := Records("example.com", "eu-west-1", []string{"tok1", "tok2"})

	require.Len(t, records, 3)
	assert.Equal(t, Record{
		Name:  "example.com",
		Type:  "MX",
		Value: "10 inbound-smtp.eu-west-1.amazonaws.com",
	}, records[0])
	assert.Equal(t, Record{
		Name:  "tok1._domainkey.example.com",
		Type:  "CNAME",
		Value: "tok1.dkim.amazonses.com",
	}, records[1])
	assert.Equal(t, Record{
		Name:  "tok2._domainkey.example.com",
		Type:  "CNAME",
		Value: "tok2.dkim.amazonses.com",
	}, records[2])
}

func TestRecordsWithoutTokens(t *testing.T) {
	records := Records("example.com", "us-east-1", nil)

	require.Len(t, records, 1)
	assert.Equal(t, "MX", records[0].Type)
	assert.Equal(t, "10 inbound-smtp.us-east-1.amazonaws.com", records[0].Value)
}
