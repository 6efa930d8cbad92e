// Package dns derives the records a mail domain needs for SES receiving
// and DKIM signing, and applies them to a Route 53 hosted zone.
package dns

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
)

// Record is a single DNS record the mail domain needs.
type Record struct {
	Name  string
	Type  string
	Value string
}

// Records returns the records required to receive mail for the domain in
// the given region and to DKIM-sign outgoing mail with the given tokens:
// one MX record pointing at the regional inbound SMTP endpoint, and one
// CNAME per DKIM token.
func Records(domain, region string, dkimTokens []string) []Record {
	records := []Record{
		{
			Name:  domain,
			Type:  "MX",
			Value: fmt.Sprintf("10 inbound-smtp.%s.amazonaws.com", region),
		},
	}
	for _, token := range dkimTokens {
		records = append(records, Record{
			Name:  fmt.Sprintf("%s._domainkey.%s", token, domain),
			Type:  "CNAME",
			Value: fmt.Sprintf("%s.dkim.amazonses.com", token),
		})
	}
	return records
}

// Manager writes records into a Route 53 hosted zone.
type Manager struct {
	client *route53.Client
	zoneID string
}

// NewManager returns a manager for the given hosted zone.
func NewManager(client *route53.Client, zoneID string) *Manager {
	return &Manager{client: client, zoneID: zoneID}
}

// Upsert applies all records in a single change batch, replacing any
// existing records of the same name and type.
func (m *Manager) Upsert(ctx context.Context, records []Record) error {
	changes := make([]r53types.Change, 0, len(records))
	for _, record := range records {
		name := record.Name
		if !strings.HasSuffix(name, ".") {
			name += "."
		}
		changes = append(changes, r53types.Change{
			Action: r53types.ChangeActionUpsert,
			ResourceRecordSet: &r53types.ResourceRecordSet{
				Name: aws.String(name),
				Type: r53types.RRType(record.Type),
				TTL:  aws.Int64(300),
				ResourceRecords: []r53types.ResourceRecord{
					{Value: aws.String(record.Value)},
				},
			},
		})
	}

	_, err := m.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(m.zoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Changes: changes,
			Comment: aws.String("Mail receiving and DKIM records"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to change record sets: %w", err)
	}
	return nil
}
