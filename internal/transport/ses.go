package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SES sends mail through Amazon SES v2 and reads the account's verified
// identities.
type SES struct {
	client *sesv2.Client
}

// NewSES returns a transport backed by the given SES client.
func NewSES(client *sesv2.Client) *SES {
	return &SES{client: client}
}

// Send submits a raw message. SES rewrites nothing: the message goes out
// with exactly the headers it carries here.
func (s *SES) Send(ctx context.Context, source string, destinations []string, raw []byte) error {
	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(source),
		Destination: &types.Destination{
			ToAddresses: destinations,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// VerifiedSenders lists the email-address identities of the account that
// are enabled for sending.
func (s *SES) VerifiedSenders(ctx context.Context) ([]string, error) {
	var senders []string

	paginator := sesv2.NewListEmailIdentitiesPaginator(s.client, &sesv2.ListEmailIdentitiesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list email identities: %w", err)
		}
		senders = append(senders, filterSenders(page.EmailIdentities)...)
	}

	return senders, nil
}

// filterSenders keeps sending-enabled address identities; domain identities
// cannot be used as a submission source directly.
func filterSenders(identities []types.IdentityInfo) []string {
	var senders []string
	for _, identity := range identities {
		if identity.IdentityName == nil || !identity.SendingEnabled {
			continue
		}
		name := aws.ToString(identity.IdentityName)
		if !strings.Contains(name, "@") {
			continue
		}
		senders = append(senders, name)
	}
	return senders
}

// CreateIdentity registers an address or domain identity with SES,
// triggering its verification flow. An identity that already exists is not
// an error.
func (s *SES) CreateIdentity(ctx context.Context, identity string) error {
	_, err := s.client.CreateEmailIdentity(ctx, &sesv2.CreateEmailIdentityInput{
		EmailIdentity: aws.String(identity),
	})
	if err != nil {
		var exists *types.AlreadyExistsException
		if errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create identity %s: %w", identity, err)
	}

	return nil
}

// DKIMTokens returns the DKIM tokens of a domain identity, creating the
// identity first if SES does not know it yet.
func (s *SES) DKIMTokens(ctx context.Context, domain string) ([]string, error) {
	identity, err := s.client.GetEmailIdentity(ctx, &sesv2.GetEmailIdentityInput{
		EmailIdentity: aws.String(domain),
	})
	if err == nil {
		if identity.DkimAttributes == nil {
			return nil, nil
		}
		return identity.DkimAttributes.Tokens, nil
	}

	var notFound *types.NotFoundException
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("failed to get identity %s: %w", domain, err)
	}

	created, err := s.client.CreateEmailIdentity(ctx, &sesv2.CreateEmailIdentityInput{
		EmailIdentity: aws.String(domain),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create identity %s: %w", domain, err)
	}
	if created.DkimAttributes == nil {
		return nil, nil
	}
	return created.DkimAttributes.Tokens, nil
}
