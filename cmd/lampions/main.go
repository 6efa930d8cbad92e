// lampions is the operator tool for the relay. It maintains the routing
// and recipient documents, manages forwarding addresses, and sets up the
// DNS records of the mail domain.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/lampions/lampions-go/internal/config"
	"github.com/lampions/lampions-go/internal/recipients"
	"github.com/lampions/lampions-go/internal/routes"
	"github.com/lampions/lampions-go/internal/store"
	"github.com/lampions/lampions-go/internal/transport"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "show-config":
		err = runShowConfig(os.Args[2:])
	case "add-forward-address":
		err = runAddForwardAddress(os.Args[2:])
	case "add-route":
		err = runAddRoute(os.Args[2:])
	case "update-route":
		err = runUpdateRoute(os.Args[2:])
	case "remove-route":
		err = runRemoveRoute(os.Args[2:])
	case "list-routes":
		err = runListRoutes(os.Args[2:])
	case "list-recipients":
		err = runListRecipients(os.Args[2:])
	case "configure-dns":
		err = runConfigureDNS(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: lampions <command> [flags]

Commands:
  init                  Write the initial config and create the message bucket
  show-config           Print the current config
  add-forward-address   Send a verification mail to a forwarding address
  add-route             Add a new alias route
  update-route          Change the forward address, state, or note of a route
  remove-route          Delete a route
  list-routes           List routes
  list-recipients       List reply pseudo-addresses and who they resolve to
  configure-dns         Print or apply the MX and DKIM records for the domain

Run 'lampions <command> --help' for command flags.
`)
}

// app bundles the loaded config with the AWS clients the commands share.
type app struct {
	cfg *config.Config
	aws aws.Config
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no config at %s; run 'lampions init' first", configPath)
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w; run 'lampions init' first", err)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &app{cfg: cfg, aws: awsCfg}, nil
}

func (a *app) blob() *store.S3 {
	return store.NewS3(s3.NewFromConfig(a.aws), a.cfg.Bucket())
}

func (a *app) table() *routes.Table {
	return routes.NewTable(a.blob(), a.cfg.Domain)
}

func (a *app) recipients() *recipients.Map {
	return recipients.NewMap(a.blob(), a.cfg.Domain)
}

func (a *app) ses() *transport.SES {
	return transport.NewSES(sesv2.NewFromConfig(a.aws))
}

// requireVerified checks that forward can be used as a sending source.
// Identities still pending verification are rejected since forwards from
// them would be refused by the mail backend.
func (a *app) requireVerified(ctx context.Context, forward string) error {
	verified, err := a.ses().VerifiedSenders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list verified addresses: %w", err)
	}
	for _, addr := range verified {
		if addr == forward {
			return nil
		}
	}
	return fmt.Errorf("forwarding address %q is not verified; run 'lampions add-forward-address' first", forward)
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AWS.AccessKeyID != "" {
		creds := credentials.NewStaticCredentialsProvider(
			cfg.AWS.AccessKeyID,
			cfg.AWS.SecretAccessKey,
			"", // session token (empty for static creds)
		)
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
