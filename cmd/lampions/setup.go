package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/lampions/lampions-go/internal/config"
	"github.com/lampions/lampions-go/internal/dns"
	"github.com/lampions/lampions-go/internal/routes"
	"github.com/lampions/lampions-go/internal/store"
)

func runInit(args []string) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to the config file")
	domain := fs.String("domain", "", "mail domain to relay for")
	region := fs.String("region", "", "AWS region to receive mail in ("+strings.Join(config.Regions, ", ")+")")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *domain == "" {
		return errors.New("--domain is required")
	}
	if err := routes.ValidateAddress("postmaster@" + *domain); err != nil {
		return fmt.Errorf("invalid domain name %q", *domain)
	}
	valid := false
	for _, r := range config.Regions {
		if *region == r {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("--region must be one of: %s", strings.Join(config.Regions, ", "))
	}

	cfg, err := config.Load(*configPath)
	switch {
	case err == nil:
		cfg.Domain = *domain
		cfg.Region = *region
	case errors.Is(err, os.ErrNotExist):
		cfg = config.New(*domain, *region)
	default:
		return err
	}

	if err := cfg.Save(*configPath); err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", *configPath)

	ctx := context.Background()
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	blob := store.NewS3(s3.NewFromConfig(awsCfg), cfg.Bucket())
	if err := blob.EnsureBucket(ctx, cfg.Region); err != nil {
		return fmt.Errorf("failed to create message bucket: %w", err)
	}
	fmt.Printf("Message bucket '%s' is ready\n", cfg.Bucket())
	return nil
}

func runShowConfig(args []string) error {
	fs := pflag.NewFlagSet("show-config", pflag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to the config file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no config at %s; run 'lampions init' first", *configPath)
		}
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func runAddForwardAddress(args []string) error {
	fs := pflag.NewFlagSet("add-forward-address", pflag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to the config file")
	addr := fs.String("address", "", "address to verify for forwarding")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := routes.ValidateAddress(*addr); err != nil {
		return fmt.Errorf("invalid email address %q", *addr)
	}

	ctx := context.Background()
	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}

	if err := a.ses().CreateIdentity(ctx, *addr); err != nil {
		return fmt.Errorf("failed to add address to verification list: %w", err)
	}
	fmt.Printf("Verification mail sent to '%s'\n", *addr)
	return nil
}

func runConfigureDNS(args []string) error {
	fs := pflag.NewFlagSet("configure-dns", pflag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to the config file")
	zoneID := fs.String("hosted-zone-id", "", "Route 53 hosted zone to apply the records to (overrides the config)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	if *zoneID == "" {
		*zoneID = a.cfg.DNS.HostedZoneID
	}

	tokens, err := a.ses().DKIMTokens(ctx, a.cfg.Domain)
	if err != nil {
		return fmt.Errorf("failed to fetch DKIM tokens: %w", err)
	}

	records := dns.Records(a.cfg.Domain, a.cfg.Region, tokens)

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "NAME\tTYPE\tVALUE\n")
	for _, record := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", record.Name, record.Type, record.Value)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if *zoneID == "" {
		fmt.Println("\nNo hosted zone configured; add the records above to the domain's DNS settings.")
		return nil
	}

	manager := dns.NewManager(route53.NewFromConfig(a.aws), *zoneID)
	if err := manager.Upsert(ctx, records); err != nil {
		return err
	}
	fmt.Printf("\nApplied %d records to hosted zone %s\n", len(records), *zoneID)
	return nil
}
