package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/lampions/lampions-go/internal/address"
	"github.com/lampions/lampions-go/internal/config"
)

func runListRecipients(args []string) error {
	fs := pflag.NewFlagSet("list-recipients", pflag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to the config file")
	alias := fs.String("alias", "", "list only recipients recorded for this alias")
	pseudo := fs.String("address", "", "resolve a single pseudo-address")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *alias != "" && *pseudo != "" {
		return errors.New("--alias and --address are mutually exclusive")
	}

	ctx := context.Background()
	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}

	if *pseudo != "" {
		name, hash, err := address.Decompose(*pseudo, a.cfg.Domain)
		if err != nil {
			return fmt.Errorf("invalid address %q: must be of the form '<alias>+<hash>@%s'",
				*pseudo, a.cfg.Domain)
		}
		recipient, ok, err := a.recipients().Resolve(ctx, name, hash)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("failed to resolve recipient for address %q", *pseudo)
		}
		fmt.Printf("%s  →  %s\n", *pseudo, recipient)
		return nil
	}

	all, err := a.recipients().All(ctx)
	if err != nil {
		return err
	}

	if *alias != "" {
		forAlias, ok := all[*alias]
		if !ok || len(forAlias) == 0 {
			fmt.Printf("No recipients for alias '%s' defined yet\n", *alias)
			return nil
		}
		all = map[string]map[string]string{*alias: forAlias}
	}
	if len(all) == 0 {
		fmt.Println("No recipient mapping defined yet")
		return nil
	}

	aliases := make([]string, 0, len(all))
	for name := range all {
		aliases = append(aliases, name)
	}
	sort.Strings(aliases)

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "PSEUDO-ADDRESS\tRECIPIENT\n")
	for _, name := range aliases {
		hashes := make([]string, 0, len(all[name]))
		for hash := range all[name] {
			hashes = append(hashes, hash)
		}
		sort.Strings(hashes)
		for _, hash := range hashes {
			fmt.Fprintf(tw, "%s\t%s\n", address.Compose(name, hash, a.cfg.Domain), all[name][hash])
		}
	}
	return tw.Flush()
}
