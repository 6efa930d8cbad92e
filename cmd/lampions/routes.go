package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/lampions/lampions-go/internal/config"
	"github.com/lampions/lampions-go/internal/routes"
)

func runAddRoute(args []string) error {
	fs := pflag.NewFlagSet("add-route", pflag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to the config file")
	alias := fs.String("alias", "", "alias to receive mail under")
	forward := fs.String("forward", "", "verified address to forward to")
	inactive := fs.Bool("inactive", false, "create the route in the inactive state")
	meta := fs.String("meta", "", "free-form note stored with the route")
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

	if err := routes.ValidateAlias(*alias, a.cfg.Domain); err != nil {
		return err
	}
	if err := routes.ValidateAddress(*forward); err != nil {
		return err
	}
	if err := a.requireVerified(ctx, *forward); err != nil {
		return err
	}

	if _, err := a.table().Add(ctx, *alias, *forward, !*inactive, *meta); err != nil {
		return err
	}
	fmt.Printf("Route for alias '%s' added\n", *alias)
	return nil
}

func runUpdateRoute(args []string) error {
	fs := pflag.NewFlagSet("update-route", pflag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to the config file")
	alias := fs.String("alias", "", "alias of the route to update")
	forward := fs.String("forward", "", "new forward address")
	active := fs.Bool("active", false, "activate the route")
	inactive := fs.Bool("inactive", false, "deactivate the route")
	meta := fs.String("meta", "", "new note for the route")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *alias == "" {
		return errors.New("--alias is required")
	}
	if *active && *inactive {
		return errors.New("--active and --inactive are mutually exclusive")
	}
	if *forward == "" && !*active && !*inactive && *meta == "" {
		fmt.Println("Nothing to do")
		return nil
	}

	ctx := context.Background()
	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}

	if *forward != "" {
		if err := routes.ValidateAddress(*forward); err != nil {
			return err
		}
		if err := a.requireVerified(ctx, *forward); err != nil {
			return err
		}
	}

	upd := routes.Update{Forward: *forward, Meta: *meta}
	if *active {
		state := true
		upd.Active = &state
	} else if *inactive {
		state := false
		upd.Active = &state
	}

	if _, err := a.table().Update(ctx, *alias, upd); err != nil {
		return err
	}
	fmt.Printf("Route for alias '%s' updated\n", *alias)
	return nil
}

func runRemoveRoute(args []string) error {
	fs := pflag.NewFlagSet("remove-route", pflag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to the config file")
	alias := fs.String("alias", "", "alias of the route to remove")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *alias == "" {
		return errors.New("--alias is required")
	}

	ctx := context.Background()
	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}

	if err := a.table().Remove(ctx, *alias); err != nil {
		return err
	}
	fmt.Printf("Route for alias '%s' removed\n", *alias)
	return nil
}

func runListRoutes(args []string) error {
	fs := pflag.NewFlagSet("list-routes", pflag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to the config file")
	active := fs.Bool("active", false, "list only active routes")
	inactive := fs.Bool("inactive", false, "list only inactive routes")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *active && *inactive {
		return errors.New("--active and --inactive are mutually exclusive")
	}

	ctx := context.Background()
	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}

	rts, err := a.table().Load(ctx)
	if err != nil {
		return err
	}

	var filtered []routes.Route
	for _, route := range rts {
		if *active && !route.Active {
			continue
		}
		if *inactive && route.Active {
			continue
		}
		filtered = append(filtered, route)
	}
	if len(filtered) == 0 {
		fmt.Println("No routes defined yet")
		return nil
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedTime().After(filtered[j].CreatedTime())
	})

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "ADDRESS\tFORWARD\tCREATED\tACTIVE\n")
	for _, route := range filtered {
		mark := "✗"
		if route.Active {
			mark = "✓"
		}
		fmt.Fprintf(tw, "%s@%s\t%s\t%s\t%s\n", route.Alias, a.cfg.Domain, route.Forward, route.CreatedAt, mark)
	}
	return tw.Flush()
}
