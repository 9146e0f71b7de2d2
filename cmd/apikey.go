package cmd

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"
)

const apikeyUsage = `Usage:
  kiro-relay apikey add  --config <path> --name <name> [--value <key>] [--description <text>]
  kiro-relay apikey list --config <path>`

func apikeyCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("apikey requires a subcommand\n\n%s", apikeyUsage)
	}
	switch args[0] {
	case "add":
		return apikeyAdd(ctx, args[1:])
	case "list":
		return apikeyList(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, apikeyUsage)
		return nil
	default:
		return fmt.Errorf("unknown apikey subcommand %q\n\n%s", args[0], apikeyUsage)
	}
}

func apikeyAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("apikey add", flag.ContinueOnError)
	var cfgPath, name, value, description string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&name, "name", "", "key name")
	fs.StringVar(&value, "value", "", "key value (generated when empty)")
	fs.StringVar(&description, "description", "", "free-form description")
	if help, err := parseFlags(fs, args, apikeyUsage); help || err != nil {
		return err
	}

	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	key, err := a.store.CreateAPIKey(ctx, name, value, description)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "api key %d (%s): %s\n", key.ID, key.Name, key.Value)
	return nil
}

func apikeyList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("apikey list", flag.ContinueOnError)
	var cfgPath string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	if help, err := parseFlags(fs, args, apikeyUsage); help || err != nil {
		return err
	}

	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	keys, err := a.store.ListAPIKeys(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKEY\tSTATUS\tCREATED")
	for _, k := range keys {
		status := "enabled"
		if k.Disabled {
			status = "disabled"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", k.ID, k.Name, maskKey(k.Value), status, k.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

// maskKey keeps the prefix and the last four characters.
func maskKey(v string) string {
	if len(v) <= 10 {
		return "****"
	}
	return v[:6] + "..." + v[len(v)-4:]
}
