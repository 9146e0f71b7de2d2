package cmd

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"kiro-relay/internal/credential"
	"kiro-relay/internal/logging"
	"kiro-relay/internal/storage"
	"kiro-relay/internal/transport"
)

const credentialUsage = `Usage:
  kiro-relay credential add     --config <path> --kind Social|IdC --refresh-token <token> [--client-id <id> --client-secret <secret>] [--description <text>]
  kiro-relay credential list    --config <path>
  kiro-relay credential disable --config <path> --id <n>
  kiro-relay credential enable  --config <path> --id <n>
  kiro-relay credential check   --config <path>`

func credentialCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("credential requires a subcommand\n\n%s", credentialUsage)
	}
	switch args[0] {
	case "add":
		return credentialAdd(ctx, args[1:])
	case "list":
		return credentialList(ctx, args[1:])
	case "disable":
		return credentialSetDisabled(ctx, args[1:], true)
	case "enable":
		return credentialSetDisabled(ctx, args[1:], false)
	case "check":
		return credentialCheck(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, credentialUsage)
		return nil
	default:
		return fmt.Errorf("unknown credential subcommand %q\n\n%s", args[0], credentialUsage)
	}
}

func credentialAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("credential add", flag.ContinueOnError)
	var cfgPath, kind, refreshToken, clientID, clientSecret, description string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&kind, "kind", string(credential.AuthSocial), "auth kind: Social or IdC")
	fs.StringVar(&refreshToken, "refresh-token", "", "refresh token")
	fs.StringVar(&clientID, "client-id", "", "IdC client id")
	fs.StringVar(&clientSecret, "client-secret", "", "IdC client secret")
	fs.StringVar(&description, "description", "", "free-form description")
	if help, err := parseFlags(fs, args, credentialUsage); help || err != nil {
		return err
	}

	authKind, err := credential.ParseAuthKind(kind)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.store.CreateCredential(ctx, storage.NewCredential{
		AuthKind:     authKind,
		RefreshToken: strings.TrimSpace(refreshToken),
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(clientSecret),
		Description:  description,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "credential %d added (%s)\n", id, authKind)
	return nil
}

func credentialList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("credential list", flag.ContinueOnError)
	var cfgPath string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	if help, err := parseFlags(fs, args, credentialUsage); help || err != nil {
		return err
	}

	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	creds, err := a.store.ListCredentials(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tUSES\tREQUESTS\tFAILED\tTOKENS\tLAST USED\tDESCRIPTION")
	for _, c := range creds {
		status := "enabled"
		if c.Disabled {
			status = "disabled"
		}
		lastUsed := "-"
		if c.LastUsed != nil {
			lastUsed = c.LastUsed.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			c.ID, c.AuthKind, status, c.UsageCount, c.TotalRequests, c.FailedRequests, c.TotalTokens, lastUsed, c.Description)
	}
	return tw.Flush()
}

func credentialSetDisabled(ctx context.Context, args []string, disabled bool) error {
	name := "credential enable"
	if disabled {
		name = "credential disable"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var cfgPath string
	var id int64
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.Int64Var(&id, "id", 0, "credential id")
	if help, err := parseFlags(fs, args, credentialUsage); help || err != nil {
		return err
	}
	if id <= 0 {
		return fmt.Errorf("%s requires --id <n>", name)
	}

	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.SetCredentialDisabled(ctx, id, disabled); err != nil {
		return fmt.Errorf("credential %d: %w", id, err)
	}
	state := "enabled"
	if disabled {
		state = "disabled"
	}
	fmt.Fprintf(stdout, "credential %d %s\n", id, state)
	return nil
}

func credentialCheck(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("credential check", flag.ContinueOnError)
	var cfgPath string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	if help, err := parseFlags(fs, args, credentialUsage); help || err != nil {
		return err
	}

	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	gate := credential.NewGate(a.store, a.cfg.Upstream.Endpoints(),
		credential.WithHTTPClient(transport.NewHTTPClient(a.cfg.Upstream.RefreshTimeout)),
		credential.WithLogger(logging.WithComponent(a.logger, "credential")),
	)
	results, err := gate.CheckAll(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVALID\tREASON\tAVAILABLE\tFREE TRIAL\tEMAIL\tMESSAGE")
	for _, r := range results {
		available, trial, email := "-", "-", "-"
		if d := r.Validity.Details; d != nil {
			available = fmt.Sprintf("%.2f/%.2f", d.Available, d.TotalLimit)
			trial = d.FreeTrialStatus
			if d.UserEmail != "" {
				email = d.UserEmail
			}
		}
		fmt.Fprintf(tw, "%d\t%t\t%s\t%s\t%s\t%s\t%s\n",
			r.Credential.ID, r.Validity.Valid, r.Validity.Reason, available, trial, email, r.Validity.Message)
	}
	return tw.Flush()
}
