/*
Admin CLI for the HDMI mixing appliance: API key lifecycle management
against the same key store the running service reads.

Usage:

	hdmi-mixer-cli --config /etc/hdmi-mixer/config.yaml keys generate --role operator --expiry 720h
	hdmi-mixer-cli keys list
	hdmi-mixer-cli keys revoke --id <key-id>
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/camerarecorder/hdmi-mixer-go/internal/config"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/security"
)

var (
	configPath = flag.String("config", "/etc/hdmi-mixer/config.yaml", "Path to configuration file")
	format     = flag.String("format", "table", "Output format (table, json)")
)

func main() {
	flag.Parse()

	cm := config.CreateConfigManager()
	if err := cm.LoadConfig(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := cm.GetConfig()

	keyManager, err := security.NewAPIKeyManager(&cfg.APIKeyManagement, logging.GetLogger("cli"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open key store: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) < 2 || args[0] != "keys" {
		printUsage()
		os.Exit(2)
	}

	if err := runKeysCommand(keyManager, args[1], args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runKeysCommand(km *security.APIKeyManager, sub string, args []string) error {
	switch sub {
	case "generate":
		fs := flag.NewFlagSet("keys generate", flag.ExitOnError)
		role := fs.String("role", "viewer", "Role for the key (viewer, operator, admin)")
		desc := fs.String("description", "", "Human description")
		expiry := fs.Duration("expiry", 0, "Key lifetime (0 = non-expiring)")
		_ = fs.Parse(args)

		key, err := km.Generate(security.Role(*role), *desc, *expiry)
		if err != nil {
			return err
		}
		if *format == "json" {
			out, _ := json.MarshalIndent(key, "", "  ")
			fmt.Println(string(out))
			return nil
		}
		fmt.Printf("id:   %s\nrole: %s\nkey:  %s\n", key.ID, key.Role, key.Key)
		fmt.Println("store the key now; it is not shown again")
		return nil

	case "list":
		keys := km.List()
		if *format == "json" {
			out, _ := json.MarshalIndent(keys, "", "  ")
			fmt.Println(string(out))
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tROLE\tKEY\tCREATED\tEXPIRES\tUSED\tREVOKED")
		for _, k := range keys {
			expires := "-"
			if !k.ExpiresAt.IsZero() {
				expires = k.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%t\n",
				k.ID, k.Role, k.Key, k.CreatedAt.Format(time.RFC3339), expires, k.UsageCount, k.Revoked)
		}
		return w.Flush()

	case "revoke":
		fs := flag.NewFlagSet("keys revoke", flag.ExitOnError)
		id := fs.String("id", "", "Key id to revoke")
		_ = fs.Parse(args)
		if *id == "" {
			return fmt.Errorf("--id required")
		}
		if err := km.Revoke(*id); err != nil {
			return err
		}
		fmt.Printf("revoked %s\n", *id)
		return nil

	default:
		printUsage()
		return fmt.Errorf("unknown subcommand %q", sub)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: hdmi-mixer-cli [flags] keys <generate|list|revoke> [subflags]

  keys generate --role operator --description "ci runner" --expiry 720h
  keys list
  keys revoke --id <key-id>`)
}
