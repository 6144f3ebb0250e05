package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mtzanidakis/teamrelay/internal/store"
	"github.com/mtzanidakis/teamrelay/internal/vault"
)

func runVault(args []string) error {
	if len(args) == 0 {
		printVaultUsage()
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Vault.Passphrase == "" {
		return fmt.Errorf("TEAMRELAY_VAULT_PASSPHRASE environment variable is required")
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	secrets := vault.NewSecrets(db, vault.New(cfg.Vault.Passphrase))
	if err := vaultCommand(db, secrets, args, os.Stdout); err != nil {
		if strings.HasPrefix(err.Error(), "unknown vault command") {
			printVaultUsage()
		}
		return err
	}
	return nil
}

func vaultCommand(db *store.Store, secrets *vault.Secrets, args []string, w io.Writer) error {
	switch args[0] {
	case "list":
		return vaultList(db, w)
	case "set":
		return vaultSet(secrets, args[1:], w)
	case "get":
		return vaultGet(secrets, args[1:], w)
	case "delete":
		return vaultDelete(db, args[1:], w)
	case "assign":
		return vaultAssign(db, args[1:], w, true)
	case "unassign":
		return vaultAssign(db, args[1:], w, false)
	case "global":
		return vaultGlobal(db, args[1:], w)
	default:
		return fmt.Errorf("unknown vault command: %s", args[0])
	}
}

func printVaultUsage() {
	fmt.Fprintf(os.Stderr, `Usage: teamrelay vault <command>

Commands:
  list                                        List all secrets (metadata only)
  set <name> --value <str> | --file <path>    Store a secret
      [--env <NAME>] [--description <text>] [--global]
  get <name>                                  Retrieve and decrypt a secret
  delete <name>                               Delete a secret
  assign <name> --agent <id>                  Assign a secret to an agent
  unassign <name> --agent <id>                Remove a secret from an agent
  global <name> --enable|--disable            Toggle global access

Environment:
  TEAMRELAY_VAULT_PASSPHRASE                  Required. Encryption passphrase.
`)
}

func vaultList(db *store.Store, w io.Writer) error {
	secrets, err := db.ListSecrets()
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		fmt.Fprintln(w, "No secrets stored.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENV\tGLOBAL\tDESCRIPTION\tAGENTS")
	for _, s := range secrets {
		global := ""
		if s.Global {
			global = "yes"
		}
		agentIDs, _ := db.GetSecretAgentIDs(s.ID)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.EnvName, global, s.Description, strings.Join(agentIDs, ", "))
	}
	return tw.Flush()
}

func vaultSet(secrets *vault.Secrets, args []string, w io.Writer) error {
	const usage = "usage: teamrelay vault set <name> --value <string> | --file <path> [--env <NAME>] [--description <text>] [--global]"
	if len(args) < 3 {
		return errors.New(usage)
	}

	name := args[0]
	var (
		value       []byte
		envName     string
		description string
		global      bool
	)
	for i := 1; i < len(args); i++ {
		flag := args[i]
		if flag == "--global" {
			global = true
			continue
		}
		if i+1 >= len(args) {
			return fmt.Errorf("missing value for %s", flag)
		}
		i++
		switch flag {
		case "--value":
			value = []byte(args[i])
		case "--file":
			data, err := os.ReadFile(args[i])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			value = data
		case "--env":
			envName = args[i]
		case "--description":
			description = args[i]
		default:
			return fmt.Errorf("unknown flag %s", flag)
		}
	}
	if value == nil {
		return errors.New(usage)
	}

	if err := secrets.Put(name, envName, description, value, global); err != nil {
		return err
	}
	fmt.Fprintf(w, "Secret %q stored.\n", name)
	return nil
}

func vaultGet(secrets *vault.Secrets, args []string, w io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: teamrelay vault get <name>")
	}
	value, err := secrets.Get(args[0])
	if err != nil {
		return err
	}
	if value == nil {
		return fmt.Errorf("secret %q not found", args[0])
	}
	_, err = w.Write(value)
	return err
}

func vaultDelete(db *store.Store, args []string, w io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: teamrelay vault delete <name>")
	}
	if err := db.DeleteSecret(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(w, "Secret %q deleted.\n", args[0])
	return nil
}

func vaultAssign(db *store.Store, args []string, w io.Writer, assign bool) error {
	verb := "unassign"
	if assign {
		verb = "assign"
	}
	if len(args) < 3 || args[1] != "--agent" {
		return fmt.Errorf("usage: teamrelay vault %s <name> --agent <id>", verb)
	}
	name, agentID := args[0], args[2]

	sec, err := db.GetSecret(name)
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("secret %q not found", name)
	}

	if assign {
		if err := db.AddAgentSecret(agentID, name); err != nil {
			return err
		}
		fmt.Fprintf(w, "Secret %q assigned to agent %q.\n", name, agentID)
		return nil
	}
	if err := db.RemoveAgentSecret(agentID, name); err != nil {
		return err
	}
	fmt.Fprintf(w, "Secret %q removed from agent %q.\n", name, agentID)
	return nil
}

func vaultGlobal(db *store.Store, args []string, w io.Writer) error {
	if len(args) < 2 || (args[1] != "--enable" && args[1] != "--disable") {
		return fmt.Errorf("usage: teamrelay vault global <name> --enable|--disable")
	}
	sec, err := db.GetSecret(args[0])
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("secret %q not found", args[0])
	}

	sec.Global = args[1] == "--enable"
	if err := db.SaveSecret(sec); err != nil {
		return err
	}
	state := "disabled"
	if sec.Global {
		state = "enabled"
	}
	fmt.Fprintf(w, "Global access %s for %q.\n", state, args[0])
	return nil
}
