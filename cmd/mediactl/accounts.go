package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/testforge/backend/internal/models"
	"github.com/testforge/backend/internal/service"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage storage accounts",
	Long: `Storage account provisioning.

Examples:
  mediactl accounts import accounts.yaml
  mediactl accounts list
  mediactl accounts disable 0b8e...
  mediactl accounts enable 0b8e...
  mediactl accounts rotate 0b8e... credentials.yaml`,
}

var accountsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Register storage accounts from a YAML file",
	Long: `Register every account listed in the file. Credentials are sealed
before they are stored. Accounts whose name already exists are reported
and skipped.

File format:
  accounts:
    - name: cl-primary
      provider: cloudinary
      priority: 10
      storage_limit: 26843545600
      uploads_limit: 50000
      credentials:
        cloud_name: demo
        api_key: "1234"
        api_secret: s3cr3t`,
	Args: cobra.ExactArgs(1),
	RunE: runAccountsImport,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List storage accounts with their usage",
	RunE:  runAccountsList,
}

var accountsDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Take an account out of rotation",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runAccountChange(cmd, args[0], false) },
}

var accountsEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Return a disabled account to rotation",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runAccountChange(cmd, args[0], true) },
}

var accountsRotateCmd = &cobra.Command{
	Use:   "rotate <id> <file.yaml>",
	Short: "Replace the credentials of an account",
	Long: `Seal and store a new credential bundle for an existing account. The
bundle must match the account's provider.

File format:
  credentials:
    key_id: 0051a2b3c4
    application_key: K005...
    bucket_id: 4a5b6c
    bucket_name: media`,
	Args: cobra.ExactArgs(2),
	RunE: runAccountsRotate,
}

func init() {
	accountsCmd.AddCommand(accountsImportCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsDisableCmd)
	accountsCmd.AddCommand(accountsEnableCmd)
	accountsCmd.AddCommand(accountsRotateCmd)

	rootCmd.AddCommand(accountsCmd)
}

// accountFile is the import file layout.
type accountFile struct {
	Accounts []accountEntry `yaml:"accounts"`
}

type accountEntry struct {
	service.CreateStorageAccountRequest `yaml:",inline"`
	Credentials                         map[string]string `yaml:"credentials"`
}

// parseAccountFile decodes an import file into create requests.
func parseAccountFile(data []byte) ([]service.CreateStorageAccountRequest, error) {
	var f accountFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse account file: %w", err)
	}
	if len(f.Accounts) == 0 {
		return nil, fmt.Errorf("account file lists no accounts")
	}

	reqs := make([]service.CreateStorageAccountRequest, 0, len(f.Accounts))
	for i, e := range f.Accounts {
		if len(e.Credentials) == 0 {
			return nil, fmt.Errorf("account %d (%s): credentials are required", i, e.Name)
		}
		creds, err := json.Marshal(e.Credentials)
		if err != nil {
			return nil, fmt.Errorf("account %d (%s): %w", i, e.Name, err)
		}
		req := e.CreateStorageAccountRequest
		req.Credentials = creds
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// parseCredentialsFile decodes a rotation file into a JSON credential bundle.
func parseCredentialsFile(data []byte) (json.RawMessage, error) {
	var f struct {
		Credentials map[string]string `yaml:"credentials"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if len(f.Credentials) == 0 {
		return nil, fmt.Errorf("credentials file lists no credentials")
	}
	return json.Marshal(f.Credentials)
}

// accountRow is the printable view of an account. Credentials never leave the database.
type accountRow struct {
	ID           uuid.UUID            `json:"id" yaml:"id"`
	Name         string               `json:"name" yaml:"name"`
	Provider     models.Provider      `json:"provider" yaml:"provider"`
	Status       models.AccountStatus `json:"status" yaml:"status"`
	Priority     int                  `json:"priority" yaml:"priority"`
	StorageUsed  int64                `json:"storage_used" yaml:"storage_used"`
	StorageLimit int64                `json:"storage_limit" yaml:"storage_limit"`
	UploadsUsed  int64                `json:"uploads_used" yaml:"uploads_used"`
	UploadsLimit int64                `json:"uploads_limit" yaml:"uploads_limit"`
	LastUsedAt   *time.Time           `json:"last_used_at,omitempty" yaml:"last_used_at,omitempty"`
}

func toAccountRow(a *models.StorageAccount) accountRow {
	return accountRow{
		ID:           a.ID,
		Name:         a.Name,
		Provider:     a.Provider,
		Status:       a.Status,
		Priority:     a.Priority,
		StorageUsed:  a.StorageUsed,
		StorageLimit: a.StorageLimit,
		UploadsUsed:  a.UploadsUsed,
		UploadsLimit: a.UploadsLimit,
		LastUsedAt:   a.LastUsedAt,
	}
}

func runAccountsImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	reqs, err := parseAccountFile(data)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()
		var failed int
		for _, req := range reqs {
			account, err := a.accounts.Create(ctx, req)
			if err != nil {
				failed++
				fmt.Fprintf(out, "✗ %s: %v\n", req.Name, err)
				continue
			}
			fmt.Fprintf(out, "✓ %s (%s) %s\n", account.Name, account.Provider, account.ID)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d accounts were not imported", failed, len(reqs))
		}
		return nil
	})
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		accounts, err := a.accounts.List(ctx)
		if err != nil {
			return err
		}
		rows := make([]accountRow, 0, len(accounts))
		for _, acc := range accounts {
			rows = append(rows, toAccountRow(acc))
		}
		return printAccounts(cmd, rows)
	})
}

func printAccounts(cmd *cobra.Command, rows []accountRow) error {
	out := cmd.OutOrStdout()
	if done, err := printStructured(out, rows); done {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No storage accounts found")
		return nil
	}

	w := newTable(out)
	printTableHeader(w, "ID", "NAME", "PROVIDER", "STATUS", "PRIORITY", "STORAGE", "UPLOADS")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Name, r.Provider, r.Status, r.Priority,
			formatUsage(humanize.IBytes(uint64(r.StorageUsed)), humanize.IBytes(uint64(r.StorageLimit)), r.StorageLimit),
			formatUsage(humanize.Comma(r.UploadsUsed), humanize.Comma(r.UploadsLimit), r.UploadsLimit),
		)
	}
	return w.Flush()
}

// formatUsage renders "used / limit", or "used / unlimited" for a zero limit.
func formatUsage(used, limit string, raw int64) string {
	if raw <= 0 {
		return used + " / unlimited"
	}
	return used + " / " + limit
}

func runAccountChange(cmd *cobra.Command, rawID string, enable bool) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid account id %q", rawID)
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		change := a.accounts.Disable
		if enable {
			change = a.accounts.Enable
		}
		account, err := change(ctx, id)
		if err != nil {
			return err
		}
		return printAccounts(cmd, []accountRow{toAccountRow(account)})
	})
}

func runAccountsRotate(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid account id %q", args[0])
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[1], err)
	}
	creds, err := parseCredentialsFile(data)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		account, err := a.accounts.RotateCredentials(ctx, id, creds)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ credentials rotated for %s (%s)\n", account.Name, account.Provider)
		return nil
	})
}
