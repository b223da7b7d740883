// ABOUTME: Operator CLI for frpt-console invite, user and reset management
// ABOUTME: Invite and user commands touch the database; resets go through the API

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/frpt/frpt-console/internal/invite"
	"github.com/frpt/frpt-console/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := Load(getConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "invites":
		err = runInvites(ctx, cfg, os.Args[2:])
	case "users":
		err = runUsers(ctx, cfg, os.Args[2:])
	case "reset-password":
		err = runResetPassword(ctx, cfg, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: frpt-admin <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  invites generate [N]        Mint N new invite codes (default 1)")
	fmt.Println("  invites list                Show all invite codes and their status")
	fmt.Println("  invites delete CODE|all     Delete an unused code, or all unused codes")
	fmt.Println("  users list                  List registered users")
	fmt.Println("  users delete NICKNAME       Delete a user and their data")
	fmt.Println("  reset-password NICKNAME     Issue a reset token for a user (via API)")
}

func openStore(cfg *Config) (*store.SQLiteStore, error) {
	if cfg.Database.Path == "" {
		return nil, fmt.Errorf("database.path is not configured")
	}
	return store.NewSQLiteStore(cfg.Database.Path)
}

func runInvites(ctx context.Context, cfg *Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("invites needs a subcommand: generate, list or delete")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	switch args[0] {
	case "generate":
		count := 1
		if len(args) > 1 {
			count, err = strconv.Atoi(args[1])
			if err != nil || count <= 0 {
				return fmt.Errorf("count must be a positive number")
			}
		}
		return generateInvites(ctx, st, count)
	case "list":
		return listInvites(ctx, st)
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("delete needs a code or 'all'")
		}
		return deleteInvites(ctx, st, args[1])
	default:
		return fmt.Errorf("unknown invites subcommand: %s", args[0])
	}
}

func generateInvites(ctx context.Context, st *store.SQLiteStore, count int) error {
	green := color.New(color.FgGreen)

	codes := make([]string, 0, count)
	for attempts := 0; len(codes) < count; attempts++ {
		if attempts > count*10 {
			return fmt.Errorf("giving up after repeated invite insert failures")
		}
		code, err := invite.Generate()
		if err != nil {
			return err
		}
		if err := st.CreateInviteCode(ctx, code); err != nil {
			continue
		}
		codes = append(codes, code)
	}

	green.Printf("Generated %d invite code(s):\n", len(codes))
	for _, c := range codes {
		fmt.Printf("  %s\n", c)
	}
	return nil
}

func listInvites(ctx context.Context, st *store.SQLiteStore) error {
	codes, err := st.ListInviteCodes(ctx)
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		fmt.Println("(no invite codes)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tSTATUS\tCREATED\tUSED BY\tUSED AT")
	fmt.Fprintln(w, "----\t------\t-------\t-------\t-------")
	for _, c := range codes {
		status := color.GreenString("unused")
		usedBy, usedAt := "-", "-"
		if c.Used {
			status = color.RedString("used")
			if c.UsedBy != "" {
				usedBy = c.UsedBy
			}
			if c.UsedAt != nil {
				usedAt = c.UsedAt.Format("Jan 02 15:04")
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.Code, status, c.CreatedAt.Format("Jan 02 15:04"), usedBy, usedAt)
	}
	return w.Flush()
}

func deleteInvites(ctx context.Context, st *store.SQLiteStore, target string) error {
	if strings.EqualFold(target, "all") {
		n, err := st.DeleteUnusedInviteCodes(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d unused invite code(s).\n", n)
		return nil
	}

	code := strings.ToUpper(strings.TrimSpace(target))
	if err := st.DeleteInviteCode(ctx, code); err != nil {
		return fmt.Errorf("deleting %s: %w", code, err)
	}
	fmt.Printf("Deleted invite code %s.\n", code)
	return nil
}

func runUsers(ctx context.Context, cfg *Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("users needs a subcommand: list or delete")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	switch args[0] {
	case "list":
		return listUsers(ctx, st)
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("delete needs a nickname")
		}
		return deleteUser(ctx, st, args[1])
	default:
		return fmt.Errorf("unknown users subcommand: %s", args[0])
	}
}

func listUsers(ctx context.Context, st *store.SQLiteStore) error {
	users, err := st.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("(no users)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NICKNAME\tROLE\tID\tCREATED\tSESSION")
	fmt.Fprintln(w, "--------\t----\t--\t-------\t-------")
	for _, u := range users {
		session := "-"
		if u.SessionExpiry != nil {
			if time.Now().Before(*u.SessionExpiry) {
				session = "active until " + u.SessionExpiry.Format("15:04")
			} else {
				session = "expired"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			u.Nickname, u.Role, u.ID, u.CreatedAt.Format("Jan 02 2006"), session)
	}
	return w.Flush()
}

func deleteUser(ctx context.Context, st *store.SQLiteStore, nickname string) error {
	user, err := st.GetUserByNickname(ctx, nickname)
	if err != nil {
		return fmt.Errorf("looking up %q: %w", nickname, err)
	}

	yellow := color.New(color.FgYellow)
	yellow.Printf("About to permanently delete user %q (id %s) and all their data.\n", user.Nickname, user.ID)
	fmt.Printf("Type the nickname to confirm: ")

	var confirm string
	fmt.Scanln(&confirm)
	if confirm != user.Nickname {
		fmt.Println("Input does not match, aborted.")
		return nil
	}

	if err := st.DeleteUser(ctx, user.ID); err != nil {
		return err
	}
	color.Green("User %q deleted.", user.Nickname)
	return nil
}

func runResetPassword(ctx context.Context, cfg *Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("reset-password needs a target nickname")
	}
	target := args[0]

	if cfg.Server.URL == "" {
		return fmt.Errorf("server.url is not configured")
	}
	if cfg.Client.VersionSecret == "" || cfg.Client.Version == "" || cfg.Client.ComponentHash == "" {
		return fmt.Errorf("client build identity (version, version_secret, component_hash) is not configured")
	}

	client := newAPIClient(cfg.Server.URL, cfg.Client)

	fmt.Println("Admin login required.")
	nickname := promptLine("Admin nickname: ")
	password := promptPassword("Admin password: ")
	if nickname == "" || password == "" {
		return fmt.Errorf("nickname and password must not be empty")
	}

	token, err := client.Login(ctx, nickname, password)
	if err != nil {
		return fmt.Errorf("admin login: %w", err)
	}
	color.Green("Logged in.")

	resetToken, err := client.InitiatePasswordReset(ctx, token, target)
	if err != nil {
		return fmt.Errorf("requesting reset token: %w", err)
	}

	fmt.Println()
	color.Green("Reset token issued for %q:", target)
	fmt.Printf("\n  %s\n\n", resetToken)
	fmt.Println("Hand this token to the user; it is valid for 24 hours and single use.")
	return nil
}

func promptLine(msg string) string {
	fmt.Print(msg)
	var line string
	fmt.Scanln(&line)
	return strings.TrimSpace(line)
}

// promptPassword reads a line without echoing it to the terminal.
func promptPassword(msg string) string {
	fmt.Print(msg)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(pw))
}
