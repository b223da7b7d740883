// ABOUTME: First-time setup commands for frpt-console
// ABOUTME: init writes a starter config; bootstrap creates the admin and invites

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/frpt/frpt-console/internal/auth"
	"github.com/frpt/frpt-console/internal/config"
	"github.com/frpt/frpt-console/internal/invite"
	"github.com/frpt/frpt-console/internal/store"
)

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("frpt-console configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "console.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:5000")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Client Builds ---")
	clientVersion := prompt(reader, "Trusted client version (numeric)", "114514")
	latestVersion := prompt(reader, "Latest client version string", "v1.14.514")
	componentHash := prompt(reader, "Trusted component hash", "")

	secret, err := randomSecret()
	if err != nil {
		return err
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# frpt-console configuration\n")
	cfg.WriteString("# Generated by frpt-console init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString("  trusted_clients:\n")
	cfg.WriteString(fmt.Sprintf("    - secret: %q\n", secret))
	cfg.WriteString(fmt.Sprintf("      version: %q\n", clientVersion))
	cfg.WriteString(fmt.Sprintf("      component_hash: %q\n", componentHash))
	cfg.WriteString(fmt.Sprintf("  min_version: %s\n", clientVersion))
	cfg.WriteString(fmt.Sprintf("  latest_version: %q\n", latestVersion))
	cfg.WriteString("  session_ttl: \"12h\"\n")
	cfg.WriteString("  session_slide_below: \"6h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("tickets:\n")
	cfg.WriteString("  ttl: \"10s\"\n")
	cfg.WriteString("  reuse_window: \"2s\"\n")
	cfg.WriteString("  min_interval: \"3s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("The generated client secret must be embedded in the client build.")
	fmt.Println("\nTo finish setup:")
	fmt.Println("  frpt-console bootstrap --admin NAME")
	fmt.Println("  frpt-console serve")

	return nil
}

// runBootstrap performs first-time account setup:
// 1. Creates the admin user with a generated password
// 2. Mints an initial batch of invite codes
//
// One command: frpt-console bootstrap --admin "name" [--invites N]
func runBootstrap(ctx context.Context) error {
	var adminName string
	invites := 3

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--admin" || arg == "-a":
			if i+1 >= len(args) {
				return fmt.Errorf("--admin requires a value")
			}
			adminName = args[i+1]
			i++
		case strings.HasPrefix(arg, "--admin="):
			adminName = strings.TrimPrefix(arg, "--admin=")
		case arg == "--invites":
			if i+1 >= len(args) {
				return fmt.Errorf("--invites requires a value")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil || n < 0 {
				return fmt.Errorf("--invites must be a non-negative number")
			}
			invites = n
			i++
		case strings.HasPrefix(arg, "--invites="):
			n, err := strconv.Atoi(strings.TrimPrefix(arg, "--invites="))
			if err != nil || n < 0 {
				return fmt.Errorf("--invites must be a non-negative number")
			}
			invites = n
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	adminName = strings.TrimSpace(adminName)
	if adminName == "" {
		return fmt.Errorf("--admin flag is required")
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config (run 'frpt-console init' first): %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	users, err := st.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("checking users: %w", err)
	}
	if len(users) > 0 {
		return fmt.Errorf("bootstrap already complete: %d user(s) exist", len(users))
	}

	password, err := randomSecret()
	if err != nil {
		return err
	}
	hash, err := auth.NewPasswordHasher(auth.DefaultArgon2Params).Hash(password)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}

	admin := &store.User{
		ID:           uuid.New().String(),
		Nickname:     adminName,
		PasswordHash: hash,
		Role:         store.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	if err := st.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("creating admin user: %w", err)
	}

	green.Printf("  ✓ Created admin user: %s\n", adminName)

	codes := make([]string, 0, invites)
	for attempts := 0; len(codes) < invites; attempts++ {
		if attempts > invites*10 {
			return fmt.Errorf("giving up after repeated invite insert failures")
		}
		code, err := invite.Generate()
		if err != nil {
			return fmt.Errorf("generating invite code: %w", err)
		}
		if err := st.CreateInviteCode(ctx, code); err != nil {
			// Collision on the code column: roll again.
			continue
		}
		codes = append(codes, code)
	}

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Admin Account")
	cyan.Println("  -------------")
	fmt.Printf("  Nickname: %s\n", adminName)
	fmt.Printf("  Password: %s\n", password)
	yellow.Println("  Store this password now, it will not be shown again.")
	fmt.Println()
	if len(codes) > 0 {
		cyan.Println("  Invite Codes")
		cyan.Println("  ------------")
		for _, c := range codes {
			fmt.Printf("  %s\n", c)
		}
		fmt.Println()
	}

	yellow.Println("  Ready to go:")
	fmt.Println("    frpt-console serve    # start the server")
	fmt.Println()

	return nil
}

func randomSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
