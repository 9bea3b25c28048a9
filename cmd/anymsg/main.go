package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/Tyav/anymessage/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AppDomain   string `json:"app_domain"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "signup":
		err = commandSignup(args)
	case "login":
		err = commandLogin(args)
	case "team":
		err = commandTeam(args)
	case "integration":
		err = commandIntegration(args)
	case "billing":
		err = commandBilling(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandSignup(args []string) error {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}
	secret, err := resolvePassword(*password)
	if err != nil {
		return err
	}

	cfg, _ := loadConfig()
	applyAPIBase(&cfg, *apiBase)

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := client.Signup(ctx, *email, secret)
	if err != nil {
		return err
	}
	cfg.AccessToken = resp.Tokens.AccessToken
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("account created for %s\n", resp.User.Email)
	return nil
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}
	secret, err := resolvePassword(*password)
	if err != nil {
		return err
	}

	cfg, _ := loadConfig()
	applyAPIBase(&cfg, *apiBase)

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := client.Login(ctx, *email, secret)
	if err != nil {
		return err
	}
	cfg.AccessToken = resp.Tokens.AccessToken
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func commandTeam(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: anymsg team [create|available|current|set-url]")
	}
	sub := args[0]
	switch sub {
	case "create":
		return teamCreate(args[1:])
	case "available":
		return teamAvailable(args[1:])
	case "current":
		return teamCurrent(args[1:])
	case "set-url":
		return teamSetURL(args[1:])
	default:
		return fmt.Errorf("unknown team command: %s", sub)
	}
}

func teamCreate(args []string) error {
	fs := flag.NewFlagSet("team create", flag.ExitOnError)
	subdomain := fs.String("subdomain", "", "Subdomain for the new team")
	fs.Parse(args)

	if strings.TrimSpace(*subdomain) == "" {
		return errors.New("--subdomain is required")
	}

	cfg, token, err := authedConfig()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	team, err := client.CreateTeam(ctx, token, *subdomain)
	if err != nil {
		return err
	}
	fmt.Printf("team created: %s (id %d)\n", team.Subdomain, team.ID)
	return nil
}

func teamAvailable(args []string) error {
	fs := flag.NewFlagSet("team available", flag.ExitOnError)
	subdomain := fs.String("subdomain", "", "Subdomain to check")
	fs.Parse(args)

	if strings.TrimSpace(*subdomain) == "" {
		return errors.New("--subdomain is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	available, err := client.SubdomainAvailable(ctx, *subdomain)
	if err != nil {
		return err
	}
	if available {
		fmt.Printf("%s is available\n", *subdomain)
	} else {
		fmt.Printf("%s is taken\n", *subdomain)
	}
	return nil
}

func teamCurrent(args []string) error {
	fs := flag.NewFlagSet("team current", flag.ExitOnError)
	teamSub := fs.String("team", "", "Team subdomain")
	fs.Parse(args)

	client, token, err := tenantClient(*teamSub)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	team, err := client.CurrentTeam(ctx, token)
	if err != nil {
		return err
	}
	fmt.Printf("%d\t%s\tcreated %s\n", team.ID, team.Subdomain, team.CreatedAt.Format(time.RFC3339))
	return nil
}

func teamSetURL(args []string) error {
	fs := flag.NewFlagSet("team set-url", flag.ExitOnError)
	teamSub := fs.String("team", "", "Current team subdomain")
	newURL := fs.String("new-url", "", "New subdomain")
	fs.Parse(args)

	if strings.TrimSpace(*newURL) == "" {
		return errors.New("--new-url is required")
	}

	client, token, err := tenantClient(*teamSub)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	team, err := client.UpdateTeamURL(ctx, token, *newURL)
	if err != nil {
		return err
	}
	fmt.Printf("team moved to %s\n", team.Subdomain)
	return nil
}

func commandIntegration(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: anymsg integration [save|list]")
	}
	sub := args[0]
	switch sub {
	case "save":
		return integrationSave(args[1:])
	case "list":
		return integrationList(args[1:])
	default:
		return fmt.Errorf("unknown integration command: %s", sub)
	}
}

func integrationSave(args []string) error {
	fs := flag.NewFlagSet("integration save", flag.ExitOnError)
	teamSub := fs.String("team", "", "Team subdomain")
	name := fs.String("name", "", "Integration name, e.g. twilio")
	auth := fs.String("auth", "", "Authentication payload as JSON")
	authFile := fs.String("auth-file", "", "Path to a JSON file with the authentication payload")
	providers := fs.String("providers", "", "Comma-separated provider list")
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}
	payload, err := resolveAuthPayload(*auth, *authFile)
	if err != nil {
		return err
	}

	client, token, err := tenantClient(*teamSub)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	input := apiclient.SaveIntegrationInput{
		Name:           *name,
		Authentication: payload,
		Providers:      splitProviders(*providers),
	}
	if err := client.SaveIntegration(ctx, token, input); err != nil {
		return err
	}
	fmt.Printf("integration %s saved\n", *name)
	return nil
}

func integrationList(args []string) error {
	fs := flag.NewFlagSet("integration list", flag.ExitOnError)
	teamSub := fs.String("team", "", "Team subdomain")
	fs.Parse(args)

	client, token, err := tenantClient(*teamSub)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	integrations, err := client.ListIntegrations(ctx, token)
	if err != nil {
		return err
	}
	for _, integration := range integrations {
		fmt.Printf("%s\t%s\t%s\n", integration.Name, strings.Join(integration.Providers, ","), integration.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func commandBilling(args []string) error {
	if len(args) == 0 || args[0] != "status" {
		return errors.New("usage: anymsg billing status --team <subdomain>")
	}
	fs := flag.NewFlagSet("billing status", flag.ExitOnError)
	teamSub := fs.String("team", "", "Team subdomain")
	fs.Parse(args[1:])

	client, token, err := tenantClient(*teamSub)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	active, err := client.SubscriptionActive(ctx, token)
	if err != nil {
		return err
	}
	if active {
		fmt.Println("subscription active")
	} else {
		fmt.Println("no active subscription")
	}
	return nil
}

func resolvePassword(supplied string) (string, error) {
	secret := strings.TrimSpace(supplied)
	if secret != "" {
		return secret, nil
	}
	fmt.Print("Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

func resolveAuthPayload(inline, file string) (json.RawMessage, error) {
	raw := []byte(strings.TrimSpace(inline))
	if len(raw) == 0 && strings.TrimSpace(file) != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read auth file: %w", err)
		}
		raw = data
	}
	if len(raw) == 0 {
		return nil, errors.New("--auth or --auth-file is required")
	}
	if !json.Valid(raw) {
		return nil, errors.New("authentication payload must be valid JSON")
	}
	return json.RawMessage(raw), nil
}

func splitProviders(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func authedConfig() (cliConfig, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cliConfig{}, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return cliConfig{}, "", errors.New("please login first using 'anymsg login'")
	}
	return cfg, token, nil
}

func tenantClient(teamSub string) (*apiclient.Client, string, error) {
	if strings.TrimSpace(teamSub) == "" {
		return nil, "", errors.New("--team is required")
	}
	cfg, token, err := authedConfig()
	if err != nil {
		return nil, "", err
	}
	origin := fmt.Sprintf("https://%s.%s", strings.TrimSpace(teamSub), cfg.AppDomain)
	client, err := apiclient.New(cfg.APIBaseURL, apiclient.WithOrigin(origin))
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func applyAPIBase(cfg *cliConfig, override string) {
	if strings.TrimSpace(override) != "" {
		cfg.APIBaseURL = override
	} else if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4000"
	}
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: "http://localhost:4000", AppDomain: "anymessage.io"}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4000"
	}
	if cfg.AppDomain == "" {
		cfg.AppDomain = "anymessage.io"
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "anymsg", "config.json"), nil
}

func printUsage() {
	fmt.Printf("anymsg CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	anymsg signup --email user@example.com [--password secret] [--api http://localhost:4000]
	anymsg login --email user@example.com [--password secret] [--api http://localhost:4000]
	anymsg team create --subdomain <subdomain>
	anymsg team available --subdomain <subdomain>
	anymsg team current --team <subdomain>
	anymsg team set-url --team <subdomain> --new-url <subdomain>
	anymsg integration save --team <subdomain> --name <name> --auth <json> [--auth-file path] [--providers sms,voice]
	anymsg integration list --team <subdomain>
	anymsg billing status --team <subdomain>
	anymsg version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
