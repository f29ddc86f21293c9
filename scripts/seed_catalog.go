package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"liguns/internal/database"
	"liguns/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// CatalogConfig is a user's websites, destination accounts and evergreen
// posts, loaded from YAML.
type CatalogConfig struct {
	UserID   string `yaml:"user_id"`
	Websites []struct {
		Name        string `yaml:"name"`
		URL         string `yaml:"url"`
		Description string `yaml:"description"`
		LogoURL     string `yaml:"logo_url"`
	} `yaml:"websites"`
	Accounts []struct {
		Platform       string `yaml:"platform"`
		AccountName    string `yaml:"account_name"`
		AccountID      string `yaml:"account_id"`
		AccessToken    string `yaml:"access_token"`
		TokenExpiresAt string `yaml:"token_expires_at"`
	} `yaml:"accounts"`
	Evergreen []struct {
		Website  string `yaml:"website"`
		Caption  string `yaml:"caption"`
		ImageURL string `yaml:"image_url"`
	} `yaml:"evergreen"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		catalogPath = flag.String("catalog", "configs/catalog.yaml", "path to catalog.yaml")
		dbPath      = flag.String("db", "./data/liguns.db", "path to sqlite db")
	)
	flag.Parse()

	data, err := os.ReadFile(*catalogPath)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	var cfg CatalogConfig
	if err = yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	if cfg.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	existing, err := db.ListWebsites(ctx, cfg.UserID)
	if err != nil {
		return fmt.Errorf("list websites: %w", err)
	}
	siteIDs := make(map[string]string, len(existing))
	for _, w := range existing {
		siteIDs[w.Name] = w.ID
	}

	sites := 0
	for _, w := range cfg.Websites {
		if w.Name == "" || siteIDs[w.Name] != "" {
			continue
		}
		site := &models.Website{UserID: cfg.UserID, Name: w.Name, URL: w.URL, Description: w.Description, LogoURL: w.LogoURL}
		if err = db.CreateWebsite(ctx, site); err != nil {
			return fmt.Errorf("create website %s: %w", w.Name, err)
		}
		siteIDs[w.Name] = site.ID
		sites++
	}

	accounts, err := db.ListAccounts(ctx, cfg.UserID)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	known := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		known[a.Platform+"/"+a.AccountID] = true
	}

	created := 0
	for _, a := range cfg.Accounts {
		platform := strings.ToLower(a.Platform)
		if !models.IsKnownPlatform(platform) {
			return fmt.Errorf("account %s: unknown platform %q", a.AccountID, a.Platform)
		}
		if known[platform+"/"+a.AccountID] {
			continue
		}
		acc := &models.Account{
			UserID:      cfg.UserID,
			Platform:    platform,
			AccountName: a.AccountName,
			AccountID:   a.AccountID,
			AccessToken: a.AccessToken,
			IsActive:    true,
		}
		if a.TokenExpiresAt != "" {
			exp, err := time.Parse("2006-01-02", a.TokenExpiresAt)
			if err != nil {
				return fmt.Errorf("account %s: token_expires_at: %w", a.AccountID, err)
			}
			acc.TokenExpiresAt = &exp
		}
		if err = db.CreateAccount(ctx, acc); err != nil {
			return fmt.Errorf("create account %s: %w", a.AccountID, err)
		}
		created++
	}

	posts := 0
	for _, p := range cfg.Evergreen {
		if strings.TrimSpace(p.Caption) == "" {
			continue
		}
		post := &models.Post{
			UserID:      cfg.UserID,
			WebsiteID:   siteIDs[p.Website],
			Caption:     strings.TrimSpace(p.Caption),
			ImageURL:    p.ImageURL,
			IsEvergreen: true,
		}
		if err = db.CreatePost(ctx, post); err != nil {
			return fmt.Errorf("create evergreen post: %w", err)
		}
		posts++
	}

	fmt.Printf("done: websites=%d accounts=%d evergreen=%d\n", sites, created, posts)
	return nil
}
