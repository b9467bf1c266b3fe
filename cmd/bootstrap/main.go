// Command bootstrap creates a project and prints an API key for it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/nikhilbhutani/promptlib/internal/auth"
	"github.com/nikhilbhutani/promptlib/internal/config"
	"github.com/nikhilbhutani/promptlib/internal/database"
	"github.com/nikhilbhutani/promptlib/internal/logging"
	"github.com/nikhilbhutani/promptlib/internal/project"
)

func main() {
	name := flag.String("name", "", "project name")
	slug := flag.String("slug", "", "project slug (defaults to the lowercased name)")
	keyName := flag.String("key-name", "bootstrap", "name of the issued API key")
	scopes := flag.String("scopes", string(auth.PermWildcard), "comma-separated API key scopes")
	flag.Parse()

	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "usage: bootstrap -name <project> [-slug s] [-scopes a,b]")
		os.Exit(2)
	}
	if *slug == "" {
		*slug = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(*name)), " ", "-")
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(cfg.LogLevel))

	if err := run(context.Background(), cfg, *name, *slug, *keyName, strings.Split(*scopes, ",")); err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, name, slug, keyName string, scopes []string) error {
	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, database.MigrationSource(cfg.Database)); err != nil {
		return err
	}

	p, err := project.NewService(db).Create(ctx, name, slug)
	if err != nil {
		return err
	}

	secret, key, err := auth.NewPGKeyStore(db).CreateAPIKey(ctx, p.ID, keyName, scopes)
	if err != nil {
		return err
	}

	slog.Info("project created", "project_id", p.ID, "slug", p.Slug, "api_key_id", key.ID)
	fmt.Println(secret)
	return nil
}
