package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/eringen/blogdesk"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// A missing .env is fine; real environment variables win either way.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "token":
		if err := runToken(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("blogdesk %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	app := blogdesk.New(blogdesk.ConfigFromEnv(), blogdesk.WithLogger(logger))
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- app.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func runToken(args []string) error {
	fset := flag.NewFlagSet("token", flag.ContinueOnError)
	sub := fset.String("sub", "", "identity id (required)")
	email := fset.String("email", "", "identity email")
	name := fset.String("name", "", "display name")
	picture := fset.String("picture", "", "avatar URL")
	expiry := fset.Duration("expiry", 24*time.Hour, "token lifetime")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *sub == "" {
		return errors.New("--sub is required")
	}

	auth := blogdesk.NewAuthenticator(blogdesk.MustEnv("JWT_SECRET"), *expiry)
	token, err := auth.Issue(blogdesk.Identity{ID: *sub, Email: *email, Name: *name, AvatarURL: *picture})
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func printUsage() {
	fmt.Println(`blogdesk - A blog content service built with Go and Echo

Usage:
  blogdesk <command> [arguments]

Commands:
  serve         Start the HTTP server (configured from the environment)
  token         Mint a development identity token
  version       Print the blogdesk version
  help          Show this help message

Examples:
  blogdesk serve
  blogdesk token --sub u1 --email ada@example.com --name "Ada"`)
}
