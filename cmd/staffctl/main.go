package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"boacid/internal/accounts"
	"boacid/internal/config"
	"boacid/internal/issuance"
	"boacid/internal/ledger"
	"boacid/internal/store"
)

const usage = `usage: staffctl <command> [flags]

commands:
  create-user -username NAME [-password PASS]   create a staff account (password also read from STAFFCTL_PASSWORD)
  users                                         print the number of staff accounts
  ids                                           list issued IDs
  qr [-id ID] -out FILE                         write the QR code of an ID (latest when -id is empty)
`

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := config.SetupLogger(cfg)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "create-user":
		err = createUser(ctx, cfg, os.Args[2:])
	case "users":
		err = countUsers(ctx, cfg)
	case "ids":
		err = listIDs(ctx, cfg)
	case "qr":
		err = writeQR(ctx, cfg, logger, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", os.Args[1]).Msg("staffctl failed")
	}
}

func openAccounts(ctx context.Context, cfg config.App) (*accounts.Service, *accounts.Repository, func(), error) {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	repo := accounts.NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	return accounts.NewService(repo), repo, func() { _ = db.Close() }, nil
}

func createUser(ctx context.Context, cfg config.App, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	username := fs.String("username", "", "account name")
	password := fs.String("password", os.Getenv("STAFFCTL_PASSWORD"), "account password")
	_ = fs.Parse(args)

	svc, _, closeDB, err := openAccounts(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	user, err := svc.Signup(ctx, *username, *password)
	if errors.Is(err, accounts.ErrUsernameTaken) {
		return fmt.Errorf("username %q already exists", *username)
	}
	if err != nil {
		return err
	}
	fmt.Printf("created %s (%s)\n", user.Username, user.ID)
	return nil
}

func countUsers(ctx context.Context, cfg config.App) error {
	_, repo, closeDB, err := openAccounts(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	n, err := repo.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

func listIDs(ctx context.Context, cfg config.App) error {
	records, err := ledger.New(cfg.LedgerPath).List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tID\tNAME\tPOSITION\tOFFICE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.DateGenerated, r.IDNumber, r.FullName, r.Position, r.Office)
	}
	return tw.Flush()
}

func writeQR(ctx context.Context, cfg config.App, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("qr", flag.ExitOnError)
	id := fs.String("id", "", "ID number; latest record when empty")
	out := fs.String("out", "", "output PNG file")
	_ = fs.Parse(args)
	if *out == "" {
		return errors.New("-out is required")
	}

	// QRCode only reads, so no photo store is needed.
	svc := issuance.NewService(ledger.New(cfg.LedgerPath), nil, nil, logger)
	png, err := svc.QRCode(ctx, *id)
	if err != nil {
		return err
	}
	if png == nil {
		return errors.New("no resident records found")
	}
	return os.WriteFile(*out, png, 0o644)
}
