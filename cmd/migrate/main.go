package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"eegportal.org/internal/auth"
	"eegportal.org/internal/migrate"
	"eegportal.org/internal/store/pg"
	"eegportal.org/internal/users"
)

func main() {
	log.SetFlags(0)
	var (
		dsn           = flag.String("dsn", os.Getenv("EEG_PG_DSN"), "PostgreSQL DSN")
		adminEmail    = flag.String("admin-email", os.Getenv("EEG_ADMIN_EMAIL"), "Administrator email for seed")
		adminPassword = flag.String("admin-password", os.Getenv("EEG_ADMIN_PASSWORD"), "Administrator password for seed")
		firstName     = flag.String("first-name", "", "Administrator first name for seed")
		lastName      = flag.String("last-name", "", "Administrator last name for seed")
		bcryptCost    = flag.Int("bcrypt-cost", auth.DefaultHashCost, "bcrypt work factor for seed")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or EEG_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [flags] up|down|status|seed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB())

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		var v int64
		v, err = mgr.Version(ctx)
		if err == nil {
			fmt.Printf("schema version %d\n", v)
		}
	case "seed":
		if *adminEmail == "" || *adminPassword == "" {
			log.Fatal("seed requires -admin-email and -admin-password")
		}
		svc := users.NewService(store.Users(), auth.NewBcryptHasher(*bcryptCost), nil)
		var u *users.User
		u, err = svc.CreateAdmin(ctx, *adminEmail, *adminPassword, *firstName, *lastName)
		switch {
		case errors.Is(err, users.ErrConflict):
			fmt.Printf("admin %s already exists\n", *adminEmail)
			err = nil
		case err == nil:
			fmt.Printf("admin %s created (id %s)\n", u.Email, u.ID)
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
