// Command munin-bootstrap seeds the first admin operator outside the
// HTTP surface. POST /users in pkg/server requires an authenticated
// caller holding users/create, which only the admin role has (spec.md
// §4.6), so a freshly provisioned instance has no way to create its own
// first user through POST /users — this
// binary is the one-time, idempotent exception, run once against the
// deployment's database before the server is ever exposed.
package main

import (
	"context"
	"log"
	"os"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/audit"
	"github.com/jacobsprake/munin/pkg/config"
	"github.com/jacobsprake/munin/pkg/crypto"
	"github.com/jacobsprake/munin/pkg/keyregistry"
	"github.com/jacobsprake/munin/pkg/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Printf("[bootstrap] config: %v", err)
		return 1
	}

	db, err := storage.Open(cfg.StorageDriver, cfg.DatabasePath)
	if err != nil {
		log.Printf("[bootstrap] open storage: %v", err)
		return 1
	}
	defer db.Close()

	operatorID := os.Getenv("BOOTSTRAP_ADMIN_ID")
	if operatorID == "" {
		operatorID = "admin"
	}
	passphrase := os.Getenv("BOOTSTRAP_ADMIN_PASSPHRASE")
	if passphrase == "" {
		log.Println("[bootstrap] BOOTSTRAP_ADMIN_PASSPHRASE is required")
		return 1
	}

	users := keyregistry.New(db, audit.New(db))

	if existing, err := users.GetUser(ctx, operatorID); err == nil {
		log.Printf("[bootstrap] admin %q already exists (role=%s), nothing to do", operatorID, existing.Role)
		return 0
	} else if !apierr.Is(err, apierr.KindNotFound) {
		log.Printf("[bootstrap] look up existing admin: %v", err)
		return 1
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		log.Printf("[bootstrap] generate admin key: %v", err)
		return 1
	}
	if _, err := users.RegisterUser(ctx, operatorID, operatorID, "admin", kp.Public, operatorID+"-key-1"); err != nil {
		log.Printf("[bootstrap] register admin: %v", err)
		return 1
	}

	hash, err := crypto.HashPassword(passphrase, crypto.DefaultPasswordParams())
	if err != nil {
		log.Printf("[bootstrap] hash admin passphrase: %v", err)
		return 1
	}
	if err := users.SetPassphraseHash(ctx, operatorID, hash); err != nil {
		log.Printf("[bootstrap] set admin passphrase: %v", err)
		return 1
	}

	log.Printf("[bootstrap] created admin %q", operatorID)
	return 0
}
