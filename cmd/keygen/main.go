package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/auth"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage/sqldb"
)

const keyPrefix = "crm_"

func main() {
	label := flag.String("label", "Generated key", "label stored with the key")
	db := flag.String("db", "", "database DSN to insert the key into (empty prints only)")
	driver := flag.String("driver", "sqlite", "database driver for -db: sqlite or postgres")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: keygen [-label L] [-db DSN [-driver sqlite|postgres]] [api-key]")
		fmt.Fprintln(os.Stderr, "Generates an API key (or hashes the one given) and prints its SHA-256 hash.")
		flag.PrintDefaults()
	}
	flag.Parse()

	apiKey := flag.Arg(0)
	if apiKey == "" {
		apiKey = newKey()
	}
	keyHash := auth.HashAPIKey(apiKey)

	fmt.Printf("API Key: %s\n", apiKey)
	fmt.Printf("SHA-256 Hash: %s\n", keyHash)

	if *db == "" {
		return
	}

	var store *sqldb.Store
	var err error
	if *driver == "sqlite" {
		store, err = sqldb.NewSQLite(*db)
	} else {
		store, err = sqldb.New(sqldb.Config{Driver: *driver, DSN: *db})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	err = store.SaveAPIKey(context.Background(), &domain.APIKey{
		KeyHash:   keyHash,
		Label:     *label,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "save key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Key stored as active.")
}

func newKey() string {
	return keyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
