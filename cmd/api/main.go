package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"dealflow/auth"
	"dealflow/custody"
	"dealflow/db"
	"dealflow/deal"
	"dealflow/dispatch"
	"dealflow/ledger"
	"dealflow/listing"
	"dealflow/participant"
	"dealflow/timeline"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	penaltyRef := os.Getenv("PENALTY_ACCOUNT_REF")
	if penaltyRef == "" {
		penaltyRef = "penalty_sink"
	}

	accounts := ledger.New()
	custodian := custody.New(accounts, penaltyRef)
	participants := participant.NewRepository(pool)
	events := timeline.NewRepository(pool)

	dealService := deal.NewService(pool, participants, custodian, events, nil)
	authService := auth.NewService(auth.NewRepository(pool, participants, accounts), jwtSecret)
	listingService := listing.NewService(listing.NewRepository(pool))
	dispatcher := dispatch.New(dealService)

	server := &Server{
		authService:    authService,
		dispatcher:     dispatcher,
		listingService: listingService,
		events:         events,
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	log.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, server.Handler()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
