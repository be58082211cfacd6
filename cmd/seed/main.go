// Command seed fills a development database with demo travelers, a trip
// group and direct conversations.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"tripchat/internal/bootstrap"
	"tripchat/internal/config"
	"tripchat/internal/database"
	"tripchat/internal/middleware"
	"tripchat/internal/models"
	"tripchat/internal/seed"
)

func main() {
	travelers := flag.Int("travelers", seed.DefaultOptions.Travelers, "Number of travelers in the trip group")
	messages := flag.Int("messages", seed.DefaultOptions.MessagesPerChat, "Messages per conversation")
	shouldClean := flag.Bool("clean", seed.DefaultOptions.ShouldClean, "Clean database before seeding")
	randSeed := flag.Int64("seed", 0, "Seed for deterministic content (0 for random)")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of the printed access tokens")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}

	ctx := context.Background()
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	res, err := seed.Demo(ctx, db, seed.Options{
		Travelers:       *travelers,
		MessagesPerChat: *messages,
		ShouldClean:     *shouldClean,
		Seed:            *randSeed,
	})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	if _, err := bootstrap.EnsureDevAdmin(ctx, cfg, db); err != nil {
		log.Fatalf("❌ Admin bootstrap failed: %v", err)
	}

	tokens := middleware.TokenConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience}
	users := []*models.User{res.Guide, res.Owner}
	users = append(users, res.Travelers[:min(2, len(res.Travelers))]...)
	for _, u := range users {
		tok, err := middleware.IssueToken(tokens, u.ID, *tokenTTL)
		if err != nil {
			log.Fatalf("❌ Token signing failed: %v", err)
		}
		log.Printf("👤 %-40s id=%d token=%s", u.Username, u.ID, tok)
	}

	log.Printf("✨ Done: group %d (%q), %d direct chats, %d messages", res.Group.ID, res.Group.Name, len(res.Directs), res.Messages)
}
