// Command admin grants or revokes the global admin capability used for group
// moderation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"tripchat/internal/config"
	"tripchat/internal/database"
	"tripchat/internal/repository"

	"gorm.io/gorm"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage:")
		fmt.Println("  admin promote <user_id>   - Promote user to admin")
		fmt.Println("  admin demote <user_id>    - Demote user from admin")
		fmt.Println("  admin list                - List all admins")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	users := repository.NewUserRepository(db)
	ctx := context.Background()

	switch os.Args[1] {
	case "promote", "demote":
		if len(os.Args) < 3 {
			fmt.Printf("Usage: admin %s <user_id>\n", os.Args[1])
			os.Exit(1)
		}
		id, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil || id == 0 {
			log.Fatalf("Invalid user id %q", os.Args[2])
		}
		setAdmin(ctx, users, uint(id), os.Args[1] == "promote")
	case "list":
		listAdmins(ctx, users)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func setAdmin(ctx context.Context, users repository.UserRepository, id uint, admin bool) {
	user, err := users.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fmt.Printf("User with ID %d not found\n", id)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Database error: %v", err)
	}

	verb := "promoted"
	if !admin {
		verb = "demoted"
	}
	if user.IsAdmin == admin {
		fmt.Printf("User %s (ID: %d) is already %s\n", user.Username, user.ID, verb)
		return
	}
	if err := users.SetAdmin(ctx, id, admin); err != nil {
		log.Fatalf("Failed to update user: %v", err)
	}
	fmt.Printf("✅ %s %s (ID: %d)\n", verb, user.Username, user.ID)
}

func listAdmins(ctx context.Context, users repository.UserRepository) {
	admins, err := users.ListAdmins(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch admins: %v", err)
	}
	if len(admins) == 0 {
		fmt.Println("No admins found")
		return
	}
	for _, a := range admins {
		fmt.Printf("ID: %d | Username: %s | Name: %s\n", a.ID, a.Username, a.Name())
	}
}
