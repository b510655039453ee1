package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/campus-leave-api/internal/models"
	"github.com/noah-isme/campus-leave-api/internal/service"
	"github.com/noah-isme/campus-leave-api/pkg/config"
)

// issue_token mints an access token signed with the configured JWT secret. Used for local
// testing of the request and ingestion endpoints without seeding user passwords.
func main() {
	var (
		userID    string
		role      string
		email     string
		name      string
		studentID string
		ttl       time.Duration
	)

	flag.StringVar(&userID, "user", "", "User ID (random when empty)")
	flag.StringVar(&role, "role", string(models.RoleStudent), "Role: student, warden, dean, security, admin, superadmin")
	flag.StringVar(&email, "email", "", "Email claim")
	flag.StringVar(&name, "name", "", "Full name claim")
	flag.StringVar(&studentID, "student", "", "Student ID claim (required for students)")
	flag.DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to JWT_EXPIRATION)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	parsedRole := models.ParseRole(role)
	if parsedRole == models.RoleStudent && studentID == "" {
		fmt.Fprintln(os.Stderr, "-student is required for student tokens")
		os.Exit(2)
	}
	if userID == "" {
		userID = uuid.NewString()
	}
	if ttl <= 0 {
		ttl = cfg.JWT.Expiration
	}

	user := &models.User{ID: userID, Email: email, FullName: name, Role: parsedRole, Active: true}
	if studentID != "" {
		user.StudentID = &studentID
	}

	auth := service.NewAuthService(nil, nil, nil, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: ttl,
		Issuer:            cfg.JWT.Issuer,
	})
	token, expiresAt, err := auth.IssueToken(user)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "role=%s user=%s expires=%s\n", parsedRole, userID, expiresAt.Format(time.RFC3339))
}
