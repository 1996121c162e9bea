/*
JWT token generator for the HDMI mixing appliance's control surface.

Generates tokens with the same secret key and algorithm as the server,
for testing, scripting, and development.

Usage:

	jwt-generator --role admin --expiry-hours 72
	jwt-generator --role viewer --expiry-hours 24 --secret-key "custom-secret"
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/security"
)

var (
	role         = flag.String("role", "admin", "User role (viewer, operator, admin)")
	expiryHours  = flag.Int("expiry-hours", 48, "Token expiry in hours")
	secretKey    = flag.String("secret-key", "", "JWT secret key (or JWT_SECRET_KEY env)")
	userID       = flag.String("user-id", "", "User ID (defaults to test_<role>)")
	outputFormat = flag.String("format", "token", "Output format: token, json")
)

func main() {
	flag.Parse()

	if !security.ValidRoles[*role] {
		fmt.Fprintf(os.Stderr, "invalid role %q (valid: viewer, operator, admin)\n", *role)
		os.Exit(1)
	}

	secret := *secretKey
	if secret == "" {
		secret = os.Getenv("JWT_SECRET_KEY")
	}
	if secret == "" {
		fmt.Fprintln(os.Stderr, "secret key required (--secret-key or JWT_SECRET_KEY)")
		os.Exit(1)
	}

	uid := *userID
	if uid == "" {
		uid = "test_" + *role
	}

	handler, err := security.NewJWTHandler(secret, logging.GetLogger("jwt-generator"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "jwt handler: %v\n", err)
		os.Exit(1)
	}
	token, err := handler.GenerateToken(uid, *role, *expiryHours)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		out, _ := json.MarshalIndent(map[string]any{
			"token":        token,
			"user_id":      uid,
			"role":         *role,
			"expiry_hours": *expiryHours,
		}, "", "  ")
		fmt.Println(string(out))
	default:
		fmt.Println(token)
	}
}
