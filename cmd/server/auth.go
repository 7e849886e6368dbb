package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nickyhof/CommitQuery/core"
)

// AuthConfig configures server authentication.
type AuthConfig struct {
	// Enabled requires AUTH before any other command.
	Enabled bool

	// JWTSecret is the shared secret for HS256 JWT validation.
	JWTSecret string

	// Issuer is the expected "iss" claim (optional).
	Issuer string

	// Audience is the expected "aud" claim (optional).
	Audience string

	// NameClaim is the JWT claim for user's name (default: "name").
	NameClaim string

	// EmailClaim is the JWT claim for user's email (default: "email").
	EmailClaim string

	// ProjectClaim is the JWT claim restricting a connection to one project
	// (default: "project"). Tokens without it may use every project.
	ProjectClaim string
}

var (
	errAuthRequired = errors.New("authentication required: send AUTH JWT <token>")
	errTokenExpired = errors.New("token expired")
)

// ConnectionState tracks the identity and the current project of a connection.
type ConnectionState struct {
	identity       *core.Identity
	authenticated  bool
	tokenExpiry    time.Time
	allowedProject string
	project        string
}

func (cs *ConnectionState) IsAuthenticated() bool {
	return cs.authenticated
}

// Identity returns the connection's identity, or nil if not authenticated.
func (cs *ConnectionState) Identity() *core.Identity {
	return cs.identity
}

// authorize checks the connection may run a command against project.
func (cs *ConnectionState) authorize(config AuthConfig, project string, now time.Time) error {
	if !config.Enabled {
		return nil
	}
	if !cs.authenticated {
		return errAuthRequired
	}
	if !cs.tokenExpiry.IsZero() && now.After(cs.tokenExpiry) {
		return errTokenExpired
	}
	if cs.allowedProject != "" && project != cs.allowedProject {
		return fmt.Errorf("access to project %s denied", project)
	}
	return nil
}

type authResult struct {
	identity  core.Identity
	project   string
	expiresAt time.Time
}

func claimName(configured, fallback string) string {
	if configured == "" {
		return fallback
	}
	return configured
}

// validateJWT validates a JWT token and extracts identity claims.
func validateJWT(config AuthConfig, tokenString string) (authResult, error) {
	if config.JWTSecret == "" {
		return authResult{}, errors.New("authentication not configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return authResult{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return authResult{}, errors.New("invalid token claims")
	}

	if config.Issuer != "" {
		issuer, _ := claims.GetIssuer()
		if issuer != config.Issuer {
			return authResult{}, fmt.Errorf("invalid issuer: expected %s, got %s", config.Issuer, issuer)
		}
	}

	if config.Audience != "" {
		audiences, _ := claims.GetAudience()
		if !slices.Contains(audiences, config.Audience) {
			return authResult{}, fmt.Errorf("invalid audience: expected %s", config.Audience)
		}
	}

	nameClaim := claimName(config.NameClaim, "name")
	emailClaim := claimName(config.EmailClaim, "email")
	name, _ := claims[nameClaim].(string)
	email, _ := claims[emailClaim].(string)
	if name == "" && email == "" {
		return authResult{}, fmt.Errorf("token missing identity claims (%s or %s)", nameClaim, emailClaim)
	}

	result := authResult{identity: core.Identity{Name: name, Email: email}}
	result.project, _ = claims[claimName(config.ProjectClaim, "project")].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		result.expiresAt = exp.Time
	}
	return result, nil
}

// parseAuthCommand parses "AUTH JWT <token>".
func parseAuthCommand(line string) (authType, token string, err error) {
	parts := strings.Fields(line)
	if len(parts) == 0 || !strings.EqualFold(parts[0], "AUTH") {
		return "", "", errors.New("not an AUTH command")
	}
	if len(parts) != 3 {
		return "", "", errors.New("invalid AUTH command: expected AUTH <type> <credentials>")
	}

	authType = strings.ToUpper(parts[1])
	if authType != "JWT" {
		return "", "", fmt.Errorf("unsupported auth type: %s", authType)
	}
	return authType, parts[2], nil
}

func (s *Server) handleAuth(line string, state *ConnectionState) Response {
	_, token, err := parseAuthCommand(line)
	if err != nil {
		return errorResponse("auth", err)
	}

	result, err := validateJWT(s.config.Auth, token)
	if err != nil {
		return errorResponse("auth", err)
	}

	state.identity = &result.identity
	state.authenticated = true
	state.tokenExpiry = result.expiresAt
	state.allowedProject = result.project
	if result.project != "" {
		state.project = result.project
	}

	response := AuthResponse{
		Authenticated: true,
		Identity:      result.identity.String(),
		Project:       result.project,
	}
	if !result.expiresAt.IsZero() {
		response.ExpiresIn = int(time.Until(result.expiresAt).Seconds())
	}
	return successResponse("auth", response)
}
