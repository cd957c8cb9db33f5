package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/civicgrid/civic-issues-api/api"
	"github.com/civicgrid/civic-issues-api/config"
	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/models"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  struct {
		ID           string          `json:"id"`
		Username     string          `json:"username"`
		Role         models.UserRole `json:"role"`
		DepartmentID string          `json:"departmentId,omitempty"`
	} `json:"user"`
}

// CreateUserRequest registers an authority or admin account.
type CreateUserRequest struct {
	Username     string          `json:"username"`
	Password     string          `json:"password"`
	Role         models.UserRole `json:"role"`
	DepartmentID string          `json:"departmentId"`
}

// User exported for testing purposes
type User struct {
	DB        databases.UserDatabase
	JWTSecret string
}

// LoginHandler handles login via username/password and returns a JWT
func (u User) LoginHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid request"})
		return
	}

	username := strings.TrimSpace(strings.ToLower(req.Username))
	if username == "" || req.Password == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "username and password required"})
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, err := u.DB.FindOne(ctx, bson.M{"username": username})
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid credentials"})
		return
	}

	jwtSecret := []byte(u.JWTSecret)
	if len(jwtSecret) == 0 {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "server misconfigured"})
		return
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  user.ID.Hex(),
		"name": user.Username,
		"role": user.Role,
		"typ":  "access",
		"iat":  now.Unix(),
		"exp":  now.Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(jwtSecret)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "token generation failed"})
		return
	}

	if _, err := u.DB.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{
		"$set": bson.M{"lastLoginAt": now},
	}); err != nil {
		zap.S().Errorw("failed to stamp last login", "username", username, "error", err)
	}

	var resp loginResponse
	resp.Token = signed
	resp.User.ID = user.ID.Hex()
	resp.User.Username = user.Username
	resp.User.Role = user.Role
	resp.User.DepartmentID = user.DepartmentID

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// CreateUserHandler registers an authority or admin account. Only an
// administrator may call it; citizens never get accounts, their submissions
// carry contact details instead.
func (u User) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	actor, err := u.DB.FindOne(ctx, bson.M{"username": api.Actor(r.Context())})
	if err != nil || !actor.Role.CanAdminister() {
		config.ErrorStatus("administrator role required", http.StatusForbidden, w, errors.New("insufficient role"))
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	username := strings.TrimSpace(strings.ToLower(req.Username))
	if username == "" || len(req.Password) < 8 {
		config.ErrorStatus("invalid user", http.StatusBadRequest, w, errors.New("username and a password of at least 8 characters are required"))
		return
	}
	switch req.Role {
	case models.RoleAuthority, models.RoleAdmin:
	default:
		config.ErrorStatus("invalid user", http.StatusBadRequest, w, errors.New("role must be authority or admin"))
		return
	}
	if req.Role == models.RoleAuthority && req.DepartmentID == "" {
		config.ErrorStatus("invalid user", http.StatusBadRequest, w, errors.New("authority accounts require a departmentId"))
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		config.ErrorStatus("failed to hash password", http.StatusInternalServerError, w, err)
		return
	}

	user := models.User{
		ID:           primitive.NewObjectID(),
		Username:     username,
		Password:     string(hashed),
		Role:         req.Role,
		DepartmentID: req.DepartmentID,
		CreatedAt:    time.Now(),
	}
	if _, err := u.DB.InsertOne(ctx, user); err != nil {
		config.ErrorStatus("failed to create user", http.StatusInternalServerError, w, err)
		return
	}

	zap.S().Infow("user created", "username", username, "role", req.Role, "actor", api.Actor(r.Context()))

	user.Password = ""
	b, err := json.Marshal(user)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(b)
}
