package handlers_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"github.com/civicgrid/civic-issues-api/api/handlers"
	"github.com/civicgrid/civic-issues-api/databases/mocks"
	"github.com/civicgrid/civic-issues-api/models"
)

func TestUser_LoginHandler_Success(t *testing.T) {
	mockUserDB := &mocks.UserDatabase{}
	handler := handlers.User{DB: mockUserDB, JWTSecret: "test-secret"}

	hashed, err := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)
	assert.NoError(t, err)

	userID := primitive.NewObjectID()
	mockUserDB.On("FindOne", mock.Anything, bson.M{"username": "clerk.east"}).Return(&models.User{
		ID:           userID,
		Username:     "clerk.east",
		Password:     string(hashed),
		Role:         models.RoleAuthority,
		DepartmentID: primitive.NewObjectID().Hex(),
	}, nil)
	mockUserDB.On("UpdateOne", mock.Anything, bson.M{"_id": userID}, mock.Anything).
		Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil)

	// Username match is case-insensitive.
	body := `{"username":"Clerk.East","password":"hunter2hunter2"}`
	req, err := http.NewRequest("POST", "/api/v1/auth/login", bytes.NewBufferString(body))
	assert.NoError(t, err)

	w := httptest.NewRecorder()
	handler.LoginHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"token":`)
	assert.Contains(t, w.Body.String(), `"role":"authority"`)
	mockUserDB.AssertExpectations(t)
}

func TestUser_LoginHandler_WrongPassword(t *testing.T) {
	mockUserDB := &mocks.UserDatabase{}
	handler := handlers.User{DB: mockUserDB, JWTSecret: "test-secret"}

	hashed, err := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)
	assert.NoError(t, err)

	mockUserDB.On("FindOne", mock.Anything, bson.M{"username": "clerk.east"}).Return(&models.User{
		ID:       primitive.NewObjectID(),
		Username: "clerk.east",
		Password: string(hashed),
		Role:     models.RoleAuthority,
	}, nil)

	body := `{"username":"clerk.east","password":"wrong-password"}`
	req, err := http.NewRequest("POST", "/api/v1/auth/login", bytes.NewBufferString(body))
	assert.NoError(t, err)

	w := httptest.NewRecorder()
	handler.LoginHandler(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid credentials")
	mockUserDB.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestUser_LoginHandler_UnknownUser(t *testing.T) {
	mockUserDB := &mocks.UserDatabase{}
	handler := handlers.User{DB: mockUserDB, JWTSecret: "test-secret"}

	mockUserDB.On("FindOne", mock.Anything, bson.M{"username": "ghost"}).Return(nil, mongo.ErrNoDocuments)

	body := `{"username":"ghost","password":"whatever123"}`
	req, err := http.NewRequest("POST", "/api/v1/auth/login", bytes.NewBufferString(body))
	assert.NoError(t, err)

	w := httptest.NewRecorder()
	handler.LoginHandler(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid credentials")
}

func TestUser_CreateUserHandler_RequiresAdministrator(t *testing.T) {
	mockUserDB := &mocks.UserDatabase{}
	handler := handlers.User{DB: mockUserDB, JWTSecret: "test-secret"}

	// The acting user is an authority, not an administrator.
	mockUserDB.On("FindOne", mock.Anything, mock.Anything).Return(&models.User{
		ID:       primitive.NewObjectID(),
		Username: "clerk.east",
		Role:     models.RoleAuthority,
	}, nil)

	body := `{"username":"new.clerk","password":"longenough1","role":"authority","departmentId":"abc"}`
	req, err := http.NewRequest("POST", "/api/v1/user", bytes.NewBufferString(body))
	assert.NoError(t, err)

	w := httptest.NewRecorder()
	handler.CreateUserHandler(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "administrator role required")
	mockUserDB.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestUser_LoginHandler_MissingCredentials(t *testing.T) {
	mockUserDB := &mocks.UserDatabase{}
	handler := handlers.User{DB: mockUserDB, JWTSecret: "test-secret"}

	body := `{"username":"","password":""}`
	req, err := http.NewRequest("POST", "/api/v1/auth/login", bytes.NewBufferString(body))
	assert.NoError(t, err)

	w := httptest.NewRecorder()
	handler.LoginHandler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "username and password required")
	mockUserDB.AssertNotCalled(t, "FindOne", mock.Anything, mock.Anything)
}
