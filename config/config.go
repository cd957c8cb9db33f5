package config

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/models"
)

// Config holds the project config values
type Config struct {
	URL              string
	DatabaseName     string
	BaseURL          string
	Port             string
	RedisAddress     string
	RedisPassword    string
	OpenAIKey        string
	ClassifierModel  string
	JWTSecret        string
	SendgridKey      string
	RoutingRulesPath string
}

// New sets up all config related services
func New() *Config {
	// .env is optional, envs may come from the platform
	_ = godotenv.Load()

	//setup zap logger and replace default logger
	logger, err := setLogger(os.Getenv("APP_ENV"))
	if err != nil {
		logger = zap.NewExample()
	}
	defer logger.Sync()
	_ = zap.ReplaceGlobals(logger)

	return &Config{
		URL:              os.Getenv("DB_URI"),
		DatabaseName:     os.Getenv("DB_NAME"),
		BaseURL:          os.Getenv("BASE_URL"),
		Port:             os.Getenv("PORT"),
		RedisAddress:     os.Getenv("REDIS_ADDRESS"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		ClassifierModel:  os.Getenv("CLASSIFIER_MODEL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		SendgridKey:      os.Getenv("SENDGRID_API_KEY"),
		RoutingRulesPath: os.Getenv("ROUTING_RULES_PATH"),
	}
}

// ErrorStatus is a useful function that will log, write http headers and body for a
// give message, status code and err
func ErrorStatus(message string, httpStatusCode int, w http.ResponseWriter, err error) {
	zap.S().With(err).Error(message)
	w.WriteHeader(httpStatusCode)
	errString := ""
	if err != nil {
		errString = err.Error()
	}
	b, _ := json.Marshal(models.ErrorMessageResponse{Response: models.MessageError{Message: message, Error: errString}})
	w.Write(b)
}
