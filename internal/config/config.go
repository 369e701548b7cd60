package config // package config loads application configuration from environment variables

import (
	"log" // log is used to report configuration errors and halt execution
	"os"  // os provides access to environment variables
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Values that only one subsystem needs live in the
// dedicated Load*Config functions of this package.
type Config struct {
	Env             string // application environment (e.g. "dev", "prod")
	Port            string // HTTP port to listen on
	LogLevel        string // debug | info | warn | error
	DBUser          string // database username
	DBPass          string // database password (optional)
	DBHost          string // database host address
	DBPort          string // database port number
	DBName          string // database name
	DBMaxOpenConns  int    // pool size, caps concurrent vote transactions
	JWTSecret       string // secret used to sign session and operator JWTs
	OperatorTTLMin  int    // operator token time-to-live in minutes
	BcryptCost      int    // bcrypt cost for operator password hashing
	AutoMigrate     bool   // create tables on startup
	WorkerInProcess bool   // run the delivery worker pools inside the API process
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:             must("APP_ENV"),                      // environment (dev/test/prod)
		Port:            must("APP_PORT"),                     // port to bind the HTTP server
		LogLevel:        envStr("LOG_LEVEL", "info"),          // slog level
		DBUser:          must("DB_USER"),                      // database user
		DBPass:          os.Getenv("DB_PASS"),                 // database password (empty allowed)
		DBHost:          must("DB_HOST"),                      // database host
		DBPort:          must("DB_PORT"),                      // database port
		DBName:          must("DB_NAME"),                      // database name
		DBMaxOpenConns:  envInt("DB_MAX_OPEN_CONNS", 25),
		JWTSecret:       must("JWT_SECRET"),                   // secret used for signing JWTs
		OperatorTTLMin:  envInt("OPERATOR_TOKEN_TTL_MIN", 480), // operator sessions last a voting day
		BcryptCost:      envInt("BCRYPT_COST", 10),            // bcrypt cost factor
		AutoMigrate:     envBool("DB_AUTO_MIGRATE", true),
		WorkerInProcess: envBool("WORKER_INPROCESS", true),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
