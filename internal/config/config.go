package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	RegisterID             string
	AuthSecret             string
	AccessTokenTTLMinutes  int
	ManagerPIN             string
	CreditTermDays         int
	InvoiceCacheTTLSeconds int
	EnforceStock           bool
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	creditTerm, err := strconv.Atoi(getEnv("CREDIT_TERM_DAYS", "30"))
	if err != nil || creditTerm < 1 {
		creditTerm = 30
	}
	invoiceTTL, err := strconv.Atoi(getEnv("INVOICE_CACHE_TTL_SECONDS", "600"))
	if err != nil || invoiceTTL < 1 {
		invoiceTTL = 600
	}

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		RegisterID:             getEnv("REGISTER_ID", "register-1"),
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		ManagerPIN:             strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		CreditTermDays:         creditTerm,
		InvoiceCacheTTLSeconds: invoiceTTL,
		EnforceStock:           os.Getenv("ENFORCE_STOCK") == "true",
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
