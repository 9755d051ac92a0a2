package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	ClinicID                string
	ReportCacheTTLSeconds   int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	ManagerPIN              string
	MissingFeeRulePolicy    string
	NonCardReceivingDays    int
	InstallmentIntervalDays int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttl, err := strconv.Atoi(getEnv("REPORT_CACHE_TTL_SECONDS", "30"))
	if err != nil || ttl < 1 {
		ttl = 30
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	receivingDays, err := strconv.Atoi(getEnv("NON_CARD_RECEIVING_DAYS", "2"))
	if err != nil || receivingDays < 0 {
		receivingDays = 2
	}
	intervalDays, err := strconv.Atoi(getEnv("INSTALLMENT_INTERVAL_DAYS", "30"))
	if err != nil || intervalDays < 1 {
		intervalDays = 30
	}
	policy := getEnv("MISSING_FEE_RULE_POLICY", "zero_fee")
	if policy != "zero_fee" && policy != "reject" {
		policy = "zero_fee"
	}

	cfg := Config{
		Port:                    getEnv("PORT", "8080"),
		AllowedOrigin:           getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 redisDB,
		ClinicID:                getEnv("DEFAULT_CLINIC_ID", "main-clinic"),
		ReportCacheTTLSeconds:   ttl,
		AuthSecret:              strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:   tokenTTL,
		ManagerPIN:              strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		MissingFeeRulePolicy:    policy,
		NonCardReceivingDays:    receivingDays,
		InstallmentIntervalDays: intervalDays,
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
