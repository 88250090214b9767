package config

import (
	"flag"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultServerAddress   = ":8080"
	defaultDatabaseDSN     = ""
	defaultEnvironment     = "development"
	defaultLogLevel        = "debug"
	defaultStripeAddress   = ""
	defaultRazorpayAddress = ""
	defaultRefundInterval  = 5 * time.Minute
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	Environment    string
	LogLevel       string
	StripeAddr     string
	RazorpayAddr   string
	RefundInterval time.Duration
}

var (
	once      sync.Once
	singleton *Config
)

// New returns new Config. It parses command line and environment variables only once.
func New() (*Config, error) {
	once.Do(func() {
		// missing .env is fine, environment variables still apply
		_ = godotenv.Load()

		cfg := Config{}

		// initialize flags
		flag.StringVar(&cfg.ServerAddr, "a", defaultServerAddress, "order service address")
		flag.StringVar(&cfg.DatabaseDSN, "d", defaultDatabaseDSN, "order database DSN")
		flag.StringVar(&cfg.Environment, "e", defaultEnvironment, "environment (development|production)")
		flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level")
		flag.StringVar(&cfg.StripeAddr, "stripe", defaultStripeAddress, "stripe provider address")
		flag.StringVar(&cfg.RazorpayAddr, "razorpay", defaultRazorpayAddress, "razorpay provider address")
		flag.DurationVar(&cfg.RefundInterval, "refund-interval", defaultRefundInterval, "refund reconciliation interval")

		flag.Parse()

		// if environment variable is set, then using it
		if runAddrEnv := os.Getenv("RUN_ADDRESS"); runAddrEnv != "" {
			cfg.ServerAddr = runAddrEnv
		}
		if databaseURIEnv := os.Getenv("DATABASE_URI"); databaseURIEnv != "" {
			cfg.DatabaseDSN = databaseURIEnv
		}
		if environmentEnv := os.Getenv("APP_ENV"); environmentEnv != "" {
			cfg.Environment = environmentEnv
		}
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			cfg.LogLevel = logLevelEnv
		}
		if stripeAddrEnv := os.Getenv("STRIPE_GATEWAY_ADDRESS"); stripeAddrEnv != "" {
			cfg.StripeAddr = stripeAddrEnv
		}
		if razorpayAddrEnv := os.Getenv("RAZORPAY_GATEWAY_ADDRESS"); razorpayAddrEnv != "" {
			cfg.RazorpayAddr = razorpayAddrEnv
		}

		singleton = &cfg
	})

	return singleton, nil
}
