// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL    string
	MigrationsPath string
	EncryptionKey  string

	ListenAddr string
	LogLevel   string

	PolygonRPCURL  string
	PolygonChainID int64
	PolygonTimeout time.Duration

	MasterWalletAddress string
	MasterWalletKey     string

	MidtransServerKey  string
	MidtransClientKey  string
	MidtransProduction bool
}

func LoadConfig() (*Config, error) {
	// A missing .env is fine in containerized deployments where everything
	// arrives through the environment.
	_ = godotenv.Load()
	viper.AutomaticEnv()

	viper.SetDefault("LISTEN_ADDR", ":8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MIGRATIONS_PATH", "migrations")
	viper.SetDefault("POLYGON_RPC_URL", "https://rpc-amoy.polygon.technology")
	viper.SetDefault("POLYGON_CHAIN_ID", 80002)
	viper.SetDefault("POLYGON_TIMEOUT_SECONDS", 30)

	config := &Config{
		DatabaseURL:         viper.GetString("DATABASE_URL"),
		MigrationsPath:      viper.GetString("MIGRATIONS_PATH"),
		EncryptionKey:       viper.GetString("ENCRYPTION_KEY"),
		ListenAddr:          viper.GetString("LISTEN_ADDR"),
		LogLevel:            viper.GetString("LOG_LEVEL"),
		PolygonRPCURL:       viper.GetString("POLYGON_RPC_URL"),
		PolygonChainID:      viper.GetInt64("POLYGON_CHAIN_ID"),
		PolygonTimeout:      time.Duration(viper.GetInt("POLYGON_TIMEOUT_SECONDS")) * time.Second,
		MasterWalletAddress: viper.GetString("MASTER_WALLET_ADDRESS"),
		MasterWalletKey:     viper.GetString("MASTER_WALLET_KEY"),
		MidtransServerKey:   viper.GetString("MIDTRANS_SERVER_KEY"),
		MidtransClientKey:   viper.GetString("MIDTRANS_CLIENT_KEY"),
		MidtransProduction:  viper.GetBool("MIDTRANS_PRODUCTION"),
	}

	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if len(config.EncryptionKey) < 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be at least 32 bytes")
	}

	return config, nil
}
