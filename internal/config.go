package internal

import (
	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	BadgerFilepath   string `env:"BADGER_FILEPATH,required=true"`
	RegionCode       string `env:"REGION_CODE,default=US"`
	SelfNumber       string `env:"SELF_NUMBER,required=true"`
	LogLevel         string `env:"LOG_LEVEL,default=info"`
	SendReadReceipts bool   `env:"SEND_READ_RECEIPTS,default=true"`
}

// Load reads the environment, plus a .env file when one is present,
// into a Config.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	return cfg, err
}
