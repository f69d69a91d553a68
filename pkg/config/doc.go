// Package config loads typed configuration from environment variables.
//
// Every package that needs settings declares its own Config struct with
// caarlos0/env tags (see pg.Config, redis.Config, billing.StripeConfig) and
// the process entry point calls Load for each of them. A .env file in the
// working directory is read once, through joho/godotenv, before the first
// parse so local development does not need exported variables.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
package config
