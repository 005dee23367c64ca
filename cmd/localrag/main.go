package main

import (
	"github.com/joho/godotenv"

	"localrag/internal/cli"
)

func main() {
	// API keys referenced by embedding.api_key_env may live in ./.env.
	_ = godotenv.Load()

	cli.Execute()
}
