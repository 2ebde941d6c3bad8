package main

import (
	"github.com/joho/godotenv"

	"github.com/lgaroche/stakemon/internal/cli"
)

func main() {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()
	cli.Execute()
}
