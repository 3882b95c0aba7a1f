package main

import (
	"github.com/joho/godotenv"

	"wikirag/internal/cli"
)

func main() {
	_ = godotenv.Load()
	cli.Execute()
}
