package main

import (
	"github.com/joho/godotenv"

	"smartflow/internal/cli"
	"smartflow/internal/config"
)

func main() {
	_ = godotenv.Load()
	cli.Execute(config.Load)
}
