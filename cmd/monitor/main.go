package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// A .env next to the binary is optional; real deployments use the
	// environment directly.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
