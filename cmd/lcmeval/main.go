package main

import (
	_ "github.com/joho/godotenv/autoload" // Load .env file automatically

	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
