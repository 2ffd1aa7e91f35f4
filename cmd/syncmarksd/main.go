package main

import (
	"log"

	"github.com/syncmarks/syncmarks/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ syncmarksd failed to start: %v", err)
	}
}
