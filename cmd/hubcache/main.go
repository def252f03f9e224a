package main

import (
	"log"

	"github.com/MrSnakeDoc/hubcache/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		log.Fatalf("❌ hubcache failed to start: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("❌ hubcache stopped with error: %v", err)
	}
}
