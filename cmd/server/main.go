package main

import (
	"os"

	"polychat/internal/app"
)

// @title           Polychat API
// @version         1.0
// @description     Multi-provider LLM chat backend with streaming replies, branching, export and model comparison.
// @host            localhost:8000
// @BasePath        /api
func main() {
	os.Exit(app.Run())
}
