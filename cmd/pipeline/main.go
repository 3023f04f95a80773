package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/app"
)

func envTrue(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	runServer := envTrue("RUN_SERVER", true)
	runWorker := envTrue("RUN_WORKER", true)

	a.Start(runServer, runWorker)

	if runServer {
		fmt.Printf("Server listening on :%s\n", a.Cfg.Port)
		if err := a.Run(":" + a.Cfg.Port); err != nil {
			a.Log.Warn("server failed", "error", err)
		}
		return
	}

	// Worker-only process: keep alive for the background loops Start launched.
	select {}
}
