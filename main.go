package main

import (
	"context"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/realtime-gateway/modules/auth"
	"github.com/example/realtime-gateway/modules/gateway"
	"github.com/example/realtime-gateway/modules/realtime"
	"github.com/example/realtime-gateway/modules/stats"
	"github.com/example/realtime-gateway/modules/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== Realtime Gateway - presence & message fan-out ===")

	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Create modules
	store := storage.NewClientFromEnv()
	realtimeModule := realtime.NewModule(store, realtime.LoadConfig(), app.Logger())
	statsModule := stats.NewModule()
	authenticator := auth.New(auth.LoadConfig())

	// The gateway drives the engine directly; it is injected manually
	// because the engine is not exposed via ServiceContainer.
	gatewayModule := gateway.NewModule(realtimeModule.Engine(), authenticator, statsModule)

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	app.Register(realtimeModule) // Engine + event emitter
	app.Register(statsModule)    // Event consumer (counters for /stats)
	app.Register(gatewayModule)  // Fiber WebSocket/HTTP server

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	storageURL := os.Getenv("STORAGE_URL")
	if storageURL == "" {
		storageURL = "http://localhost:8003"
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Println("  - Event Bus: NATS JetStream (internal pubsub)")
	log.Printf("  - Message storage collaborator: %s", storageURL)
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", port)
	log.Println("  Connect with: ws://localhost:3000/ws?token=<jwt>  (or anonymous)")
	log.Println("  Event types: join, leave, message, typing, ping")
	log.Println("")
	log.Printf("HTTP side channel (http://localhost:%s):", port)
	log.Println("  POST   /notify     - Deliver an event to one connected user")
	log.Println("  POST   /broadcast  - Fan an event out globally or to a room")
	log.Println("  GET    /health     - Health check")
	log.Println("  GET    /stats      - Live connections and relay counters")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
