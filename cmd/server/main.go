/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the FleetPool booking engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Build the booking service (rebuilds the interval index), recurring
     rule materializer, and fee service
  4. Configure HTTP router and background maintenance scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port           HTTP server port (default: 8080)
  -db             SQLite database path (default: fleetpool.db)
                  Use ":memory:" for in-memory database
  -horizon-days   Rolling materialization horizon (default: 60)
  -grace-minutes  Late-return grace period (default: 15)
  -rate           Late fee per chargeable minute (default: 0.50)
  -fee-policy     JSON fee policy file; overrides -grace-minutes/-rate
                  and enables tiered rate structures
  -sweep          Maintenance sweep interval (default: 15m)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the maintenance scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/fleetpool.db"

  # Run with in-memory database
  ./server -db=":memory:"

ENVIRONMENT:
  No environment variables currently. All config via flags.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetpool/booking-engine/api"
	"github.com/fleetpool/booking-engine/booking"
	"github.com/fleetpool/booking-engine/fees"
	"github.com/fleetpool/booking-engine/recurrence"
	"github.com/fleetpool/booking-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "fleetpool.db", "SQLite database path")
	horizonDays := flag.Int("horizon-days", recurrence.DefaultHorizonDays, "rolling materialization horizon in days")
	graceMinutes := flag.Int64("grace-minutes", 15, "late-return grace period in minutes")
	rate := flag.String("rate", "0.50", "late fee per chargeable minute")
	feePolicyPath := flag.String("fee-policy", "", "JSON fee policy file (overrides -grace-minutes and -rate)")
	sweep := flag.Duration("sweep", 15*time.Minute, "maintenance sweep interval")
	flag.Parse()

	feePolicy, err := loadFeePolicy(*feePolicyPath, *graceMinutes, *rate)
	if err != nil {
		log.Fatalf("Invalid fee policy: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Build the booking service; the interval index is rebuilt from every
	// slot-holding booking in the store.
	fairness := booking.NewStaticFairness()
	bookings, err := booking.NewService(context.Background(), store, fairness, booking.Config{})
	if err != nil {
		log.Fatalf("Failed to build booking service: %v", err)
	}

	materializer := recurrence.NewMaterializer(store, bookings)
	materializer.HorizonDays = *horizonDays

	feeSvc := fees.NewService(store, fees.NewCalculator(fees.StaticPolicy(feePolicy)))

	// Initialize handler and router
	handler := api.NewHandler(bookings, materializer, feeSvc)
	router := api.NewRouter(handler)

	// Background materialization + expiry sweeps
	scheduler := api.NewMaintenanceScheduler(handler)
	scheduler.CheckInterval = *sweep
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// loadFeePolicy reads the JSON policy file when one is given, otherwise
// builds a flat policy from the -grace-minutes and -rate flags.
func loadFeePolicy(path string, graceMinutes int64, rate string) (fees.Policy, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fees.Policy{}, err
		}
		return fees.ParsePolicy(data)
	}

	perMinute, err := decimal.NewFromString(rate)
	if err != nil {
		return fees.Policy{}, fmt.Errorf("invalid -rate %q: %w", rate, err)
	}
	return fees.Policy{
		GraceMinutes: graceMinutes,
		Method:       fees.FlatPerMinute{Rate: perMinute},
	}, nil
}
