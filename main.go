/*
Package main is the entry point for the chatrelay server.

This package initializes and starts the chat relay server, which streams
large-language-model responses to browser clients over long-lived SSE push
connections. The server is built using the Echo web framework and includes
configuration loading, structured logging, graceful shutdown, and error
handling.

The application follows these initialization steps:
1. Load configuration from environment variables and an optional config file
2. Initialize structured logging
3. Open the SQLite message store
4. Create the core server instance with dependencies
5. Set up HTTP middleware (logging, recovery, CORS)
6. Register API routes
7. Start the server with graceful shutdown support
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/core"
	"chatrelay/store"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	// Load configuration from environment variables and optional config file
	config := core.LoadConfig()

	// Initialize structured logger with the loaded configuration
	logger := core.InitializeLogger(config)
	logger.Info("Starting chatrelay server")

	// Open the persistence layer (users and message history)
	db, err := store.Open(config.DatabasePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open message store")
	}
	defer db.Close()

	// Create the core server instance with all dependencies
	server, err := core.NewServer(config, db, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	// Create Echo web framework instance
	e := echo.New()
	e.HideBanner = true

	// Configure middleware stack for request processing
	e.Use(middleware.Logger())  // HTTP request logging
	e.Use(middleware.Recover()) // Panic recovery
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{config.CORSOrigin},
		AllowCredentials: true,
	}))

	// Register all API routes and handlers
	server.RegisterRoutes(e)

	// Start the HTTP server in a separate goroutine to allow for graceful shutdown
	go func() {
		logger.WithField("port", config.Port).Info("Starting server")
		if err := e.Start(fmt.Sprintf(":%s", config.Port)); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Block until an interrupt signal is received
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Close all open push sessions so clients reconnect promptly
	server.Shutdown()

	// Give the server 30 seconds to finish processing ongoing requests
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Failed to gracefully shutdown server")
	} else {
		logger.Info("Server shutdown complete")
	}
}
