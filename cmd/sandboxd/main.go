package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/luminadocs/lumina/internal/infrastructure/config"
	"github.com/luminadocs/lumina/internal/infrastructure/server"
	"github.com/luminadocs/lumina/internal/security"
)

func main() {
	configPath := flag.String("config", "sandboxd.toml", "TOML config file (optional)")
	policyPath := flag.String("policy", "", "YAML security policy file (optional)")
	port := flag.String("port", "", "override listen port")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if err := cfg.ApplyFile(*configPath); err != nil {
		log.Fatalf("config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	policy := security.Default()
	if *policyPath != "" {
		loaded, err := config.LoadPolicyFile(*policyPath)
		if err != nil {
			log.Fatalf("policy: %v", err)
		}
		policy = loaded
	}

	srv, err := server.New(cfg, policy)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		if err := srv.Close(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("server error: %v", err)
	}
}
