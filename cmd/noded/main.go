// Command noded runs the node-coordination plane daemon: it loads
// configuration, opens the store and its external collaborators, wires
// every component through internal/coordinator, starts all background
// loops, and serves the HTTP control surface until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/HamiGames/Lucid-sub000/internal/config"
	"github.com/HamiGames/Lucid-sub000/internal/coordinator"
	"github.com/HamiGames/Lucid-sub000/internal/httpapi"
	"github.com/HamiGames/Lucid-sub000/internal/overlay"
	"github.com/HamiGames/Lucid-sub000/internal/payout/fabricvaluenet"
	"github.com/HamiGames/Lucid-sub000/internal/sigverify"
	"github.com/HamiGames/Lucid-sub000/internal/store"
	"github.com/HamiGames/Lucid-sub000/internal/valuenet"
)

func main() {
	issueAdminNodeID := flag.String("issue-admin-token", "", "print an admin JWT for the given node ID and exit, without starting the daemon")
	issueAdminRole := flag.String("issue-admin-role", "admin", "role claim to embed in the token issued by -issue-admin-token")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using default environment variables")
	}

	cfg := config.Load()

	if *issueAdminNodeID != "" {
		token, err := httpapi.IssueAdminToken(cfg, *issueAdminNodeID, *issueAdminRole)
		if err != nil {
			log.Fatalf("noded: issue admin token: %v", err)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore := openStore(ctx, cfg)
	defer closeStore()

	network, closeNetwork := openValueNet(cfg)
	defer closeNetwork()

	d := coordinator.New(cfg, st, overlay.NewHTTPClient(), network, sigVerifierFor(cfg))

	if err := d.Start(ctx); err != nil {
		log.Fatalf("noded: start: %v", err)
	}

	app := httpapi.New(d.HTTP)
	go func() {
		if err := app.Listen(":" + cfg.ServerPort); err != nil {
			log.Printf("noded: http server stopped: %v", err)
		}
	}()

	log.Printf("noded: node %s serving on :%s (env=%s)", cfg.NodeID, cfg.ServerPort, cfg.Environment)

	<-ctx.Done()
	log.Println("noded: shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("noded: http shutdown: %v", err)
	}

	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("noded: stopped")
	case <-shutdownCtx.Done():
		log.Println("noded: grace period elapsed before all loops stopped")
	}
}

// openStore uses the in-memory store only when ENVIRONMENT is
// development and DB_HOST is unset; otherwise it opens Postgres+Redis,
// and a failed connection is fatal (there is no in-memory fallback).
func openStore(ctx context.Context, cfg *config.Config) (store.Adapter, func()) {
	if cfg.Environment == "development" && os.Getenv("DB_HOST") == "" {
		log.Println("noded: no DB_HOST set in development, using in-memory store")
		return store.NewMemory(), func() {}
	}
	pg, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("noded: open store: %v", err)
	}
	return pg, func() { _ = pg.Close() }
}

func openValueNet(cfg *config.Config) (valuenet.Adapter, func()) {
	if cfg.PayoutAdapterKind != "fabric" || cfg.FabricCertPath == "" {
		log.Println("noded: using in-memory value-network adapter (set PAYOUT_ADAPTER_KIND=fabric and FABRIC_* to use the real chain)")
		return valuenet.NewMemory(), func() {}
	}
	a, err := fabricvaluenet.Connect(fabricvaluenet.Config{
		MspID:         cfg.FabricMspID,
		CertPath:      cfg.FabricCertPath,
		KeyPath:       cfg.FabricKeyPath,
		TLSCertPath:   cfg.FabricTLSCertPath,
		PeerEndpoint:  cfg.FabricPeerEndpoint,
		GatewayPeer:   cfg.FabricGatewayPeer,
		ChannelName:   cfg.FabricChannelName,
		ChaincodeName: cfg.FabricChaincodeName,
	})
	if err != nil {
		log.Fatalf("noded: connect fabric gateway: %v", err)
	}
	return a, a.Close
}

func sigVerifierFor(cfg *config.Config) sigverify.Verifier {
	if cfg.Environment == "development" {
		return sigverify.AlwaysValid{}
	}
	// Production signature verification is a deployment-specific
	// collaborator's concern (spec.md §7 Non-goals); until one is
	// wired in, refuse to run with a verifier that accepts anything.
	log.Fatal("noded: no production signature verifier configured; set ENVIRONMENT=development or wire one in")
	return nil
}
