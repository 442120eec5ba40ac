package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/swarmchat/swarmchat-node/pkg/api"
	"github.com/swarmchat/swarmchat-node/pkg/client"
	"github.com/swarmchat/swarmchat-node/pkg/crypto"
	"github.com/swarmchat/swarmchat-node/pkg/protocol"
	"github.com/swarmchat/swarmchat-node/pkg/storage"
	"github.com/swarmchat/swarmchat-node/pkg/transport"
	"github.com/swarmchat/swarmchat-node/pkg/transport/mem"
	"github.com/swarmchat/swarmchat-node/pkg/transport/p2p"
	"github.com/swarmchat/swarmchat-node/pkg/transport/pssrpc"
)

const (
	defaultDataDir = "./data"
	defaultWSURL   = "ws://127.0.0.1:8546"
)

var (
	transportMode = flag.String("transport", "pss", "Messaging substrate: pss, p2p or mem")
	wsURL         = flag.String("ws", defaultWSURL, "Websocket RPC URL of the swarm node (pss mode)")
	listenAddrs   = flag.String("listen", "", "Comma-separated libp2p listen addresses (p2p mode)")
	bootstrap     = flag.String("bootstrap", "", "Comma-separated bootstrap peer addresses (p2p mode)")
	dataDir       = flag.String("data", defaultDataDir, "Data directory for database and keys")
	apiPort       = flag.Int("api-port", 8080, "HTTP API port")
	username      = flag.String("username", "", "Display name sent with contact requests")
)

func main() {
	flag.Parse()

	printBanner()

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, closeTransport, err := buildTransport(ctx)
	if err != nil {
		log.Fatalf("Failed to set up %s transport: %v", *transportMode, err)
	}
	defer closeTransport()

	db, err := storage.NewChatDB(filepath.Join(*dataDir, "chat.db"))
	if err != nil {
		log.Fatalf("Failed to open chat database: %v", err)
	}
	defer db.Close()

	chatClient := client.New(protocol.NewService(tr), db, *username)
	if err := chatClient.Start(ctx); err != nil {
		log.Fatalf("Failed to start chat client: %v", err)
	}
	defer chatClient.Stop()

	chatClient.OnContactRequest = func(ev protocol.ContactEvent) {
		log.Printf("📨 Contact request from %.16s... (%s)", ev.Key, ev.Request.Username)
	}
	chatClient.OnContactResponse = func(ev protocol.ContactEvent) {
		if ev.Response.Contact {
			log.Printf("✓ Contact %.16s... accepted", ev.Key)
		} else {
			log.Printf("Contact %.16s... declined", ev.Key)
		}
	}
	chatClient.OnChatMessage = func(ev protocol.ChatEvent) {
		log.Printf("💬 %.16s...: %s", ev.Key, ev.Message.Text)
	}

	server := api.NewServer(chatClient, &api.Config{
		Port:         *apiPort,
		EnableCORS:   true,
		RateLimit:    300,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	go func() {
		log.Printf("🌐 HTTP API listening on port %d", *apiPort)
		if err := server.Start(); err != nil {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	waitForShutdown(server)
}

// buildTransport constructs the substrate selected by -transport.
func buildTransport(ctx context.Context) (transport.Transport, func(), error) {
	switch *transportMode {
	case "pss":
		c, err := pssrpc.Dial(ctx, *wsURL)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("✓ Connected to swarm node at %s", *wsURL)
		return c, c.Close, nil

	case "p2p":
		kp, err := crypto.LoadOrGenerateKeyPair(filepath.Join(*dataDir, "identity.pem"))
		if err != nil {
			return nil, nil, fmt.Errorf("load identity: %w", err)
		}

		config := p2p.DefaultConfig()
		config.KeyPair = kp
		if *listenAddrs != "" {
			config.ListenAddrs = strings.Split(*listenAddrs, ",")
		}
		if *bootstrap != "" {
			config.BootstrapPeers = strings.Split(*bootstrap, ",")
		}

		node, err := p2p.NewNode(ctx, config)
		if err != nil {
			return nil, nil, err
		}
		for _, addr := range node.Addrs() {
			log.Printf("✓ Listening on %s", addr)
		}
		return node, func() { node.Close() }, nil

	case "mem":
		// Single-process demo substrate; peers must run in this process.
		node, err := mem.NewBus().NewNode()
		if err != nil {
			return nil, nil, err
		}
		log.Println("⚠️  In-memory transport: only peers in this process are reachable")
		return node, func() {}, nil
	}

	return nil, nil, fmt.Errorf("unknown transport %q", *transportMode)
}

func waitForShutdown(server *api.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("API shutdown error: %v", err)
	}
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║            Swarmchat Node v1.0                   ║")
	fmt.Println("║     Contact & chat over pss-style messaging      ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}
