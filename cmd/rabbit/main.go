// Command rabbit starts a warren burrow: it loads a settings file, wires
// every package together, listens for inbound tunnels and dials out to
// any statically configured peers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"rabbitwarren/auth"
	"rabbitwarren/capability"
	"rabbitwarren/config"
	"rabbitwarren/continuity"
	"rabbitwarren/delegation"
	"rabbitwarren/federation"
	"rabbitwarren/identity"
	"rabbitwarren/listener"
	"rabbitwarren/logging"
	"rabbitwarren/router"
)

func main() {
	confPath := flag.String("config", "", "path to settings JSON file")
	flag.Parse()

	if *confPath == "" {
		fmt.Println("usage: rabbit -config <settings.json>")
		os.Exit(1)
	}

	settings, err := config.Load(*confPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(settings.Log)
	defer log.Sync()

	idm, err := identity.New()
	if err != nil {
		log.Fatal("failed to initialise identity", zap.Error(err))
	}
	authn := auth.New(idm)
	perms := capability.NewManager()
	deleg := delegation.New(perms)
	fedMgr := federation.New()
	warrenRouter := router.NewWarrenRouter()

	cont, err := continuity.New(settings.ContinuityPath())
	if err != nil {
		log.Fatal("failed to initialise continuity engine", zap.Error(err))
	}

	for _, anchorID := range settings.Federation.Anchors {
		fedMgr.RegisterAnchor(anchorID, "", "")
	}

	ln, err := listener.New(fmt.Sprintf(":%d", settings.Network.Port), nil, log)
	if err != nil {
		log.Fatal("failed to start listener", zap.Error(err))
	}
	defer ln.Close()

	dialer := listener.NewDialManager(log)
	dialer.Warm(settings.Network.Peers)

	burrow := &burrowServer{
		authn:    authn,
		deleg:    deleg,
		cont:     cont,
		fed:      fedMgr,
		router:   warrenRouter,
		dialer:   dialer,
		log:      log,
		settings: settings,
	}

	log.Info("burrow listening", zap.String("burrow_id", idm.LocalID()), zap.Int("port", settings.Network.Port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		burrow.acceptLoop(ctx, ln)
	}()

	for _, addr := range settings.Network.Peers {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			burrow.dialPeer(ctx, addr)
		}(addr)
	}

	wg.Wait()
}
