package main

import (
	"context"
	"fmt"

	"matterctl/internal/logging"
	"matterctl/internal/matter/adapter/crypto"
	"matterctl/internal/matter/adapter/session"
	"matterctl/internal/matter/adapter/sqlite"
	"matterctl/internal/matter/adapter/udpsocket"
	"matterctl/internal/matter/clock"
	"matterctl/internal/matter/config"
	"matterctl/internal/matter/controlapi"
	"matterctl/internal/matter/defaults"
	"matterctl/internal/matter/mdns"
	"matterctl/internal/matter/node"
)

type runOptions struct {
	socketOverride   string
	dataRootOverride string
	vendorID         uint16
	productID        uint16
}

// run wires every adapter and core component together and serves the
// control API until ctx is canceled. It is the one place in the module
// that knows every concrete production type; everything downstream of
// here talks to ports interfaces.
func run(ctx context.Context, opts runOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.dataRootOverride != "" {
		cfg.DataRoot = opts.dataRootOverride
	}
	if opts.socketOverride != "" {
		cfg.Socket = opts.socketOverride
	}
	if err := defaults.EnsureDataRoot(cfg.DataRoot); err != nil {
		return err
	}

	store, err := sqlite.Open(defaults.StateDBPath(cfg.DataRoot))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	socket, err := udpsocket.New(logging.Component("mdns-socket"), udpsocket.Config{
		Interfaces: cfg.MDNS.Interfaces,
		EnableIPv4: cfg.MDNS.EnableIPv4,
		EnableIPv6: cfg.MDNS.EnableIPv6,
	})
	if err != nil {
		return fmt.Errorf("open mdns socket: %w", err)
	}
	defer socket.Close()

	clk := clock.RealClock{}
	engine := mdns.New(logging.Component("mdns-engine"), clk, socket, cfg.MDNS.EnableIPv4)

	srv := controlapi.NewServer(controlapi.Config{
		Log:       logging.Component("control-api"),
		Engine:    engine,
		Crypto:    crypto.New(),
		VendorID:  opts.vendorID,
		ProductID: opts.productID,
	})

	controller := node.NewController(node.ControllerConfig{
		Clock:         clk,
		Log:           logging.Component("node-controller"),
		Peers:         session.NotConfigured{},
		Store:         store,
		NewClient:     session.NewClientFactory(),
		AutoSubscribe: cfg.Subscription.AutoSubscribe,
		Events:        srv.EventsFactory(),
	})
	srv.SetController(controller)

	errCh := make(chan error, 2)
	go func() { errCh <- engine.Run(ctx) }()
	go func() { errCh <- srv.ListenAndServe(ctx, cfg.SocketPath()) }()

	select {
	case <-ctx.Done():
		<-errCh
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
