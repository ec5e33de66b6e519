// Command brokerd runs the message broker: it loads configuration,
// generates a fresh master key, embeds the root, user and experiment
// service local agents, and accepts TCP connections until told to stop.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/myaut/tsload/internal/broker"
	"github.com/myaut/tsload/internal/config"
	"github.com/myaut/tsload/internal/flow"
	"github.com/myaut/tsload/internal/localagent"
	"github.com/myaut/tsload/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to broker YAML config (optional)")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal("load config", zap.Error(err))
		}
		cfg = loaded
	}

	masterKey, err := broker.GenerateMasterKey(cfg.MasterKeyPath)
	if err != nil {
		log.Fatal("generate master key", zap.Error(err))
	}
	log.Info("generated master key", zap.String("path", cfg.MasterKeyPath))

	userStore, err := cfg.BuildUserStore()
	if err != nil {
		log.Fatal("build user store", zap.Error(err))
	}

	brk := broker.New(log, flow.DefaultListenerFlows(), cfg.MaxFrameBytes)
	brk.DroppedReplyLogLevel = cfg.DroppedReplyLevel()
	brk.AddListenerFlow(cfg.ExtraListenerFlows()...)

	brk.RegisterLocalAgent(localagent.NewRootAgent(masterKey, brk))
	brk.RegisterLocalAgent(localagent.NewUserAgent(userStore))

	expsvc := localagent.NewExpSvcAgent(log.Named("expsvc"))
	expsvc.Attach(brk, brk.RegisterLocalAgent(expsvc))

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Fatal("listen", zap.Error(err), zap.String("addr", cfg.Listen))
	}
	log.Info("broker listening", zap.String("addr", cfg.Listen))

	stop := make(chan struct{})
	go brk.RunSweeper(cfg.CleanupInterval.Std(), stop)

	go acceptLoop(ln, brk, log)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	close(stop)
	ln.Close()
}

func acceptLoop(ln net.Listener, brk *broker.Broker, log *zap.Logger) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			log.Info("accept loop stopped", zap.Error(err))
			return
		}
		conn := brk.Accept(nc)
		go serveConn(brk, conn)
	}
}

func serveConn(brk *broker.Broker, conn *wire.Conn) {
	defer brk.Disconnect(conn)
	for {
		raw, err := conn.ReadFrame()
		if err != nil {
			return
		}
		brk.HandleFrame(conn, raw)
	}
}
