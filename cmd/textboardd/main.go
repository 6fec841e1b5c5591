// Command textboardd is the textboard server (spec §5/§6): it resolves
// configuration, opens the on-disk message index, starts the TCP
// listener, and shuts down cleanly on SIGINT/SIGTERM. The flag-parse,
// banner, signal-channel, and teardown shape follows minimega's
// cmd/minimega/main.go.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurningEnlightenment/uni-textboard/internal/config"
	"github.com/BurningEnlightenment/uni-textboard/internal/index"
	"github.com/BurningEnlightenment/uni-textboard/internal/listener"
	"github.com/BurningEnlightenment/uni-textboard/internal/notify"
	"github.com/BurningEnlightenment/uni-textboard/pkg/tblog"
)

const banner = `textboardd -- line-oriented textboard server`

var (
	f_verbose  = flag.Bool("v", false, "enable debug logging")
	f_maxConns = flag.Int("maxconns", 0, "maximum simultaneous client connections (0 = unbounded)")
)

func usage() {
	fmt.Println(banner)
	fmt.Println("usage: textboardd [option]...")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	tbFlags := config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if *f_verbose {
		tblog.SetLevel(tblog.DEBUG)
	}

	fmt.Println(banner)

	cfg, err := tbFlags.Resolve(flag.CommandLine)
	if err != nil {
		tblog.Fatal(err)
	}

	if err := os.MkdirAll(cfg.DBDir, 0770); err != nil {
		tblog.Fatalf("create database directory %v: %v", cfg.DBDir, err)
	}

	bus := notify.NewBus()
	idx, err := index.Open(cfg.DBDir, bus)
	if err != nil {
		tblog.Fatalf("open index at %v: %v", cfg.DBDir, err)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	l, err := listener.Listen(addr, idx, bus, listener.Options{MaxConns: *f_maxConns})
	if err != nil {
		tblog.Fatalf("listen on %v: %v", addr, err)
	}

	tblog.Infof("textboardd: serving %v from %v (charset %v)", l.Addr(), cfg.DBDir, cfg.Charset)

	done := make(chan struct{})
	go func() {
		l.Serve()
		close(done)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		tblog.Warnf("caught %v, shutting down", sig)
		l.Shutdown()
	case <-done:
		tblog.Warn("listener stopped unexpectedly")
		os.Exit(1)
	}
}
