// Command bymy-discovery runs the Discovery Engine as a standalone
// process on the well-known whoisport, the split-process layout
// spec.md §9 allows as an alternative to embedding discovery in every
// peer. Adapted from the teacher's cmd/monitor standalone-process shape.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/yusufCakir61/BYMY/discovery"
)

func main() {
	port := flag.Uint("whoisport", 4000, "discovery port to bind")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	log := logger.Sugar()

	eng, err := discovery.New(uint16(*port), log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bymy-discovery: bind failed:", err)
		os.Exit(1)
	}
	eng.Start()
	fmt.Printf("bymy-discovery: listening on whoisport %d\n", *port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		fmt.Println("bymy-discovery: shutting down...")
	case err := <-eng.Fatal():
		fmt.Fprintln(os.Stderr, "bymy-discovery: transport fatal, terminating:", err)
		os.Exit(1)
	}

	if err := eng.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "bymy-discovery: close failed:", err)
		os.Exit(1)
	}
}
