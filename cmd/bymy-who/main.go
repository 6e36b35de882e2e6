// Command bymy-who is a one-shot roster probe: it joins the discovery
// domain just long enough to ask WHO, prints the resulting roster, then
// leaves. Adapted from the teacher's cmd/ping one-shot join-then-listen
// shape.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/yusufCakir61/BYMY/frame"
	"github.com/yusufCakir61/BYMY/roster"
	"github.com/yusufCakir61/BYMY/transport"
)

func main() {
	handleFlag := flag.String("handle", "whois-probe", "transient handle to join under")
	whoisPort := flag.Uint("whoisport", 4000, "discovery port to probe")
	timeout := flag.Duration("timeout", 2*time.Second, "how long to wait for a KNOWNUSERS reply")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	log := logger.Sugar()

	handle, err := roster.NewHandle(*handleFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bymy-who: invalid handle:", err)
		os.Exit(1)
	}

	sock, err := transport.Bind(0, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bymy-who: bind failed:", err)
		os.Exit(1)
	}
	defer sock.Close()

	port := sock.LocalPort()
	if err := sock.Broadcast(uint16(*whoisPort), frame.Join{Handle: handle, Port: port}.Encode()); err != nil {
		fmt.Fprintln(os.Stderr, "bymy-who: JOIN broadcast failed:", err)
		os.Exit(1)
	}
	time.Sleep(50 * time.Millisecond) // let the JOIN propagate before WHO

	if err := sock.Broadcast(uint16(*whoisPort), frame.Who{}.Encode()); err != nil {
		fmt.Fprintln(os.Stderr, "bymy-who: WHO broadcast failed:", err)
		os.Exit(1)
	}

	result := make(chan frame.KnownUsers, 1)
	errCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 65535)
		dg, err := sock.Receive(buf)
		if err != nil {
			errCh <- err
			return
		}
		ku, err := frame.ParseKnownUsers(dg.Payload)
		if err != nil {
			errCh <- err
			return
		}
		result <- ku
	}()

	select {
	case ku := <-result:
		if len(ku.Entries) == 0 {
			fmt.Println("bymy-who: no other peers known")
		}
		for _, e := range ku.Entries {
			fmt.Printf("%s\t%s\t%d\n", e.Handle, e.Address.IP, e.Address.Port)
		}
	case err := <-errCh:
		fmt.Fprintln(os.Stderr, "bymy-who: receive failed:", err)
		os.Exit(1)
	case <-time.After(*timeout):
		fmt.Fprintln(os.Stderr, "bymy-who: timed out waiting for KNOWNUSERS")
		os.Exit(1)
	}

	_ = sock.Broadcast(uint16(*whoisPort), frame.Leave{Handle: handle}.Encode())
}
