// Command bymy-peer is the interactive demo front-end: a terminal UI
// driving one peer's Engine over its in-process IPC channel endpoint,
// adapted from the teacher's examples/chat.go bufio.Scanner event loop.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"go.uber.org/zap"

	bymy "github.com/yusufCakir61/BYMY"
	"github.com/yusufCakir61/BYMY/config"
	"github.com/yusufCakir61/BYMY/ipc"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the peer's TOML configuration file")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bymy-peer: loading config:", err)
		os.Exit(1)
	}

	endpoint := ipc.NewChannelEndpoint(64)
	eng, err := bymy.Start(cfg, endpoint, true, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bymy-peer: starting engine:", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			fmt.Println("\nbymy-peer: shutting down...")
			_ = eng.Shutdown(context.Background())
			os.Exit(0)
		case err := <-eng.Fatal():
			fmt.Fprintln(os.Stderr, "bymy-peer: transport fatal, terminating:", err)
			_ = eng.Shutdown(context.Background())
			os.Exit(1)
		}
	}()

	go printNotifications(endpoint)

	_ = endpoint.SendCommand(fmt.Sprintf("JOIN %s %d", cfg.Handle, cfg.Port))
	fmt.Printf("bymy-peer: %s listening on :%d (whoisport %d)\n", cfg.Handle, cfg.Port, cfg.WhoisPort)
	printHelp()

	runCommandLoop(endpoint)

	_ = eng.Shutdown(context.Background())
}

func printHelp() {
	fmt.Println("commands: /msg <handle> <text> | /image <handle> <path> | /who | offline | online | /autoreply <text> | /quit")
}

func runCommandLoop(endpoint *ipc.ChannelEndpoint) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, ok := translate(line)
		if !ok {
			fmt.Println("bymy-peer: unrecognized command")
			continue
		}
		if cmd == "__quit__" {
			return
		}
		if err := endpoint.SendCommand(cmd); err != nil {
			fmt.Println("bymy-peer: command failed:", err)
			return
		}
	}
}

// translate maps the interactive demo's shorthand onto the front-end
// IPC command grammar (spec.md §6).
func translate(line string) (string, bool) {
	switch {
	case line == "/quit":
		return "__quit__", true
	case line == "/who":
		return "WHO", true
	case line == "offline", line == "online":
		return line, true
	case strings.HasPrefix(line, "/autoreply "):
		return line, true
	case strings.HasPrefix(line, "/msg "):
		rest := strings.TrimPrefix(line, "/msg ")
		parts := strings.SplitN(rest, " ", 2)
		if len(parts) != 2 {
			return "", false
		}
		return fmt.Sprintf("SEND_MSG %s %s", parts[0], parts[1]), true
	case strings.HasPrefix(line, "/image "):
		rest := strings.TrimPrefix(line, "/image ")
		parts := strings.SplitN(rest, " ", 2)
		if len(parts) != 2 {
			return "", false
		}
		info, err := os.Stat(parts[1])
		if err != nil {
			fmt.Println("bymy-peer: cannot read file:", err)
			return "", false
		}
		return fmt.Sprintf("SEND_IMAGE %s %s %s", parts[0], parts[1], strconv.FormatInt(info.Size(), 10)), true
	default:
		return "", false
	}
}

func printNotifications(endpoint *ipc.ChannelEndpoint) {
	joined := color.New(color.FgGreen)
	left := color.New(color.FgRed)
	msg := color.New(color.FgCyan)
	img := color.New(color.FgYellow)

	for line := range endpoint.Notifications() {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "JOIN":
			joined.Printf("* %s joined\n", fields[1])
		case "LEAVE":
			left.Printf("* %s left\n", fields[1])
		case "LEAVE_ACK":
			left.Println("* you have left")
		case "MSG":
			if len(fields) >= 3 {
				msg.Printf("<%s> %s\n", fields[1], strings.SplitN(line, " ", 3)[2])
			}
		case "IMG":
			if len(fields) >= 3 {
				img.Printf("* received image %s from %s\n", fields[2], fields[1])
			}
		case "KNOWNUSERS":
			fmt.Println(line)
		default:
			fmt.Println(line)
		}
	}
}
