package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"peer-relay/pkg/client"
	"peer-relay/pkg/logging"
	"peer-relay/pkg/version"
	"peer-relay/pkg/wire"
)

const help = `commands:
  /peers               list known peers
  /to <address> <msg>  send msg to one node
  /height <n>          report a new blockchain height
  /quit                exit
  anything else        broadcast to every node`

func main() {
	defaultRelay := os.Getenv("RELAY_URL")
	if defaultRelay == "" {
		defaultRelay = "ws://127.0.0.1:8080/ws"
	}
	relayURL := flag.String("relay", defaultRelay, "relay WebSocket URL (env RELAY_URL)")
	address := flag.String("address", os.Getenv("NODE_ADDRESS"), "address to register under (env NODE_ADDRESS)")
	port := flag.Int("port", 0, "port announced to other nodes")
	height := flag.Int64("height", 0, "initial blockchain height")
	logLevel := flag.String("log-level", "warn", "log level")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("peer"))
		return
	}
	if *address == "" {
		log.Fatal("address is required (flag -address or env NODE_ADDRESS)")
	}
	logger := logging.Setup("peer-"+*address, *logLevel)

	c := client.New(client.Config{
		URL:              *relayURL,
		Address:          *address,
		Port:             *port,
		BlockchainHeight: *height,
		Logger:           logger,
	})
	printIncoming(c, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error {
		defer stop()
		return readCommands(gctx, c, os.Stdin, os.Stdout)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("peer: %v", err)
	}
}

func printIncoming(c *client.Client, out io.Writer) {
	c.On(wire.TypeRegistered, func(b []byte) {
		var f wire.Registered
		_ = json.Unmarshal(b, &f)
		fmt.Fprintf(out, "* registered on %s as %s\n", f.RelayName, f.NodeID)
	})
	c.On(wire.TypeNodeMessage, func(b []byte) {
		var f wire.NodeMessage
		_ = json.Unmarshal(b, &f)
		from := f.From
		if f.FromRelay != "" {
			from += "@" + f.FromRelay
		}
		kind := "direct"
		if f.Broadcast {
			kind = "all"
		}
		fmt.Fprintf(out, "[%s] %s: %s\n", kind, from, payloadText(f.Payload))
	})
	peers := func(b []byte) {
		var f wire.PeerList
		_ = json.Unmarshal(b, &f)
		fmt.Fprintf(out, "* %d peers (%d local, %d remote)\n", f.Count, f.LocalCount, f.RemoteCount)
		for _, p := range f.Peers {
			where := "local"
			if p.Remote {
				where = "via " + p.RelayName
			}
			fmt.Fprintf(out, "    %s  %s:%d  height=%s  %s\n", p.Address, p.IP, p.Port, p.BlockchainHeight, where)
		}
	}
	c.On(wire.TypePeerList, peers)
	c.On(wire.TypeRelayFailed, func(b []byte) {
		var f wire.RelayFailed
		_ = json.Unmarshal(b, &f)
		fmt.Fprintf(out, "! %s: %s\n", f.TargetAddress, f.Reason)
	})
	c.On(wire.TypeBroadcastSent, func(b []byte) {
		var f wire.BroadcastSent
		_ = json.Unmarshal(b, &f)
		fmt.Fprintf(out, "* broadcast reached %d local nodes and %d bridges\n", f.LocalRecipients, f.BridgedTo)
	})
	c.On(wire.TypeServerShutdown, func([]byte) {
		fmt.Fprintln(out, "* relay is shutting down")
	})
}

// payloadText shows string payloads bare and anything else as JSON.
func payloadText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

func readCommands(ctx context.Context, c *client.Client, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, help)
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := runCommand(c, strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// sender is the part of *client.Client the command loop drives.
type sender interface {
	GetPeers() error
	RelayTo(address string, payload any) error
	Broadcast(payload any) error
	UpdateStatus(height int64) error
}

func runCommand(c sender, line string) (quit bool, err error) {
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case line == "/peers":
		return false, c.GetPeers()
	case strings.HasPrefix(line, "/to "):
		target, msg, ok := strings.Cut(strings.TrimPrefix(line, "/to "), " ")
		if !ok || target == "" {
			return false, fmt.Errorf("usage: /to <address> <msg>")
		}
		return false, c.RelayTo(target, msg)
	case strings.HasPrefix(line, "/height "):
		h, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/height ")), 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid height: %w", err)
		}
		return false, c.UpdateStatus(h)
	case strings.HasPrefix(line, "/"):
		return false, fmt.Errorf("unknown command %q", line)
	default:
		return false, c.Broadcast(line)
	}
}
