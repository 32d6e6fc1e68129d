// Command meshchat runs one peer of the overlay: multicast discovery,
// length-framed TCP peer links, and the interactive command prompt
// (spec.md §6).
package main

import (
	"bufio"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"

	"meshchat/internal/command"
	"meshchat/internal/debuglog"
	"meshchat/internal/identity"
	"meshchat/internal/metrics"
	"meshchat/internal/orchestrator"
	"meshchat/internal/proto"
	"meshchat/internal/registry"
	"meshchat/internal/transport"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && (args[0] == "--help" || args[0] == "-h") {
		fmt.Fprint(stdout, helpText)
		return 0
	}
	fs := flag.NewFlagSet("meshchat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	debug := fs.Bool("d", false, "enable debug logging")
	fs.BoolVar(debug, "debug", false, "enable debug logging")
	multicastPort := fs.Int("m", 5432, "multicast discovery port")
	fs.IntVar(multicastPort, "multicastPort", 5432, "multicast discovery port")
	peerPort := fs.Int("p", 6543, "peer link TCP port")
	fs.IntVar(peerPort, "peerPort", 6543, "peer link TCP port")
	nickname := fs.String("n", "", "initial nickname")
	fs.StringVar(nickname, "nickname", "", "initial nickname")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *multicastPort < 1 || *multicastPort > 65535 {
		fmt.Fprintln(stderr, "meshchat: --multicastPort must be 1-65535")
		return 1
	}
	if *peerPort < 1 || *peerPort > 65535 {
		fmt.Fprintln(stderr, "meshchat: --peerPort must be 1-65535")
		return 1
	}
	if *nickname != "" && !registry.ValidNickname(*nickname) {
		fmt.Fprintln(stderr, "meshchat: --nickname does not match the nickname pattern")
		return 1
	}

	hostname, err := os.Hostname()
	if err != nil {
		fmt.Fprintf(stderr, "meshchat: hostname: %v\n", err)
		return 1
	}

	consoleMu := &sync.Mutex{}
	log := debuglog.New(stdout, consoleMu, *debug)

	home, _ := os.UserHomeDir()
	keyDir := home + "/.meshchat"
	id, err := identity.New(hostname, keyDir)
	if err != nil {
		fmt.Fprintf(stderr, "meshchat: identity: %v\n", err)
		log.Drain()
		return 1
	}

	links, err := transport.Listen(*peerPort)
	if err != nil {
		fmt.Fprintf(stderr, "meshchat: peer listen: %v\n", err)
		log.Drain()
		return 1
	}
	disco, err := transport.NewDiscoverySocket(*multicastPort)
	if err != nil {
		fmt.Fprintf(stderr, "meshchat: discovery bind: %v\n", err)
		links.CloseAll()
		log.Drain()
		return 1
	}

	m := metrics.New()
	client := orchestrator.New(hostname, id, links, m, log)
	client.SetSelfAddr(net.JoinHostPort(outboundIP(), strconv.Itoa(*peerPort)))

	if *nickname != "" {
		if _, err := client.HandleCommand(command.Command{Kind: command.KindNick, Name: *nickname}); err != nil {
			log.Errorf("startup nickname: %v", err)
		}
	}

	hello := proto.DiscoveryHello{
		IP:        outboundIP(),
		Port:      *peerPort,
		PublicKey: base64.StdEncoding.EncodeToString(id.PublicKeyDER()),
	}
	if err := disco.SendHello(hello); err != nil {
		log.Errorf("send discovery hello: %v", err)
	}

	pending := make(chan command.Command, 32)
	quit := make(chan struct{})
	go readInput(stdin(), pending, quit, log, consoleMu)

	for {
		select {
		case <-quit:
			links.CloseAll()
			disco.Close()
			log.Drain()
			return 0
		default:
		}
		client.Tick(pending, links, disco)
	}
}

func stdin() *bufio.Reader {
	return bufio.NewReader(os.Stdin)
}

// readInput runs on its own goroutine: it blocks on stdin so the tick
// loop never stalls waiting for a line of interactive input (spec.md
// §5's input/output adapter threads).
func readInput(r *bufio.Reader, pending chan<- command.Command, quit chan<- struct{}, log *debuglog.Logger, consoleMu *sync.Mutex) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			close(quit)
			return
		}
		trimmed := trimNewline(line)
		if trimmed == "" {
			continue
		}
		cmd, err := command.Parse(trimmed)
		if err != nil {
			log.Errorf("invalid command: %v", err)
			continue
		}
		switch cmd.Kind {
		case command.KindHelp:
			log.Prompt(helpText)
		case command.KindQuit:
			close(quit)
			return
		default:
			pending <- cmd
		}
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// outboundIP finds the local address used to reach the site, which is
// what peers on the same multicast group can dial back (no packet is
// actually sent; UDP dial only resolves a local route).
func outboundIP() string {
	conn, err := net.Dial("udp6", "[ff12::1234]:80")
	if err != nil {
		return "::1"
	}
	defer conn.Close()
	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return "::1"
	}
	return host
}

const helpText = `JOIN <name> <key>           LEAVE <name>
NICK <name>                 LIST
GETMEMBERS <name>           GETTOPIC <name>
SETTOPIC <name> <text>      MSG <name> <text>
NEIGHBORS                   PING <nick|ip>
ROUTE [<name>]              PLOT
GETPUBLICKEY <name>         GETKEYPAIR
HELP                        QUIT
`
