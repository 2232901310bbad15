package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"pokeprotocol-go/pkg/logger"
	"pokeprotocol-go/protocol"
)

const (
	VERSION = "1.0.0"
)

// Config is the peer's runtime configuration: role, identity, and the
// opponent/listen address, loadable from flags or an optional YAML file
// (generalized from the teacher's server Config struct).
type Config struct {
	Role        string   `yaml:"role"`
	PeerID      string   `yaml:"peer_id"`
	ListenAddr  string   `yaml:"listen_addr"`
	DialAddr    string   `yaml:"dial_addr"`
	PokemonName string   `yaml:"pokemon_name"`
	TeamPreview []string `yaml:"team_preview"`
}

func main() {
	logger.Banner("PokeProtocol Peer", VERSION)

	config := loadConfig()
	logger.Info("role=%s peer_id=%s listen=%s dial=%s pokemon=%s", config.Role, config.PeerID, config.ListenAddr, config.DialAddr, config.PokemonName)
	logger.Success("Configuration loaded successfully")

	role := protocol.Role(strings.ToUpper(config.Role))
	if role != protocol.RoleHost && role != protocol.RoleJoiner && role != protocol.RoleSpectator {
		logger.Fatal("unknown role %q (want HOST, JOINER, or SPECTATOR)", config.Role)
	}

	repo := protocol.NewMemoryRepository()

	bindAddr := config.ListenAddr
	if bindAddr == "" {
		bindAddr = "0.0.0.0:0"
	}
	transport, err := protocol.ListenUDP(bindAddr)
	if err != nil {
		logger.Fatal("binding transport: %v", err)
	}
	logger.Info("bound to %s", transport.LocalAddr())

	peer := protocol.NewPeer(role, config.PeerID, config.TeamPreview, repo, transport, protocol.RealClock{})
	peer.OnEvent(printEvent)

	if role != protocol.RoleSpectator {
		if err := peer.SubmitSetup(config.PokemonName, protocol.StatBoosts{}); err != nil {
			logger.Fatal("invalid starting Pokémon %q: %v", config.PokemonName, err)
		}
	}

	switch role {
	case protocol.RoleHost:
		if err := peer.Listen(); err != nil {
			logger.Fatal("listen: %v", err)
		}
		logger.Success("waiting for a challenger at %s", transport.LocalAddr())
	case protocol.RoleJoiner, protocol.RoleSpectator:
		if config.DialAddr == "" {
			logger.Fatal("dial_addr is required for role %s", role)
		}
		if err := peer.Dial(config.DialAddr); err != nil {
			logger.Fatal("dial %s: %v", config.DialAddr, err)
		}
		logger.Success("connecting to %s", config.DialAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() { runErr <- peer.Run(ctx) }()

	go readStdinCommands(peer, role)

	select {
	case err := <-runErr:
		logger.Warn("session ended: %v", err)
	case sig := <-sigCh:
		logger.Warn("received signal: %v", sig)
		logger.Info("shutting down gracefully...")
		peer.Close()
		cancel()
		<-runErr
	}

	logger.Success("peer stopped")
	logger.Sync()
}

func printEvent(ev protocol.Event) {
	switch ev.Type {
	case protocol.EventYourTurn:
		logger.Success("%s", ev.Message)
	case protocol.EventOpponentTurn:
		logger.Info("%s", ev.Message)
	case protocol.EventHPUpdate:
		logger.Info("%s", ev.Message)
	case protocol.EventStatusMessage:
		logger.Info("%s", ev.Message)
	case protocol.EventChat:
		logger.Info("chat[%s]: %s", ev.PeerID, ev.Message)
	case protocol.EventGameOver:
		logger.Success("%s", ev.Message)
	case protocol.EventWarning:
		logger.Warn("%s", ev.Message)
	case protocol.EventConnectionStatus:
		logger.Info("%s: %s", ev.PeerID, ev.Message)
	}
}

// readStdinCommands is the reference driver's stand-in for the UI this
// package does not implement (§1 "out of scope"): "move <name>" submits an
// attack, anything else is sent as chat.
func readStdinCommands(peer *protocol.Peer, role protocol.Role) {
	if role == protocol.RoleSpectator {
		return
	}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "move "); ok {
			if err := peer.SubmitMove(strings.TrimSpace(rest)); err != nil {
				logger.Warn("move rejected: %v", err)
			}
			continue
		}
		if err := peer.SubmitChat("TEXT", line, ""); err != nil {
			logger.Warn("chat send failed: %v", err)
		}
	}
}

func loadConfig() Config {
	config := Config{
		Role:        "HOST",
		PeerID:      "Player1",
		ListenAddr:  "0.0.0.0:7777",
		PokemonName: "Pikachu",
		TeamPreview: []string{"Pikachu"},
	}

	configPath := flag.String("config", "", "path to a YAML config file")
	role := flag.String("role", "", "HOST, JOINER, or SPECTATOR")
	peerID := flag.String("peer-id", "", "this peer's application-chosen identity")
	listen := flag.String("listen", "", "address to bind (HOST/JOINER)")
	dial := flag.String("dial", "", "address of the peer to connect to (JOINER/SPECTATOR)")
	pokemon := flag.String("pokemon", "", "starting Pokémon name")
	flag.Parse()

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			logger.Fatal("reading config file: %v", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			logger.Fatal("parsing config file: %v", err)
		}
	}

	if *role != "" {
		config.Role = *role
	}
	if *peerID != "" {
		config.PeerID = *peerID
	}
	if *listen != "" {
		config.ListenAddr = *listen
	}
	if *dial != "" {
		config.DialAddr = *dial
	}
	if *pokemon != "" {
		config.PokemonName = *pokemon
	}
	return config
}
