package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Protocol identification mixed into private order hashes as a protocol tag.
// Changing either value invalidates every previously signed private order.
const (
	ProtocolName    = "FundSwap"
	ProtocolVersion = "1"
)

type Chain struct {
	// ChainID is packed into every public and private order hash so that
	// signed orders cannot be replayed on another network.
	ChainID int64
}

type Fees struct {
	// DefaultFeeBps is the initial protocol fee in basis points (24 = 0.24%).
	DefaultFeeBps int64
}

type API struct {
	ListenAddr string
}

type Gossip struct {
	// ListenAddr is a multiaddr, e.g. "/ip4/0.0.0.0/tcp/9000".
	// Empty disables order gossip entirely.
	ListenAddr string
	Bootstrap  []string
}

type Node struct {
	DataDir string
	LogFile string
}

type Config struct {
	Chain  Chain
	Fees   Fees
	API    API
	Gossip Gossip
	Node   Node
}

func Default() Config {
	return Config{
		Chain: Chain{
			ChainID: 31337, // local devnet
		},
		Fees: Fees{
			DefaultFeeBps: 24,
		},
		API: API{
			ListenAddr: ":8080",
		},
		Gossip: Gossip{
			ListenAddr: "",
		},
		Node: Node{
			DataDir: "data",
			LogFile: "data/swapd.log",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		if id, err := strconv.ParseInt(chainID, 10, 64); err == nil {
			cfg.Chain.ChainID = id
		}
	}

	if fee := os.Getenv("DEFAULT_FEE_BPS"); fee != "" {
		if bps, err := strconv.ParseInt(fee, 10, 64); err == nil {
			cfg.Fees.DefaultFeeBps = bps
		}
	}

	if addr := os.Getenv("API_LISTEN_ADDR"); addr != "" {
		cfg.API.ListenAddr = addr
	}

	if addr := os.Getenv("GOSSIP_LISTEN_ADDR"); addr != "" {
		cfg.Gossip.ListenAddr = addr
	}
	if peers := os.Getenv("GOSSIP_BOOTSTRAP"); peers != "" {
		// Comma-separated multiaddrs
		cfg.Gossip.Bootstrap = strings.Split(peers, ",")
	}

	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Node.DataDir = dir
	}
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.Node.LogFile = logFile
	}

	return cfg
}
