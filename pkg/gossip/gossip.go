// Package gossip relays settlement events between swapd nodes so order
// flow is visible across the network, and serves live order snapshots
// to peers that join late.
package gossip

import (
	"context"
	"io"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/fundswap/swapd/pkg/swap"
)

const (
	topicEvents    = "fundswap-events"
	protocolOrders = protocol.ID("/fundswap/orders/1.0.0")
)

// OrdersProvider supplies the live order snapshot served to peers.
type OrdersProvider interface {
	Orders() []*swap.OrderRecord
}

// EventHandler receives settlement events announced by remote peers.
type EventHandler func(ev swap.Event)

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

// Net is the gossip endpoint: it publishes local settlement events,
// delivers remote ones to a handler, and answers order sync streams.
type Net struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tEvents   *pubsub.Topic
	subEvents *pubsub.Subscription

	provider OrdersProvider

	muH     sync.RWMutex
	handler EventHandler
}

func New(ctx context.Context, cfg Config, provider OrdersProvider) (*Net, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	n := &Net{h: h, ps: ps, log: cfg.Logger, provider: provider}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if n.tEvents, err = n.ps.Join(topicEvents); err != nil {
		return nil, err
	}
	if n.subEvents, err = n.tEvents.Subscribe(); err != nil {
		return nil, err
	}

	h.SetStreamHandler(protocolOrders, n.handleOrdersStream)
	go n.handleEvents(ctx)

	if cfg.Logger != nil {
		cfg.Logger.Infow("gossip_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	}
	return n, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

// SetHandler installs the callback for remote settlement events.
func (n *Net) SetHandler(h EventHandler) {
	n.muH.Lock()
	n.handler = h
	n.muH.Unlock()
}

func (n *Net) Host() host.Host { return n.h }

// Announce publishes a local settlement event to the network.
func (n *Net) Announce(ctx context.Context, ev swap.Event) error {
	eb, err := gobEncode(ev)
	if err != nil {
		return err
	}
	data, err := gobEncode(EventWire{Event: eb})
	if err != nil {
		return err
	}
	return n.tEvents.Publish(ctx, data)
}

// RequestOrders pulls the live order snapshot from one peer, used to
// catch up after joining the network.
func (n *Net) RequestOrders(ctx context.Context, from peer.ID) ([]*swap.OrderRecord, error) {
	stream, err := n.h.NewStream(ctx, from, protocolOrders)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, err
	}
	var w OrdersWire
	if err := gobDecode(data, &w); err != nil {
		return nil, err
	}
	var orders []*swap.OrderRecord
	if err := gobDecode(w.Orders, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// inbound

func (n *Net) handleEvents(ctx context.Context) {
	for {
		msg, err := n.subEvents.Next(ctx)
		if err != nil {
			return
		}
		// Drop our own announcements echoed back by the mesh.
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		var w EventWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		var ev swap.Event
		if err := gobDecode(w.Event, &ev); err != nil {
			continue
		}

		n.muH.RLock()
		h := n.handler
		n.muH.RUnlock()
		if h != nil {
			h(ev)
		}
	}
}

func (n *Net) handleOrdersStream(s network.Stream) {
	defer s.Close()
	if n.provider == nil {
		return
	}
	ob, err := gobEncode(n.provider.Orders())
	if err != nil {
		return
	}
	data, err := gobEncode(OrdersWire{Orders: ob})
	if err != nil {
		return
	}
	s.Write(data)
}
