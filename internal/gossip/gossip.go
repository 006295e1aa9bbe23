// Package gossip implements the fire-and-forget transport ledger.Engine
// publishes block/face/cube creation over (spec §4.10, §6 "Network
// integration"), grounded on the teacher's libp2p-pubsub node wiring in
// core/network.go: one GossipSub instance per node, topics joined
// lazily, peers found over mDNS on a LAN.
package gossip

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// Message is one inbound gossip delivery.
type Message struct {
	From  string
	Topic string
	Data  []byte
}

// Node wraps a libp2p host and GossipSub router, exposing the
// Publish/Subscribe shape ledger.Publisher and the rest of the system
// need without leaking libp2p types past this package boundary.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription
}

// NewNode starts a libp2p host listening on listenAddr, a GossipSub
// router over it, and mDNS peer discovery tagged with discoveryTag (spec
// §6: "optional libp2p-pubsub transport").
func NewNode(listenAddr, discoveryTag string) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gossip: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("gossip: create pubsub: %w", err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
	}

	if _, err := mdns.NewMdnsService(h, discoveryTag, n); err != nil {
		logrus.WithError(err).Warn("gossip: mdns discovery unavailable")
	}

	return n, nil
}

// HandlePeerFound implements mdns.Notifee: dial newly discovered peers,
// ignoring ourselves and peers already connected.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	if n.host.Network().Connectedness(info.ID) == network.Connected {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		logrus.WithError(err).WithField("peer", info.ID.String()).Debug("gossip: dial discovered peer failed")
	}
}

// Publish implements ledger.Publisher: join topic lazily, then publish
// payload fire-and-forget.
func (n *Node) Publish(topic string, payload []byte) error {
	t, err := n.topic(topic)
	if err != nil {
		return err
	}
	if err := t.Publish(n.ctx, payload); err != nil {
		return fmt.Errorf("gossip: publish %s: %w", topic, err)
	}
	return nil
}

func (n *Node) topic(topic string) (*pubsub.Topic, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.topics[topic]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("gossip: join topic %s: %w", topic, err)
	}
	n.topics[topic] = t
	return t, nil
}

// Subscribe returns a channel of inbound messages on topic. The channel
// closes when the subscription's context is cancelled or the connection
// to the router is lost.
func (n *Node) Subscribe(topic string) (<-chan Message, error) {
	n.mu.Lock()
	sub, ok := n.subs[topic]
	n.mu.Unlock()
	if !ok {
		t, err := n.topic(topic)
		if err != nil {
			return nil, err
		}
		sub, err = t.Subscribe()
		if err != nil {
			return nil, fmt.Errorf("gossip: subscribe %s: %w", topic, err)
		}
		n.mu.Lock()
		n.subs[topic] = sub
		n.mu.Unlock()
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				logrus.WithError(err).WithField("topic", topic).Debug("gossip: subscription ended")
				return
			}
			out <- Message{From: msg.GetFrom().String(), Topic: topic, Data: msg.Data}
		}
	}()
	return out, nil
}

// Close tears down the pubsub router and host.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}
