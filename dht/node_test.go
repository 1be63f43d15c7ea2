// Copyright 2019 The go-drogulus Authors
// This file is part of the go-drogulus library.
//
// The go-drogulus library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-drogulus library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-drogulus library. If not, see <http://www.gnu.org/licenses/>.

package dht

import (
	"context"
	"testing"
	"time"

	"github.com/drogulus-project/go-drogulus/common"
	"github.com/drogulus-project/go-drogulus/crypto"
)

func TestPingUpdatesBothTables(t *testing.T) {
	net := newLoopback()
	a := spawnNode(t, net, Config{})
	b := spawnNode(t, net, Config{})

	if err := a.Ping(context.Background(), peerOf(b)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "a to know b", func() bool {
		peers := a.table.FindClose(b.id, 1)
		return len(peers) == 1 && peers[0].ID == b.id
	})
	waitFor(t, "b to know a", func() bool {
		peers := b.table.FindClose(a.id, 1)
		return len(peers) == 1 && peers[0].ID == a.id
	})
}

func TestPingUnreachablePeer(t *testing.T) {
	net := newLoopback()
	a := spawnNode(t, net, Config{})
	ghost, _ := NewPeerNode("ghost-key", common.Version, "netstring://10.9.9.9:1", 0)

	if err := a.Ping(context.Background(), ghost); err != ErrTransport {
		t.Fatalf("got %v, want ErrTransport", err)
	}
}

func TestPingTimeout(t *testing.T) {
	net := newLoopback()
	a := spawnNode(t, net, Config{RPCTimeout: 50 * time.Millisecond})
	// A peer that swallows every frame: the transport delivers but no
	// reply ever comes back.
	net.register("netstring://10.8.8.8:1908", func([]byte) {})
	mute, _ := NewPeerNode("mute-key", common.Version, "netstring://10.8.8.8:1908", 0)
	if err := a.table.AddContact(mute); err != nil {
		t.Fatal(err)
	}

	if err := a.Ping(context.Background(), mute); err != ErrTimeout {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	// Two more strikes and the peer is gone.
	a.Ping(context.Background(), mute)
	a.Ping(context.Background(), mute)
	if a.table.Len() != 0 {
		t.Fatal("peer survived three consecutive timeouts")
	}
}

func TestRetrieveCancelled(t *testing.T) {
	net := newLoopback()
	a := spawnNode(t, net, Config{RPCTimeout: 5 * time.Second})
	net.register("netstring://10.8.8.9:1908", func([]byte) {})
	mute, _ := NewPeerNode("mute-key-2", common.Version, "netstring://10.8.8.9:1908", 0)
	if err := a.table.AddContact(mute); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	key := crypto.ConstructKey("someone", "something")
	if _, err := a.Retrieve(ctx, key); err != ErrCancelled {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
}

// connect makes a aware of b (and vice versa) through a real ping
// exchange.
func connect(t *testing.T, a, b *Node) {
	t.Helper()
	if err := a.Ping(context.Background(), peerOf(b)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "link", func() bool {
		return len(a.table.FindClose(b.id, 1)) == 1 && len(b.table.FindClose(a.id, 1)) == 1
	})
}

func TestStoreAndRetrieve(t *testing.T) {
	net := newLoopback()
	author := spawnNode(t, net, Config{})
	holder := spawnNode(t, net, Config{})
	reader := spawnNode(t, net, Config{})
	connect(t, author, holder)
	connect(t, reader, holder)

	item, err := crypto.GetSignedItem("greeting", "hi", author.publicKey, author.privateKey, 0)
	if err != nil {
		t.Fatal(err)
	}
	acked, err := author.Replicate(context.Background(), 2, item)
	if err != nil {
		t.Fatal(err)
	}
	if acked != 2 {
		t.Fatalf("replicated to %d peers, want 2", acked)
	}
	waitFor(t, "holder to store the item", func() bool {
		_, ok := holder.store.Get(item.Key, time.Now().Unix())
		return ok
	})

	got, err := reader.Retrieve(context.Background(), crypto.ConstructKey(author.publicKey, "greeting"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Value != "hi" {
		t.Fatalf("retrieved %v, want \"hi\"", got.Value)
	}
	if !crypto.ValidateItem(got) {
		t.Fatal("retrieved item failed validation")
	}
}

func TestRetrieveNotFound(t *testing.T) {
	net := newLoopback()
	a := spawnNode(t, net, Config{})
	b := spawnNode(t, net, Config{})
	connect(t, a, b)

	missing := crypto.ConstructKey("nobody", "nothing")
	if _, err := a.Retrieve(context.Background(), missing); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRetrieveExpiredValue(t *testing.T) {
	net := newLoopback()
	author := spawnNode(t, net, Config{})
	holder := spawnNode(t, net, Config{})
	reader := spawnNode(t, net, Config{})
	connect(t, author, holder)
	connect(t, reader, holder)

	item, err := crypto.GetSignedItem("fleeting", "x", author.publicKey, author.privateKey, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := author.Replicate(context.Background(), 1, item); err != nil {
		t.Fatal(err)
	}

	// Alive within the ttl, gone past it even without a sweep.
	if _, err := reader.Retrieve(context.Background(), item.Key); err != nil {
		t.Fatalf("item unavailable inside its ttl: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)
	reader.store.Sweep(time.Now().Unix()) // drop the reader's own copy too
	if _, err := reader.Retrieve(context.Background(), item.Key); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound after expiry", err)
	}
}

func TestReplicationFailed(t *testing.T) {
	net := newLoopback()
	author := spawnNode(t, net, Config{})
	refuser := newResponder(t, net, ErrInvalidItem)
	if err := author.table.AddContact(refuser.peer()); err != nil {
		t.Fatal(err)
	}

	item, err := crypto.GetSignedItem("unwanted", "x", author.publicKey, author.privateKey, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := author.Replicate(context.Background(), 1, item); err != ErrReplicationFailed {
		t.Fatalf("got %v, want ErrReplicationFailed", err)
	}
	if refuser.storeCount() == 0 {
		t.Fatal("no STORE ever reached the refusing peer")
	}
}

func TestInboundStore(t *testing.T) {
	net := newLoopback()
	holder := spawnNode(t, net, Config{})
	author := spawnNode(t, net, Config{})
	connect(t, author, holder)

	item, err := crypto.GetSignedItem("greeting", "hi", author.publicKey, author.privateKey, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Repeating the exact same STORE must be a no-op, not an error.
	for i := 0; i < 2; i++ {
		if acked := author.storeTo([]*PeerNode{peerOf(holder)}, item); acked != 1 {
			t.Fatalf("round %d: store not acknowledged", i)
		}
	}
	if holder.store.Len() != 1 {
		t.Fatalf("holder has %d items, want 1", holder.store.Len())
	}
}

func TestBadSignatureBlacklistsSender(t *testing.T) {
	net := newLoopback()
	victim := spawnNode(t, net, Config{})
	mallory, _ := crypto.GenerateKey()

	m := newMessage(KindPing, mallory.PublicKey, "netstring://10.6.6.6:1908", common.Version)
	if err := SignMessage(m, mallory.PrivateKey); err != nil {
		t.Fatal(err)
	}
	m.Timestamp++ // invalidate the signature
	blob, _ := EncodeMessage(m)
	victim.Receive(blob)

	if !victim.table.Blacklisted(mallory.PublicKey) {
		t.Fatal("sender of a bad signature was not blacklisted")
	}
	// Even a correctly signed frame is refused from now on.
	good := newMessage(KindPing, mallory.PublicKey, "netstring://10.6.6.6:1908", common.Version)
	SignMessage(good, mallory.PrivateKey)
	blob, _ = EncodeMessage(good)
	victim.Receive(blob)
	if victim.table.Len() != 0 {
		t.Fatal("blacklisted sender entered the routing table")
	}
}

func TestIncompatibleVersionRejected(t *testing.T) {
	net := newLoopback()
	victim := spawnNode(t, net, Config{})
	stranger, _ := crypto.GenerateKey()

	replies := make(chan *Message, 1)
	net.register("netstring://10.7.7.7:1908", func(payload []byte) {
		if m, err := DecodeMessage(payload); err == nil {
			replies <- m
		}
	})

	m := newMessage(KindPing, stranger.PublicKey, "netstring://10.7.7.7:1908", "999.0.0")
	if err := SignMessage(m, stranger.PrivateKey); err != nil {
		t.Fatal(err)
	}
	blob, _ := EncodeMessage(m)
	victim.Receive(blob)

	select {
	case reply := <-replies:
		if reply.Kind != KindError || reply.Error != ErrIncompatibleVersion.Error() {
			t.Fatalf("got %s %q", reply.Kind, reply.Error)
		}
	case <-time.After(time.Second):
		t.Fatal("no error reply for an incompatible version")
	}
	if victim.table.Len() != 0 {
		t.Fatal("incompatible sender entered the routing table")
	}
}

func TestJoin(t *testing.T) {
	net := newLoopback()
	a := spawnNode(t, net, Config{})
	b := spawnNode(t, net, Config{})
	c := spawnNode(t, net, Config{})
	connect(t, b, c)

	if err := a.Join(context.Background(), []PeerDump{peerOf(b).Dump()}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "join to populate the table", func() bool {
		return a.table.Len() >= 2
	})
}

func TestJoinNoSeeds(t *testing.T) {
	net := newLoopback()
	a := spawnNode(t, net, Config{})
	if err := a.Join(context.Background(), nil); err != ErrNoPeers {
		t.Fatalf("got %v, want ErrNoPeers", err)
	}
}

func TestJoinAllSeedsDead(t *testing.T) {
	net := newLoopback()
	a := spawnNode(t, net, Config{})
	seeds := []PeerDump{{PublicKey: "gone", Version: common.Version, URI: "netstring://10.9.9.1:1"}}
	if err := a.Join(context.Background(), seeds); err != ErrNoPeers {
		t.Fatalf("got %v, want ErrNoPeers", err)
	}
}

func TestDumpAndRejoin(t *testing.T) {
	net := newLoopback()
	a := spawnNode(t, net, Config{})
	b := spawnNode(t, net, Config{})
	c := spawnNode(t, net, Config{})
	connect(t, a, b)
	connect(t, a, c)

	dump := a.DumpRoutingTable()
	if len(dump.Contacts) != 2 {
		t.Fatalf("dumped %d contacts, want 2", len(dump.Contacts))
	}

	// a goes silent, as if it had shut down after dumping its table;
	// a fresh node rehydrates from the dump alone.
	net.register(a.uri, func([]byte) {})
	fresh := spawnNode(t, net, Config{})
	if err := fresh.Join(context.Background(), dump.Contacts); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "rejoin", func() bool { return fresh.table.Len() >= 2 })

	redump := fresh.DumpRoutingTable()
	want := map[string]bool{}
	for _, contact := range dump.Contacts {
		want[contact.PublicKey+"|"+contact.URI] = true
	}
	for _, contact := range redump.Contacts {
		if !want[contact.PublicKey+"|"+contact.URI] {
			t.Errorf("unexpected contact %q after rejoin", contact.URI)
		}
	}
}

func TestCacheStoreAfterRetrieve(t *testing.T) {
	net := newLoopback()
	author := spawnNode(t, net, Config{})
	holder := spawnNode(t, net, Config{})
	empty := spawnNode(t, net, Config{})
	reader := spawnNode(t, net, Config{})
	connect(t, author, holder)
	connect(t, reader, holder)
	connect(t, reader, empty)
	connect(t, empty, holder)

	item, err := crypto.GetSignedItem("popular", "v", author.publicKey, author.privateKey, 0)
	if err != nil {
		t.Fatal(err)
	}
	if acked := author.storeTo([]*PeerNode{peerOf(holder)}, item); acked != 1 {
		t.Fatal("seeding the holder failed")
	}

	if _, err := reader.Retrieve(context.Background(), item.Key); err != nil {
		t.Fatal(err)
	}
	// The peer that answered without the value picks it up afterwards.
	waitFor(t, "cache store to land", func() bool {
		_, ok := empty.store.Get(item.Key, time.Now().Unix())
		return ok
	})
}
