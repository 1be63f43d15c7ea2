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
	"crypto/rand"
	"fmt"
	"testing"
	"time"
)

// testPeer builds a peer with a handcrafted id; the public key only
// matters for blacklisting.
func testPeer(id NetworkID, publicKey string) *PeerNode {
	return &PeerNode{ID: id, PublicKey: publicKey, Version: "0.9.0", URI: testURI}
}

// idWithFirstByte returns a random id with a fixed leading byte.
func idWithFirstByte(b byte) NetworkID {
	var id NetworkID
	rand.Read(id[:])
	id[0] = b
	return id
}

func newTestTable(selfFirstByte byte) (*Table, NetworkID) {
	self := idWithFirstByte(selfFirstByte)
	return NewTable(self, Config{}), self
}

func checkBucketInvariants(t *testing.T, tab *Table) {
	t.Helper()
	tab.mu.Lock()
	defer tab.mu.Unlock()
	for i, b := range tab.buckets {
		if len(b.entries) > tab.k {
			t.Errorf("bucket %d holds %d entries, cap is %d", i, len(b.entries), tab.k)
		}
		for j := 1; j < len(b.entries); j++ {
			if b.entries[j-1].LastSeen > b.entries[j].LastSeen {
				t.Errorf("bucket %d not ordered by last seen at %d", i, j)
			}
		}
	}
}

func TestAddContactFillsAndSplits(t *testing.T) {
	tab, _ := newTestTable(0x00)
	for i := 0; i < 21; i++ {
		var id NetworkID
		rand.Read(id[:])
		if err := tab.AddContact(testPeer(id, fmt.Sprintf("pk-%d", i))); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if got := tab.Len(); got != 21 {
		t.Errorf("table holds %d peers, want 21", got)
	}
	if len(tab.buckets) < 2 {
		t.Errorf("21 inserts with K=20 should have split the table")
	}
	checkBucketInvariants(t, tab)
}

func TestAddContactIdempotent(t *testing.T) {
	tab, _ := newTestTable(0x00)
	p := testPeer(idWithFirstByte(0xff), "pk")
	other := testPeer(idWithFirstByte(0xfe), "pk2")

	tab.AddContact(p)
	tab.AddContact(other)
	refreshed := testPeer(p.ID, "pk")
	refreshed.URI = "netstring://10.1.1.1:1908"
	tab.AddContact(refreshed)

	if got := tab.Len(); got != 2 {
		t.Fatalf("table holds %d peers, want 2", got)
	}
	// The re-added peer moved to the tail and took the new endpoint.
	b := tab.buckets[0]
	tail := b.entries[len(b.entries)-1]
	if tail.ID != p.ID {
		t.Errorf("re-added peer is not the most recently seen entry")
	}
	if tail.URI != "netstring://10.1.1.1:1908" {
		t.Errorf("re-add did not refresh the endpoint, got %s", tail.URI)
	}
}

// overflowTable builds a table whose shallowest bucket is full and
// can no longer split: the local id starts with a zero bit, every
// inserted peer with a one bit.
func overflowTable(t *testing.T) (*Table, []*PeerNode) {
	t.Helper()
	self := idWithFirstByte(0x00)
	tab := NewTable(self, Config{})
	var peers []*PeerNode
	for i := 0; i < DefaultK+1; i++ {
		p := testPeer(idWithFirstByte(0x80|byte(i)), fmt.Sprintf("pk-%d", i))
		peers = append(peers, p)
		tab.AddContact(p)
	}
	return tab, peers
}

func TestOverflowWithoutProbe(t *testing.T) {
	tab, peers := overflowTable(t)
	newcomer := peers[len(peers)-1]

	if got := tab.Len(); got != DefaultK {
		t.Fatalf("table holds %d peers, want %d", got, DefaultK)
	}
	b := tab.buckets[0]
	if v, ok := b.replacements.Get(newcomer.ID.String()); !ok || v.(*PeerNode).ID != newcomer.ID {
		t.Errorf("overflowing peer did not land in the replacement cache")
	}
	checkBucketInvariants(t, tab)
}

func TestOverflowEvictsDeadHead(t *testing.T) {
	self := idWithFirstByte(0x00)
	tab := NewTable(self, Config{})
	tab.SetPingFunc(func(*PeerNode) bool { return false })

	var peers []*PeerNode
	for i := 0; i < DefaultK+1; i++ {
		p := testPeer(idWithFirstByte(0x80|byte(i)), fmt.Sprintf("pk-%d", i))
		peers = append(peers, p)
		tab.AddContact(p)
	}
	head, newcomer := peers[0], peers[len(peers)-1]

	if got := tab.Len(); got != DefaultK {
		t.Fatalf("table holds %d peers, want %d", got, DefaultK)
	}
	b := tab.buckets[0]
	for _, e := range b.entries {
		if e.ID == head.ID {
			t.Fatalf("dead head survived the probe")
		}
	}
	found := false
	for _, e := range b.entries {
		if e.ID == newcomer.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("newcomer was not promoted after the head died")
	}
}

func TestOverflowKeepsLiveHead(t *testing.T) {
	self := idWithFirstByte(0x00)
	tab := NewTable(self, Config{})
	tab.SetPingFunc(func(*PeerNode) bool { return true })

	var peers []*PeerNode
	for i := 0; i < DefaultK+1; i++ {
		p := testPeer(idWithFirstByte(0x80|byte(i)), fmt.Sprintf("pk-%d", i))
		peers = append(peers, p)
		tab.AddContact(p)
	}
	head, newcomer := peers[0], peers[len(peers)-1]

	b := tab.buckets[0]
	foundHead := false
	for _, e := range b.entries {
		if e.ID == newcomer.ID {
			t.Fatalf("newcomer displaced a live peer")
		}
		if e.ID == head.ID {
			foundHead = true
		}
	}
	if !foundHead {
		t.Errorf("live head was evicted")
	}
	if _, cached := b.replacements.Get(newcomer.ID.String()); cached {
		t.Errorf("newcomer should have been dropped after the head answered")
	}
}

func TestBlacklist(t *testing.T) {
	tab, _ := newTestTable(0x00)
	p := testPeer(idWithFirstByte(0xff), "evil-key")
	tab.AddContact(p)

	tab.Blacklist("evil-key")
	if tab.Len() != 0 {
		t.Errorf("blacklisted peer still routable")
	}
	if err := tab.AddContact(p); err != ErrRefused {
		t.Errorf("AddContact after blacklist: got %v, want ErrRefused", err)
	}
	dump := tab.Dump()
	if len(dump.Blacklist) != 1 || dump.Blacklist[0] != "evil-key" {
		t.Errorf("dump blacklist = %v", dump.Blacklist)
	}
}

func TestRecordFailureEvicts(t *testing.T) {
	tab, _ := newTestTable(0x00)
	p := testPeer(idWithFirstByte(0xff), "pk")
	tab.AddContact(p)

	for i := 0; i < maxRPCFailures-1; i++ {
		if evicted := tab.RecordFailure(p.ID); evicted {
			t.Fatalf("evicted after %d failures", i+1)
		}
	}
	if !tab.RecordFailure(p.ID) {
		t.Fatalf("not evicted after %d failures", maxRPCFailures)
	}
	if tab.Len() != 0 {
		t.Errorf("failed peer still present")
	}
}

func TestFindClose(t *testing.T) {
	tab, _ := newTestTable(0x00)
	for i := 0; i < 40; i++ {
		var id NetworkID
		rand.Read(id[:])
		tab.AddContact(testPeer(id, fmt.Sprintf("pk-%d", i)))
	}
	var target NetworkID
	rand.Read(target[:])

	found := tab.FindClose(target, 10)
	if len(found) != 10 {
		t.Fatalf("got %d peers, want 10", len(found))
	}
	for i := 1; i < len(found); i++ {
		if distcmp(target, found[i-1].ID, found[i].ID) > 0 {
			t.Errorf("results out of order at %d", i)
		}
	}
}

func TestDumpRoundtrip(t *testing.T) {
	tab, _ := newTestTable(0x00)
	want := map[string]bool{}
	for i := 0; i < 5; i++ {
		pk := fmt.Sprintf("pk-%d", i)
		p, _ := NewPeerNode(pk, "0.9.0", testURI, 0)
		tab.AddContact(p)
		want[pk] = true
	}
	dump := tab.Dump()
	if len(dump.Contacts) != 5 {
		t.Fatalf("dumped %d contacts, want 5", len(dump.Contacts))
	}
	for _, c := range dump.Contacts {
		if !want[c.PublicKey] {
			t.Errorf("unexpected contact %q in dump", c.PublicKey)
		}
	}
}

func TestRefreshTargets(t *testing.T) {
	self := idWithFirstByte(0x00)
	tab := NewTable(self, Config{RefreshInterval: time.Nanosecond})
	tab.AddContact(testPeer(idWithFirstByte(0xff), "pk"))

	time.Sleep(time.Millisecond)
	now := time.Now()
	targets := tab.RefreshTargets(now)
	if len(targets) == 0 {
		t.Fatal("no refresh targets for a stale table")
	}
	// Freshly touched buckets must not come up again at the same instant.
	if again := tab.RefreshTargets(now); len(again) != 0 {
		t.Errorf("refresh targets repeated immediately: %d", len(again))
	}
}
