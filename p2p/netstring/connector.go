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

package netstring

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/drogulus-project/go-drogulus/logger"
	"github.com/drogulus-project/go-drogulus/metrics"
)

const dialTimeout = 5 * time.Second

// Receiver consumes inbound frames; the DHT node's Receive method
// satisfies it.
type Receiver func(payload []byte)

// Connector sends and receives netstring frames over TCP. Outbound
// connections are cached per URI and redialed on failure.
type Connector struct {
	mu       sync.Mutex
	conns    map[string]net.Conn
	listener net.Listener
	receiver Receiver
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewConnector creates an unstarted connector delivering inbound
// frames to receiver.
func NewConnector(receiver Receiver) *Connector {
	return &Connector{
		conns:    make(map[string]net.Conn),
		receiver: receiver,
		quit:     make(chan struct{}),
	}
}

// Listen binds addr and starts accepting inbound connections. It
// returns the bound address (useful with port 0).
func (c *Connector) Listen(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	c.listener = ln
	c.wg.Add(1)
	go c.acceptLoop()
	glog.V(logger.Info).Infof("listening on %s", ln.Addr())
	return ln.Addr().String(), nil
}

// Close stops the listener and drops every cached connection.
func (c *Connector) Close() {
	close(c.quit)
	if c.listener != nil {
		c.listener.Close()
	}
	c.mu.Lock()
	for _, conn := range c.conns {
		conn.Close()
	}
	c.conns = make(map[string]net.Conn)
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Connector) acceptLoop() {
	defer c.wg.Done()
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.quit:
				return
			default:
			}
			glog.V(logger.Debug).Infof("accept: %v", err)
			return
		}
		c.wg.Add(1)
		go c.readLoop(conn)
	}
}

// readLoop decodes frames off one connection until it dies.
func (c *Connector) readLoop(conn net.Conn) {
	defer c.wg.Done()
	defer conn.Close()
	// Close the connection on shutdown so the blocked read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-c.quit:
			conn.Close()
		case <-done:
		}
	}()
	r := bufio.NewReader(conn)
	for {
		payload, err := Decode(r)
		if err != nil {
			glog.V(logger.Detail).Infof("connection from %s closed: %v", conn.RemoteAddr(), err)
			return
		}
		metrics.TransportBytesIn.Mark(int64(len(payload)))
		c.receiver(payload)
	}
}

// Send delivers one framed payload to the peer at uri, reusing a
// cached connection when one is open.
func (c *Connector) Send(uri string, payload []byte) error {
	addr, err := ParseURI(uri)
	if err != nil {
		return err
	}
	frame := Encode(payload)
	// One redial after a stale cached connection fails.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		conn, fresh, err := c.connection(addr)
		if err != nil {
			return err
		}
		if _, err = conn.Write(frame); err == nil {
			metrics.TransportBytesOut.Mark(int64(len(payload)))
			return nil
		}
		lastErr = err
		c.drop(addr, conn)
		if fresh {
			break
		}
	}
	return lastErr
}

// connection returns a cached connection for addr, dialing if needed.
func (c *Connector) connection(addr string) (net.Conn, bool, error) {
	c.mu.Lock()
	if conn, ok := c.conns[addr]; ok {
		c.mu.Unlock()
		return conn, false, nil
	}
	c.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, true, err
	}
	c.mu.Lock()
	c.conns[addr] = conn
	c.mu.Unlock()
	// Read this connection too, in case the peer writes frames back
	// on it.
	c.wg.Add(1)
	go c.readLoop(conn)
	return conn, true, nil
}

func (c *Connector) drop(addr string, conn net.Conn) {
	c.mu.Lock()
	if c.conns[addr] == conn {
		delete(c.conns, addr)
	}
	c.mu.Unlock()
	conn.Close()
}
