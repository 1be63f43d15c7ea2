// Copyright 2019 The go-drogulus Authors
// This file is part of go-drogulus.
//
// go-drogulus is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-drogulus is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-drogulus. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"
	"gopkg.in/urfave/cli.v1"

	"github.com/drogulus-project/go-drogulus/crypto"
)

// consoleNode is the slice of the node facade the console commands
// need; narrowing it keeps them testable.
type consoleNode interface {
	Get(ctx context.Context, publicKey, keyName string) (*crypto.SignedItem, error)
	Set(ctx context.Context, keyName string, value interface{}, duplicate int, ttl int64) (int, error)
}

// runConsole starts a node and drops into a line-editing REPL bound
// to its facade.
func runConsole(ctx *cli.Context) error {
	d, err := startNode(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	color.Cyan("drogulus console — node %s", d.NetworkID()[:16])
	fmt.Println("commands: get <pubkey> <name> | set <name> <json-value> | whois <pubkey> | peers | id | quit")

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			return nil // ctrl-c / ctrl-d
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		fields := strings.Fields(input)
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "id":
			fmt.Println(d.NetworkID())
		case "peers":
			dump := d.DumpRoutingTable()
			for _, p := range dump.Contacts {
				fmt.Printf("  %s (v%s)\n", p.URI, p.Version)
			}
			color.Green("%d peers, %d blacklisted", len(dump.Contacts), len(dump.Blacklist))
		case "get", "whois":
			consoleGet(d, fields)
		case "set":
			consoleSet(d, fields)
		default:
			color.Red("unknown command %q", fields[0])
		}
	}
}

func consoleGet(d consoleNode, fields []string) {
	var pub, name string
	switch {
	case fields[0] == "whois" && len(fields) == 2:
		pub, name = fields[1], fields[1]
	case fields[0] == "get" && len(fields) == 3:
		pub, name = fields[1], fields[2]
	default:
		color.Red("usage: get <pubkey> <name> | whois <pubkey>")
		return
	}
	item, err := d.Get(context.Background(), pub, name)
	if err != nil {
		color.Red("%v", err)
		return
	}
	blob, _ := json.MarshalIndent(item.Value, "", "  ")
	fmt.Println(string(blob))
}

func consoleSet(d consoleNode, fields []string) {
	if len(fields) < 3 {
		color.Red("usage: set <name> <json-value>")
		return
	}
	raw := strings.Join(fields[2:], " ")
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw // not JSON: store the literal string
	}
	n, err := d.Set(context.Background(), fields[1], value, 0, 0)
	if err != nil {
		color.Red("%v", err)
		return
	}
	color.Green("stored on %d peers", n)
}
