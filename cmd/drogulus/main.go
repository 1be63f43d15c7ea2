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

// drogulus runs a node in the drogulus network: a federated,
// decentralized key/value store of cryptographically signed items.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/drogulus-project/go-drogulus/common"
	"github.com/drogulus-project/go-drogulus/crypto"
	"github.com/drogulus-project/go-drogulus/dht"
	"github.com/drogulus-project/go-drogulus/node"
)

var (
	datadirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "data directory for keys, peer database and item archive",
	}
	addrFlag = cli.StringFlag{
		Name:  "addr",
		Usage: "TCP listen address",
		Value: ":1908",
	}
	seedsFlag = cli.StringFlag{
		Name:  "seeds",
		Usage: "JSON file with seed peers to join through",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity (0-5)",
		Value: 3,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "drogulus"
	app.Usage = "a node in the drogulus peer-to-peer data store"
	app.Version = common.Version
	app.Flags = []cli.Flag{datadirFlag, addrFlag, seedsFlag, verbosityFlag}
	app.Before = func(ctx *cli.Context) error {
		flag.CommandLine.Parse(nil)
		flag.Set("logtostderr", "true")
		flag.Set("v", strconv.Itoa(ctx.GlobalInt(verbosityFlag.Name)))
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run a node until interrupted",
			Action: runNode,
		},
		{
			Name:      "genkey",
			Usage:     "generate a node key pair and quit",
			ArgsUsage: "[file]",
			Action:    genKey,
		},
		{
			Name:   "console",
			Usage:  "run a node with an interactive console",
			Action: runConsole,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func makeConfig(ctx *cli.Context) *node.Config {
	return &node.Config{
		DataDir:    ctx.GlobalString(datadirFlag.Name),
		ListenAddr: ctx.GlobalString(addrFlag.Name),
	}
}

func loadSeeds(ctx *cli.Context) ([]dht.PeerDump, error) {
	path := ctx.GlobalString(seedsFlag.Name)
	if path == "" {
		return nil, nil
	}
	blob, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seeds: %v", err)
	}
	var seeds []dht.PeerDump
	if err := json.Unmarshal(blob, &seeds); err != nil {
		return nil, fmt.Errorf("seeds: %v", err)
	}
	return seeds, nil
}

func startNode(ctx *cli.Context) (*node.Drogulus, error) {
	d, err := node.New(makeConfig(ctx))
	if err != nil {
		return nil, err
	}
	seeds, err := loadSeeds(ctx)
	if err != nil {
		d.Close()
		return nil, err
	}
	if len(seeds) > 0 {
		if err := d.Join(context.Background(), seeds); err != nil {
			fmt.Fprintf(os.Stderr, "join failed: %v (running detached)\n", err)
		}
	}
	return d, nil
}

func runNode(ctx *cli.Context) error {
	d, err := startNode(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	return nil
}

// genKey writes a fresh key pair to the named file, or stdout.
func genKey(ctx *cli.Context) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("could not generate key: %v", err)
	}
	out := os.Stdout
	if file := ctx.Args().First(); file != "" {
		f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("could not open %s: %v", file, err)
		}
		defer f.Close()
		out = f
	}
	return crypto.WriteKey(out, key)
}
