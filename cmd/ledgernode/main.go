// Command ledgernode runs one role-scoped ledger node.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"ewp-backend/api"
	"ewp-backend/blockchain/ledger"
	"ewp-backend/encryption"
)

func main() {
	app := cli.NewApp()
	app.Name = "ledgernode"
	app.Usage = "run a federal, state or oversight ledger node"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "node configuration file (TOML)",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "log every append",
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "serve the ledger node",
			Action: run,
		},
		{
			Name:      "keygen",
			Usage:     "create the node's acknowledgment key and print its public JWK",
			ArgsUsage: "key.json",
			Action:    keygen,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (api.NodeConfig, error) {
	if path := c.GlobalString("config"); path != "" {
		return api.LoadNodeConfig(path)
	}
	return api.DefaultNodeConfig(), nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Token == "" {
		raw, err := encryption.RandomBytes(32)
		if err != nil {
			return err
		}
		cfg.Token = encryption.EncodeHex(raw)
		log.WithField("token", cfg.Token).Warn("No append token configured, generated one for this run")
	}
	server, err := api.NewServer(cfg)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	serverChan := make(chan error, 1)
	go func() {
		serverChan <- server.Start()
	}()

	select {
	case err := <-serverChan:
		return err
	case sig := <-sigChan:
		log.Infof("Received signal: %v", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %v", err)
		}
		log.Info("Ledger node stopped")
		return nil
	}
}

func keygen(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		path = cfg.KeyFile
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	key, err := ledger.LoadAckKey(path)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(key.PublicJWK(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
