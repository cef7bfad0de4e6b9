// Command hostdbproxy is a small forward/reverse DNS proxy built on
// top of the internal/hostdb cache: it answers A, AAAA, SRV and PTR
// queries, applying an optional block list and static overwrites
// ahead of resolution.
package main

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dcswalle/hostdb/internal/hostdb"
)

func main() {
	configFile := "config.yml"
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		log.Fatalf("hostdbproxy: read config %s: %v", configFile, err)
	}

	var cfg ProxyConfig
	cfg.HostDB = hostdb.Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("hostdbproxy: parse config: %v", err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":53"
	}

	server, err := NewServer(&cfg)
	if err != nil {
		log.Fatalf("hostdbproxy: create server: %v", err)
	}

	go func() {
		if err := server.StartTCP(); err != nil {
			log.Printf("hostdbproxy: tcp server error: %v", err)
		}
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("hostdbproxy: start server: %v", err)
	}
}
