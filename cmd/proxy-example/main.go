package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cachemir/asyncproxy/internal/logging"
	"github.com/cachemir/asyncproxy/pkg/config"
	"github.com/cachemir/asyncproxy/pkg/proxy"
	"github.com/cachemir/asyncproxy/pkg/store"
	"github.com/cachemir/asyncproxy/pkg/store/redisstore"
	"github.com/cachemir/asyncproxy/pkg/store/wirestore"
)

func main() {
	cfg, err := config.LoadProxyConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		logging.Fatal(err, "Failed to parse flags")
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal(err, "Invalid configuration")
	}

	logging.Configure(&logging.LogOptions{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := proxy.New(newDialer(cfg), proxy.WithLogger(logging.Log))
	defer func() {
		if err := reg.Close(); err != nil {
			logging.Error(err, "Error closing proxy")
		}
	}()

	bound := 0
	for id, addr := range cfg.Instances {
		if addr == "" {
			continue
		}
		host, port, err := config.SplitHostPort(addr)
		if err != nil {
			logging.Fatal(err, "Invalid instance address", "instance", id)
		}
		if err := reg.Init(ctx, id, host, port); err != nil {
			logging.Warn("Instance not bound", "instance", id, "addr", addr, "error", err.Error())
			continue
		}
		logging.Info("Instance bound", "instance", id, "addr", addr)
		bound++
	}
	if bound == 0 {
		logging.Fatal(errors.New("no instance could connect"), "Nothing to proxy")
	}
	reg.RunAll()

	for id := range cfg.Instances {
		sendSamples(reg, id)
	}

	logging.Info("Pumping results, press Ctrl+C to exit", "interval", cfg.DrainEvery().String())
	if err := reg.Pump(ctx, cfg.DrainEvery()); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error(err, "Pump stopped")
	}

	for id := range cfg.Instances {
		if stats, ok := reg.Stats(id); ok {
			logging.Info("Instance stats",
				"instance", id,
				"executed", stats.Executed,
				"dropped", stats.Dropped,
				"reconnects", stats.Reconnects)
		}
	}
}

func newDialer(cfg *config.ProxyConfig) store.Dialer {
	dial, read, write := cfg.Timeouts()
	if cfg.Backend == config.BackendWire {
		return wirestore.NewDialer(wirestore.Options{
			DialTimeout:  dial,
			ReadTimeout:  read,
			WriteTimeout: write,
		})
	}
	return redisstore.NewDialer(redisstore.Options{
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dial,
		ReadTimeout:  read,
		WriteTimeout: write,
	})
}

// sendSamples queues a handful of commands on instance id. Unbound ids are
// silently ignored by the registry.
func sendSamples(reg *proxy.Registry, id int) {
	printer := func(label string) proxy.Callback {
		return func(ok bool, values []string) {
			fmt.Printf("[%d] %-28s ok=%t values=[%s]\n", id, label, ok, strings.Join(values, ", "))
		}
	}

	key := fmt.Sprintf("asyncproxy:example:%d", id)

	reg.SendCommand(id, printer("PING"), "PING")
	reg.FireCommand(id, "DEL", key, key+":list", key+":counter")
	reg.SendCommand(id, printer("HSET"), "HSET", key, "name", "john doe", "email", "john@example.com")
	reg.SendCommand(id, printer("HGET name"), "HGET", key, "name")
	reg.SendCommand(id, printer("HGET missing"), "HGET", key, "missing")
	reg.SendCommand(id, printer("HGETALL"), "HGETALL", key)
	reg.SendCommand(id, printer("RPUSH"), "RPUSH", key+":list", "a", "b", "c")
	reg.SendCommand(id, printer("LRANGE"), "LRANGE", key+":list", "0", "-1")
	reg.FireCommandf(id, "INCRBY %s:counter %d", key, 5)
	reg.SendCommandf(id, printer("GET counter"), "GET %s:counter", key)
	reg.SendCommand(id, printer("GET wrong type"), "GET", key)
}
