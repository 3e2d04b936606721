// Package asyncproxy is an asynchronous command proxy for Redis-compatible
// stores.
//
// Application code enqueues commands against numbered store instances from
// any goroutine and never blocks on network I/O. Each instance runs a single
// worker goroutine that executes its commands in order over one connection.
// Results are handed back only when the application drains them, so result
// callbacks always run on a goroutine the application controls.
//
// # Architecture Overview
//
//   - Registry (pkg/proxy): instance table, request and response queues, workers
//   - Store connections (pkg/store): backend-neutral Conn, Dialer and Connector
//   - Redis backend (pkg/store/redisstore): RESP via go-redis
//   - Wire backend (pkg/store/wirestore): the binary protocol in pkg/protocol
//   - Resolver (pkg/resolver): IPv4 resolution of instance hostnames
//   - Development store (internal/server, pkg/cache): in-memory server for the wire backend
//   - Configuration (pkg/config): flags and ASYNCPROXY_* environment variables
//   - Logging (internal/logging): zerolog setup shared by every binary
//
// # Quick Start
//
//	reg := proxy.New(redisstore.NewDialer(redisstore.Options{DialTimeout: 5 * time.Second}))
//	defer reg.Close()
//
//	if err := reg.Init(ctx, 0, "localhost", 6379); err != nil {
//		log.Fatal(err)
//	}
//	reg.RunAll()
//
//	reg.SendCommand(0, func(ok bool, values []string) {
//		fmt.Println(ok, values)
//	}, "HGET", "user:1", "name")
//
//	// Drain results every 10ms until ctx is cancelled.
//	_ = reg.Pump(ctx, 10*time.Millisecond)
//
// # Failure Handling
//
// A command that fails on the wire triggers one reconnect and one retry.
// If either fails the command is dropped and its callback is never invoked;
// the drop is logged and counted in the instance Stats. Replies the store
// marks as errors are not failures: they reach the callback with ok == false.
//
// # Configuration
//
// Proxy settings via flags or environment variables:
//
//	./proxy-example -backend redis -instances cache-a:6379,cache-b:6379
//	# or
//	ASYNCPROXY_INSTANCES=cache-a:6379,cache-b:6379 ./proxy-example
//
// Development store server:
//
//	./storeserver -port 7379 -max-conns 1000
//	./proxy-example -backend wire -instances localhost:7379
//
// # Package Structure
//
//   - pkg/proxy: Registry and workers
//   - pkg/store: Connection abstractions and connector
//   - pkg/store/redisstore: go-redis backend
//   - pkg/store/wirestore: Binary protocol backend
//   - pkg/protocol: Binary communication protocol
//   - pkg/resolver: Hostname resolution
//   - pkg/cache: In-memory keyspace
//   - pkg/config: Configuration management
//   - internal/server: Development store server
//   - internal/logging: Logging setup
//   - cmd/storeserver: Store server executable
//   - cmd/proxy-example: Example proxy usage
package asyncproxy
