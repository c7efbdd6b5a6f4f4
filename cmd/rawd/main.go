package main

import (
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jgor/rawd/internal/relay"
	"github.com/jgor/rawd/internal/relay/poll"
)

func main() {
	logger := stdlog.New(os.Stdout, BinaryName+":"+Version+" ", stdlog.Ldate|stdlog.Ltime)
	logger.Printf("Started with config: %+v", Config)

	if Config.MetricsAddress != "" {
		serveMetrics(logger)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	switch Config.Engine {
	case EnginePoll:
		runPollEngine(logger, sig)
	default:
		runGoroutinesEngine(logger, sig)
	}
}

// runGoroutinesEngine - serves the portable relay until stop signal or fatal listener error.
func runGoroutinesEngine(logger *stdlog.Logger, sig <-chan os.Signal) {
	node := net.JoinHostPort(Config.IPAddress, fmt.Sprintf("%d", Config.Port))
	listener, err := net.Listen("tcp", node)
	if err != nil {
		logger.Println("ERR", "Unable to listen TCP:", err)
		os.Exit(1)
	}
	logger.Println("Listen", node)

	server, err := relay.New(
		relay.WithLogger(logger),
		relay.WithBufferSize(Config.BufferSize),
		relay.WithOutboxSize(Config.OutboxSize),
	)
	if err != nil {
		logger.Println("ERR", "Can't start relay server:", err)
		listener.Close()
		os.Exit(1)
	}

	fatal := make(chan error, 1)
	go func() { fatal <- server.Serve(listener) }()
	logger.Println("Relay server has started.")

	select {
	case <-sig:
		logger.Println("Got stop signal")
		logger.Println("Relay server stopped in", server.Shutdown(Config.ShutdownTimeout), "bye")
	case err := <-fatal:
		if err != nil {
			logger.Println("ERR", err)
			server.Shutdown(Config.ShutdownTimeout)
			os.Exit(1)
		}
	}
}

// runPollEngine - serves the single-threaded epoll loop until stop signal or fatal error.
func runPollEngine(logger *stdlog.Logger, sig <-chan os.Signal) {
	loop, err := poll.New(poll.Config{
		Address:    Config.IPAddress,
		Port:       int(Config.Port),
		BufferSize: Config.BufferSize,
		Backlog:    Config.Backlog,
	}, logger)
	if err != nil {
		logger.Println("ERR", "Can't start poll engine:", err)
		os.Exit(1)
	}
	logger.Println("Listen", net.JoinHostPort(Config.IPAddress, fmt.Sprintf("%d", loop.Port())))

	go func() {
		<-sig
		logger.Println("Got stop signal")
		loop.Shutdown()
	}()

	if err := loop.Run(); err != nil {
		logger.Println("ERR", err)
		os.Exit(1)
	}
	logger.Println("Relay server stopped, bye")
}

// serveMetrics - exposes prometheus metrics on the configured address in background.
func serveMetrics(logger *stdlog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.Println("Metrics on", Config.MetricsAddress+"/metrics")
		if err := http.ListenAndServe(Config.MetricsAddress, mux); err != nil {
			logger.Println("ERR", "metrics endpoint:", err)
		}
	}()
}
