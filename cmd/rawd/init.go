package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jgor/rawd/pkg/semver"
)

type (
	// Configuration - server configuration
	Configuration struct {
		// IPAddress - bind the address
		IPAddress string
		// Port - bind the port
		Port uint
		// Engine - relay engine, see EngineGoroutines and EnginePoll
		Engine string
		// BufferSize - relay buffer capacity, larger payloads are split into fragments
		BufferSize int
		// Backlog - pending connection queue limit, poll engine only
		Backlog int
		// OutboxSize - per-peer outbound queue capacity, goroutines engine only
		OutboxSize int
		// MetricsAddress - optional HTTP address serving prometheus metrics
		MetricsAddress string
		// ShutdownTimeout - how long to wait for IO handlers on stop
		ShutdownTimeout time.Duration
	}
)

// Supported relay engines.
const (
	// EngineGoroutines - portable engine, goroutine per connection.
	EngineGoroutines = "goroutines"
	// EnginePoll - single-threaded epoll readiness loop, linux only.
	EnginePoll = "poll"
)

var (
	// Config - current configuration of the server
	Config = Configuration{
		IPAddress:       "",
		Port:            6601,
		Engine:          EngineGoroutines,
		BufferSize:      255,
		Backlog:         10,
		OutboxSize:      64,
		MetricsAddress:  "",
		ShutdownTimeout: 10 * time.Second,
	}

	// BinaryName - name of run application binary
	BinaryName = strings.TrimSuffix(filepath.Base(os.Args[0]), filepath.Ext(os.Args[0]))

	// Version - app version fingerprint
	Version = semver.V{Minor: 2}.String()
)

func init() {
	out := flag.CommandLine.Output()
	printUsage := func() {
		fmt.Fprintf(out, "Launch raw TCP relay server\n\n\t%s [options]\nOptions:\n\n", BinaryName)
		flag.PrintDefaults()
		fmt.Fprint(out, "\n")
	}
	printError := func(msg string) {
		fmt.Fprintf(out, "%s (v%s) error:\n\n\t%s\n", BinaryName, Version, msg)
	}

	help := false
	flag.BoolVar(&help, "help", false, "Print usage help")
	flag.StringVar(&Config.IPAddress, "ip", "", "Listen address")
	flag.UintVar(&Config.Port, "port", 6601, "Listen port")
	flag.StringVar(&Config.Engine, "engine", EngineGoroutines,
		"Relay engine: goroutines (portable) or poll (single-threaded epoll, linux only)")
	flag.IntVar(&Config.BufferSize, "buffer", 255, "Relay buffer capacity in bytes")
	flag.IntVar(&Config.Backlog, "backlog", 10, "Pending connection queue limit (poll engine)")
	flag.IntVar(&Config.OutboxSize, "outbox", 64, "Per-peer outbound queue capacity (goroutines engine)")
	flag.StringVar(&Config.MetricsAddress, "metrics-addr", "",
		"Optional HTTP address serving prometheus metrics, empty disables")

	flag.Parse()

	if help {
		printUsage()
		os.Exit(0)
	}

	if Config.Port < 1 || Config.Port > 65535 {
		printError(fmt.Sprintf("port value (%d) should be in range 1-65535", Config.Port))
		os.Exit(1)
	}
	if Config.Engine != EngineGoroutines && Config.Engine != EnginePoll {
		printError(fmt.Sprintf("unknown engine %q", Config.Engine))
		os.Exit(1)
	}
	if Config.BufferSize < 1 {
		printError("buffer value should be greater 0")
		os.Exit(1)
	}
	if Config.Backlog < 1 {
		printError("backlog value should be greater 0")
		os.Exit(1)
	}
	if Config.OutboxSize < 1 {
		printError("outbox value should be greater 0")
		os.Exit(1)
	}

	fmt.Fprint(out, "TCP relay server is launching, press Ctrl-C to stop...\n")
}
