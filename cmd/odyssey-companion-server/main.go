package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/getodyssey/odyssey-companion-go/cmd/odyssey-companion-server/server"
	"github.com/getodyssey/odyssey-companion-go/internal/logging"
)

var (
	address    = flag.String("address", "127.0.0.1:0", "host:port to listen")
	verbose    = flag.Bool("verbose", false, "enable debug logging")
	rootLogger = zap.NewNop()
)

func main() {
	flag.Parse()

	var err error
	rootLogger, err = logging.BuildConsoleLogger(*verbose)
	if err != nil {
		fmt.Printf("failed to initialize log: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(rootLogger)

	logger := rootLogger.Named("main")

	go handleInterrupts()

	srv := server.NewServer(rootLogger)
	srv.Setup()

	err = srv.Listen(*address)
	if err != nil {
		logger.Error("failed to start server", zap.Error(err))
		return
	}

	logger.Info("companion server started", zap.String("address", srv.Address()))
	srv.Serve()
}

// handleInterrupts catches interrupt signal (SIGTERM/SIGINT) and
// stops the process.
func handleInterrupts() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	<-ch
	os.Exit(0)
}
