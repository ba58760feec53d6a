// qtail subscribes to a topic/channel on a quillmq daemon and prints the
// body of every message it receives, acknowledging each one.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quillmq/quillmq-go/config"
	"github.com/quillmq/quillmq-go/connection"
	"github.com/quillmq/quillmq-go/connection/command"
	"github.com/quillmq/quillmq-go/connection/daemonconnection"
	"github.com/quillmq/quillmq-go/logger"
)

const popInterval = time.Second

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	host := flag.String("host", "", "daemon host (overrides config)")
	port := flag.Int("port", 0, "daemon port (overrides config)")
	topic := flag.String("topic", "", "topic to subscribe to")
	channel := flag.String("channel", "tail", "channel to subscribe on")
	maxInFlight := flag.Int("max-in-flight", 10, "messages the daemon may push unacknowledged")
	flag.Parse()

	if *topic == "" {
		fmt.Fprintln(os.Stderr, "a -topic is required")
		os.Exit(2)
	}

	if err := run(*configPath, *host, *port, *topic, *channel, *maxInFlight); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, host string, port int, topic string, channel string, maxInFlight int) error {
	opts := connection.Options{UserAgent: "qtail"}
	logConfig := &logger.Config{ConsoleWriters: []io.Writer{os.Stderr}}

	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		opts = cfg.ConnectionOptions()
		opts.UserAgent = "qtail"
		logConfig.FilePath = cfg.LogFile
		logConfig.LogLevel = cfg.LogLevel
	}
	if host != "" {
		opts.Host = host
	}
	if port != 0 {
		opts.Port = port
	}
	if opts.Host == "" {
		return fmt.Errorf("no daemon host configured; pass -host or -config")
	}

	log, err := logger.New(logConfig)
	if err != nil {
		return err
	}

	conn, err := daemonconnection.New(log.GetComponentLogger("DaemonConnection"), opts)
	if err != nil {
		return fmt.Errorf("failed to dial %s:%d: %w", opts.Host, opts.Port, err)
	}
	if err := conn.Init(); err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}

	if _, err := conn.Transmit(command.Subscribe(topic, channel)); err != nil {
		conn.Close(fmt.Errorf("subscribe failed"), time.Second)
		return fmt.Errorf("failed to subscribe to %s/%s: %w", topic, channel, err)
	}
	if _, err := conn.Transmit(command.Ready(maxInFlight)); err != nil {
		conn.Close(fmt.Errorf("ready failed"), time.Second)
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	log.Infof("Tailing %s/%s on %s:%d", topic, channel, opts.Host, opts.Port)

	for {
		select {
		case <-interrupt:
			conn.Close(fmt.Errorf("interrupted"), 5*time.Second)
			return nil
		case <-conn.Done():
			return conn.Err()
		default:
		}

		message, ok := conn.Messages().Pop(popInterval)
		if !ok {
			continue
		}

		fmt.Printf("%s\t%s\n", message.Id.String(), message.Body)

		if _, err := conn.Transmit(command.Finish(message.Id)); err != nil {
			log.Errorf("failed to acknowledge %s: %s", message.Id.String(), err)
		}
	}
}
