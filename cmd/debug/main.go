// Command debug connects to a Benshi radio over BLE, hydrates its channel
// list, and prints decoded traffic until interrupted.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"benshigo/internal/audio"
	"benshigo/internal/bus"
	"benshigo/internal/config"
	"benshigo/internal/events"
	"benshigo/internal/logging"
	"benshigo/internal/metrics"
	"benshigo/internal/persistence"
	"benshigo/internal/protocol"
	"benshigo/internal/radio"
	"benshigo/internal/transport"
)

const maxHexPreviewLen = 64

func main() {
	if err := run(); err != nil {
		slog.Error("run debug tool", "error", err)
		os.Exit(1)
	}
}

func run() error {
	address := flag.String("address", "", "radio bluetooth address, e.g. AA:BB:CC:DD:EE:FF")
	adapter := flag.String("adapter", "", "bluetooth adapter id (linux only)")
	channels := flag.Int("channels", 0, "channels to hydrate after connecting")
	listenFor := flag.Duration("listen-for", 0, "listen duration, e.g. 30s")
	metricsAddr := flag.String("metrics-addr", "", "expose prometheus metrics on this address, e.g. :9090")
	scan := flag.Bool("scan", false, "scan for nearby radios and exit")
	scanFor := flag.Duration("scan-for", 10*time.Second, "scan duration")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *scan {
		return runScan(ctx, *adapter, *scanFor)
	}

	paths, err := config.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*address) != "" {
		cfg.Connection.BluetoothAddress = strings.TrimSpace(*address)
	}
	if strings.TrimSpace(*adapter) != "" {
		cfg.Connection.BluetoothAdapter = strings.TrimSpace(*adapter)
	}
	if *channels > 0 {
		cfg.Connection.ChannelCount = *channels
	}
	if strings.TrimSpace(cfg.Connection.BluetoothAddress) == "" {
		return fmt.Errorf("missing bluetooth address: set --address or save it in config")
	}

	logMgr := logging.NewManager()
	cfg.Logging.LogToFile = false
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")
	logger.Info("starting benshigo debug", "address", cfg.Connection.BluetoothAddress)

	m := metrics.New()
	if strings.TrimSpace(*metricsAddr) != "" {
		go serveMetrics(logger, *metricsAddr)
	}

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	if cfg.Capture.Enabled {
		dbPath := cfg.Capture.DBPath
		if dbPath == "" {
			dbPath = paths.DBFile
		}
		db, err := persistence.Open(ctx, dbPath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				logger.Warn("close sqlite", "error", closeErr)
			}
		}()

		writer := persistence.NewWriterQueue(logMgr.Logger("persistence"), 256)
		writer.Start(ctx)
		sync := persistence.NewSync(logMgr.Logger("persistence"), b, writer,
			persistence.NewChannelRepo(db), persistence.NewMessageLogRepo(db))
		sync.Start(ctx)
		logger.Info("capture enabled", "db", dbPath)
	}

	if strings.TrimSpace(cfg.Audio.SerialPort) != "" {
		if err := watchAudio(ctx, logMgr.Logger("audio"), cfg, m); err != nil {
			logger.Warn("audio channel unavailable", "port", cfg.Audio.SerialPort, "error", err)
		}
	}

	tr := transport.NewBluetoothTransport(cfg.Connection.BluetoothAddress, cfg.Connection.BluetoothAdapter)
	svc := radio.NewService(logMgr.Logger("radio"), b, tr, m, radio.Options{
		ChannelCount:          cfg.Connection.ChannelCount,
		DigitalMessageUpdates: true,
	})

	watch(ctx, b, logger)

	svcDone := make(chan error, 1)
	go func() {
		svcDone <- svc.Run(ctx)
	}()

	if *listenFor > 0 {
		logger.Info("listen mode", "duration", *listenFor)
		select {
		case <-ctx.Done():
		case <-time.After(*listenFor):
			stop()
		}
	} else {
		logger.Info("listening until interrupt")
		<-ctx.Done()
	}

	select {
	case err := <-svcDone:
		if err != nil && err != context.Canceled {
			return err
		}
	case <-time.After(5 * time.Second):
		logger.Warn("radio service did not stop in time")
	}

	return nil
}

func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	connSub := b.Subscribe(events.TopicConnStatus)
	msgSub := b.Subscribe(events.TopicMessage)
	channelSub := b.Subscribe(events.TopicChannelInfo)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.Unsubscribe(connSub, events.TopicConnStatus)
				b.Unsubscribe(msgSub, events.TopicMessage)
				b.Unsubscribe(channelSub, events.TopicChannelInfo)
				return
			case raw := <-connSub:
				if status, ok := raw.(events.ConnStatus); ok {
					logger.Info("conn", "state", status.State, "transport", status.TransportName, "error", status.Err)
				}
			case raw := <-channelSub:
				if ch, ok := raw.(protocol.ChannelInfoResponse); ok {
					logger.Info("channel", "id", ch.ChannelID, "data", previewHex(hex.EncodeToString(ch.ChannelData)))
				}
			case raw := <-msgSub:
				msg, ok := raw.(protocol.Message)
				if !ok {
					continue
				}
				switch m := msg.(type) {
				case protocol.AprsChunk:
					logger.Info("aprs chunk",
						"num", m.ChunkNum,
						"final", m.IsFinal,
						"status", m.DecodeStatus,
						"data", previewHex(hex.EncodeToString(m.ChunkData)))
				case protocol.Unknown:
					logger.Info("unknown message", "type_id", m.ID.String(), "body", previewHex(hex.EncodeToString(m.Data)))
				default:
					logger.Info("message", "type", protocol.TypeName(msg))
				}
			}
		}
	}()
}

func runScan(ctx context.Context, adapterID string, duration time.Duration) error {
	fmt.Fprintf(os.Stderr, "scanning for %s...\n", duration)
	devices, err := transport.ScanForRadios(ctx, adapterID, duration)
	if err != nil {
		return fmt.Errorf("scan for radios: %w", err)
	}

	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		marker := ""
		if d.HasRadioService {
			marker = " [radio]"
		}
		fmt.Printf("%s  RSSI %d  %s%s\n", d.Address, d.RSSI, name, marker)
	}
	fmt.Fprintf(os.Stderr, "%d devices found\n", len(devices))

	return nil
}

// watchAudio opens the RFCOMM audio channel and logs inbound audio traffic
// for the lifetime of ctx.
func watchAudio(ctx context.Context, logger *slog.Logger, cfg config.AppConfig, m *metrics.Metrics) error {
	tr := transport.NewSerialTransport(cfg.Audio.SerialPort, cfg.Audio.SerialBaud)
	conn := audio.NewConn(logger, tr, m)
	if err := conn.Connect(ctx); err != nil {
		return err
	}

	unregister := conn.RegisterEventHandler(func(msg protocol.Message) {
		switch a := msg.(type) {
		case audio.Data:
			logger.Info("audio data", "len", len(a.SBC))
		case audio.End:
			logger.Info("audio end")
		case audio.Error:
			logger.Warn("audio error", "message", a.Message)
		default:
			logger.Info("audio message", "type", audio.TypeName(msg))
		}
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-conn.Done():
		}
		unregister()
		if err := conn.Close(); err != nil {
			logger.Debug("close audio channel", "error", err)
		}
	}()
	logger.Info("audio channel connected", "port", cfg.Audio.SerialPort)

	return nil
}

func serveMetrics(logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("serving metrics", "addr", addr)

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", "error", err)
	}
}

func previewHex(s string) string {
	if len(s) <= maxHexPreviewLen {
		return s
	}
	return s[:maxHexPreviewLen] + "..."
}
