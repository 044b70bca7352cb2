package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lynxis/keyblepy/internal/cliselect"
	"github.com/lynxis/keyblepy/internal/config"
	"github.com/lynxis/keyblepy/internal/display"
	"github.com/lynxis/keyblepy/internal/gpiowatch"
	"github.com/lynxis/keyblepy/internal/keyerr"
	"github.com/lynxis/keyblepy/internal/mqttbridge"
	"github.com/lynxis/keyblepy/internal/qrcode"
	"github.com/lynxis/keyblepy/internal/session"
	"github.com/lynxis/keyblepy/internal/transport"
)

const scanDuration = 10 * time.Second

func main() {
	if err := run(); err != nil {
		display.PrintError(err.Error())
		os.Exit(1)
	}
}

func run() error {
	scan := flag.Bool("scan", false, "list KEY-BLE devices (10s inquiry)")
	device := flag.String("device", "", "lock MAC address")
	discover := flag.Bool("discover", false, "read firmware versions")
	userID := flag.Int("user-id", -1, "paired user id")
	userKeyHex := flag.String("user-key", "", "paired user key, 32 hex chars")
	status := flag.Bool("status", false, "read lock status")
	open := flag.Bool("open", false, "open the lock")
	lock := flag.Bool("lock", false, "lock the lock")
	unlock := flag.Bool("unlock", false, "unlock the lock")
	register := flag.Bool("register", false, "pair a new user from a QR payload")
	qrdata := flag.String("qrdata", "", "QR pairing payload: M<mac>K<cardkey><serial>")
	userName := flag.String("user-name", "", "optional display name for the paired user")
	daemon := flag.String("daemon", "", "run as a long-lived daemon using the given YAML config")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	flag.Parse()

	configureLogging(*verbose, *logFormat)

	if *scan {
		return runScan()
	}
	if *daemon != "" {
		return runDaemon(*daemon)
	}
	if *register {
		return runRegister(*qrdata, *userName)
	}

	if *device == "" {
		return keyerr.NewConfig("--device is required")
	}
	if *userID < 0 || *userID > 0xFF {
		return keyerr.NewConfig("--user-id is required and must be 0-255")
	}
	userKey, err := parseHexKey(*userKeyHex)
	if err != nil {
		return err
	}

	adapter, err := transport.NewBluetoothAdapter()
	if err != nil {
		return err
	}
	dev := session.New(adapter, byte(*userID), userKey[:])
	defer dev.Close()

	ctx := context.Background()
	if err := dev.Connect(ctx, *device); err != nil {
		return err
	}
	defer dev.Disconnect()

	switch {
	case *discover:
		bootloader, application, err := dev.Discover()
		if err != nil {
			return err
		}
		display.PrintDiscover(bootloader, application)
	case *status:
		body, err := dev.Status(ctx)
		if err != nil {
			return err
		}
		display.PrintStatus(body)
	case *lock:
		if err := dev.Lock(ctx); err != nil {
			return err
		}
		display.PrintSuccess("locked")
	case *unlock:
		if err := dev.Unlock(ctx); err != nil {
			return err
		}
		display.PrintSuccess("unlocked")
	case *open:
		if err := dev.Open(ctx); err != nil {
			return err
		}
		display.PrintSuccess("opened")
	default:
		return keyerr.NewConfig("no operation requested: pick one of --discover, --status, --lock, --unlock, --open")
	}
	return nil
}

// runScan lists every KEY-BLE device seen during a scanDuration
// inquiry. When more than one is found, it offers the teacher's
// interactive arrow-key picker so the operator can copy the chosen MAC
// into a subsequent --device invocation (SPEC_FULL §4.F.1).
func runScan() error {
	ctx, cancel := context.WithTimeout(context.Background(), scanDuration+time.Second)
	defer cancel()
	results, err := transport.Scan(ctx, scanDuration)
	if err != nil {
		return err
	}
	display.PrintScanResults(results)

	if len(results) > 1 {
		items := make([]string, len(results))
		for i, r := range results {
			items[i] = fmt.Sprintf("%s (RSSI %d)", r.MAC, r.RSSI)
		}
		if idx := cliselect.Menu("Select a device:", items); idx >= 0 {
			display.PrintSuccess(fmt.Sprintf("selected %s", results[idx].MAC))
		}
	}
	return nil
}

// runRegister drives the pairing ceremony from a scanned QR payload. If
// more than one KEY-BLE device is in range the operator is never asked
// to disambiguate here since the QR payload already names the target
// MAC; cliselect is only used from runScan.
func runRegister(qrdata, userName string) error {
	if qrdata == "" {
		return keyerr.NewConfig("--register requires --qrdata")
	}
	payload, err := qrcode.Parse(qrdata)
	if err != nil {
		return err
	}

	var newUserKey [16]byte
	if _, err := rand.Read(newUserKey[:]); err != nil {
		return keyerr.WrapTransport("generate new user key", err)
	}

	adapter, err := transport.NewBluetoothAdapter()
	if err != nil {
		return err
	}
	dev := session.New(adapter, 0xFF, nil)
	defer dev.Close()

	ctx, cancel := context.WithTimeout(context.Background(), session.DefaultTimeout)
	defer cancel()

	if err := dev.Connect(ctx, payload.MAC); err != nil {
		return err
	}
	defer dev.Disconnect()

	assignedUserID, err := dev.Pair(ctx, payload.CardKey, newUserKey)
	if err != nil {
		return err
	}

	if userName != "" {
		slog.Info("paired new user", "name", userName, "user_id", assignedUserID)
	}
	display.PrintSuccess(fmt.Sprintf("paired user id %d, save this key: %s", assignedUserID, hex.EncodeToString(newUserKey[:])))
	return nil
}

// runDaemon wires the MQTT bridge and/or GPIO watcher against one
// long-lived session, as configured by cfgPath.
func runDaemon(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	userKey, err := os.ReadFile(cfg.Device.UserKeyFile)
	if err != nil {
		return keyerr.WrapTransport("read user key file", err)
	}
	key, err := parseHexKey(strings.TrimSpace(string(userKey)))
	if err != nil {
		return err
	}

	adapter, err := transport.NewBluetoothAdapter()
	if err != nil {
		return err
	}
	dev := session.New(adapter, byte(cfg.Device.UserID), key[:])
	defer dev.Close()

	ctx := context.Background()
	if err := dev.Connect(ctx, cfg.Device.MAC); err != nil {
		return err
	}
	defer dev.Disconnect()

	errCh := make(chan error, 2)

	if cfg.MQTT != nil {
		bridge := mqttbridge.New(dev)
		topic := cfg.MQTT.Topic
		if topic == "" {
			topic = "door"
		}
		if _, err := bridge.Connect(cfg.MQTT.Broker, topic); err != nil {
			return keyerr.WrapTransport("connect mqtt broker", err)
		}
		slog.Info("mqtt bridge connected", "broker", cfg.MQTT.Broker, "topic", topic)
	}

	if cfg.GPIO != nil {
		watcher, err := gpiowatch.New(cfg.GPIO.Chip, cfg.GPIO.Line)
		if err != nil {
			return err
		}
		go func() {
			errCh <- watcher.Run(ctx, func() {
				if err := dev.Open(ctx); err != nil {
					slog.Error("gpio-triggered open failed", "error", err)
				}
			})
		}()
		slog.Info("gpio watcher armed", "chip", cfg.GPIO.Chip, "line", cfg.GPIO.Line)
	}

	return <-errCh
}

func parseHexKey(s string) ([16]byte, error) {
	var key [16]byte
	if len(s) != 32 {
		return key, keyerr.NewConfig("user key must be exactly 32 hex characters, got %d", len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return key, keyerr.NewConfig("user key is not valid hex: %v", err)
	}
	copy(key[:], decoded)
	return key, nil
}

func configureLogging(verbose bool, format string) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}
}
