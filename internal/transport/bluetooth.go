package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"benshigo/internal/bluetoothutil"
	"tinygo.org/x/bluetooth"
)

const (
	defaultBluetoothChunkQueueSize = 128
	defaultBluetoothSubscribeWait  = 8 * time.Second
)

type bluetoothConnState struct {
	device   bluetooth.Device
	writeCh  bluetooth.DeviceCharacteristic
	notifyCh *bluetooth.DeviceCharacteristic

	chunkCh chan []byte
	closed  chan struct{}

	closeOnce sync.Once
	errMu     sync.RWMutex
	asyncErr  error
}

// BluetoothTransport is the BLE GATT control link. Inbound protocol bytes
// arrive as notifications on the radio's indicate characteristic; outbound
// frames go to the write characteristic.
type BluetoothTransport struct {
	address   string
	adapterID string

	mu      sync.RWMutex
	conn    *bluetoothConnState
	writeMu sync.Mutex
}

func NewBluetoothTransport(address, adapterID string) *BluetoothTransport {
	return &BluetoothTransport{
		address:   strings.TrimSpace(address),
		adapterID: strings.TrimSpace(adapterID),
	}
}

func (t *BluetoothTransport) Name() string {
	return "bluetooth"
}

func (t *BluetoothTransport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.address
}

func (t *BluetoothTransport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil
}

func (t *BluetoothTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := transportLogger("bluetooth", "address", t.address, "adapter", t.adapterID)

	if t.conn != nil {
		logger.Debug("connect skipped: already connected")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.address == "" {
		return errors.New("bluetooth address is empty")
	}

	addr, err := parseBluetoothAddress(t.address)
	if err != nil {
		logger.Warn("connect failed: invalid address", "error", err)
		return err
	}

	adapter := bluetoothutil.ResolveAdapter(t.adapterID)
	logger.Info("connecting")
	if err := bluetoothutil.EnableAdapter(adapter); err != nil {
		logger.Warn("enable adapter failed", "error", err)
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	device, err := adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		logger.Warn("connect device failed", "error", err)
		return fmt.Errorf("connect bluetooth device %q: %w", t.address, err)
	}
	logger.Debug("device connected")

	services, err := device.DiscoverServices([]bluetooth.UUID{bluetoothutil.RadioServiceUUID()})
	if err != nil {
		_ = device.Disconnect()
		logger.Warn("discover radio service failed", "error", err)
		return fmt.Errorf("discover radio service: %w", err)
	}
	if len(services) == 0 {
		_ = device.Disconnect()
		return errors.New("radio BLE service is not available")
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{
		bluetoothutil.RadioWriteUUID(),
		bluetoothutil.RadioIndicateUUID(),
	})
	if err != nil {
		_ = device.Disconnect()
		logger.Warn("discover characteristics failed", "error", err)
		return fmt.Errorf("discover radio characteristics: %w", err)
	}
	if len(chars) != 2 {
		_ = device.Disconnect()
		return fmt.Errorf("unexpected characteristic count: %d", len(chars))
	}

	writeCh := chars[0]
	notifyCh := chars[1]

	state := &bluetoothConnState{
		device:   device,
		writeCh:  writeCh,
		notifyCh: &notifyCh,
		chunkCh:  make(chan []byte, defaultBluetoothChunkQueueSize),
		closed:   make(chan struct{}),
	}

	logger.Debug("subscribing to indications")
	if err := enableNotificationsWithTimeout(ctx, device, *state.notifyCh, func(chunk []byte) {
		t.enqueueChunk(state, chunk)
	}, defaultBluetoothSubscribeWait); err != nil {
		_ = device.Disconnect()
		logger.Warn("subscribe to indications failed", "error", err)
		return fmt.Errorf("subscribe to radio indications: %w", err)
	}

	if err := ctx.Err(); err != nil {
		state.markClosed()
		_ = state.notifyCh.EnableNotifications(nil)
		_ = device.Disconnect()
		return err
	}

	t.conn = state
	logger.Info("connected")
	return nil
}

func (t *BluetoothTransport) Close() error {
	t.mu.Lock()
	logger := transportLogger("bluetooth", "address", t.address)
	state := t.conn
	t.conn = nil
	t.mu.Unlock()
	if state == nil {
		return nil
	}

	logger.Info("closing connection")
	state.markClosed()

	var closeErr error
	if state.notifyCh != nil {
		if err := state.notifyCh.EnableNotifications(nil); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("disable radio indications: %w", err))
		}
	}
	if err := state.device.Disconnect(); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("disconnect bluetooth device: %w", err))
	}

	return closeErr
}

func (t *BluetoothTransport) Read(ctx context.Context) ([]byte, error) {
	state, err := t.currentState()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-state.closed:
		if err := state.closeErr(); err != nil {
			return nil, err
		}
		return nil, errors.New("transport is closed")
	case chunk := <-state.chunkCh:
		return chunk, nil
	}
}

func (t *BluetoothTransport) Write(ctx context.Context, payload []byte) error {
	logger := transportLogger("bluetooth")
	if err := ctx.Err(); err != nil {
		return err
	}

	state, err := t.currentState()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	select {
	case <-state.closed:
		if err := state.closeErr(); err != nil {
			return err
		}
		return errors.New("transport is closed")
	default:
	}

	written, err := state.writeCh.WriteWithoutResponse(payload)
	if err != nil {
		logger.Warn("write failed", "payload_len", len(payload), "error", err)
		return fmt.Errorf("write to radio characteristic: %w", err)
	}
	if written != len(payload) {
		return fmt.Errorf("short write to radio characteristic: wrote %d of %d", written, len(payload))
	}
	logger.Debug("write", "payload_len", len(payload))

	return nil
}

func (t *BluetoothTransport) currentState() (*bluetoothConnState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil, errors.New("transport is not connected")
	}
	return t.conn, nil
}

func (t *BluetoothTransport) enqueueChunk(state *bluetoothConnState, payload []byte) {
	logger := transportLogger("bluetooth")
	chunk := append([]byte(nil), payload...)

	select {
	case <-state.closed:
		return
	default:
	}

	select {
	case state.chunkCh <- chunk:
	default:
		logger.Warn("chunk queue full, dropping oldest chunk", "capacity", cap(state.chunkCh), "dropped_len", len(chunk))
		select {
		case <-state.chunkCh:
		default:
		}
		select {
		case state.chunkCh <- chunk:
		default:
		}
	}
}

func parseBluetoothAddress(raw string) (bluetooth.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return bluetooth.Address{}, errors.New("bluetooth address is empty")
	}

	mac, err := bluetooth.ParseMAC(strings.ToUpper(trimmed))
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("invalid bluetooth address %q: %w", trimmed, err)
	}

	return bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, nil
}

func (s *bluetoothConnState) markClosed() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

func (s *bluetoothConnState) closeErr() error {
	s.errMu.RLock()
	defer s.errMu.RUnlock()
	return s.asyncErr
}

func enableNotificationsWithTimeout(
	ctx context.Context,
	device bluetooth.Device,
	char bluetooth.DeviceCharacteristic,
	callback func([]byte),
	wait time.Duration,
) error {
	if wait <= 0 {
		wait = defaultBluetoothSubscribeWait
	}

	done := make(chan error, 1)
	go func() {
		done <- char.EnableNotifications(callback)
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = device.Disconnect()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
		return ctx.Err()
	case <-timer.C:
		_ = device.Disconnect()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("timed out after %s (abort returned: %w)", wait, err)
			}
		case <-time.After(2 * time.Second):
		}
		return fmt.Errorf("timed out after %s", wait)
	}
}
