package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"benshigo/internal/bluetoothutil"
	"tinygo.org/x/bluetooth"
)

const defaultScanDuration = 10 * time.Second

// ScanDevice is one BLE device seen during discovery.
type ScanDevice struct {
	Name            string
	Address         string
	RSSI            int
	HasRadioService bool
}

// ScanForRadios discovers nearby BLE devices, flagging those that advertise
// the Benshi radio service. The scan runs until ctx's deadline, or for
// duration when ctx has none.
func ScanForRadios(ctx context.Context, adapterID string, duration time.Duration) ([]ScanDevice, error) {
	if duration <= 0 {
		duration = defaultScanDuration
	}

	adapter := bluetoothutil.ResolveAdapter(adapterID)
	if err := bluetoothutil.EnableAdapter(adapter); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	if err := bluetoothutil.StopScan(adapter); err != nil {
		return nil, fmt.Errorf("reset bluetooth scan state: %w", err)
	}

	scanCtx := ctx
	if _, hasDeadline := scanCtx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(scanCtx, duration)
		defer cancel()
	}

	var (
		mu      sync.Mutex
		devices = make(map[string]ScanDevice)
	)
	scanErrCh := make(chan error, 1)

	go func() {
		scanErrCh <- runScan(adapter, func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			entry := scanDeviceFromResult(result)
			if entry.Address == "" {
				return
			}

			mu.Lock()
			defer mu.Unlock()

			if existing, ok := devices[entry.Address]; ok {
				devices[entry.Address] = mergeScanDevice(existing, entry)
				return
			}
			devices[entry.Address] = entry
		})
	}()

	if err := awaitScanCompletion(scanCtx, adapter, scanErrCh); err != nil {
		return nil, err
	}

	mu.Lock()
	result := make([]ScanDevice, 0, len(devices))
	for _, device := range devices {
		result = append(result, device)
	}
	mu.Unlock()

	sortScanDevices(result)
	return result, nil
}

func runScan(adapter *bluetooth.Adapter, callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := adapter.Scan(callback)
		if err == nil {
			return nil
		}
		lastErr = err
		if !bluetoothutil.IsScanAlreadyInProgressError(err) {
			return err
		}
		if stopErr := bluetoothutil.StopScan(adapter); stopErr != nil {
			return errors.Join(err, fmt.Errorf("stop stale bluetooth scan: %w", stopErr))
		}
	}
	return lastErr
}

func awaitScanCompletion(ctx context.Context, adapter *bluetooth.Adapter, scanErrCh <-chan error) error {
	select {
	case err := <-scanErrCh:
		if err = bluetoothutil.NormalizeScanError(err); err != nil {
			return fmt.Errorf("scan bluetooth devices: %w", err)
		}
		return nil
	case <-ctx.Done():
		if err := bluetoothutil.StopScan(adapter); err != nil {
			return fmt.Errorf("stop bluetooth scan: %w", err)
		}
		err := <-scanErrCh
		if err = bluetoothutil.NormalizeScanError(err); err != nil {
			return fmt.Errorf("scan bluetooth devices: %w", err)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil
		}
		return ctx.Err()
	}
}

func scanDeviceFromResult(result bluetooth.ScanResult) ScanDevice {
	return ScanDevice{
		Name:            strings.TrimSpace(result.LocalName()),
		Address:         strings.ToUpper(strings.TrimSpace(result.Address.String())),
		RSSI:            int(result.RSSI),
		HasRadioService: result.HasServiceUUID(bluetoothutil.RadioServiceUUID()),
	}
}

func mergeScanDevice(existing, next ScanDevice) ScanDevice {
	merged := existing

	if len(strings.TrimSpace(next.Name)) > len(strings.TrimSpace(merged.Name)) {
		merged.Name = next.Name
	}
	if next.RSSI > merged.RSSI {
		merged.RSSI = next.RSSI
	}
	merged.HasRadioService = merged.HasRadioService || next.HasRadioService

	return merged
}

func sortScanDevices(devices []ScanDevice) {
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].HasRadioService != devices[j].HasRadioService {
			return devices[i].HasRadioService
		}
		if devices[i].RSSI != devices[j].RSSI {
			return devices[i].RSSI > devices[j].RSSI
		}

		leftName := strings.ToLower(strings.TrimSpace(devices[i].Name))
		rightName := strings.ToLower(strings.TrimSpace(devices[j].Name))
		if leftName != rightName {
			return leftName < rightName
		}

		return devices[i].Address < devices[j].Address
	})
}
