package bluetoothutil

import (
	"errors"
	"runtime"
	"strings"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

func IsDBusErrorName(err error, want string) bool {
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) && dbusErrPtr != nil && dbusErrPtr.Name == want {
		return true
	}

	var dbusErr dbus.Error
	return errors.As(err, &dbusErr) && dbusErr.Name == want
}

// EnableAdapter powers the adapter on, swallowing the benign Windows
// "already initialized" failure mode.
func EnableAdapter(adapter *bluetooth.Adapter) error {
	if err := adapter.Enable(); err != nil {
		if isBenignEnableAdapterError(err) {
			return nil
		}
		return err
	}
	return nil
}

func isBenignEnableAdapterError(err error) bool {
	if err == nil || runtime.GOOS != "windows" {
		return false
	}

	// tinygo.org/x/bluetooth on Windows surfaces RoInitialize(S_FALSE=1) as
	// "Incorrect function.", even though this means COM is already initialized.
	msg := strings.TrimSpace(strings.ToLower(err.Error()))

	return msg == "incorrect function" || msg == "incorrect function."
}

// IsBenignStopScanError reports BlueZ failures that just mean no scan was
// running.
func IsBenignStopScanError(err error) bool {
	if err == nil {
		return true
	}
	if IsDBusErrorName(err, "org.bluez.Error.NotReady") {
		return true
	}
	if IsDBusErrorName(err, "org.bluez.Error.Failed") && strings.Contains(strings.ToLower(err.Error()), "no discovery started") {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "cancel") ||
		strings.Contains(msg, "stopped") ||
		strings.Contains(msg, "not scanning") ||
		strings.Contains(msg, "no scan in progress")
}

func IsScanAlreadyInProgressError(err error) bool {
	if err == nil {
		return false
	}
	if IsDBusErrorName(err, "org.bluez.Error.InProgress") {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already in progress")
}

// NormalizeScanError maps benign scan-teardown failures to nil.
func NormalizeScanError(err error) error {
	if err == nil || IsBenignStopScanError(err) {
		return nil
	}

	return err
}

func StopScan(adapter *bluetooth.Adapter) error {
	err := adapter.StopScan()
	if err != nil && !IsBenignStopScanError(err) {
		return err
	}

	return nil
}
