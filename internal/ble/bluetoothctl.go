package ble

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// BluetoothCtl recovers device names by shelling out to the bluetoothctl
// CLI, which exposes attributes BlueZ does not surface through the scan
// API. It is strictly best-effort enrichment: the binary may be missing,
// the device may have aged out of the controller cache, and neither case
// is an engine failure.
type BluetoothCtl struct{}

func (BluetoothCtl) DeviceInfo(ctx context.Context, addr string) (DeviceInfo, error) {
	addr = strings.ToUpper(addr)
	out, err := exec.CommandContext(ctx, "bluetoothctl", "info", addr).Output()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("ble: bluetoothctl info %s: %w", addr, err)
	}
	return parseDeviceInfo(addr, string(out))
}

// parseDeviceInfo extracts the name fields from bluetoothctl info output.
// Alias wins over Name when both are present, matching what bluetoothctl
// itself displays.
func parseDeviceInfo(addr, out string) (DeviceInfo, error) {
	info := DeviceInfo{Address: addr}
	var name, alias string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "Name: "); ok {
			name = strings.TrimSpace(v)
		}
		if v, ok := strings.CutPrefix(line, "Alias: "); ok {
			alias = strings.TrimSpace(v)
		}
	}
	switch {
	case alias != "":
		info.Name = alias
	case name != "":
		info.Name = name
	default:
		return DeviceInfo{}, errors.New("ble: no name in bluetoothctl output")
	}
	return info, nil
}

// Compile-time check that BluetoothCtl implements DeviceInfoProvider.
var _ DeviceInfoProvider = BluetoothCtl{}
