package request

import (
	"errors"
	"fmt"
	"net"
	"runtime"

	"github.com/google/uuid"

	"github.com/leonardcser/api-relay/internal/kv"
)

// DeviceInfo identifies the client to the backend on every request.
type DeviceInfo struct {
	DeviceID   string
	IPAddress  string
	DeviceType string
	OSVersion  string
	AppVersion string
}

// Header names are sent exactly as the backend expects them.
const (
	headerDeviceID   = "deviceId"
	headerIPAddress  = "ipAddress"
	headerDeviceType = "deviceType"
	headerOSVersion  = "osVersion"
	headerAppVersion = "appVersion"
)

func (d DeviceInfo) headers() [][2]string {
	return [][2]string{
		{headerDeviceID, d.DeviceID},
		{headerIPAddress, d.IPAddress},
		{headerDeviceType, d.DeviceType},
		{headerOSVersion, d.OSVersion},
		{headerAppVersion, d.AppVersion},
	}
}

// UserAgent renders the device as a User-Agent string.
func (d DeviceInfo) UserAgent() string {
	app := d.AppVersion
	if app == "" {
		app = "dev"
	}
	kind := d.DeviceType
	if kind == "" {
		kind = runtime.GOOS
	}
	if d.OSVersion == "" {
		return fmt.Sprintf("api-relay/%s (%s)", app, kind)
	}
	return fmt.Sprintf("api-relay/%s (%s; %s)", app, kind, d.OSVersion)
}

const deviceIDKey = "@relay_device:id"

// LoadDeviceID returns the device id persisted in store, generating and
// saving a new one on first use.
func LoadDeviceID(store kv.KV) (string, error) {
	v, err := store.Get(deviceIDKey)
	if err == nil && len(v) > 0 {
		return string(v), nil
	}
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return "", fmt.Errorf("request: read device id: %w", err)
	}
	id := uuid.NewString()
	if err := store.Put(deviceIDKey, []byte(id)); err != nil {
		return "", fmt.Errorf("request: save device id: %w", err)
	}
	return id, nil
}

// LocalIP returns the first non-loopback IPv4 address of the host, or "".
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return ""
}
