package handlers

import (
	"errors"
	"net/http"
	"net/url"

	devicedomain "github.com/NickAnderegg/kasa-server/internal/domain/device"
)

const devicesPath = "/devices"

type link struct {
	Href string `json:"href"`
}

type deviceLinks struct {
	Self   link `json:"self"`
	Toggle link `json:"toggle"`
	On     link `json:"on"`
	Off    link `json:"off"`
}

type deviceSummary struct {
	Name      string      `json:"name"`
	IPAddress string      `json:"ip_address"`
	IsOn      bool        `json:"is_on"`
	Stale     bool        `json:"stale,omitempty"`
	Links     deviceLinks `json:"_links"`
}

type deviceDetail struct {
	deviceSummary
	SystemInfo map[string]any `json:"system_info"`
}

type deviceList struct {
	Count int `json:"count"`
	Links struct {
		Self link `json:"self"`
	} `json:"_links"`
	Embedded struct {
		Devices []deviceSummary `json:"devices"`
	} `json:"_embedded"`
}

// ListDevices returns every device with its refreshed state.
func (a *API) ListDevices(w http.ResponseWriter, r *http.Request) {
	items, err := a.devices.ListDevices(r.Context())
	if err != nil {
		a.writeDeviceError(w, err, "list devices failed")
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusNotFound, "no devices found")
		return
	}

	var body deviceList
	body.Count = len(items)
	body.Links.Self = link{Href: devicesPath}
	body.Embedded.Devices = make([]deviceSummary, 0, len(items))
	for _, item := range items {
		body.Embedded.Devices = append(body.Embedded.Devices, toSummary(item))
	}
	writeJSON(w, http.StatusOK, body)
}

// GetDevice returns one device, including system info, by alias.
func (a *API) GetDevice(w http.ResponseWriter, r *http.Request, name string) {
	device, err := a.devices.GetDevice(r.Context(), name)
	if errors.Is(err, devicedomain.ErrDeviceNotFound) {
		writeError(w, http.StatusNotFound, "no device found")
		return
	}
	if err != nil {
		a.writeDeviceError(w, err, "get device failed")
		return
	}
	writeJSON(w, http.StatusOK, deviceDetail{
		deviceSummary: toSummary(device.Summary),
		SystemInfo:    device.SysInfo,
	})
}

// SetPower switches, or toggles, the named device.
func (a *API) SetPower(w http.ResponseWriter, r *http.Request, name string, action devicedomain.PowerAction) {
	ok, err := a.devices.SetPower(r.Context(), name, action)
	if err != nil {
		a.writeDeviceError(w, err, "set power failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeDeviceError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, devicedomain.ErrDeviceUnreachable) {
		a.logger.Warn(msg, "err", err)
		writeError(w, http.StatusBadGateway, "device unreachable")
		return
	}
	a.logger.Error(msg, "err", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func toSummary(s devicedomain.Summary) deviceSummary {
	self := devicePath(s.Alias)
	return deviceSummary{
		Name:      s.Alias,
		IPAddress: s.Address,
		IsOn:      s.IsOn,
		Stale:     s.Stale,
		Links: deviceLinks{
			Self:   link{Href: self},
			Toggle: link{Href: self + "/toggle"},
			On:     link{Href: self + "/on"},
			Off:    link{Href: self + "/off"},
		},
	}
}

// devicePath builds the resource path for an alias; spaces become %20.
func devicePath(alias string) string {
	return devicesPath + "/" + url.PathEscape(alias)
}
