package kasa

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"
)

const defaultTimeout = 5 * time.Second

// Client talks to Kasa devices over the framed TCP transport. One
// connection is opened per query.
type Client struct {
	Port    int
	Timeout time.Duration
	dialer  net.Dialer
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{Port: DefaultPort, Timeout: timeout}
}

// Query sends one JSON request to host and decodes the JSON reply into out.
func (c *Client) Query(ctx context.Context, host string, request any, out any) error {
	payload, err := json.Marshal(request)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(c.port())))
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	if _, err := conn.Write(Frame(payload)); err != nil {
		return fmt.Errorf("write request to %s: %w", host, err)
	}
	body, err := ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("read reply from %s: %w", host, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

// GetSysInfo fetches the device's system information map.
func (c *Client) GetSysInfo(ctx context.Context, host string) (map[string]any, error) {
	var reply systemReply
	if err := c.Query(ctx, host, sysInfoRequest, &reply); err != nil {
		return nil, err
	}
	return reply.sysInfo()
}

// SetRelayState switches the plug relay on or off.
func (c *Client) SetRelayState(ctx context.Context, host string, on bool) error {
	state := 0
	if on {
		state = 1
	}
	request := map[string]any{
		"system": map[string]any{
			"set_relay_state": map[string]any{"state": state},
		},
	}
	var reply systemReply
	if err := c.Query(ctx, host, request, &reply); err != nil {
		return err
	}
	if reply.System.SetRelayState == nil {
		return fmt.Errorf("%w: missing set_relay_state", ErrUnexpectedResponse)
	}
	return checkErrCode(reply.System.SetRelayState)
}

func (c *Client) port() int {
	if c.Port <= 0 {
		return DefaultPort
	}
	return c.Port
}

func (c *Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

var sysInfoRequest = map[string]any{
	"system": map[string]any{"get_sysinfo": map[string]any{}},
}

type systemReply struct {
	System struct {
		GetSysinfo    map[string]any `json:"get_sysinfo"`
		SetRelayState map[string]any `json:"set_relay_state"`
	} `json:"system"`
}

func (r systemReply) sysInfo() (map[string]any, error) {
	if r.System.GetSysinfo == nil {
		return nil, fmt.Errorf("%w: missing get_sysinfo", ErrUnexpectedResponse)
	}
	if err := checkErrCode(r.System.GetSysinfo); err != nil {
		return nil, err
	}
	return r.System.GetSysinfo, nil
}

func checkErrCode(section map[string]any) error {
	code, ok := section["err_code"].(float64)
	if !ok || code == 0 {
		return nil
	}
	msg, _ := section["err_msg"].(string)
	return fmt.Errorf("%w: err_code %d %s", ErrDeviceError, int(code), msg)
}

// aliasOf and relayOn read well-known sysinfo fields.
func aliasOf(info map[string]any) string {
	alias, _ := info["alias"].(string)
	return alias
}

func relayOn(info map[string]any) bool {
	if state, ok := info["relay_state"].(float64); ok {
		return state == 1
	}
	if light, ok := info["light_state"].(map[string]any); ok {
		if state, ok := light["on_off"].(float64); ok {
			return state == 1
		}
	}
	return false
}
