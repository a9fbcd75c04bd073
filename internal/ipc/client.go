package ipc

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"resty.dev/v3"
)

func newClient() *resty.Client {
	path := SocketPath()

	client := resty.NewWithClient(&http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", path)
			},
		},
	})

	client.SetBaseURL("http://driftbg")
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	client.SetHeader("User-Agent", "driftbg")

	return client
}

// SendCommand posts a command to a running daemon.
func SendCommand(cmd Command) (*Response, error) {
	result := Response{}

	response, err := newClient().R().SetBody(cmd).SetResult(&result).Post("/" + string(cmd.Type))
	if err != nil {
		return nil, err
	}
	if response.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("error sending command: %s", response.Status())
	}

	return &result, nil
}

// GetStatus fetches daemon status as raw pretty-printable JSON.
func GetStatus() ([]byte, error) {
	res, err := newClient().R().Get("/status")
	if err != nil {
		return nil, fmt.Errorf("error pinging socket: %w", err)
	}
	if res.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("error pinging socket: %s", res.Status())
	}

	return res.Bytes(), nil
}
