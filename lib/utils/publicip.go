package utils

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gravitational/trace"
)

// publicIPServiceURL returns the caller's public address as a bare string.
const publicIPServiceURL = "https://ident.me"

// PublicIP discovers the address attackers see when connecting to this
// host. Logged sessions record it as the destination endpoint.
func PublicIP(ctx context.Context) (net.IP, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, publicIPServiceURL, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to reach public IP service")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ip := net.ParseIP(strings.TrimSpace(string(body)))
	if ip == nil {
		return nil, trace.BadParameter("public IP service returned %q, not an IP address", body)
	}
	return ip, nil
}
