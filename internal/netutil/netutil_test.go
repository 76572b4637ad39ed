package netutil

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupPassesIPLiterals(t *testing.T) {
	ip, err := Lookup(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip)

	ip, err = Lookup(context.Background(), "::1")
	require.NoError(t, err)
	assert.Equal(t, "::1", ip)
}

func TestDialContextLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	conn, err := DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
}

func TestRaceResolversNeedsServers(t *testing.T) {
	_, err := raceResolvers(context.Background(), "example.invalid", nil)
	assert.Error(t, err)
}

func TestTunnelInterface(t *testing.T) {
	for _, name := range []string{"tun0", "wg0", "utun3", "CloudflareWARP", "ppp0"} {
		assert.True(t, tunnelInterface(name), name)
	}
	for _, name := range []string{"eth0", "en0", "wlan0", "lo"} {
		assert.False(t, tunnelInterface(name), name)
	}
}

func TestBehindCGNAT(t *testing.T) {
	assert.True(t, behindCGNAT(&net.IPNet{IP: net.ParseIP("100.100.1.2"), Mask: net.CIDRMask(10, 32)}))
	assert.True(t, behindCGNAT(&net.IPAddr{IP: net.ParseIP("100.64.0.1")}))
	assert.False(t, behindCGNAT(&net.IPNet{IP: net.ParseIP("192.168.1.10"), Mask: net.CIDRMask(24, 32)}))
}

func TestTrimBrackets(t *testing.T) {
	assert.Equal(t, "2606:4700:4700::1111", trimBrackets("[2606:4700:4700::1111]"))
	assert.Equal(t, "1.1.1.1", trimBrackets("1.1.1.1"))
}
