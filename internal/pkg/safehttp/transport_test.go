package safehttp

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsBlocked(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"192.168.0.10", true},
		{"169.254.1.1", true},
		{"::1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"2606:4700:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := IsBlocked(net.ParseIP(tt.ip)); got != tt.want {
				t.Errorf("IsBlocked(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}

func TestSafeTransport_RejectsLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach loopback server")
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport()}
	_, err := client.Get(srv.URL)
	if err == nil || !strings.Contains(err.Error(), "denied") {
		t.Errorf("Get() error = %v, want denial", err)
	}
}
