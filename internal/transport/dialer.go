package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/logging"
	"github.com/jetsoncontrols/ha-nax/internal/naxerr"
)

const (
	// DefaultPort is the HTTPS port NAX devices listen on.
	DefaultPort = 443

	// DefaultHandshakeTimeout bounds each HTTP request and the upgrade.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultHeartbeatInterval is how often a ping is sent.
	DefaultHeartbeatInterval = 5 * time.Second

	// DefaultSendQueueSize is the outbound frame queue depth.
	DefaultSendQueueSize = 64

	loginPath     = "/userlogin.html"
	logoutPath    = "/logout"
	websocketPath = "/websockify"

	trackIDCookie   = "TRACKID"
	xsrfHeader      = "CREST-XSRF-TOKEN"
	xsrfEchoHeader  = "X-CREST-XSRF-TOKEN"
	maxErrorBodyLen = 512
)

// Credentials are the device login.
type Credentials struct {
	Username string
	Password string
}

// Dialer opens authenticated connections to one device.
type Dialer struct {
	Host string
	Port int

	// VerifyTLS enables certificate verification. NAX devices ship
	// self-signed certificates, so it is off by default.
	VerifyTLS bool
	RootCAs   *x509.CertPool

	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	SendQueueSize     int
}

func (d *Dialer) port() int {
	if d.Port == 0 {
		return DefaultPort
	}
	return d.Port
}

func (d *Dialer) hostPort() string {
	if d.port() == DefaultPort {
		return d.Host
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(d.port()))
}

func (d *Dialer) baseURL() string {
	return "https://" + d.hostPort()
}

func (d *Dialer) handshakeTimeout() time.Duration {
	if d.HandshakeTimeout <= 0 {
		return DefaultHandshakeTimeout
	}
	return d.HandshakeTimeout
}

func (d *Dialer) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         d.Host,
		InsecureSkipVerify: !d.VerifyTLS, //nolint:gosec // devices use self-signed certificates
		RootCAs:            d.RootCAs,
		MinVersion:         tls.VersionTLS12,
	}
}

// Handshake is a device session between the login page fetch and the
// credential post.
type Handshake struct {
	dialer  *Dialer
	client  *http.Client
	jar     http.CookieJar
	baseURL string
	trackID string
}

// Open fetches the login page and captures the TRACKID session cookie.
func (d *Dialer) Open(ctx context.Context) (*Handshake, error) {
	if d.Host == "" {
		return nil, naxerr.NewNetworkError("no device host configured", nil)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client := &http.Client{
		Timeout: d.handshakeTimeout(),
		Jar:     jar,
		Transport: &http.Transport{
			TLSClientConfig:     d.tlsConfig(),
			TLSHandshakeTimeout: d.handshakeTimeout(),
			Proxy:               http.ProxyFromEnvironment,
		},
	}

	h := &Handshake{dialer: d, client: client, jar: jar, baseURL: d.baseURL()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+loginPath, nil)
	if err != nil {
		return nil, naxerr.NewNetworkError("failed to create login page request", err)
	}
	logging.LogConnection(d.Host, "login_page")
	resp, err := client.Do(req)
	if err != nil {
		return nil, naxerr.Classify(err, d.Host)
	}
	defer drain(resp)

	for _, c := range resp.Cookies() {
		if c.Name == trackIDCookie {
			h.trackID = c.Value
		}
	}
	if h.trackID == "" {
		return nil, naxerr.NewNetworkError(
			fmt.Sprintf("login page returned no %s cookie (HTTP %d)", trackIDCookie, resp.StatusCode), nil)
	}
	return h, nil
}

// Authenticate posts the credentials and upgrades to the CresNext
// WebSocket. Rejected credentials are an AuthError.
func (h *Handshake) Authenticate(ctx context.Context, creds Credentials) (*Conn, error) {
	d := h.dialer
	loginURL := h.baseURL + loginPath

	form := url.Values{"login": {creds.Username}, "passwd": {creds.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, naxerr.NewNetworkError("failed to create login request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", h.baseURL)
	req.Header.Set("Referer", loginURL)

	logging.LogConnection(d.Host, "login", zap.String("username", creds.Username))
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, naxerr.Classify(err, d.Host)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	drain(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, naxerr.NewAuthError(
			fmt.Sprintf("login rejected: %s", strings.TrimSpace(string(body))), resp.StatusCode)
	}
	token := resp.Header.Get(xsrfHeader)
	if token == "" {
		return nil, naxerr.NewAuthError("login response carried no "+xsrfHeader, resp.StatusCode)
	}

	wsURL := "wss://" + d.hostPort() + websocketPath
	header := http.Header{}
	header.Set("Origin", h.baseURL)
	header.Set(xsrfEchoHeader, token)

	wsDialer := &websocket.Dialer{
		TLSClientConfig:   d.tlsConfig(),
		HandshakeTimeout:  d.handshakeTimeout(),
		EnableCompression: true,
		Jar:               h.jar,
		Proxy:             http.ProxyFromEnvironment,
	}
	ws, wsResp, err := wsDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if wsResp != nil {
			drain(wsResp)
			if wsResp.StatusCode == http.StatusUnauthorized || wsResp.StatusCode == http.StatusForbidden {
				return nil, naxerr.NewAuthError("websocket upgrade refused", wsResp.StatusCode)
			}
			return nil, naxerr.NewNetworkError(
				fmt.Sprintf("websocket upgrade failed with HTTP %d", wsResp.StatusCode), err)
		}
		return nil, naxerr.Classify(err, d.Host)
	}
	logging.LogConnection(d.Host, "websocket_open")

	return newConn(ws, connOptions{
		host:      d.Host,
		client:    h.client,
		baseURL:   h.baseURL,
		xsrf:      token,
		heartbeat: d.HeartbeatInterval,
		queueSize: d.SendQueueSize,
	}), nil
}

// Dial runs Open and Authenticate.
func (d *Dialer) Dial(ctx context.Context, creds Credentials) (*Conn, error) {
	h, err := d.Open(ctx)
	if err != nil {
		return nil, err
	}
	return h.Authenticate(ctx, creds)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
