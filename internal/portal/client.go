package portal

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync/atomic"
	"time"
)

// DefaultBaseURL is the public auction view of the portal.
const DefaultBaseURL = "https://webecommerce.cba.gov.ar/VistaPublica"

// buscarOfertasPath is the XHR endpoint polled once per line item per tick.
const buscarOfertasPath = "/SubastaVivoAccesoPublico.aspx/BuscarOfertas"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Per-request deadlines. Intensive mode polls every line item each tick, so
// a slow portal must not stall the fan-out.
const (
	DefaultTimeout   = 5 * time.Second
	IntensiveTimeout = 2500 * time.Millisecond
)

// StatusError reports a non-200 portal response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal http %d: %s", e.Status, e.Message)
}

// SessionExpired reports whether the status means the captured cookies are
// no longer accepted.
func (e *StatusError) SessionExpired() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// Client calls BuscarOfertas with a captured session. It never retries; the
// engine's security policy owns the reaction to errors.
type Client struct {
	baseURL    string
	referer    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
	timeout    atomic.Int64 // per-request deadline, nanoseconds
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout.Store(int64(d)) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithBaseURL overrides the portal base URL (tests point this at a local
// server).
func WithBaseURL(base string) ClientOption {
	return func(c *Client) { c.baseURL = base }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient builds a client around a session snapshot. The cookies are
// copied into a jar; the session value itself is never mutated.
func NewClient(session Session, opts ...ClientOption) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	c := &Client{
		baseURL:   DefaultBaseURL,
		referer:   session.AuctionURL,
		userAgent: defaultUserAgent,
		httpClient: &http.Client{
			Jar: jar,
			Transport: &http.Transport{
				// The portal has been seen with self-signed chains.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
				MaxIdleConns:    32,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default(),
	}
	c.timeout.Store(int64(DefaultTimeout))
	for _, opt := range opts {
		opt(c)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(session.Cookies))
	for _, ck := range session.Cookies {
		cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value, Path: "/"})
	}
	jar.SetCookies(u, cookies)

	return c, nil
}

// SetTimeout changes the per-request deadline. Safe to call while requests
// are in flight; only subsequent requests pick it up.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout.Store(int64(d))
	}
}

// Timeout returns the current per-request deadline.
func (c *Client) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

// buscarOfertasRequest is the XHR body the portal expects. Field names are
// the portal's, including casing.
type buscarOfertasRequest struct {
	IDCotizacion  string `json:"id_Cotizacion"`
	IDItemRenglon string `json:"id_Item_Renglon"`
	MargenMinimo  string `json:"Margen_Minimo"`
}

// BuscarOfertas polls the offer book for one line item. A non-200 response
// yields a *StatusError; the caller decides whether it counts toward the
// error streak.
func (c *Client) BuscarOfertas(ctx context.Context, idCot, idRenglon, margin string) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	body, err := json.Marshal(buscarOfertasRequest{
		IDCotizacion:  idCot,
		IDItemRenglon: idRenglon,
		MargenMinimo:  margin,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+buscarOfertasPath, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Accept-Language", "es-AR,es;q=0.9")
	req.Header.Set("User-Agent", c.userAgent)
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Response{}, &StatusError{
			Status:  resp.StatusCode,
			Message: http.StatusText(resp.StatusCode),
		}
	}

	return ParseEnvelope(data)
}
