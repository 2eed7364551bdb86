package tuya

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"github.com/02loveslollipop/plugmeter/internal/models"
	"github.com/02loveslollipop/plugmeter/internal/normalize"
)

// ErrUpstream wraps transport failures and vendor-side rejections.
var ErrUpstream = errors.New("telemetry upstream unavailable")

const (
	tokenPath = "/v1.0/token?grant_type=1"
	// tokenSkew renews the access token this long before the vendor expires it.
	tokenSkew = time.Minute
	// codeTokenInvalid is the vendor error code for an expired or revoked token.
	codeTokenInvalid = 1010
)

// Client reads device status from the Tuya cloud OpenAPI.
type Client struct {
	http     *resty.Client
	clientID string
	secret   string
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
	refresh singleflight.Group
}

// New builds a client. timeout bounds every request.
func New(baseURL, clientID, secret string, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: rc, clientID: clientID, secret: secret, now: time.Now}
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
}

type tokenResult struct {
	AccessToken string `json:"access_token"`
	ExpireTime  int64  `json:"expire_time"`
}

type statusItem struct {
	Code  string `json:"code"`
	Value any    `json:"value"`
}

// FetchStatus returns the device's data-point codes mapped to their raw values.
func (c *Client) FetchStatus(ctx context.Context, deviceID string) (models.RawStatus, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	path := "/v1.0/devices/" + url.PathEscape(deviceID) + "/status"
	env, err := c.get(ctx, path, token)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		if env.Code == codeTokenInvalid {
			c.resetToken()
		}
		return nil, fmt.Errorf("%w: status %s: code %d: %s", ErrUpstream, deviceID, env.Code, env.Msg)
	}

	var items []statusItem
	dec := json.NewDecoder(bytes.NewReader(env.Result))
	dec.UseNumber()
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: decode status result: %v", normalize.ErrMalformedPayload, err)
	}
	// A null or empty result carries no measurements.
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: status %s: empty result", normalize.ErrMalformedPayload, deviceID)
	}

	status := make(models.RawStatus, len(items))
	for _, it := range items {
		if it.Code == "" {
			continue
		}
		status[it.Code] = it.Value
	}
	return status, nil
}

// accessToken returns the cached token or joins a single shared refresh.
// Waiters give up when their own ctx ends; the refresh is bounded by the client timeout.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if token, ok := c.cachedToken(); ok {
		return token, nil
	}

	ch := c.refresh.DoChan("token", func() (any, error) {
		return c.requestToken(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for token: %w", ErrUpstream, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expires) {
		return c.token, true
	}
	return "", false
}

func (c *Client) requestToken(ctx context.Context) (string, error) {
	if token, ok := c.cachedToken(); ok {
		return token, nil
	}

	env, err := c.get(ctx, tokenPath, "")
	if err != nil {
		return "", err
	}
	if !env.Success {
		return "", fmt.Errorf("%w: token: code %d: %s", ErrUpstream, env.Code, env.Msg)
	}

	var tr tokenResult
	if err := json.Unmarshal(env.Result, &tr); err != nil || tr.AccessToken == "" {
		return "", fmt.Errorf("%w: token result unreadable", ErrUpstream)
	}

	c.mu.Lock()
	c.token = tr.AccessToken
	c.expires = c.now().Add(time.Duration(tr.ExpireTime)*time.Second - tokenSkew)
	c.mu.Unlock()
	return tr.AccessToken, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) get(ctx context.Context, path, token string) (envelope, error) {
	t := strconv.FormatInt(c.now().UnixMilli(), 10)
	headers := map[string]string{
		"client_id":   c.clientID,
		"t":           t,
		"sign_method": "HMAC-SHA256",
		"sign":        c.sign("GET", path, nil, token, t),
	}
	if token != "" {
		headers["access_token"] = token
	}

	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).Get(path)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: request %s: %v", ErrUpstream, path, err)
	}
	if resp.IsError() {
		return envelope{}, fmt.Errorf("%w: unexpected status %s", ErrUpstream, resp.Status())
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return envelope{}, fmt.Errorf("%w: decode envelope: %v", normalize.ErrMalformedPayload, err)
	}
	return env, nil
}

// sign computes the OpenAPI request signature:
// HMAC-SHA256(clientID + token + t + stringToSign, secret), upper-case hex.
func (c *Client) sign(method, path string, body []byte, token, t string) string {
	sum := sha256.Sum256(body)
	stringToSign := method + "\n" + hex.EncodeToString(sum[:]) + "\n\n" + path

	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(c.clientID + token + t + stringToSign))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
