package share

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dexcom Share endpoints and the public application id used by the
// official follower apps.
const (
	ServerUS      = "https://share2.dexcom.com/ShareWebServices/Services"
	ServerEU      = "https://shareous1.dexcom.com/ShareWebServices/Services"
	ApplicationID = "d89443d2-327c-4a6f-89e5-496bbb0317db"

	loginPath   = "/General/LoginPublisherAccountByName"
	latestPath  = "/Publisher/ReadPublisherLatestGlucoseValues"
	userAgent   = "Dexcom Share/3.0.2.11 CFNetwork/711.2.23 Darwin/14.0.0"
	maxBodySize = 1 << 20
)

var (
	// ErrInvalidCredentials is returned when Share rejects the account.
	ErrInvalidCredentials = errors.New("share: invalid credentials")
	// ErrSessionExpired is returned when the session id is no longer valid.
	ErrSessionExpired = errors.New("share: session expired")
)

// ServerURL maps a configured region ("us" or "eu") to its base URL.
func ServerURL(region string) string {
	if strings.EqualFold(region, "eu") {
		return ServerEU
	}
	return ServerUS
}

// GlucoseValue is one Share reading.
type GlucoseValue struct {
	Time  time.Time
	Value float64
	// Trend is normalised to the Nightscout direction names.
	Trend string
}

// Client is a minimal Dexcom Share follower client. It logs in lazily and
// re-authenticates once when the session expires.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	mu      sync.Mutex
	session uuid.UUID
}

// NewClient creates a Share client. A nil httpClient uses a client with a
// 15 second timeout.
func NewClient(baseURL, username, password string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     httpClient,
	}
}

// LatestGlucose returns up to maxCount readings from the last minutes,
// newest first as Share returns them.
func (c *Client) LatestGlucose(ctx context.Context, minutes, maxCount int) ([]GlucoseValue, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	vals, err := c.readLatest(ctx, session, minutes, maxCount)
	if errors.Is(err, ErrSessionExpired) {
		c.clearSession()
		if session, err = c.ensureSession(ctx); err != nil {
			return nil, err
		}
		vals, err = c.readLatest(ctx, session, minutes, maxCount)
	}
	if err != nil {
		return nil, fmt.Errorf("share: latest glucose: %w", err)
	}
	return vals, nil
}

func (c *Client) ensureSession(ctx context.Context) (uuid.UUID, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s != uuid.Nil {
		return s, nil
	}

	body := map[string]string{
		"accountName":   c.username,
		"password":      c.password,
		"applicationId": ApplicationID,
	}
	var raw string
	if err := c.post(ctx, loginPath, nil, body, &raw); err != nil {
		return uuid.Nil, fmt.Errorf("share: login: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("share: login: bad session id %q: %w", raw, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, ErrInvalidCredentials
	}

	c.mu.Lock()
	c.session = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.session = uuid.Nil
	c.mu.Unlock()
}

type rawValue struct {
	WT    string          `json:"WT"`
	ST    string          `json:"ST"`
	DT    string          `json:"DT"`
	Value float64         `json:"Value"`
	Trend json.RawMessage `json:"Trend"`
}

func (c *Client) readLatest(ctx context.Context, session uuid.UUID, minutes, maxCount int) ([]GlucoseValue, error) {
	q := url.Values{
		"sessionId": {session.String()},
		"minutes":   {strconv.Itoa(minutes)},
		"maxCount":  {strconv.Itoa(maxCount)},
	}
	var raw []rawValue
	if err := c.post(ctx, latestPath, q, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]GlucoseValue, 0, len(raw))
	for _, r := range raw {
		t, err := ParseShareTime(r.WT)
		if err != nil {
			continue
		}
		out = append(out, GlucoseValue{Time: t, Value: r.Value, Trend: parseTrend(r.Trend)})
	}
	return out, nil
}

// shareError is the JSON body Share sends with non-2xx responses.
type shareError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

func (c *Client) post(ctx context.Context, path string, q url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var se shareError
		_ = json.Unmarshal(data, &se)
		switch se.Code {
		case "SessionIdNotFound", "SessionNotValid":
			return ErrSessionExpired
		case "AccountPasswordInvalid", "SSO_AuthenticatePasswordInvalid", "SSO_AuthenticateAccountNotFound":
			return ErrInvalidCredentials
		}
		return fmt.Errorf("http %d: %s %s", resp.StatusCode, se.Code, se.Message)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

var shareDate = regexp.MustCompile(`Date\((-?\d+)([+-]\d{4})?\)`)

// ParseShareTime parses the "Date(1700000000000)" or
// "Date(1700000000000-0500)" wire format. The offset is informational; the
// millisecond value is already UTC.
func ParseShareTime(s string) (time.Time, error) {
	m := shareDate.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("share: bad timestamp %q", s)
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("share: bad timestamp %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// trendNames maps Share's numeric trends to Nightscout direction names.
var trendNames = []string{
	"NONE", "DoubleUp", "SingleUp", "FortyFiveUp", "Flat",
	"FortyFiveDown", "SingleDown", "DoubleDown", "NOT COMPUTABLE", "RATE OUT OF RANGE",
}

// parseTrend accepts either a trend number or a trend name.
func parseTrend(raw json.RawMessage) string {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		if n >= 0 && n < len(trendNames) {
			return trendNames[n]
		}
		return "NONE"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "NotComputable":
			return "NOT COMPUTABLE"
		case "RateOutOfRange":
			return "RATE OUT OF RANGE"
		case "None", "":
			return "NONE"
		}
		return s
	}
	return "NONE"
}
