package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// InitiationRequest carries the order fields the gateway needs to open a
// payment session. It is deliberately a flat copy so this package does not
// depend on the order ledger.
type InitiationRequest struct {
	OrderID       string
	Amount        decimal.Decimal
	Currency      string
	CustomerName  string
	CustomerEmail string
}

// Initiation is the result of engaging a payment strategy. Either Immediate
// is true (direct methods, nothing more to do) or RedirectTarget and
// FormFields describe the request the client must submit in a second
// execution context.
type Initiation struct {
	Immediate      bool
	RedirectTarget string
	FormFields     map[string]string
	GatewayRef     string
}

// Initiator abstracts the two payment strategies behind one interface.
// Initiate must return promptly; it never waits for the payment itself.
type Initiator interface {
	Initiate(ctx context.Context, req InitiationRequest) (*Initiation, error)
}

// CODInitiator is the direct strategy: there is no external party, so the
// payment is settled synchronously by the order ledger.
type CODInitiator struct{}

var _ Initiator = CODInitiator{}

// Initiate reports immediate settlement.
func (CODInitiator) Initiate(_ context.Context, _ InitiationRequest) (*Initiation, error) {
	return &Initiation{Immediate: true}, nil
}

// GatewayConfig configures the redirect-based external gateway.
type GatewayConfig struct {
	BaseURL     string
	StoreID     string
	StoreSecret string
}

// RedirectInitiator registers the order with the external gateway and hands
// back the redirect target plus signed form fields for the secondary context.
type RedirectInitiator struct {
	cfg    GatewayConfig
	client *http.Client
}

var _ Initiator = (*RedirectInitiator)(nil)

// NewRedirectInitiator creates a RedirectInitiator. A nil client gets a
// default with a short timeout: initiation must never hang the submit path.
func NewRedirectInitiator(cfg GatewayConfig, client *http.Client) *RedirectInitiator {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RedirectInitiator{cfg: cfg, client: client}
}

type gatewaySessionResponse struct {
	SessionKey  string `json:"session_key"`
	RedirectURL string `json:"redirect_url"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
}

// Initiate opens a payment session at the gateway. Any transport or gateway
// rejection is reported as an *InitiationError so callers can offer a retry
// while the order stays pending.
func (r *RedirectInitiator) Initiate(ctx context.Context, req InitiationRequest) (*Initiation, error) {
	form := url.Values{
		"store_id":   {r.cfg.StoreID},
		"order_id":   {req.OrderID},
		"amount":     {req.Amount.StringFixed(2)},
		"currency":   {req.Currency},
		"cust_name":  {req.CustomerName},
		"cust_email": {req.CustomerEmail},
	}
	form.Set("signature", Sign([]byte(r.cfg.StoreSecret), req.OrderID, req.Amount.StringFixed(2), req.Currency))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(r.cfg.BaseURL, "/")+"/v1/session", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "build gateway request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, &InitiationError{Reason: "gateway unreachable", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &InitiationError{Reason: "gateway returned " + resp.Status}
	}

	var session gatewaySessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, &InitiationError{Reason: "malformed gateway response", Err: err}
	}
	if session.Status != "ok" || session.RedirectURL == "" {
		reason := session.Reason
		if reason == "" {
			reason = "session rejected"
		}
		return nil, &InitiationError{Reason: reason}
	}

	return &Initiation{
		RedirectTarget: session.RedirectURL,
		FormFields: map[string]string{
			"session_key": session.SessionKey,
			"order_id":    req.OrderID,
			"amount":      req.Amount.StringFixed(2),
			"currency":    req.Currency,
		},
		GatewayRef: session.SessionKey,
	}, nil
}

// Sign computes the hex HMAC-SHA256 of the given parts joined with '|'.
// The same signature scheme authenticates the gateway's completion callback.
func Sign(secret []byte, parts ...string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 signature in constant time.
func VerifySignature(secret []byte, signature string, parts ...string) bool {
	want, err := hex.DecodeString(Sign(secret, parts...))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}
