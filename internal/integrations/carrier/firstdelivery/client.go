package firstdelivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/OrderDesk/internal/integrations/carrier"
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/pkg/errors"
)

type Settings struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type Client struct {
	baseURL  string
	token    string
	throttle carrier.Throttle
	chain    carrier.Chain
	httpc    *http.Client
	now      func() time.Time
	log      *slog.Logger
}

// States is the FirstDelivery "etat" vocabulary.
var States = carrier.TextTable{
	"En attente":            models.DeliveryPending,
	"A vérifier":            models.DeliveryPending,
	"A enlever":             models.DeliveryPending,
	"Enlevé":                models.DeliveryPickedUp,
	"Au magasin":            models.DeliveryAtDepot,
	"Au dépôt":              models.DeliveryAtDepot,
	"En cours":              models.DeliveryInTransit,
	"Transféré":             models.DeliveryInTransit,
	"En cours de livraison": models.DeliveryOutForDelivery,
	"Livré":                 models.DeliveryDelivered,
	"Livré payé":            models.DeliveryDelivered,
	"Retour expéditeur":     models.DeliveryReturned,
	"Retour reçu":           models.DeliveryReturned,
	"Retour définitif":      models.DeliveryReturned,
	"Rtn client/agence":     models.DeliveryReturned,
	"Rtn dépôt":             models.DeliveryReturned,
	"Echange":               models.DeliveryInTransit,
	"Non livré":             models.DeliveryFailed,
	"Annulé":                models.DeliveryCancelled,
}

// New builds the adapter. throttle must be shared by every caller of the
// same account: the provider rejects more than ~1 request per second.
func New(s Settings, throttle carrier.Throttle) *Client {
	if s.Timeout <= 0 {
		s.Timeout = 15 * time.Second
	}
	if throttle == nil {
		throttle = carrier.NewLocalThrottle(1)
	}
	return &Client{
		baseURL:  strings.TrimRight(s.BaseURL, "/"),
		token:    s.Token,
		throttle: throttle,
		chain:    carrier.Chain{carrier.ChargesPaidOverride, States, carrier.Generic{}},
		httpc: &http.Client{
			Timeout: s.Timeout,
		},
		now: func() time.Time { return time.Now().UTC() },
		log: slog.Default().With("carrier", string(models.TransporterFirstDelivery)),
	}
}

type etatRequest struct {
	BarCode string `json:"barCode"`
}

type etatResponse struct {
	IsError bool   `json:"isError"`
	Message string `json:"message"`
	Result  *struct {
		State   string `json:"state"`
		Comment string `json:"comment"`
	} `json:"result"`
}

func (c *Client) FetchTracking(ctx context.Context, trackingNumber string) *carrier.DeliveryInfo {
	r, err := c.etat(ctx, trackingNumber)
	if err != nil {
		c.log.Warn("first delivery tracking failed", "tracking_number", trackingNumber, "error", err.Error())
		return nil
	}
	if r.Result == nil || strings.TrimSpace(r.Result.State) == "" {
		return nil
	}

	status := c.chain.Resolve("", r.Result.State)

	notes := strings.TrimSpace(r.Result.State)
	if cm := strings.TrimSpace(r.Result.Comment); cm != "" {
		notes += " - " + cm
	}

	// API не отдаёт дату доставки, берём момент опроса.
	var at *time.Time
	if status == models.DeliveryDelivered {
		t := c.now()
		at = &t
	}
	return carrier.NewDeliveryInfo(status, notes, at)
}

func (c *Client) etat(ctx context.Context, trackingNumber string) (*etatResponse, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "throttle")
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/etat"

	body, err := json.Marshal(etatRequest{BarCode: trackingNumber})
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("first delivery rate limit (429)")
	}
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("first delivery http %d", resp.StatusCode)
	}

	var r etatResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if r.IsError {
		return nil, fmt.Errorf("first delivery error: %s", r.Message)
	}
	return &r, nil
}
