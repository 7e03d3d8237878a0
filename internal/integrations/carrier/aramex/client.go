package aramex

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/OrderDesk/internal/integrations/carrier"
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/pkg/errors"
)

const (
	DefaultEndpoint = "https://ws.aramex.net/ShippingAPI.V2/Tracking/Service_1_0.svc"
	soapAction      = "http://ws.aramex.net/ShippingAPI/v1/Service_1_0/TrackShipments"
)

type Credentials struct {
	Username      string
	Password      string
	AccountNumber string
	AccountPIN    string
	AccountEntity string
	CountryCode   string
	Version       string
}

type Settings struct {
	Endpoint    string
	Credentials Credentials
	Timeout     time.Duration
}

type Client struct {
	endpoint string
	creds    Credentials
	chain    carrier.Chain
	httpc    *http.Client
	log      *slog.Logger
}

// Codes Aramex reports in UpdateCode that we trust more than the description.
var Codes = carrier.CodeTable{
	"DLV":   models.DeliveryDelivered,
	"SH005": models.DeliveryDelivered,
	"SH006": models.DeliveryDelivered,
	"SH007": models.DeliveryDelivered,
	"OFD":   models.DeliveryOutForDelivery,
	"SH003": models.DeliveryOutForDelivery,
	"PKP":   models.DeliveryPickedUp,
	"SH012": models.DeliveryPickedUp,
	"SH014": models.DeliveryPending,
	"SH047": models.DeliveryAtDepot,
	"RTS":   models.DeliveryReturned,
	"SH069": models.DeliveryReturned,
	"SH008": models.DeliveryFailed,
}

func New(s Settings) *Client {
	if s.Endpoint == "" {
		s.Endpoint = DefaultEndpoint
	}
	if s.Timeout <= 0 {
		s.Timeout = 20 * time.Second
	}
	if s.Credentials.Version == "" {
		s.Credentials.Version = "v1.0"
	}
	return &Client{
		endpoint: s.Endpoint,
		creds:    s.Credentials,
		// "shipment charges paid" стоит первым: он сильнее любого кода.
		chain: carrier.Chain{carrier.ChargesPaidOverride, Codes, carrier.Generic{}},
		httpc: &http.Client{
			Timeout: s.Timeout,
		},
		log: slog.Default().With("carrier", string(models.TransporterAramex)),
	}
}

func (c *Client) FetchTracking(ctx context.Context, trackingNumber string) *carrier.DeliveryInfo {
	res, err := c.track(ctx, trackingNumber)
	if err != nil {
		c.log.Warn("aramex tracking failed", "tracking_number", trackingNumber, "error", err.Error())
		return nil
	}
	if res == nil {
		return nil
	}
	return c.toInfo(res)
}

func (c *Client) track(ctx context.Context, trackingNumber string) (*trackingResult, error) {
	body, err := xml.Marshal(newTrackRequest(c.creds, trackingNumber))
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(append([]byte(xml.Header), body...)))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", soapAction)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("aramex http %d", resp.StatusCode)
	}

	var env trackResponseEnvelope
	if err := xml.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	r := env.Body.Response
	if r.HasErrors {
		return nil, fmt.Errorf("aramex reported errors: %s", r.notifications())
	}
	if len(r.Results) == 0 {
		return nil, nil
	}
	last := r.Results[len(r.Results)-1]
	return &last, nil
}

func (c *Client) toInfo(r *trackingResult) *carrier.DeliveryInfo {
	status := c.chain.Resolve(r.UpdateCode, r.UpdateDescription)

	var at *time.Time
	if t, ok := parseUpdateTime(r.UpdateDateTime); ok {
		at = &t
	}
	return carrier.NewDeliveryInfo(status, joinNotes(r.UpdateDescription, r.UpdateLocation, r.Comments), at)
}

var updateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
}

func parseUpdateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range updateTimeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func joinNotes(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " - ")
}
