package aramex

import (
	"encoding/xml"
	"strings"
)

const (
	nsSOAP = "http://schemas.xmlsoap.org/soap/envelope/"
	nsV1   = "http://ws.aramex.net/ShippingAPI/v1/"
	nsArr  = "http://schemas.microsoft.com/2003/10/Serialization/Arrays"
)

type trackRequestEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	SOAPNS  string   `xml:"xmlns:soapenv,attr"`
	V1NS    string   `xml:"xmlns:v1,attr"`
	ArrNS   string   `xml:"xmlns:arr,attr"`
	Header  struct{} `xml:"soapenv:Header"`
	Body    struct {
		Request trackRequest `xml:"v1:ShipmentTrackingRequest"`
	} `xml:"soapenv:Body"`
}

type trackRequest struct {
	ClientInfo                clientInfo  `xml:"v1:ClientInfo"`
	Transaction               transaction `xml:"v1:Transaction"`
	Shipments                 []string    `xml:"v1:Shipments>arr:string"`
	GetLastTrackingUpdateOnly bool        `xml:"v1:GetLastTrackingUpdateOnly"`
}

type clientInfo struct {
	UserName           string `xml:"v1:UserName"`
	Password           string `xml:"v1:Password"`
	Version            string `xml:"v1:Version"`
	AccountNumber      string `xml:"v1:AccountNumber"`
	AccountPin         string `xml:"v1:AccountPin"`
	AccountEntity      string `xml:"v1:AccountEntity"`
	AccountCountryCode string `xml:"v1:AccountCountryCode"`
}

type transaction struct {
	Reference1 string `xml:"v1:Reference1"`
}

func newTrackRequest(c Credentials, trackingNumber string) trackRequestEnvelope {
	env := trackRequestEnvelope{SOAPNS: nsSOAP, V1NS: nsV1, ArrNS: nsArr}
	env.Body.Request = trackRequest{
		ClientInfo: clientInfo{
			UserName:           c.Username,
			Password:           c.Password,
			Version:            c.Version,
			AccountNumber:      c.AccountNumber,
			AccountPin:         c.AccountPIN,
			AccountEntity:      c.AccountEntity,
			AccountCountryCode: c.CountryCode,
		},
		Transaction:               transaction{Reference1: trackingNumber},
		Shipments:                 []string{trackingNumber},
		GetLastTrackingUpdateOnly: true,
	}
	return env
}

// Response elements are matched by local name; namespaces are ignored.
type trackResponseEnvelope struct {
	Body struct {
		Response trackResponse `xml:"ShipmentTrackingResponse"`
	} `xml:"Body"`
}

type trackResponse struct {
	HasErrors     bool             `xml:"HasErrors"`
	Notifications []notification   `xml:"Notifications>Notification"`
	Results       []trackingResult `xml:"TrackingResults>KeyValueOfstringArrayOfTrackingResultmFAkxlpY>Value>TrackingResult"`
}

type notification struct {
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

type trackingResult struct {
	WaybillNumber     string `xml:"WaybillNumber"`
	UpdateCode        string `xml:"UpdateCode"`
	UpdateDescription string `xml:"UpdateDescription"`
	UpdateDateTime    string `xml:"UpdateDateTime"`
	UpdateLocation    string `xml:"UpdateLocation"`
	Comments          string `xml:"Comments"`
	ProblemCode       string `xml:"ProblemCode"`
}

func (r trackResponse) notifications() string {
	parts := make([]string, 0, len(r.Notifications))
	for _, n := range r.Notifications {
		parts = append(parts, n.Code+": "+n.Message)
	}
	return strings.Join(parts, "; ")
}
