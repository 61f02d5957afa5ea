// Package relay implements the trusted server-side hop between the event
// dispatcher and the upstream Kwai API. It holds destination credentials,
// validates dispatch requests, and forwards them with a hard timeout and
// bounded retry. The credential never travels back toward the caller.
package relay

// Fixed vendor payload constants. These are part of the vendor contract and
// must be sent verbatim.
const (
	SDKVersion = "9.9.9"
	ThirdParty = "website"
)

// Verbs distinguishing the vendor SDK call used for an event. contentView
// goes through "page"; everything else through "track". This is a vendor API
// quirk carried as-is.
const (
	VerbTrack = "track"
	VerbPage  = "page"
)

// requiredFields are validated in this order; the first missing one names
// the 400 rejection.
var requiredFields = []string{"access_token", "clickid", "event_name", "pixelId", "mmpcode"}

// TrackRequest is the relay's inbound wire contract (POST /kwai-track).
// Properties is an opaque JSON string per the vendor contract.
type TrackRequest struct {
	AccessToken string `json:"access_token"`
	Callback    string `json:"callback,omitempty"`
	ClickID     string `json:"clickid"`
	EventName   string `json:"event_name"`
	Verb        string `json:"verb,omitempty"`
	PartnerCode string `json:"mmpcode"`
	PixelID     string `json:"pixelId"`
	Properties  string `json:"properties,omitempty"`
	TestFlag    bool   `json:"testFlag,omitempty"`
}

// TrackResponse is the relay's outbound wire contract. Duration is the
// relay-side processing time in milliseconds.
type TrackResponse struct {
	Success  bool   `json:"success"`
	Result   *int   `json:"result,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration,omitempty"`
}

// VendorPayload is the exact upstream Kwai API request body.
type VendorPayload struct {
	AccessToken  string `json:"access_token"`
	Callback     string `json:"callback"`
	ClickID      string `json:"clickid"`
	EventName    string `json:"event_name"`
	IsAttributed int    `json:"is_attributed"`
	PartnerCode  string `json:"mmpcode"`
	PixelID      string `json:"pixelId"`
	SDKVersion   string `json:"pixelSdkVersion"`
	Properties   string `json:"properties"`
	TestFlag     bool   `json:"testFlag"`
	ThirdParty   string `json:"third_party"`
	TrackFlag    bool   `json:"trackFlag"`
}

// VendorResponse is the upstream Kwai API response. Result 0 means accepted,
// 1 means accepted as a test event; everything else is a rejection.
type VendorResponse struct {
	Result   int    `json:"result"`
	ErrorMsg string `json:"error_msg,omitempty"`
}

// Accepted reports whether the vendor result code denotes acceptance.
func (r VendorResponse) Accepted() bool {
	return r.Result == 0 || r.Result == 1
}

// HealthResponse is the GET /kwai-track identity payload.
type HealthResponse struct {
	Service    string `json:"service"`
	Status     string `json:"status"`
	Endpoint   string `json:"endpoint"`
	Timeout    string `json:"timeout"`
	MaxRetries int    `json:"maxRetries"`
}
