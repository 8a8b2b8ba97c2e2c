package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Attraction is the content API's representation of a POI.
type Attraction struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	VideoURL string `json:"videoUrl"`
	Marker   *struct {
		Preset       *string `json:"preset"`
		PatternURL   *string `json:"patternUrl"`
		BarcodeValue *int    `json:"barcodeValue"`
	} `json:"marker"`
	ImageNFT *struct {
		NFTBaseURL *string `json:"nftBaseUrl"`
	} `json:"imageNFT"`
	Location *struct {
		Latitude     *float64 `json:"latitude"`
		Longitude    *float64 `json:"longitude"`
		RadiusMeters *float64 `json:"radiusMeters"`
	} `json:"location"`
}

// Entry converts an attraction into a catalog entry. A marker block resolves
// to pattern, then preset, then barcode, falling back to the hiro preset.
func (a Attraction) Entry() EntryDoc {
	e := EntryDoc{ID: a.ID, Name: a.Name, MediaSource: a.VideoURL}

	switch {
	case a.Marker != nil:
		m := a.Marker
		switch {
		case nonEmpty(m.PatternURL):
			e.Trigger = TriggerDoc{Kind: TriggerPatternMarker, PatternURL: m.PatternURL}
		case nonEmpty(m.Preset):
			e.Trigger = TriggerDoc{Kind: TriggerPresetMarker, Preset: m.Preset}
		case m.BarcodeValue != nil:
			e.Trigger = TriggerDoc{Kind: TriggerBarcodeMarker, BarcodeValue: m.BarcodeValue}
		default:
			hiro := "hiro"
			e.Trigger = TriggerDoc{Kind: TriggerPresetMarker, Preset: &hiro}
		}
	case a.ImageNFT != nil && nonEmpty(a.ImageNFT.NFTBaseURL):
		e.Trigger = TriggerDoc{Kind: TriggerImageTarget, ImageTargetURL: a.ImageNFT.NFTBaseURL}
	case a.Location != nil:
		e.Trigger = TriggerDoc{
			Kind:         TriggerGeofence,
			Latitude:     a.Location.Latitude,
			Longitude:    a.Location.Longitude,
			RadiusMeters: a.Location.RadiusMeters,
		}
	}
	return e
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// Client fetches the catalog from the content API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new content API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Fetch downloads all attractions and builds a catalog from them.
func (c *Client) Fetch(ctx context.Context, opts ...Option) (*Catalog, []error, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/attractions", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("attractions request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("attractions returned status %d", resp.StatusCode)
	}

	var body struct {
		Data []Attraction `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil, fmt.Errorf("%w: decoding attractions: %v", ErrInvalidCatalog, err)
	}

	doc := Document{POIs: make([]EntryDoc, 0, len(body.Data))}
	for _, a := range body.Data {
		doc.POIs = append(doc.POIs, a.Entry())
	}
	cat, problems := Build(doc, opts...)
	return cat, problems, nil
}
