package mediaserver

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/mediaserver/jellyfin"
	"github.com/mmcdole/reel/internal/mediaserver/plex"
	"github.com/mmcdole/reel/internal/mediaserver/transport"
)

// Detection identifies the server behind a URL
type Detection struct {
	Kind     domain.BackendKind
	ServerID string // Stable server identity, used as the source ID when present
	Name     string
	Version  string
}

// plexIdentity is the XML form of /identity
type plexIdentity struct {
	XMLName           xml.Name `xml:"MediaContainer"`
	MachineIdentifier string   `xml:"machineIdentifier,attr"`
	Version           string   `xml:"version,attr"`
}

// DetectServer probes serverURL with the unauthenticated identity endpoints,
// Jellyfin first, then Plex
func DetectServer(ctx context.Context, serverURL string, opts transport.Options, logger *slog.Logger) (Detection, error) {
	serverURL = strings.TrimRight(serverURL, "/")
	client := transport.New("detect", []domain.Endpoint{{URL: serverURL}}, opts, logger)

	det, jellyfinErr := detectJellyfin(ctx, client)
	if jellyfinErr == nil {
		return det, nil
	}
	if domain.Classify(jellyfinErr) == domain.KindNetwork {
		return Detection{}, fmt.Errorf("probe %s: %w", serverURL, jellyfinErr)
	}

	det, plexErr := detectPlex(ctx, client)
	if plexErr == nil {
		return det, nil
	}
	return Detection{}, fmt.Errorf("%w: could not detect server type: tried Jellyfin (%v), Plex (%v)",
		domain.ErrParse, jellyfinErr, plexErr)
}

func detectJellyfin(ctx context.Context, client *transport.Client) (Detection, error) {
	var info jellyfin.SystemInfo
	if err := client.GetJSON(ctx, "/System/Info/Public", nil, &info); err != nil {
		return Detection{}, err
	}
	if !strings.Contains(strings.ToLower(info.ProductName), "jellyfin") {
		return Detection{}, fmt.Errorf("%w: product %q is not Jellyfin", domain.ErrParse, info.ProductName)
	}
	return Detection{
		Kind:     domain.BackendJellyfin,
		ServerID: info.ID,
		Name:     info.ServerName,
		Version:  info.Version,
	}, nil
}

func detectPlex(ctx context.Context, client *transport.Client) (Detection, error) {
	body, err := client.Do(ctx, http.MethodGet, "/identity", nil, nil)
	if err != nil {
		return Detection{}, err
	}

	// Plex honors Accept: application/json on most versions; older ones answer XML
	var resp plex.APIResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.MediaContainer.MachineIdentifier != "" {
		return Detection{
			Kind:     domain.BackendPlex,
			ServerID: resp.MediaContainer.MachineIdentifier,
			Version:  resp.MediaContainer.Version,
		}, nil
	}

	var ident plexIdentity
	if err := xml.Unmarshal(body, &ident); err != nil {
		return Detection{}, fmt.Errorf("%w: identity response: %v", domain.ErrParse, err)
	}
	if ident.MachineIdentifier == "" {
		return Detection{}, fmt.Errorf("%w: identity has no machineIdentifier", domain.ErrParse)
	}
	return Detection{
		Kind:     domain.BackendPlex,
		ServerID: ident.MachineIdentifier,
		Version:  ident.Version,
	}, nil
}

// EndpointFor builds an endpoint for raw, marking LAN addresses as local
func EndpointFor(raw string, relay bool) (domain.Endpoint, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.Endpoint{}, fmt.Errorf("%w: invalid server URL %q", domain.ErrParse, raw)
	}
	ep := domain.Endpoint{URL: u.String(), Relay: relay}
	if !relay {
		ep.Local = isLocalHost(u.Hostname())
	}
	return ep, nil
}

func isLocalHost(host string) bool {
	host = strings.ToLower(host)
	if host == "localhost" || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".lan") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast())
}
