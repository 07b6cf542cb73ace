package musiclink

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

type iTunesLookupResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		WrapperType string `json:"wrapperType"`
		TrackName   string `json:"trackName"`
		ArtistName  string `json:"artistName"`
	} `json:"results"`
}

type appleMusicResolver struct {
	api      *apiClient
	endpoint string
}

func newAppleMusicResolver(api *apiClient, endpoint string) *appleMusicResolver {
	return &appleMusicResolver{api: api, endpoint: endpoint}
}

func (r *appleMusicResolver) Name() string { return "applemusic" }

func (r *appleMusicResolver) CanResolve(u *url.URL) bool {
	return hostIn(u, "music.apple.com", "itunes.apple.com")
}

func (r *appleMusicResolver) Resolve(ctx context.Context, u *url.URL) (*TrackInfo, error) {
	trackID := appleTrackID(u)
	if trackID == "" {
		return nil, errors.New("no track ID in link")
	}

	var resp iTunesLookupResponse
	query := url.Values{"id": {trackID}, "entity": {"song"}}
	if err := r.api.getJSON(ctx, r.endpoint, query, &resp); err != nil {
		return nil, err
	}

	for _, result := range resp.Results {
		if result.TrackName != "" {
			return &TrackInfo{Artist: result.ArtistName, Title: result.TrackName}, nil
		}
	}
	return nil, ErrNoTrackInfo
}

// appleTrackID reads the track ID from album links ("?i=<id>") and song links
// ("/<country>/song/<name>/<id>").
func appleTrackID(u *url.URL) string {
	if id := u.Query().Get("i"); id != "" {
		return id
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "song" && len(parts) > i+1 {
			return parts[len(parts)-1]
		}
	}
	return ""
}
