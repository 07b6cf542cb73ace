package musiclink

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var (
	videoNoiseRegex = regexp.MustCompile(
		`(?i)\s*[\(\[](official\s+(music\s+)?video|official\s+audio|lyric\s+video|lyrics|visualizer|hd|4k)[\)\]]`)
	camelCaseRegex = regexp.MustCompile(`([a-z])([A-Z])`)
)

type oembedResponse struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
}

type youTubeResolver struct {
	api      *apiClient
	endpoint string
}

func newYouTubeResolver(api *apiClient, endpoint string) *youTubeResolver {
	return &youTubeResolver{api: api, endpoint: endpoint}
}

func (r *youTubeResolver) Name() string { return "youtube" }

func (r *youTubeResolver) CanResolve(u *url.URL) bool {
	return hostIn(u, "youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be")
}

func (r *youTubeResolver) Resolve(ctx context.Context, u *url.URL) (*TrackInfo, error) {
	videoID := u.Query().Get("v")
	if strings.EqualFold(u.Hostname(), "youtu.be") {
		videoID = strings.Trim(u.Path, "/")
	}
	if videoID == "" {
		return nil, errors.New("no video ID in link")
	}

	var resp oembedResponse
	query := url.Values{
		"url":    {"https://www.youtube.com/watch?v=" + videoID},
		"format": {"json"},
	}
	if err := r.api.getJSON(ctx, r.endpoint, query, &resp); err != nil {
		return nil, err
	}

	return parseVideoTitle(resp.Title, resp.AuthorName), nil
}

// parseVideoTitle reads "Artist - Title" video names. Without a separator the
// channel name stands in for the artist; "XVEVO" and "X - Topic" channels are
// reduced to the artist name.
func parseVideoTitle(title, channel string) *TrackInfo {
	title = strings.TrimSpace(videoNoiseRegex.ReplaceAllString(title, ""))

	if artist, track, ok := splitPair(title, " - "); ok {
		return &TrackInfo{Artist: artist, Title: track}
	}

	artist := channel
	switch {
	case strings.HasSuffix(channel, " - Topic"):
		artist = strings.TrimSuffix(channel, " - Topic")
	case strings.HasSuffix(channel, "VEVO"):
		artist = camelCaseRegex.ReplaceAllString(strings.TrimSuffix(channel, "VEVO"), "$1 $2")
	}
	return &TrackInfo{Artist: strings.TrimSpace(artist), Title: title}
}

type soundCloudResolver struct {
	api      *apiClient
	endpoint string
}

func newSoundCloudResolver(api *apiClient, endpoint string) *soundCloudResolver {
	return &soundCloudResolver{api: api, endpoint: endpoint}
}

func (r *soundCloudResolver) Name() string { return "soundcloud" }

func (r *soundCloudResolver) CanResolve(u *url.URL) bool {
	return hostIn(u, "soundcloud.com", "www.soundcloud.com", "m.soundcloud.com", "on.soundcloud.com")
}

func (r *soundCloudResolver) Resolve(ctx context.Context, u *url.URL) (*TrackInfo, error) {
	var resp oembedResponse
	query := url.Values{"url": {u.String()}, "format": {"json"}}
	if err := r.api.getJSON(ctx, r.endpoint, query, &resp); err != nil {
		return nil, err
	}

	// Titles read "Track by Artist"
	if title, artist, ok := splitPair(resp.Title, " by "); ok {
		return &TrackInfo{Artist: artist, Title: title}, nil
	}
	return &TrackInfo{Artist: strings.TrimSpace(resp.AuthorName), Title: strings.TrimSpace(resp.Title)}, nil
}
