package integrations

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

type VideoResult struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Channel     string `json:"channel"`
	ThumbURL    string `json:"thumbUrl"`
}

type YouTube struct {
	apiKey  string
	baseURL string
	http    *client
}

func NewYouTube(apiKey, baseURL string) *YouTube {
	if apiKey == "" {
		return nil
	}
	return &YouTube{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), http: newClient("youtube", nil)}
}

type youtubeResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			Description  string `json:"description"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   struct {
				Medium struct {
					URL string `json:"url"`
				} `json:"medium"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

func (y *YouTube) search(ctx context.Context, query string, limit int) ([]VideoResult, error) {
	q := url.Values{
		"part":       {"snippet"},
		"type":       {"video"},
		"q":          {query},
		"maxResults": {strconv.Itoa(limit)},
		"key":        {y.apiKey},
	}
	var resp youtubeResponse
	if err := y.http.getJSON(ctx, y.baseURL+"/youtube/v3/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	items := make([]VideoResult, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.ID.VideoID == "" {
			continue
		}
		items = append(items, VideoResult{
			ID:          it.ID.VideoID,
			Title:       it.Snippet.Title,
			Description: it.Snippet.Description,
			Channel:     it.Snippet.ChannelTitle,
			ThumbURL:    it.Snippet.Thumbnails.Medium.URL,
		})
	}
	return items, nil
}
