package integrations

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type ImageResult struct {
	Provider    string `json:"provider"`
	ID          string `json:"id"`
	URL         string `json:"url"`
	ThumbURL    string `json:"thumbUrl"`
	Author      string `json:"author"`
	Description string `json:"description"`
}

type imageSource interface {
	searchImages(ctx context.Context, query string, perPage int) ([]ImageResult, error)
}

type Pexels struct {
	baseURL string
	http    *client
}

func NewPexels(apiKey, baseURL string) *Pexels {
	if apiKey == "" {
		return nil
	}
	return &Pexels{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: newClient("pexels", func(r *http.Request) {
			r.Header.Set("Authorization", apiKey)
		}),
	}
}

type pexelsResponse struct {
	Photos []struct {
		ID           int64  `json:"id"`
		Photographer string `json:"photographer"`
		Alt          string `json:"alt"`
		Src          struct {
			Large  string `json:"large"`
			Medium string `json:"medium"`
		} `json:"src"`
	} `json:"photos"`
}

func (p *Pexels) searchImages(ctx context.Context, query string, perPage int) ([]ImageResult, error) {
	q := url.Values{"query": {query}, "per_page": {strconv.Itoa(perPage)}}
	var resp pexelsResponse
	if err := p.http.getJSON(ctx, p.baseURL+"/v1/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	items := make([]ImageResult, 0, len(resp.Photos))
	for _, photo := range resp.Photos {
		items = append(items, ImageResult{
			Provider:    "pexels",
			ID:          strconv.FormatInt(photo.ID, 10),
			URL:         photo.Src.Large,
			ThumbURL:    photo.Src.Medium,
			Author:      photo.Photographer,
			Description: photo.Alt,
		})
	}
	return items, nil
}

type Unsplash struct {
	baseURL string
	http    *client
}

func NewUnsplash(accessKey, baseURL string) *Unsplash {
	if accessKey == "" {
		return nil
	}
	return &Unsplash{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: newClient("unsplash", func(r *http.Request) {
			r.Header.Set("Authorization", "Client-ID "+accessKey)
			r.Header.Set("Accept-Version", "v1")
		}),
	}
}

type unsplashResponse struct {
	Results []struct {
		ID             string `json:"id"`
		Description    string `json:"description"`
		AltDescription string `json:"alt_description"`
		URLs           struct {
			Regular string `json:"regular"`
			Thumb   string `json:"thumb"`
		} `json:"urls"`
		User struct {
			Name string `json:"name"`
		} `json:"user"`
	} `json:"results"`
}

func (u *Unsplash) searchImages(ctx context.Context, query string, perPage int) ([]ImageResult, error) {
	q := url.Values{"query": {query}, "per_page": {strconv.Itoa(perPage)}}
	var resp unsplashResponse
	if err := u.http.getJSON(ctx, u.baseURL+"/search/photos?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	items := make([]ImageResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		desc := r.Description
		if desc == "" {
			desc = r.AltDescription
		}
		items = append(items, ImageResult{
			Provider:    "unsplash",
			ID:          r.ID,
			URL:         r.URLs.Regular,
			ThumbURL:    r.URLs.Thumb,
			Author:      r.User.Name,
			Description: desc,
		})
	}
	return items, nil
}
