package blogdesk

import (
	"encoding/xml"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const feedItemLimit = 50

type rssXML struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Category    string `xml:"category,omitempty"`
	Author      string `xml:"author,omitempty"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

// buildFeed renders published records as an RSS 2.0 channel.
func buildFeed(cfg SiteConfig, records []BlogRecord) rssXML {
	items := make([]rssItem, 0, min(len(records), feedItemLimit))
	for _, r := range records {
		if !r.Published() {
			continue
		}
		if len(items) == feedItemLimit {
			break
		}
		link := BuildURL(cfg.URL, "blog", r.ID)
		desc := r.Description
		if desc == "" {
			desc = Excerpt(r.Content, 280)
		}
		items = append(items, rssItem{
			Title:       r.Title,
			Link:        link,
			Description: desc,
			Category:    r.Category,
			Author:      r.Author,
			PubDate:     r.CreatedAt.UTC().Format(time.RFC1123Z),
			GUID:        link,
		})
	}
	return rssXML{
		Version: "2.0",
		Channel: rssChannel{
			Title:       cfg.Name,
			Link:        cfg.URL,
			Description: cfg.Description,
			Items:       items,
		},
	}
}

func (a *App) handleFeed(c echo.Context) error {
	records, err := a.Blogs.List(c.Request().Context(), ListFilter{}, nil)
	if err != nil {
		return err
	}
	feed := buildFeed(a.Config, records)
	c.Response().Header().Set(echo.HeaderContentType, "application/rss+xml; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	if _, err := c.Response().Write([]byte(xml.Header)); err != nil {
		return err
	}
	return xml.NewEncoder(c.Response()).Encode(feed)
}
