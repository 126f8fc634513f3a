package artfight

import (
	"context"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"artfightwatch/internal/model"
)

var itemIDRe = regexp.MustCompile(`/attack/(\d+)`)

// FetchNewItems walks a subject's attack or defense listing page by page and
// returns the items not already known to the store. Each unseen item is
// durably recorded before it is returned, so a caller forwarding the result
// downstream never announces something the store would rediscover as new.
//
// The walk stops at the first page contributing nothing unseen: in the
// steady state (no change since the last poll) that means exactly one
// request. A mid-walk fetch error aborts the walk but keeps the partial
// delta; the returned items stay valid alongside the error, and the next
// scheduled cycle retries cheaply thanks to dedup. The returned slice is an
// unordered delta — presentation ordering belongs to the caller.
func (c *Client) FetchNewItems(ctx context.Context, subject string, kind model.Kind) ([]model.Item, error) {
	var newItems []model.Item

	for page := 1; page <= c.maxPages; page++ {
		if page > 1 {
			if err := c.sched.SleepPage(ctx); err != nil {
				return newItems, err
			}
		}

		query := url.Values{"page": {strconv.Itoa(page)}}
		doc, err := c.getDocument(ctx, "/~"+subject+"/"+kind.ListingPath(), query)
		if err != nil {
			return newItems, err
		}

		pageItems := c.parseListing(doc, subject, kind)
		if len(pageItems) == 0 {
			break
		}

		unseen := 0
		for _, item := range pageItems {
			seen, err := c.store.HasSeen(ctx, item.Kind, item.ID)
			if err != nil {
				return newItems, eris.Wrap(err, "artfight: dedup check")
			}
			if seen {
				continue
			}
			wasNew, err := c.store.RecordItem(ctx, item)
			if err != nil {
				// An unrecorded item must not be reported; dedup would
				// rediscover it next cycle and downstream would see it twice.
				return newItems, eris.Wrap(err, "artfight: record item")
			}
			if wasNew {
				unseen++
				newItems = append(newItems, item)
			}
		}

		zap.L().Debug("artfight: listing page fetched",
			zap.String("subject", subject),
			zap.String("kind", string(kind)),
			zap.Int("page", page),
			zap.Int("items", len(pageItems)),
			zap.Int("unseen", unseen),
		)

		// Nothing unseen on this page: on page 1 this is the common
		// nothing-changed case, later it is the end of new content.
		if unseen == 0 {
			break
		}
		if !hasNextPage(doc) {
			break
		}
	}

	return newItems, nil
}

// parseListing extracts every posting thumbnail on a listing page. Items
// that cannot be parsed are skipped individually; a page with no
// recognizable thumbnails is simply an empty listing.
func (c *Client) parseListing(doc *goquery.Document, subject string, kind model.Kind) []model.Item {
	now := time.Now().UTC()
	var items []model.Item

	doc.Find("a.attack-thumb").Each(func(_ int, sel *goquery.Selection) {
		item, ok := c.parseThumb(sel, subject, kind, now)
		if !ok {
			zap.L().Debug("artfight: skipping unparsable thumbnail",
				zap.String("subject", subject),
				zap.String("kind", string(kind)),
			)
			return
		}
		items = append(items, item)
	})
	return items
}

// parseThumb turns one <a class="attack-thumb"> anchor into an Item.
func (c *Client) parseThumb(sel *goquery.Selection, subject string, kind model.Kind, now time.Time) (model.Item, bool) {
	href := sel.AttrOr("href", "")

	id := sel.AttrOr("data-id", "")
	if id == "" {
		if m := itemIDRe.FindStringSubmatch(href); m != nil {
			id = m[1]
		}
	}
	if id == "" {
		return model.Item{}, false
	}

	img := sel.Find("img").First()

	title := html.UnescapeString(img.AttrOr("title", ""))
	if title == "" {
		title = html.UnescapeString(img.AttrOr("alt", ""))
	}
	if title == "" {
		if kind == model.KindDefense {
			title = "Untitled Defense"
		} else {
			title = "Untitled Attack"
		}
	}

	// Thumbnails are titled "Title by Username"; the trailing name is the
	// counterparty of the profile owner.
	otherUser := "Unknown"
	if idx := strings.LastIndex(title, " by "); idx >= 0 {
		otherUser = strings.TrimSpace(title[idx+len(" by "):])
		title = strings.TrimSpace(title[:idx])
	}

	return model.Item{
		ID:        id,
		Kind:      kind,
		Subject:   subject,
		Title:     title,
		ImageURL:  c.absoluteURL(img.AttrOr("src", "")),
		URL:       c.absoluteURL(href),
		OtherUser: otherUser,
		FetchedAt: now,
		FirstSeen: now,
	}, true
}

// hasNextPage checks the pagination widget for an enabled "Next" control.
func hasNextPage(doc *goquery.Document) bool {
	next := doc.Find(`a.page-link[aria-label="Next »"]`).First()
	if next.Length() == 0 {
		return false
	}
	if next.Closest("li").HasClass("disabled") {
		return false
	}
	return next.AttrOr("aria-disabled", "") != "true"
}
