package tracker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/jabook/bookcache/internal/models"
)

// Subforum is a forum nested under a top-level category.
type Subforum struct {
	ID    int
	Title string
}

// Category is a top-level audiobook category with its subforums.
type Category struct {
	ID        int
	Title     string
	Subforums []Subforum
}

// TopicRef is one row of a forum's topic listing.
type TopicRef struct {
	ID    string
	Title string
}

// TopicPage is one page of a forum's topic listing.
type TopicPage struct {
	Topics      []TopicRef
	HasNextPage bool
}

// TopicDetails is the metadata scraped from a single topic page.
type TopicDetails struct {
	Title      string
	Author     string
	Performer  string
	Genres     []string
	Size       string
	Seeders    int
	Leechers   int
	MagnetURL  string
	Chapters   []models.Chapter
	CoverURL   string
	Duration   string
	Bitrate    string
	AudioCodec string
	// RelatedTitles lists other audiobook topics the poster linked as
	// belonging to the same run of books.
	RelatedTitles []string
}

var (
	forumIDRe = regexp.MustCompile(`viewforum\.php\?f=(\d+)`)
	topicIDRe = regexp.MustCompile(`viewtopic\.php\?t=(\d+)`)
)

// Parser turns raw tracker HTML into structured records
type Parser struct {
	logger *logrus.Logger
}

// NewParser creates a new tracker HTML parser
func NewParser(logger *logrus.Logger) *Parser {
	return &Parser{logger: logger}
}

// ParseCategories parses the category index page into top-level categories
// and their subforums.
func (p *Parser) ParseCategories(html string) ([]Category, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse category index: %w", err)
	}

	var categories []Category
	doc.Find("div.category").Each(func(_ int, sel *goquery.Selection) {
		header := sel.Find("h3 a").First()
		id, ok := forumIDFromHref(header)
		if !ok {
			return
		}
		cat := Category{ID: id, Title: strings.TrimSpace(header.Text())}

		sel.Find("ul a").Each(func(_ int, link *goquery.Selection) {
			subID, ok := forumIDFromHref(link)
			if !ok || subID == id {
				return
			}
			cat.Subforums = append(cat.Subforums, Subforum{
				ID:    subID,
				Title: strings.TrimSpace(link.Text()),
			})
		})
		categories = append(categories, cat)
	})

	// Some mirrors render the index without category wrappers; fall back to
	// a flat scan of forum links.
	if len(categories) == 0 {
		seen := make(map[int]bool)
		doc.Find("a").Each(func(_ int, link *goquery.Selection) {
			id, ok := forumIDFromHref(link)
			if !ok || seen[id] {
				return
			}
			seen[id] = true
			categories = append(categories, Category{
				ID:    id,
				Title: strings.TrimSpace(link.Text()),
			})
		})
	}

	if len(categories) == 0 {
		return nil, fmt.Errorf("no forum links found in category index")
	}
	return categories, nil
}

// ParseForumTopics parses one page of a forum topic listing. HasNextPage is
// detected from the pagination markup so the crawler does not have to trust
// the page-size constant alone.
func (p *Parser) ParseForumTopics(html string) (*TopicPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse topic listing: %w", err)
	}

	page := &TopicPage{}
	seen := make(map[string]bool)
	doc.Find("a").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		m := topicIDRe.FindStringSubmatch(href)
		if m == nil || seen[m[1]] {
			return
		}
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return
		}
		seen[m[1]] = true
		page.Topics = append(page.Topics, TopicRef{ID: m[1], Title: title})
	})

	doc.Find("a.pg, a[rel='next']").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		text := strings.TrimSpace(link.Text())
		if link.AttrOr("rel", "") == "next" || strings.HasPrefix(text, "След") {
			page.HasNextPage = true
			return false
		}
		return true
	})

	return page, nil
}

// ParseTopicDetails parses a single topic page into audiobook metadata.
// Returns an error when the page does not look like an audiobook posting.
func (p *Parser) ParseTopicDetails(html, baseURL string) (*TopicDetails, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse topic page: %w", err)
	}

	det := &TopicDetails{}

	det.Title = strings.TrimSpace(doc.Find("h1.maintitle").First().Text())
	if det.Title == "" {
		det.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if det.Title == "" {
		return nil, fmt.Errorf("topic page has no title")
	}

	body := doc.Find("div.post_body").First()
	for _, line := range strings.Split(body.Text(), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case hasLabel(line, "Автор"):
			det.Author = labelValue(line)
		case hasLabel(line, "Читает"), hasLabel(line, "Исполнитель"):
			det.Performer = labelValue(line)
		case hasLabel(line, "Жанр"):
			for _, g := range strings.Split(labelValue(line), ",") {
				if g = strings.TrimSpace(g); g != "" {
					det.Genres = append(det.Genres, g)
				}
			}
		case hasLabel(line, "Время звучания"):
			det.Duration = labelValue(line)
		case hasLabel(line, "Битрейт"):
			det.Bitrate = labelValue(line)
		case hasLabel(line, "Аудио кодек"):
			det.AudioCodec = labelValue(line)
		}
	}
	if det.Author == "" {
		return nil, fmt.Errorf("topic page has no author line")
	}

	det.MagnetURL, _ = doc.Find(`a[href^="magnet:"]`).First().Attr("href")
	det.Size = strings.TrimSpace(doc.Find("#tor-size-humn").First().Text())
	if det.Size == "" {
		det.Size = strings.TrimSpace(doc.Find("span.tor-size").First().Text())
	}
	det.Seeders = intText(doc.Find("span.seedmed b").First())
	det.Leechers = intText(doc.Find("span.leechmed b").First())

	if src, ok := doc.Find("var.postImg").First().Attr("title"); ok {
		det.CoverURL = src
	} else if src, ok := doc.Find("img.postImg").First().Attr("src"); ok {
		det.CoverURL = src
	}
	if det.CoverURL != "" {
		det.CoverURL = NormalizeCoverURL(det.CoverURL, baseURL)
	}

	doc.Find("ol.chapters li, ul.chapters li").Each(func(_ int, li *goquery.Selection) {
		title := strings.TrimSpace(li.Text())
		if title != "" {
			det.Chapters = append(det.Chapters, models.Chapter{Title: title})
		}
	})

	doc.Find("div.related a, div.sp-wrap a").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		if !topicIDRe.MatchString(href) {
			return
		}
		if title := strings.TrimSpace(link.Text()); title != "" {
			det.RelatedTitles = append(det.RelatedTitles, title)
		}
	})

	p.logger.WithFields(logrus.Fields{
		"title":    det.Title,
		"author":   det.Author,
		"chapters": len(det.Chapters),
	}).Debug("Parsed topic details")

	return det, nil
}

func forumIDFromHref(sel *goquery.Selection) (int, bool) {
	href, _ := sel.Attr("href")
	m := forumIDRe.FindStringSubmatch(href)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}

func hasLabel(line, label string) bool {
	return strings.HasPrefix(line, label+":")
}

func labelValue(line string) string {
	if i := strings.Index(line, ":"); i >= 0 {
		return strings.TrimSpace(line[i+1:])
	}
	return ""
}

func intText(sel *goquery.Selection) int {
	n, err := strconv.Atoi(strings.TrimSpace(sel.Text()))
	if err != nil {
		return 0
	}
	return n
}
