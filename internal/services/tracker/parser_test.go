package tracker

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestParser() *Parser {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewParser(logger)
}

func TestParseCategories(t *testing.T) {
	html := `<html><body>
<div class="category">
  <h3><a href="viewforum.php?f=33">Аудиокниги</a></h3>
  <ul>
    <li><a href="viewforum.php?f=2387">Радиоспектакли</a></li>
    <li><a href="viewforum.php?f=2388">Биографии и мемуары</a></li>
  </ul>
</div>
<div class="category">
  <h3><a href="viewforum.php?f=2389">Фантастика</a></h3>
  <ul></ul>
</div>
</body></html>`

	categories, err := newTestParser().ParseCategories(html)
	if err != nil {
		t.Fatalf("ParseCategories failed: %v", err)
	}

	if len(categories) != 2 {
		t.Fatalf("Expected 2 categories, got %d", len(categories))
	}
	if categories[0].ID != 33 || categories[0].Title != "Аудиокниги" {
		t.Errorf("Unexpected first category: %+v", categories[0])
	}
	if len(categories[0].Subforums) != 2 {
		t.Fatalf("Expected 2 subforums, got %d", len(categories[0].Subforums))
	}
	if categories[0].Subforums[0].ID != 2387 || categories[0].Subforums[0].Title != "Радиоспектакли" {
		t.Errorf("Unexpected first subforum: %+v", categories[0].Subforums[0])
	}
	if len(categories[1].Subforums) != 0 {
		t.Errorf("Expected no subforums on second category, got %d", len(categories[1].Subforums))
	}
}

func TestParseCategoriesFlatFallback(t *testing.T) {
	html := `<html><body>
<a href="viewforum.php?f=100">Форум один</a>
<a href="viewforum.php?f=101">Форум два</a>
<a href="viewforum.php?f=100">Форум один снова</a>
</body></html>`

	categories, err := newTestParser().ParseCategories(html)
	if err != nil {
		t.Fatalf("ParseCategories failed: %v", err)
	}
	if len(categories) != 2 {
		t.Fatalf("Expected 2 deduplicated categories, got %d", len(categories))
	}
	if categories[0].ID != 100 || categories[1].ID != 101 {
		t.Errorf("Unexpected IDs: %d, %d", categories[0].ID, categories[1].ID)
	}
}

func TestParseCategoriesEmpty(t *testing.T) {
	if _, err := newTestParser().ParseCategories("<html><body>nothing here</body></html>"); err == nil {
		t.Error("Expected error for page without forum links")
	}
}

func TestParseForumTopics(t *testing.T) {
	html := `<html><body>
<table>
  <tr><td><a href="viewtopic.php?t=111">Книга первая</a></td></tr>
  <tr><td><a href="viewtopic.php?t=222">Книга вторая</a></td></tr>
  <tr><td><a href="viewtopic.php?t=111">Книга первая (дубль)</a></td></tr>
</table>
<a class="pg" href="viewforum.php?f=33&amp;start=50">След.</a>
</body></html>`

	page, err := newTestParser().ParseForumTopics(html)
	if err != nil {
		t.Fatalf("ParseForumTopics failed: %v", err)
	}

	if len(page.Topics) != 2 {
		t.Fatalf("Expected 2 deduplicated topics, got %d", len(page.Topics))
	}
	if page.Topics[0].ID != "111" || page.Topics[0].Title != "Книга первая" {
		t.Errorf("Unexpected first topic: %+v", page.Topics[0])
	}
	if !page.HasNextPage {
		t.Error("Expected HasNextPage from pagination markup")
	}
}

func TestParseForumTopicsLastPage(t *testing.T) {
	html := `<html><body>
<a href="viewtopic.php?t=333">Последняя книга</a>
<a class="pg" href="viewforum.php?f=33&amp;start=0">Пред.</a>
</body></html>`

	page, err := newTestParser().ParseForumTopics(html)
	if err != nil {
		t.Fatalf("ParseForumTopics failed: %v", err)
	}
	if page.HasNextPage {
		t.Error("Expected no next page")
	}
}

func TestParseTopicDetails(t *testing.T) {
	html := `<html><body>
<h1 class="maintitle">Метро 2033</h1>
<div class="post_body">
Автор: Дмитрий Глуховский
Читает: Иван Петров
Жанр: фантастика, постапокалипсис
Время звучания: 18:22:12
Битрейт: 128 kbps
Аудио кодек: MP3
</div>
<var class="postImg" title="//static.example.com/cover.jpg"></var>
<a href="magnet:?xt=urn:btih:abcdef">magnet</a>
<span id="tor-size-humn">1.2 GB</span>
<span class="seedmed"><b>42</b></span>
<span class="leechmed"><b>7</b></span>
<ol class="chapters">
  <li>Глава 1</li>
  <li>Глава 2</li>
</ol>
<div class="related">
  <a href="viewtopic.php?t=555">Метро 2034</a>
  <a href="index.php">не тема</a>
</div>
</body></html>`

	det, err := newTestParser().ParseTopicDetails(html, "https://rutracker.org")
	if err != nil {
		t.Fatalf("ParseTopicDetails failed: %v", err)
	}

	if det.Title != "Метро 2033" {
		t.Errorf("Title = %q", det.Title)
	}
	if det.Author != "Дмитрий Глуховский" {
		t.Errorf("Author = %q", det.Author)
	}
	if det.Performer != "Иван Петров" {
		t.Errorf("Performer = %q", det.Performer)
	}
	if len(det.Genres) != 2 || det.Genres[0] != "фантастика" {
		t.Errorf("Genres = %v", det.Genres)
	}
	if det.Duration != "18:22:12" {
		t.Errorf("Duration = %q", det.Duration)
	}
	if det.Bitrate != "128 kbps" {
		t.Errorf("Bitrate = %q", det.Bitrate)
	}
	if det.AudioCodec != "MP3" {
		t.Errorf("AudioCodec = %q", det.AudioCodec)
	}
	if det.MagnetURL != "magnet:?xt=urn:btih:abcdef" {
		t.Errorf("MagnetURL = %q", det.MagnetURL)
	}
	if det.Size != "1.2 GB" {
		t.Errorf("Size = %q", det.Size)
	}
	if det.Seeders != 42 || det.Leechers != 7 {
		t.Errorf("Seeders/Leechers = %d/%d", det.Seeders, det.Leechers)
	}
	if det.CoverURL != "https://static.example.com/cover.jpg" {
		t.Errorf("CoverURL = %q, expected absolute https form", det.CoverURL)
	}
	if len(det.Chapters) != 2 || det.Chapters[0].Title != "Глава 1" {
		t.Errorf("Chapters = %+v", det.Chapters)
	}
	if len(det.RelatedTitles) != 1 || det.RelatedTitles[0] != "Метро 2034" {
		t.Errorf("RelatedTitles = %v", det.RelatedTitles)
	}
}

func TestParseTopicDetailsMissingAuthor(t *testing.T) {
	html := `<html><body>
<h1 class="maintitle">Книга без автора</h1>
<div class="post_body">Описание без обязательных полей</div>
</body></html>`

	if _, err := newTestParser().ParseTopicDetails(html, ""); err == nil {
		t.Error("Expected error for topic without author line")
	}
}

func TestParseTopicDetailsMissingTitle(t *testing.T) {
	if _, err := newTestParser().ParseTopicDetails("<html><body></body></html>", ""); err == nil {
		t.Error("Expected error for topic without title")
	}
}
