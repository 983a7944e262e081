package browser

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/haneum/bandcrawl/internal/models"
)

var postIDFromHrefRe = regexp.MustCompile(`/post/(\d+)`)

// ScrapePostList auto-scrolls the band page to trigger lazy loading, then
// parses every post card from the rendered HTML.
func (d *Driver) ScrapePostList(ctx context.Context, target models.CrawlTarget) ([]models.ScrapedPost, error) {
	if err := d.pace(ctx); err != nil {
		return nil, err
	}
	if err := d.navigate(ctx, d.bandURL(target), "post_list"); err != nil {
		return nil, err
	}

	waitCtx, waitCancel := context.WithTimeout(d.runCtx(ctx), d.navTimeout)
	err := chromedp.Run(waitCtx, chromedp.WaitVisible(selPostListWrap, chromedp.ByQuery))
	waitCancel()
	if err != nil {
		// The wrapper never rendering means the page layout changed, not a
		// network hiccup
		return nil, &ScrapeStructureError{Step: "post_list", Selector: selPostListWrap}
	}

	if err := d.autoScroll(ctx); err != nil {
		return nil, err
	}

	var html string
	if err := chromedp.Run(d.runCtx(ctx), chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, driverErr("post_list", err)
	}

	posts, err := parsePostListHTML(html, target.BandID, d.bandCfg.BaseURL, time.Now(), d.logger)
	if err != nil {
		return nil, err
	}

	d.logger.Info().
		Str("band_id", target.BandID).
		Int("posts", len(posts)).
		Msg("Post list scraped")

	return posts, nil
}

// ScrapeComments opens the post permalink and parses its comment list. An
// absent comment container after the bounded wait yields an empty slice.
func (d *Driver) ScrapeComments(ctx context.Context, post *models.ScrapedPost) ([]models.ScrapedComment, error) {
	if err := d.pace(ctx); err != nil {
		return nil, err
	}

	url := post.URL
	if url == "" {
		url = d.postURL(post.ExternalBandID, post.ExternalPostID)
	}
	if err := d.navigate(ctx, url, "comments"); err != nil {
		return nil, err
	}

	waitCtx, waitCancel := context.WithTimeout(d.runCtx(ctx), d.commentWait)
	err := chromedp.Run(waitCtx, chromedp.WaitVisible(selCommentList, chromedp.ByQuery))
	waitCancel()
	if err != nil {
		// No container within the wait window means the post has no comments
		d.logger.Debug().
			Str("post_key", post.NaturalKey()).
			Msg("Comment container absent, treating as zero comments")
		return []models.ScrapedComment{}, nil
	}

	var html string
	if err := chromedp.Run(d.runCtx(ctx), chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, driverErr("comments", err)
	}

	comments, err := parseCommentsHTML(html, post.NaturalKey(), time.Now())
	if err != nil {
		return nil, err
	}

	d.logger.Debug().
		Str("post_key", post.NaturalKey()).
		Int("comments", len(comments)).
		Msg("Comments scraped")

	return comments, nil
}

// autoScroll scrolls to the bottom repeatedly so the infinite-scroll feed
// loads older posts
func (d *Driver) autoScroll(ctx context.Context) error {
	passes := d.cfg.ScrollPasses
	if passes < 1 {
		passes = 1
	}

	for i := 0; i < passes; i++ {
		err := chromedp.Run(d.runCtx(ctx),
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		)
		if err != nil {
			return driverErr("auto_scroll", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second + d.jitter()/2):
		}
	}
	return nil
}

// parsePostListHTML extracts post cards from rendered band-page HTML. Posts
// with no derivable external ID get a synthetic "unknown_<ts>_<idx>" ID so a
// single malformed card never aborts the whole scrape.
func parsePostListHTML(html, bandID, baseURL string, now time.Time, logger arbor.ILogger) ([]models.ScrapedPost, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, driverErr("post_list", err)
	}

	var posts []models.ScrapedPost
	doc.Find(selPostCard).Each(func(i int, card *goquery.Selection) {
		postID := extractPostID(card)
		if postID == "" {
			postID = fmt.Sprintf("unknown_%d_%d", now.Unix(), i)
			if logger != nil {
				logger.Warn().
					Str("band_id", bandID).
					Int("card_index", i).
					Msg("Post card missing external ID, assigned synthetic ID")
			}
		}

		post := models.ScrapedPost{
			Key:            models.PostKey(bandID, postID),
			ExternalPostID: postID,
			ExternalBandID: bandID,
			Content:        cleanText(firstText(card, ".postText, .txtBody, .dPostTextView")),
			AuthorName:     cleanText(firstText(card, ".postWriterInfoWrap .text, .userName, .name")),
			PostedAtText:   cleanText(firstText(card, ".postListInfoWrap .time, time, .date")),
			URL:            fmt.Sprintf("%s/band/%s/post/%s", baseURL, bandID, postID),
			CommentCount:   parseCount(firstText(card, "._commentCountBtn .count, .comment .count")),
			ViewCount:      parseCount(firstText(card, ".readCount, .viewCount .count")),
			ScrapedAt:      now,
		}
		posts = append(posts, post)
	})

	return posts, nil
}

// parseCommentsHTML extracts comments in page order, assigning 1-based indexes
func parseCommentsHTML(html, postKey string, now time.Time) ([]models.ScrapedComment, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, driverErr("comments", err)
	}

	comments := []models.ScrapedComment{}
	doc.Find(".sCommentList .cComment, .cCommentList .commentItem").Each(func(i int, item *goquery.Selection) {
		index := i + 1
		comment := models.ScrapedComment{
			Key:            models.CommentKey(postKey, index),
			PostKey:        postKey,
			Index:          index,
			AuthorName:     cleanText(firstText(item, ".writeInfo .name, .nameWrap .name")),
			AuthorNickname: cleanText(firstText(item, ".writeInfo .nickname, .subName")),
			Content:        cleanText(firstText(item, ".commentText, ._commentContent, .txt")),
			TimestampText:  cleanText(firstText(item, ".func .time, time, .date")),
			ScrapedAt:      now,
		}
		if img := item.Find(".profileImage img, .uProfileImage img").First(); img.Length() > 0 {
			comment.ProfileImageURL, _ = img.Attr("src")
		}
		comments = append(comments, comment)
	})

	return comments, nil
}

// extractPostID derives the external post ID from a card's data attribute or
// any permalink href inside it
func extractPostID(card *goquery.Selection) string {
	for _, attr := range []string{"data-post_no", "data-post-no", "data-postno"} {
		if id, ok := card.Attr(attr); ok && id != "" {
			return id
		}
	}

	var id string
	card.Find("a[href*='/post/']").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		if m := postIDFromHrefRe.FindStringSubmatch(href); m != nil {
			id = m[1]
			return false
		}
		return true
	})
	return id
}

// firstText returns the trimmed text of the first element matching any of the
// comma-separated selectors
func firstText(s *goquery.Selection, selector string) string {
	found := s.Find(selector).First()
	if found.Length() == 0 {
		return ""
	}
	return found.Text()
}

// parseCount extracts the integer from site count text like "댓글 12" or "1,234"
func parseCount(text string) int {
	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

func cleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
