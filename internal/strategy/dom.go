package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"scrapegate/internal/antidetect"
	"scrapegate/internal/driver"
)

// contentSelectors are tried in order against the rendered page; the
// first match wins, falling back to the whole body.
var contentSelectors = []string{
	".RichContent-inner",
	".QuestionAnswer-content",
	".Post-RichTextContainer",
	"article",
	"main",
}

// DOM renders the page in the browser and extracts visible content from
// the HTML. Slowest path, last in the chain, survives API schema changes.
type DOM struct {
	drv      driver.AutomationDriver
	detector *antidetect.Detector
}

// NewDOM creates the strategy.
func NewDOM(drv driver.AutomationDriver, detector *antidetect.Detector) *DOM {
	return &DOM{drv: drv, detector: detector}
}

func (s *DOM) Source() DataSource { return SourceDOM }

func (s *DOM) Ready(req Request, _ Exchange) (bool, string) {
	if req.PageURL == "" {
		return false, "no page URL for this request"
	}
	if s.drv == nil {
		return false, "no browser driver attached"
	}
	return true, ""
}

func (s *DOM) Execute(ctx context.Context, req Request, _ Exchange) Attempt {
	if err := s.drv.Navigate(ctx, req.PageURL); err != nil {
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed,
			Reason: fmt.Sprintf("navigate: %v", err)}
	}

	url, err := s.drv.PageURL(ctx)
	if err != nil {
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed, Reason: err.Error()}
	}
	text, err := s.drv.PageText(ctx)
	if err != nil {
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed, Reason: err.Error()}
	}
	if st := s.detector.ClassifyPage(url, text); st.Blocked() {
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed,
			Reason: st.Message, Block: st}
	}

	html, err := s.drv.HTML(ctx)
	if err != nil {
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed, Reason: err.Error()}
	}
	content, err := ExtractContent(html)
	if err != nil {
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed,
			Reason: fmt.Sprintf("extract: %v", err)}
	}
	if content == "" {
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed,
			Reason: "page rendered but no content found"}
	}

	return Attempt{
		Source:  s.Source(),
		Outcome: OutcomeSucceeded,
		Result:  &Result{Source: s.Source(), Body: []byte(content), HTML: html},
	}
}

// ExtractContent pulls the main visible text out of a rendered page.
func ExtractContent(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()

	for _, sel := range contentSelectors {
		if s := doc.Find(sel); s.Length() > 0 {
			return normalizeWhitespace(s.First().Text()), nil
		}
	}
	return normalizeWhitespace(doc.Find("body").Text()), nil
}

// normalizeWhitespace collapses runs of blank lines and trims each line.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
