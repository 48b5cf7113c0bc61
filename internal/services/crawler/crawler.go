package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/common"
	"github.com/ternarybob/nyushi/internal/interfaces"
	"github.com/ternarybob/nyushi/internal/models"
)

// Result is the outcome of crawling one task: the discovered link tree,
// the indexes the pruner decided to keep, and the file candidates that
// survived pruning
type Result struct {
	Nodes       []*models.Node
	KeptIndexes []int
	Files       []*models.File
	PagesLoaded int
}

// Service discovers a task's link tree with a browser pool and prunes it
// with an LLM
type Service struct {
	pool      *BrowserPool
	pruner    *Pruner
	converter *md.Converter
	cfg       *common.CrawlerConfig
	logger    arbor.ILogger
}

// NewService creates a crawler service. The pool must already be initialized.
func NewService(pool *BrowserPool, llm interfaces.LLMService, cfg *common.CrawlerConfig, logger arbor.ILogger) *Service {
	return &Service{
		pool:      pool,
		pruner:    NewPruner(llm, logger),
		converter: md.NewConverter("", true, nil),
		cfg:       cfg,
		logger:    logger,
	}
}

// queueEntry is one pending page in the BFS frontier
type queueEntry struct {
	url         string
	parentIndex int
	depth       int
}

// CrawlTask walks the task URL breadth-first up to the configured depth
// and page budget, recording every link as a node. File links become
// file-candidate nodes and are never fetched by the browser.
func (s *Service) CrawlTask(ctx context.Context, task *models.Task) (*Result, error) {
	seedURL, err := url.Parse(task.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid task URL %s: %w", task.URL, err)
	}

	allowed := map[string]bool{seedURL.Hostname(): true}
	for _, host := range s.cfg.AllowedHosts {
		allowed[host] = true
	}

	result := &Result{}
	visited := map[string]bool{normalizeURL(task.URL): true}
	frontier := []queueEntry{{url: task.URL, parentIndex: models.RootParentIndex, depth: 0}}
	var rootMarkdown string

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if result.PagesLoaded >= s.cfg.MaxPages {
			s.logger.Debug().
				Str("task_id", task.ID).
				Int("max_pages", s.cfg.MaxPages).
				Msg("Page budget exhausted")
			break
		}

		entry := frontier[0]
		frontier = frontier[1:]

		page, err := s.renderPage(ctx, entry.url)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("url", entry.url).
				Str("task_id", task.ID).
				Msg("Failed to render page")
			if entry.parentIndex == models.RootParentIndex {
				return nil, fmt.Errorf("failed to render seed page %s: %w", entry.url, err)
			}
			continue
		}
		result.PagesLoaded++

		node := &models.Node{
			TaskID:      task.ID,
			NodeIndex:   len(result.Nodes),
			ParentIndex: entry.parentIndex,
			URL:         entry.url,
			Title:       page.title,
			Depth:       entry.depth,
		}
		result.Nodes = append(result.Nodes, node)

		if entry.parentIndex == models.RootParentIndex {
			rootMarkdown = s.pageMarkdown(page.html)
		}

		if entry.depth >= s.cfg.MaxDepth {
			continue
		}

		for _, link := range page.links {
			resolved := resolveLink(seedURL, entry.url, link.href)
			if resolved == "" {
				continue
			}

			ext := models.DetectExtension(resolved)
			if models.IsSupportedExtension(ext) {
				key := normalizeURL(resolved)
				if visited[key] {
					continue
				}
				visited[key] = true

				fileNode := &models.Node{
					TaskID:      task.ID,
					NodeIndex:   len(result.Nodes),
					ParentIndex: node.NodeIndex,
					URL:         resolved,
					Title:       link.title,
					Depth:       entry.depth + 1,
					IsFile:      true,
					Extension:   ext,
				}
				result.Nodes = append(result.Nodes, fileNode)
				continue
			}

			resolvedURL, err := url.Parse(resolved)
			if err != nil || !allowed[resolvedURL.Hostname()] {
				continue
			}
			key := normalizeURL(resolved)
			if visited[key] {
				continue
			}
			visited[key] = true
			frontier = append(frontier, queueEntry{
				url:         resolved,
				parentIndex: node.NodeIndex,
				depth:       entry.depth + 1,
			})
		}
	}

	// Pages still in the frontier when the budget ran out are recorded as
	// leaf nodes so the tree stays complete
	for _, entry := range frontier {
		result.Nodes = append(result.Nodes, &models.Node{
			TaskID:      task.ID,
			NodeIndex:   len(result.Nodes),
			ParentIndex: entry.parentIndex,
			URL:         entry.url,
			Depth:       entry.depth,
		})
	}

	kept, err := s.pruner.Prune(ctx, task, result.Nodes, rootMarkdown)
	if err != nil {
		// A pruning failure keeps the whole tree rather than losing the crawl
		s.logger.Warn().
			Err(err).
			Str("task_id", task.ID).
			Msg("Tree pruning failed, keeping all nodes")
		kept = allIndexes(result.Nodes)
	}
	result.KeptIndexes = kept

	keptSet := make(map[int]bool, len(kept))
	for _, idx := range kept {
		keptSet[idx] = true
	}
	for _, node := range result.Nodes {
		if node.IsFile && keptSet[node.NodeIndex] {
			result.Files = append(result.Files, &models.File{
				TaskID:       task.ID,
				NodeIndex:    node.NodeIndex,
				SourceURL:    node.URL,
				OriginalName: node.Title,
			})
		}
	}

	s.logger.Info().
		Str("task_id", task.ID).
		Int("nodes", len(result.Nodes)).
		Int("kept", len(result.KeptIndexes)).
		Int("files", len(result.Files)).
		Int("pages", result.PagesLoaded).
		Msg("Crawl completed")

	return result, nil
}

// pageLink is one anchor found on a rendered page
type pageLink struct {
	href  string
	title string
}

// renderedPage holds what the browser produced for one URL
type renderedPage struct {
	html  string
	title string
	links []pageLink
}

// renderPage loads the URL in a pooled browser tab, waits for JavaScript
// to settle, and parses the rendered DOM
func (s *Service) renderPage(ctx context.Context, pageURL string) (*renderedPage, error) {
	browserCtx, release, err := s.pool.GetBrowser()
	if err != nil {
		return nil, err
	}
	defer release()

	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tabCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()

	// Stop rendering when the caller gives up
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-tabCtx.Done():
		}
	}()

	// University sites often serve different content per Accept-Language
	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "ja,en;q=0.8"}),
		chromedp.Navigate(pageURL),
	}
	if s.cfg.JavaScriptWaitTime > 0 {
		tasks = append(tasks, chromedp.Sleep(s.cfg.JavaScriptWaitTime))
	}
	tasks = append(tasks, chromedp.OuterHTML("html", &html))

	if err := chromedp.Run(tabCtx, tasks); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", pageURL, err)
	}

	return parsePage(html)
}

// parsePage extracts the title and anchors from rendered HTML
func parsePage(html string) (*renderedPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	page := &renderedPage{
		html:  html,
		title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		page.links = append(page.links, pageLink{
			href:  href,
			title: strings.TrimSpace(sel.Text()),
		})
	})

	return page, nil
}

// pageMarkdown converts rendered HTML to markdown for the pruning prompt
func (s *Service) pageMarkdown(html string) string {
	markdown, err := s.converter.ConvertString(html)
	if err != nil {
		s.logger.Debug().Err(err).Msg("HTML to markdown conversion failed")
		return ""
	}
	return strings.TrimSpace(markdown)
}

// resolveLink resolves href against the page it appeared on and strips
// fragments. Returns "" for links that cannot be resolved.
func resolveLink(seed *url.URL, pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = seed
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

// normalizeURL canonicalizes a URL for the visited set
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	normalized := u.String()
	return strings.TrimSuffix(normalized, "/")
}

func allIndexes(nodes []*models.Node) []int {
	indexes := make([]int, len(nodes))
	for i, node := range nodes {
		indexes[i] = node.NodeIndex
	}
	return indexes
}
