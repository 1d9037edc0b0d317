package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/LJTian/RSSDigest/internal/collector"
	"github.com/LJTian/RSSDigest/internal/logging"
	"github.com/LJTian/RSSDigest/internal/processor"
	"github.com/chromedp/chromedp"
	"github.com/gin-gonic/gin"
)

// browser-scraper：用 headless Chrome 渲染需要 JS 的文章页并返回正文，
// 供 fetch.browser_scraper_url 配置的抽取链调用
func main() {
	logger, closer, err := logging.Setup(os.Getenv("LOG_LEVEL"), "")
	if err != nil {
		log.Fatalf("init logging failed: %v", err)
	}
	defer closer.Close()

	// 整个进程复用一个 headless 实例
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	// 预热浏览器，避免首个请求耗时过长
	if err := chromedp.Run(browserCtx); err != nil {
		logger.Warn("warmup chromedp failed", "err", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/extract", extractHandler(browserCtx, logger))

	addr := ":" + getEnv("PORT", "4000")
	logger.Info("browser-scraper listening", "addr", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("http server error: %v", err)
	}
}

func extractHandler(browserCtx context.Context, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req collector.BrowserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, collector.BrowserResponse{Error: "invalid json"})
			return
		}
		if strings.TrimSpace(req.URL) == "" {
			c.JSON(http.StatusBadRequest, collector.BrowserResponse{Error: "url is required"})
			return
		}
		if req.MaxChars <= 0 || req.MaxChars > 8000 {
			req.MaxChars = 2000
		}

		// 每个请求用独立的超时上下文，复用同一个 browserCtx
		ctx, cancel := context.WithTimeout(browserCtx, 20*time.Second)
		defer cancel()

		start := time.Now()
		var text string
		err := chromedp.Run(ctx,
			chromedp.Navigate(req.URL),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Evaluate(extractJS, &text),
		)
		if err != nil {
			logger.Warn("extract failed", "link", req.URL, "err", err)
			c.JSON(http.StatusOK, collector.BrowserResponse{Error: err.Error()})
			return
		}

		text = trimBlankLines(text)
		if text == "" {
			c.JSON(http.StatusOK, collector.BrowserResponse{Error: "empty content"})
			return
		}
		logger.Debug("extracted", "link", req.URL, "took", time.Since(start))
		c.JSON(http.StatusOK, collector.BrowserResponse{OK: true, Text: processor.TruncateRunes(text, req.MaxChars)})
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// extractJS 在页面中提取正文：优先常见正文容器，找不到时遍历全页较长段落兜底。
// 容器列表与 collector 的 goquery 兜底保持一致。
const extractJS = `(function () {
  function textOf(selector) {
    var el = document.querySelector(selector);
    return el ? (el.innerText || "").trim() : "";
  }

  var selectors = [
    "article",
    "main",
    "[itemprop=articleBody]",
    ".post-content",
    ".entry-content",
    ".article-content",
    "#content",
    ".rich_media_content"
  ];

  var text = "";
  for (var i = 0; i < selectors.length; i++) {
    text = textOf(selectors[i]);
    if (text.length > 200) break;
  }

  if (text.length < 200) {
    var nodes = Array.prototype.slice.call(document.querySelectorAll("p"));
    var pieces = [];
    for (var j = 0; j < nodes.length; j++) {
      var t = (nodes[j].innerText || "").trim();
      if (t.length >= 40) pieces.push(t);
      if (pieces.join("\n\n").length > 8000) break;
    }
    if (pieces.join("").length > text.length) text = pieces.join("\n\n");
  }

  return text.replace(/\s+\n/g, "\n").trim();
})();`

// trimBlankLines 统一换行并压缩多余空行
func trimBlankLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}
