package security

import (
	"strings"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
)

// Signal sets used by the classifier. All entries are lowercase.
var (
	// BotPatterns are user agent substrings of HTTP libraries, crawlers and
	// inspection tools
	BotPatterns = []string{
		"python", "http", "curl", "wget", "bot", "crawler", "spider", "scraper",
		"axios", "node-fetch", "got", "undici", "aiohttp", "httpx", "requests",
		"postman", "insomnia", "discord", "telegram", "whatsapp", "facebook",
		"googlebot", "bingbot", "yandex", "slurp", "duckduckgo",
		"nmap", "nikto", "sqlmap", "burp", "fiddler", "charles", "wireshark",
		"go-http", "java/", "ruby", "perl", "php",
	}

	// BrowserHeaders are sent by full browser engines only
	BrowserHeaders = []string{
		"sec-fetch-dest",
		"sec-fetch-mode",
		"sec-ch-ua",
		"upgrade-insecure-requests",
		"accept-language",
	}

	// RuntimeHeaders are sent by the target runtime client only
	RuntimeHeaders = []string{
		"x-hwid",
		"x-roblox-id",
		"x-place-id",
		"x-job-id",
		"x-session-id",
	}

	// RuntimeAgents are user agent substrings of known runtime clients
	RuntimeAgents = []string{
		"synapse", "script-ware", "scriptware", "delta", "fluxus", "krnl",
		"oxygen", "evon", "hydrogen", "vegax", "trigon", "comet", "solara",
		"wave", "zorara", "codex", "celery", "swift", "sirhurt", "electron",
		"sentinel", "coco", "temple", "valyse", "nihon", "jjsploit", "arceus",
		"roblox", "wininet", "win32",
	}
)

const minUserAgentLength = 5

// Classifier tags requests with a client category
type Classifier struct {
	monitoringAgents []string
}

// NewClassifier creates a classifier. monitoringAgents are user agent
// substrings exempted from ShouldBlock.
func NewClassifier(monitoringAgents []string) *Classifier {
	agents := make([]string, 0, len(monitoringAgents))
	for _, a := range monitoringAgents {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			agents = append(agents, a)
		}
	}
	return &Classifier{monitoringAgents: agents}
}

// Classify returns the category of the request. The first matching rule wins.
func (c *Classifier) Classify(req domain.RequestView) domain.ClientCategory {
	ua := strings.ToLower(req.UserAgent)
	if ua == "" {
		ua = strings.ToLower(req.Header("user-agent"))
	}

	runtimeScore := countHeaders(req, RuntimeHeaders)
	browserScore := countHeaders(req, BrowserHeaders)

	if containsAny(ua, BotPatterns) && runtimeScore == 0 {
		return domain.CategoryBot
	}

	if browserScore >= 2 || strings.Contains(strings.ToLower(req.Header("accept")), "text/html") {
		return domain.CategoryBrowser
	}

	if runtimeScore >= 1 || containsAny(ua, RuntimeAgents) {
		return domain.CategoryTargetRuntime
	}

	if len(ua) < minUserAgentLength {
		return domain.CategoryBot
	}

	return domain.CategoryUnknown
}

// IsMonitoringAgent reports whether the user agent belongs to an uptime probe
func (c *Classifier) IsMonitoringAgent(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	return ua != "" && containsAny(ua, c.monitoringAgents)
}

// ShouldBlock reports whether a gated endpoint must refuse the request.
// Only the target runtime passes; monitoring agents are never blocked.
func (c *Classifier) ShouldBlock(req domain.RequestView) (bool, domain.ClientCategory) {
	category := c.Classify(req)
	if category == domain.CategoryTargetRuntime {
		return false, category
	}
	ua := req.UserAgent
	if ua == "" {
		ua = req.Header("user-agent")
	}
	if c.IsMonitoringAgent(ua) {
		return false, category
	}
	return true, category
}

func countHeaders(req domain.RequestView, names []string) int {
	n := 0
	for _, h := range names {
		if req.Header(h) != "" {
			n++
		}
	}
	return n
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
