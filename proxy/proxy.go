package proxy

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Route is the local path the proxy is mounted at; rewritten manifest URIs
// point back through it.
const Route = "/proxy"

// Manifests are rewritten in memory, so cap how much we buffer.
const maxManifestSize = 4 << 20

// Content types by extension. Remote hosts frequently serve media as
// application/octet-stream or text/plain, which breaks <video> playback, so
// a known extension wins over whatever upstream claims.
var typesByExt = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".ogg":  "video/ogg",
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
}

// Handler streams a remote video URL back to the browser, defeating
// mixed-content blocks, missing CORS headers and referer hotlink checks.
type Handler struct {
	client *http.Client
}

func New(timeout time.Duration) *Handler {
	return &Handler{client: &http.Client{Timeout: timeout}}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "url required", http.StatusBadRequest)
		return
	}
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		http.Error(w, "invalid url", http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		http.Error(w, "invalid url", http.StatusBadRequest)
		return
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	// Pretend the request originates from the video's own site.
	req.Header.Set("Referer", target.Scheme+"://"+target.Host+"/")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Warn("proxy fetch failed", "url", target.String(), "error", err)
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Access-Control-Allow-Origin", "*")
	for _, k := range []string{"Content-Range", "Accept-Ranges", "Content-Length"} {
		if v := resp.Header.Get(k); v != "" {
			w.Header().Set(k, v)
		}
	}
	ct := normalizeContentType(target, resp.Header.Get("Content-Type"))
	w.Header().Set("Content-Type", ct)

	// resp.Request.URL reflects any redirects, so relative manifest URIs
	// resolve against where the playlist actually came from.
	if isManifest(target, ct) {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
		if err != nil {
			http.Error(w, "upstream read failed", http.StatusBadGateway)
			return
		}
		rewritten := rewriteManifest(body, resp.Request.URL)
		w.Header().Del("Content-Length")
		w.WriteHeader(resp.StatusCode)
		w.Write(rewritten)
		return
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Debug("proxy stream interrupted", "url", target.String(), "error", err)
	}
}

func normalizeContentType(target *url.URL, upstream string) string {
	if t, ok := typesByExt[strings.ToLower(path.Ext(target.Path))]; ok {
		return t
	}
	if upstream == "" {
		return "application/octet-stream"
	}
	return upstream
}

func isManifest(target *url.URL, contentType string) bool {
	if strings.EqualFold(path.Ext(target.Path), ".m3u8") {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "mpegurl")
}

// rewriteManifest routes every URI in an m3u8 playlist back through the
// proxy, so segment and key fetches get the same CORS/referer treatment as
// the playlist itself.
func rewriteManifest(body []byte, base *url.URL) []byte {
	var b strings.Builder
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), maxManifestSize)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "#"):
			b.WriteString(rewriteURIAttr(line, base))
		case strings.TrimSpace(line) == "":
			b.WriteString(line)
		default:
			b.WriteString(proxied(strings.TrimSpace(line), base))
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// rewriteURIAttr handles tag lines like #EXT-X-KEY:...,URI="key.bin".
func rewriteURIAttr(line string, base *url.URL) string {
	const marker = `URI="`
	i := strings.Index(line, marker)
	if i < 0 {
		return line
	}
	rest := line[i+len(marker):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		return line
	}
	return line[:i+len(marker)] + proxied(rest[:j], base) + rest[j:]
}

func proxied(ref string, base *url.URL) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return Route + "?url=" + url.QueryEscape(base.ResolveReference(u).String())
}
