package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html/template"
	mrand "math/rand"
	"strings"
	"sync"
	"time"
)

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// TrapHTML is served to banned browsers
const TrapHTML = `<!DOCTYPE html><html><head><title>Access Denied</title></head><body><h1>Access Denied</h1></body></html>`

var loaderPage = template.Must(template.New("loader").Parse(`<!DOCTYPE html>
<html>
<head><title>Script Loader</title></head>
<body>
<h1>Loader</h1>
<p>Run this in your executor:</p>
<pre>loadstring(game:HttpGet("{{.}}/loader"))()</pre>
</body>
</html>
`))

// DecoyGenerator produces plausible but useless payloads for blocked clients
type DecoyGenerator struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewDecoyGenerator creates a decoy generator
func NewDecoyGenerator() *DecoyGenerator {
	return &DecoyGenerator{rng: mrand.New(mrand.NewSource(time.Now().UnixNano()))}
}

func (d *DecoyGenerator) word(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(letters[d.rng.Intn(len(letters))])
	}
	return b.String()
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("0", n*2)
	}
	return hex.EncodeToString(buf)
}

// Script returns a fake obfuscated script that fails at runtime
func (d *DecoyGenerator) Script() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	v := make([]string, 9)
	for i := range v {
		v[i] = d.word(6 + d.rng.Intn(6))
	}
	pool := make([]string, 8)
	for i := range pool {
		pool[i] = fmt.Sprintf("%q", d.word(32))
	}

	var b strings.Builder
	b.WriteString("--[[ Luraph Obfuscator v14.4.7 | Script Shield Protection ]]\n")
	fmt.Fprintf(&b, "local %s, %s, %s;\n", v[0], v[1], v[2])
	fmt.Fprintf(&b, "local %s = %q;\n", v[3], randomHex(32))
	fmt.Fprintf(&b, "local %s = {\n    %s\n};\n", v[4], strings.Join(pool, ", "))
	fmt.Fprintf(&b, "local %s = function(%s)\n", v[5], v[6])
	fmt.Fprintf(&b, "    local %s = 0;\n", v[7])
	fmt.Fprintf(&b, "    for %s = 1, #%s do\n", v[8], v[6])
	fmt.Fprintf(&b, "        %s = %s + string.byte(%s, %s);\n", v[7], v[7], v[6], v[8])
	fmt.Fprintf(&b, "        %s = bit32.bxor(%s, %d);\n", v[7], v[7], d.rng.Intn(255))
	b.WriteString("    end\n")
	fmt.Fprintf(&b, "    return %s;\nend;\n", v[7])
	fmt.Fprintf(&b, "--[[\n    Checking Whitelist...\n    HWID: %s\n    User: %d\n]]\n", randomHex(16), d.rng.Intn(10000000))
	fmt.Fprintf(&b, "if %s(%s) ~= %d then\n    while true do end\nend\n", v[5], v[3], d.rng.Intn(9999))
	b.WriteString("error(\"Script verification failed: Invalid License\", 0);\n")
	fmt.Fprintf(&b, "%s = function() return %q end;\n", v[0], d.word(500))
	return b.String()
}

// LoaderPage renders the instructions page shown to browsers on the loader route
func LoaderPage(publicURL string) string {
	var b strings.Builder
	if err := loaderPage.Execute(&b, strings.TrimRight(publicURL, "/")); err != nil {
		return "<h1>Loader</h1>"
	}
	return b.String()
}
