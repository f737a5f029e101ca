// Package delivery turns a payload into what the runtime client receives:
// the shim wrapper, the keyed chunk transform, the encrypted fallback and the
// encoded bootstrap loader.
//
// None of the XOR transforms here is encryption in the cryptographic sense.
// Keys are derivable from values the client sends, so the layer only stops a
// single captured response from being a directly usable script.
package delivery

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"embed"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"luastr":  luaString,
	"lualist": luaList,
}).ParseFS(templateFS, "templates/*.tmpl"))

// Callback routes handed to the shim
const (
	HeartbeatPath  = "/api/heartbeat"
	SuspiciousPath = "/api/webhook/suspicious"
	BanPath        = "/api/ban"
)

// Config contains packager settings
type Config struct {
	SecretKey          string
	LoaderKey          string
	ChunkCount         int
	EncryptedBlockSize int

	OwnerIdentityIDs     []string
	WhitelistIdentityIDs []string
	AntiInspection       bool
	AutoBan              bool
	HeartbeatInterval    int
}

// Packager builds delivery artifacts
type Packager struct {
	cfg Config
}

// NewPackager creates a packager
func NewPackager(cfg Config) *Packager {
	if cfg.ChunkCount <= 0 {
		cfg.ChunkCount = 3
	}
	if cfg.EncryptedBlockSize <= 0 {
		cfg.EncryptedBlockSize = 1500
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 45
	}
	if cfg.LoaderKey == "" {
		cfg.LoaderKey = cfg.SecretKey
	}
	return &Packager{cfg: cfg}
}

// ShimConfig returns the shim configuration for a session
func (p *Packager) ShimConfig(sessionID, serverURL string) domain.ShimConfig {
	base := strings.TrimRight(serverURL, "/")
	return domain.ShimConfig{
		SessionID:                  sessionID,
		HeartbeatEndpoint:          base + HeartbeatPath,
		SuspiciousActivityEndpoint: base + SuspiciousPath,
		BanEndpoint:                base + BanPath,
		OwnerIdentityList:          p.cfg.OwnerIdentityIDs,
		WhitelistIdentityList:      p.cfg.WhitelistIdentityIDs,
		AntiInspectionEnabled:      p.cfg.AntiInspection,
		AutoBanEnabled:             p.cfg.AutoBan,
		HeartbeatIntervalSeconds:   p.cfg.HeartbeatInterval,
	}
}

// Wrap prefixes the script with the configured shim
func (p *Packager) Wrap(script string, shim domain.ShimConfig) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "shim.lua.tmpl", shim); err != nil {
		return "", fmt.Errorf("failed to render shim: %w", err)
	}
	buf.WriteString(script)
	return buf.String(), nil
}

// Package packages a wrapped payload in the given mode
func (p *Packager) Package(wrapped string, id domain.Identity, mode domain.DeliveryMode, sessionID string, clientTimestamp int64) (*domain.DeliveryResponse, error) {
	resp := &domain.DeliveryResponse{Mode: mode, SessionID: sessionID}
	switch mode {
	case domain.DeliveryRaw:
		resp.Script = wrapped
	case domain.DeliveryChunked:
		resp.Chunks, resp.Keys = p.Chunk([]byte(wrapped), id)
	case domain.DeliveryEncrypted:
		resp.Key, resp.Blocks = p.EncryptBlob([]byte(wrapped), id, clientTimestamp)
	default:
		return nil, fmt.Errorf("unknown delivery mode: %s", mode)
	}
	return resp, nil
}

// noDevice stands in for a missing device id in key derivation
const noDevice = "none"

func keyDevice(id domain.Identity) string {
	if id.DeviceID == "" {
		return noDevice
	}
	return id.DeviceID
}

// ChunkKeys derives one key per chunk from the identity and the server secret
func (p *Packager) ChunkKeys(id domain.Identity, count int) []string {
	baseSum := sha256.Sum256([]byte(keyDevice(id) + id.IdentityID + p.cfg.SecretKey))
	base := hex.EncodeToString(baseSum[:])

	keys := make([]string, count)
	for i := range keys {
		sum := md5.Sum([]byte(base + ":" + strconv.Itoa(i)))
		keys[i] = hex.EncodeToString(sum[:])
	}
	return keys
}

// Chunk splits the payload into at most ChunkCount equal slices of
// ceil(len/ChunkCount) bytes and XORs each with its own key
func (p *Packager) Chunk(payload []byte, id domain.Identity) ([]domain.Chunk, []string) {
	if len(payload) == 0 {
		return []domain.Chunk{}, []string{}
	}
	size := (len(payload) + p.cfg.ChunkCount - 1) / p.cfg.ChunkCount

	var slices [][]byte
	for off := 0; off < len(payload); off += size {
		end := off + size
		if end > len(payload) {
			end = len(payload)
		}
		slices = append(slices, payload[off:end])
	}

	keys := p.ChunkKeys(id, len(slices))
	chunks := make([]domain.Chunk, len(slices))
	for i, s := range slices {
		chunks[i] = domain.Chunk{Index: i, Data: Xor(s, []byte(keys[i]))}
	}
	return chunks, keys
}

// Reassemble reverses Chunk. Chunks may arrive in any order.
func Reassemble(chunks []domain.Chunk, keys []string) ([]byte, error) {
	parts := make([][]byte, len(chunks))
	for _, c := range chunks {
		if c.Index < 0 || c.Index >= len(chunks) || c.Index >= len(keys) {
			return nil, fmt.Errorf("chunk index out of range: %d", c.Index)
		}
		if parts[c.Index] != nil {
			return nil, fmt.Errorf("duplicate chunk index: %d", c.Index)
		}
		parts[c.Index] = Xor(c.Data, []byte(keys[c.Index]))
	}
	return bytes.Join(parts, nil), nil
}

// SessionKey derives the key of the encrypted fallback
func (p *Packager) SessionKey(id domain.Identity, clientTimestamp int64) string {
	mac := hmac.New(sha256.New, []byte(p.cfg.SecretKey))
	fmt.Fprintf(mac, "%s:%s:%d", id.IdentityID, keyDevice(id), clientTimestamp)
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

// EncryptBlob XORs fixed-size blocks of the payload with the session key.
// The key restarts at every block.
func (p *Packager) EncryptBlob(payload []byte, id domain.Identity, clientTimestamp int64) (string, []domain.ByteArray) {
	key := p.SessionKey(id, clientTimestamp)
	blocks := make([]domain.ByteArray, 0, len(payload)/p.cfg.EncryptedBlockSize+1)
	for off := 0; off < len(payload); off += p.cfg.EncryptedBlockSize {
		end := off + p.cfg.EncryptedBlockSize
		if end > len(payload) {
			end = len(payload)
		}
		blocks = append(blocks, Xor(payload[off:end], []byte(key)))
	}
	return key, blocks
}

// DecryptBlob reverses EncryptBlob
func DecryptBlob(blocks []domain.ByteArray, key string) []byte {
	var out []byte
	for _, b := range blocks {
		out = append(out, Xor(b, []byte(key))...)
	}
	return out
}

// LoaderKey derives the bootstrap key from the identity headers
func (p *Packager) LoaderKey(id domain.Identity) string {
	sum := md5.Sum([]byte(strings.Join([]string{id.DeviceID, id.IdentityID, id.PlaceContext, p.cfg.LoaderKey}, ":")))
	return hex.EncodeToString(sum[:])[:16]
}

// EncodeLoader XORs the loader with key and base64-frames it
func EncodeLoader(loader, key string) string {
	return base64.StdEncoding.EncodeToString(Xor([]byte(loader), []byte(key)))
}

// DecodeLoader reverses EncodeLoader
func DecodeLoader(encoded, key string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode loader: %w", err)
	}
	return string(Xor(raw, []byte(key))), nil
}

// Loader renders the plain loader that runs the challenge flow
func (p *Packager) Loader(serverURL string) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "loader.lua.tmpl", strings.TrimRight(serverURL, "/")); err != nil {
		return "", fmt.Errorf("failed to render loader: %w", err)
	}
	return buf.String(), nil
}

// BootstrapLoader renders the loader encoded for the identity, wrapped in a
// self-decoding stub
func (p *Packager) BootstrapLoader(serverURL string, id domain.Identity) (string, error) {
	loader, err := p.Loader(serverURL)
	if err != nil {
		return "", err
	}
	key := p.LoaderKey(id)

	var buf bytes.Buffer
	data := struct{ Key, Data string }{Key: key, Data: EncodeLoader(loader, key)}
	if err := templates.ExecuteTemplate(&buf, "bootstrap.lua.tmpl", data); err != nil {
		return "", fmt.Errorf("failed to render bootstrap: %w", err)
	}
	return buf.String(), nil
}

var obfuscatorBanner = regexp.MustCompile(`(?i)(luraph|ironbrew|moonsec|psu|prometheus|luaobfuscator|wearedevs|obfuscated)`)

// IsObfuscated reports whether the payload carries a known obfuscator banner
// in its first lines
func IsObfuscated(script string) bool {
	head := script
	if len(head) > 512 {
		head = head[:512]
	}
	return obfuscatorBanner.MatchString(head)
}

// Xor applies a repeating-key XOR. An empty key returns a copy.
func Xor(data, key []byte) []byte {
	out := make([]byte, len(data))
	if len(key) == 0 {
		copy(out, data)
		return out
	}
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

func luaString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c < 0x20 || c == 0x7f:
			fmt.Fprintf(&b, `\%03d`, c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// luaList renders a table literal. Numeric ids stay numbers so the shim can
// compare them with UserId.
func luaList(values []string) string {
	items := make([]string, 0, len(values))
	for _, v := range values {
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			items = append(items, v)
		} else {
			items = append(items, luaString(v))
		}
	}
	return "{" + strings.Join(items, ", ") + "}"
}
