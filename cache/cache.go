// Package cache implements cache keying and the on-disk transcript store of
// spec.md §3/§4.4: deriving a stable key from (instruction, schema-as-JSON),
// locating the project-relative cache directory, and best-effort reading and
// writing of JSON transcripts.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/semistrict/klendathu/internal/telemetry"
	"github.com/semistrict/klendathu/transcript"
)

// Mode selects how the Store's Lookup behaves, driven by KLENDATHU_CACHE_MODE
// (spec.md §4.4, §6).
type Mode string

const (
	// ModeNormal performs a regular lookup: a hit replays, a miss invokes the
	// agent. This is the default when KLENDATHU_CACHE_MODE is unset.
	ModeNormal Mode = "normal"
	// ModeIgnore skips lookup entirely; every request is a miss.
	ModeIgnore Mode = "ignore"
	// ModeForceUse skips lookup only in the sense that a miss is treated as a
	// hard failure (klerrors.KindCacheRequiredButMissing) rather than falling
	// through to the agent.
	ModeForceUse Mode = "force-use"
)

// EnvCacheDir overrides the cache directory (spec.md §6).
const EnvCacheDir = "KLENDATHU_CACHE"

// EnvCacheMode selects the Mode (spec.md §6).
const EnvCacheMode = "KLENDATHU_CACHE_MODE"

// ModeFromEnv reads KLENDATHU_CACHE_MODE, defaulting to ModeNormal for any
// unset or unrecognized value.
func ModeFromEnv() Mode {
	switch Mode(os.Getenv(EnvCacheMode)) {
	case ModeIgnore:
		return ModeIgnore
	case ModeForceUse:
		return ModeForceUse
	default:
		return ModeNormal
	}
}

var slugCollapse = regexp.MustCompile(`[^a-z0-9]+`)

// Key derives the stable CacheKey from spec.md §3:
// slug(instruction)[:50] + "_" + sha256(instruction + ":::" + json(schema)).
// The slug is purely informational; the hash is the identity, so cosmetic
// whitespace differences in schemaJSON do not change the key as long as the
// caller passes a canonically-serialized schema (schema.Schema.ToJSONSchema
// already sorts keys for this reason).
func Key(instruction string, schemaJSON json.RawMessage) string {
	slug := slugify(instruction)
	if len(slug) > 50 {
		slug = slug[:50]
	}
	sum := sha256.Sum256(append(append([]byte(instruction), ":::"...), schemaJSON...))
	return slug + "_" + hex.EncodeToString(sum[:])
}

func slugify(s string) string {
	lower := strings.ToLower(s)
	collapsed := slugCollapse.ReplaceAllString(lower, "_")
	return strings.Trim(collapsed, "_")
}

// ProjectRoot locates the nearest ancestor of dir containing a ".klendathu"
// marker, else the nearest ".git", else dir itself (spec.md §3 CachePath).
func ProjectRoot(dir string) string {
	cur, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	gitFallback := ""
	for {
		if pathExists(filepath.Join(cur, ".klendathu")) {
			return cur
		}
		if gitFallback == "" && pathExists(filepath.Join(cur, ".git")) {
			gitFallback = cur
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	if gitFallback != "" {
		return gitFallback
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// RootDir resolves the cache directory: KLENDATHU_CACHE if set, else
// "${ProjectRoot(cwd)}/.klendathu/cache" (spec.md §3 CachePath).
func RootDir() string {
	if v := os.Getenv(EnvCacheDir); v != "" {
		return v
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return filepath.Join(ProjectRoot(cwd), ".klendathu", "cache")
}

// Path returns the on-disk path for a cache key under root.
func Path(root, key string) string {
	return filepath.Join(root, key+".json")
}

// Store reads and writes JSON transcripts under a cache root directory.
type Store struct {
	root   string
	logger telemetry.Logger
}

// New constructs a Store rooted at root. An empty root resolves RootDir() at
// call time instead of once here, so tests can override KLENDATHU_CACHE
// after construction.
func New(root string, logger telemetry.Logger) *Store {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Store{root: root, logger: logger}
}

func (s *Store) rootDir() string {
	if s.root != "" {
		return s.root
	}
	return RootDir()
}

// Lookup returns the cached transcript for key, or (zero, false) when the
// file is absent, unreadable, malformed, or success != true (spec.md §4.4:
// "A cached transcript with success=false is ignored on lookup and never
// replayed").
func (s *Store) Lookup(ctx context.Context, key string) (transcript.Transcript, bool) {
	path := Path(s.rootDir(), key)
	data, err := os.ReadFile(path)
	if err != nil {
		return transcript.Transcript{}, false
	}
	t, err := transcript.Unmarshal(data)
	if err != nil {
		s.logger.Warn(ctx, "cache: malformed transcript", telemetry.Attr("path", path), telemetry.Attr("error", err.Error()))
		return transcript.Transcript{}, false
	}
	if !t.Success {
		return transcript.Transcript{}, false
	}
	return t, true
}

// Save persists t under key, best-effort: the directory is created
// recursively and any failure is logged (trace) and swallowed (spec.md
// §4.3/§4.4 "Store writes are best-effort").
func (s *Store) Save(ctx context.Context, key string, t transcript.Transcript) {
	root := s.rootDir()
	if err := os.MkdirAll(root, 0o755); err != nil {
		s.logger.Warn(ctx, "cache: mkdir failed", telemetry.Attr("root", root), telemetry.Attr("error", err.Error()))
		return
	}
	data, err := t.Marshal()
	if err != nil {
		s.logger.Warn(ctx, "cache: marshal failed", telemetry.Attr("error", err.Error()))
		return
	}
	path := Path(root, key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Warn(ctx, "cache: write failed", telemetry.Attr("path", path), telemetry.Attr("error", err.Error()))
	}
}
