package realtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polyvox/polyvox/internal/cache"
	"github.com/polyvox/polyvox/internal/providers/translate"
)

// Result is the per-language outcome of one fanout. A failed language
// carries the original text and a non-nil Err so callers and tests can
// tell degraded output from a real translation.
type Result struct {
	Language  string
	Text      string
	FromCache bool
	Err       error
}

type cacheEntry struct {
	langs    map[string]string
	inflight int
}

// Fanout translates one source utterance into N target languages
// concurrently, deduplicating work through a bounded in-memory cache and
// an optional shared second-level cache.
type Fanout struct {
	provider translate.Provider
	log      *logrus.Logger

	// limit bounds concurrent provider calls across all meetings.
	limit chan struct{}

	mu         sync.Mutex
	entries    map[string]*cacheEntry
	order      []string // insertion order, for batch eviction
	maxEntries int

	// l2 is an optional shared cache (Redis in production). Misses and
	// errors there are non-fatal.
	l2    cache.Cache
	l2TTL time.Duration
}

func NewFanout(provider translate.Provider, maxEntries, maxConcurrent int, log *logrus.Logger) *Fanout {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if log == nil {
		log = logrus.New()
	}
	return &Fanout{
		provider:   provider,
		log:        log,
		limit:      make(chan struct{}, maxConcurrent),
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
	}
}

// WithSharedCache attaches a second-level cache shared across processes.
func (f *Fanout) WithSharedCache(c cache.Cache, ttl time.Duration) *Fanout {
	if ttl <= 0 {
		ttl = time.Hour
	}
	f.l2 = c
	f.l2TTL = ttl
	return f
}

func cacheKey(sourceLang, text string) string {
	return sourceLang + ":" + text
}

func sharedKey(sourceLang, text string) string {
	sum := sha256.Sum256([]byte(sourceLang + "\x00" + text))
	return "translate:" + sourceLang + ":" + hex.EncodeToString(sum[:16])
}

// TranslateAll renders text into every target language. The source
// language entry is always the original text. Per-language failures fall
// back to the original text and are reported in the results, never as an
// error. Only cacheable (final) utterances touch the cache.
func (f *Fanout) TranslateAll(ctx context.Context, text, sourceLang string, targets []string, cacheable bool) (map[string]string, []Result) {
	out := map[string]string{sourceLang: text}
	if strings.TrimSpace(text) == "" {
		for _, lang := range targets {
			out[lang] = text
		}
		return out, nil
	}

	key := cacheKey(sourceLang, text)

	var entry *cacheEntry
	if cacheable {
		f.mu.Lock()
		entry = f.entries[key]
		if entry != nil {
			missing := false
			for _, lang := range targets {
				if lang == sourceLang {
					continue
				}
				if _, ok := entry.langs[lang]; !ok {
					missing = true
					break
				}
			}
			if !missing {
				// full hit: no network at all
				results := make([]Result, 0, len(targets))
				for _, lang := range targets {
					if lang == sourceLang {
						continue
					}
					out[lang] = entry.langs[lang]
					results = append(results, Result{Language: lang, Text: entry.langs[lang], FromCache: true})
				}
				f.mu.Unlock()
				return out, results
			}
		} else {
			entry = &cacheEntry{langs: make(map[string]string)}
			f.entries[key] = entry
			f.order = append(f.order, key)
		}
		// pin the entry so eviction cannot drop an in-flight merge
		entry.inflight++
		f.mu.Unlock()
	}

	if cacheable && f.l2 != nil && entry != nil {
		f.mergeShared(ctx, entry, sourceLang, text)
	}

	// collect languages still unknown
	var missing []string
	f.mu.Lock()
	for _, lang := range targets {
		if lang == sourceLang {
			continue
		}
		if _, done := out[lang]; done {
			continue
		}
		if entry != nil {
			if cached, ok := entry.langs[lang]; ok {
				out[lang] = cached
				continue
			}
		}
		missing = append(missing, lang)
	}
	f.mu.Unlock()

	results := make([]Result, len(missing))
	var wg sync.WaitGroup
	for i, lang := range missing {
		wg.Add(1)
		go func(i int, lang string) {
			defer wg.Done()

			select {
			case f.limit <- struct{}{}:
			case <-ctx.Done():
				results[i] = Result{Language: lang, Text: text, Err: ctx.Err()}
				return
			}
			defer func() { <-f.limit }()

			translated, err := f.provider.Translate(ctx, text, sourceLang, lang)
			if err != nil {
				f.log.WithFields(logrus.Fields{
					"source": sourceLang,
					"target": lang,
				}).WithError(err).Warn("translation failed, falling back to source text")
				results[i] = Result{Language: lang, Text: text, Err: err}
				return
			}
			results[i] = Result{Language: lang, Text: translated}
		}(i, lang)
	}
	wg.Wait()

	f.mu.Lock()
	for _, res := range results {
		out[res.Language] = res.Text
		if entry != nil && res.Err == nil {
			entry.langs[res.Language] = res.Text
		}
	}
	if entry != nil {
		entry.inflight--
	}
	f.evictLocked()
	f.mu.Unlock()

	if cacheable && f.l2 != nil && entry != nil {
		f.writeShared(ctx, key, entry)
	}

	return out, results
}

// mergeShared folds any second-level hit into the local entry. Best effort.
func (f *Fanout) mergeShared(ctx context.Context, entry *cacheEntry, sourceLang, text string) {
	var stored map[string]string
	hit, err := f.l2.GetJSON(ctx, sharedKey(sourceLang, text), &stored)
	if err != nil || !hit {
		return
	}
	f.mu.Lock()
	for lang, translated := range stored {
		if _, ok := entry.langs[lang]; !ok {
			entry.langs[lang] = translated
		}
	}
	f.mu.Unlock()
}

func (f *Fanout) writeShared(ctx context.Context, key string, entry *cacheEntry) {
	f.mu.Lock()
	copyLangs := make(map[string]string, len(entry.langs))
	for k, v := range entry.langs {
		copyLangs[k] = v
	}
	f.mu.Unlock()

	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return
	}
	if err := f.l2.SetJSON(ctx, sharedKey(parts[0], parts[1]), copyLangs, f.l2TTL); err != nil {
		f.log.WithError(err).Debug("shared translation cache write failed")
	}
}

// evictLocked drops the oldest tenth of entries when the cache is full,
// skipping entries with in-flight merges. Caller holds f.mu.
func (f *Fanout) evictLocked() {
	if len(f.entries) < f.maxEntries {
		return
	}

	batch := f.maxEntries / 10
	if batch < 1 {
		batch = 1
	}

	kept := f.order[:0]
	removed := 0
	for _, key := range f.order {
		entry, ok := f.entries[key]
		if !ok {
			continue
		}
		if removed < batch && entry.inflight == 0 {
			delete(f.entries, key)
			removed++
			continue
		}
		kept = append(kept, key)
	}
	f.order = kept
}

// CacheLen reports the current number of cached source texts.
func (f *Fanout) CacheLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
