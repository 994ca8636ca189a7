package rewrite

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

var (
	punctRe = regexp.MustCompile(`[,.?!]+`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// NormalizeBasic trims the text, turns sentence punctuation into spaces, and
// collapses whitespace runs.
func NormalizeBasic(text string) string {
	t := strings.TrimSpace(text)
	t = punctRe.ReplaceAllString(t, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(t, " "))
}

// NormalizeCompact reduces the text to lowercase letters and digits only,
// the form used for phrase matching.
func NormalizeCompact(text string) string {
	t := NormalizeBasic(text)
	var b strings.Builder
	for _, r := range t {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Rule maps any of a set of trigger phrases to a fixed replacement.
type Rule struct {
	// Any lists the trigger phrases.
	Any []string `yaml:"any"`

	// Set is the replacement transcript text.
	Set string `yaml:"set"`
}

type needle struct {
	basic   string
	compact string
}

type compiledRule struct {
	set     string
	needles []needle
}

type table struct {
	rules []compiledRule
}

func compile(rules []Rule) *table {
	t := &table{}
	for _, r := range rules {
		if r.Set == "" {
			continue
		}
		cr := compiledRule{set: r.Set}
		for _, phrase := range r.Any {
			cr.needles = append(cr.needles, needle{
				basic:   NormalizeBasic(phrase),
				compact: NormalizeCompact(phrase),
			})
		}
		t.rules = append(t.rules, cr)
	}
	return t
}

// Rewriter applies rewrite rules to transcript text. The rule table is an
// atomically-swapped snapshot; when backed by a file with watching enabled,
// ReloadIfChanged picks up edits by modification time.
type Rewriter struct {
	table  atomic.Pointer[table]
	logger *slog.Logger

	// file-backed state, unused for static rewriters
	path  string
	watch bool
	mu    sync.Mutex
	mtime time.Time
}

// New creates a rewriter over a static rule list.
func New(rules []Rule) *Rewriter {
	r := &Rewriter{logger: slog.Default()}
	r.table.Store(compile(rules))
	return r
}

// NewFromFile loads the rules file at path. With watch enabled the rewriter
// remembers the path and reloads on ReloadIfChanged; otherwise the rules are
// fixed at load time.
func NewFromFile(path string, watch bool, logger *slog.Logger) (*Rewriter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Rewriter{path: path, watch: watch, logger: logger}
	rules, mtime, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	r.table.Store(compile(rules))
	r.mtime = mtime
	return r, nil
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

func loadFile(path string) ([]Rule, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat rewrite rules %q: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read rewrite rules %q: %w", path, err)
	}
	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse rewrite rules %q: %w", path, err)
	}
	return doc.Rules, info.ModTime(), nil
}

// ReloadIfChanged re-reads a file-backed rewriter's rules when the file's
// modification time moved. Cheap enough to call per transcript. A no-op for
// static rewriters and for file-backed rewriters with watching disabled. A
// file that fails to load leaves the current rules in place.
func (r *Rewriter) ReloadIfChanged() {
	if r.path == "" || !r.watch {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(r.path)
	if err != nil || info.ModTime().Equal(r.mtime) {
		return
	}
	rules, mtime, err := loadFile(r.path)
	if err != nil {
		r.logger.Error("rewrite rules reload failed, keeping previous rules",
			"path", r.path,
			"error", err,
		)
		return
	}
	r.table.Store(compile(rules))
	r.mtime = mtime
	r.logger.Info("rewrite rules reloaded", "path", r.path, "rules", len(rules))
}

// Apply runs the transcript text through the rules. The first rule with a
// phrase whose compact form is contained in the text's compact form (or whose
// basic form is contained in the text's basic form) replaces the whole text
// with its Set value. Unmatched text comes back basic-normalized. The second
// return reports whether the result differs from the input.
func (r *Rewriter) Apply(text string) (string, bool) {
	basic := NormalizeBasic(text)
	compact := NormalizeCompact(text)

	for _, rule := range r.table.Load().rules {
		for _, n := range rule.needles {
			if n.compact != "" && strings.Contains(compact, n.compact) {
				return rule.set, rule.set != text
			}
			if n.basic != "" && strings.Contains(basic, n.basic) {
				return rule.set, rule.set != text
			}
		}
	}
	return basic, basic != text
}
