package expand

import (
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/state"
	"github.com/spf13/afero"
	"mvdan.cc/sh/v3/pattern"
	"mvdan.cc/sh/v3/syntax"
)

// globField expands the pathname pattern in a single field.  Fields without
// unquoted glob characters are returned as is.
func (ev *Evaluator) globField(field []piece) ([]string, error) {
	p := patternOf(field)
	if ev.Opts.Get(state.NoGlob) || !p.HasMeta() {
		return []string{p.String()}, nil
	}

	matches, err := ev.Glob(p)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return matches, nil
	}
	switch {
	case ev.Opts.Get(state.FailGlob):
		return nil, errors.Die(syntax.Pos{}, "Pattern ‘%s’ matched no files", p.String())
	case ev.Opts.Get(state.NullGlob):
		return nil, nil
	}
	return []string{p.String()}, nil
}

// splitPath divides p into its slash-separated components.
func (p Pattern) splitPath() []Pattern {
	parts := []Pattern{{Nocase: p.Nocase}}
	for _, seg := range p.segs {
		if seg.kind == segExt {
			cur := &parts[len(parts)-1]
			cur.segs = append(cur.segs, seg)
			continue
		}
		for i, s := range strings.Split(seg.s, "/") {
			if i > 0 {
				parts = append(parts, Pattern{Nocase: p.Nocase})
			}
			if s != "" {
				cur := &parts[len(parts)-1]
				cur.segs = append(cur.segs, segment{s: s, kind: seg.kind})
			}
		}
	}
	return parts
}

// Glob returns the sorted paths matching p, relative to the shell's working
// directory unless p is absolute.
func (ev *Evaluator) Glob(p Pattern) ([]string, error) {
	p.Nocase = p.Nocase || ev.Opts.Get(state.NoCaseGlob)
	parts := p.splitPath()

	matches := []string{""}
	if len(parts) > 1 && len(parts[0].segs) == 0 {
		// Absolute pattern
		matches = []string{"/"}
		parts = parts[1:]
	}

	for i, part := range parts {
		wantDir := i < len(parts)-1
		if !part.HasMeta() {
			lit := part.String()
			for j, m := range matches {
				matches[j] = pathJoin(m, lit)
			}
			if !wantDir {
				matches = ev.existing(matches)
			}
			continue
		}

		expr, err := part.Expr(pattern.Filenames)
		if err != nil {
			return nil, err
		}
		rx, err := regexp.Compile("^(?:" + expr + ")$")
		if err != nil {
			return nil, nil
		}
		dotOk := ev.Opts.Get(state.DotGlob) || part.startsWithDot()

		var next []string
		for _, dir := range matches {
			next = append(next, ev.globDir(dir, rx, dotOk, wantDir)...)
		}
		matches = next
		if len(matches) == 0 {
			break
		}
	}

	slices.Sort(matches)
	return matches, nil
}

func (p Pattern) startsWithDot() bool {
	if len(p.segs) == 0 {
		return false
	}
	s := p.segs[0].s
	switch p.segs[0].kind {
	case segLit:
		return strings.HasPrefix(s, ".")
	case segGlob:
		return strings.HasPrefix(s, ".") || strings.HasPrefix(s, `\.`)
	}
	return false
}

func (ev *Evaluator) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ev.Mem.Pwd(), path)
}

func (ev *Evaluator) existing(paths []string) []string {
	var out []string
	for _, path := range paths {
		if _, err := lstat(ev.Fs, ev.abs(path)); err == nil {
			out = append(out, path)
		}
	}
	return out
}

func (ev *Evaluator) globDir(dir string, rx *regexp.Regexp, dotOk, wantDir bool) []string {
	readDir := dir
	if readDir == "" {
		readDir = "."
	}
	infos, err := afero.ReadDir(ev.Fs, ev.abs(readDir))
	if err != nil {
		return nil
	}

	var matches []string
	for _, info := range infos {
		name := info.Name()
		if !dotOk && strings.HasPrefix(name, ".") {
			continue
		}
		if !rx.MatchString(name) {
			continue
		}
		path := pathJoin(dir, name)
		if wantDir {
			if st, err := ev.Fs.Stat(ev.abs(path)); err != nil || !st.IsDir() {
				continue
			}
		}
		matches = append(matches, path)
	}
	return matches
}

// pathJoin joins without cleaning, so ‘./*’ keeps its prefix.
func pathJoin(dir, name string) string {
	switch {
	case dir == "":
		return name
	case strings.HasSuffix(dir, "/"):
		return dir + name
	}
	return dir + "/" + name
}
