// Package loader resolves imports to project files and drives the
// recursive per-module scan. Loading is memoized by resolved path, so
// a cyclic import graph still terminates.
package loader

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/wlvh/PySymphony/internal/errors"
	"github.com/wlvh/PySymphony/internal/parser"
	"github.com/wlvh/PySymphony/internal/pyast"
	"github.com/wlvh/PySymphony/internal/scope"
)

// Module is the record kept per resolved file.
type Module struct {
	QName string
	Path  string
	Seq   int

	AST            *pyast.Module
	Scope          scope.ScopeID
	Init           scope.SymbolID
	InitStmts      []pyast.Stmt
	FallbackBlocks []*pyast.Try
	FutureImports  []pyast.ImportAlias
	MainGuard      *pyast.If
}

type Loader struct {
	root    string
	parser  *parser.Parser
	table   *scope.Table
	builder *scope.Builder
	log     *slog.Logger

	byPath  map[string]*Module
	byQName map[string]*Module
	order   []*Module
}

func New(projectRoot string, p *parser.Parser, table *scope.Table, log *slog.Logger) *Loader {
	l := &Loader{
		root:    projectRoot,
		parser:  p,
		table:   table,
		log:     log,
		byPath:  make(map[string]*Module),
		byQName: make(map[string]*Module),
	}
	l.builder = scope.NewBuilder(table, l)
	return l
}

func (l *Loader) Table() *scope.Table             { return l.table }
func (l *Loader) Diagnostics() []scope.Diagnostic { return l.builder.Diagnostics() }
func (l *Loader) Modules() []*Module              { return l.order }
func (l *Loader) ByQName(qname string) (*Module, bool) {
	m, ok := l.byQName[qname]
	return m, ok
}

// LoadModule parses and scans the file at path once; later calls for
// the same resolved path return the memoized record, even while the
// first scan is still in progress further up the stack.
func (l *Loader) LoadModule(path string) (*Module, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "resolve path").WithContext(errors.CtxPath, path)
	}
	if m, ok := l.byPath[abs]; ok {
		return m, nil
	}

	qname := l.ModuleName(abs)
	m := &Module{QName: qname, Path: abs, Seq: len(l.order)}
	// Registered before scanning so import cycles hit the memo
	// instead of recursing forever.
	l.byPath[abs] = m
	l.byQName[qname] = m
	l.order = append(l.order, m)

	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNotFound, "read module").WithContext(errors.CtxPath, abs)
	}
	ast, err := l.parser.Parse(src, abs)
	if err != nil {
		return nil, err
	}
	m.AST = ast

	l.log.Debug("scanning module", "module", qname, "path", abs, "seq", m.Seq)
	res, err := l.builder.BuildModule(ast, qname, abs, m.Seq)
	if err != nil {
		return nil, err
	}
	m.Scope = res.Scope
	m.Init = res.Init
	m.InitStmts = res.InitStmts
	m.FallbackBlocks = res.FallbackBlocks
	m.FutureImports = res.FutureImports
	m.MainGuard = res.MainGuard
	return m, nil
}

// ModuleName maps a file path to its dotted module name, trimming
// directory prefixes that are not packages and collapsing
// __init__.py to its package.
func (l *Loader) ModuleName(filePath string) string {
	rel, err := filepath.Rel(l.root, filePath)
	if err != nil {
		return strings.TrimSuffix(filepath.Base(filePath), ".py")
	}
	parts := strings.Split(rel, string(os.PathSeparator))

	packageStart := 0
	for i := 0; i < len(parts)-1; i++ {
		initPath := filepath.Join(l.root, filepath.Join(parts[:i+1]...), "__init__.py")
		if _, err := os.Stat(initPath); os.IsNotExist(err) {
			packageStart = i + 1
		} else {
			break
		}
	}
	parts = parts[packageStart:]

	parts[len(parts)-1] = strings.TrimSuffix(parts[len(parts)-1], ".py")
	if parts[len(parts)-1] == "__init__" && len(parts) > 1 {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, ".")
}

// pathFor maps a dotted module name to a project file, trying
// <path>.py then <path>/__init__.py.
func (l *Loader) pathFor(dotted string) (string, bool) {
	if dotted == "" {
		return "", false
	}
	rel := filepath.Join(strings.Split(dotted, ".")...)
	asFile := filepath.Join(l.root, rel+".py")
	if fileExists(asFile) {
		return asFile, true
	}
	asPkg := filepath.Join(l.root, rel, "__init__.py")
	if fileExists(asPkg) {
		return asPkg, true
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ResolvePlainImport implements scope.Resolver for "import a.b.c".
func (l *Loader) ResolvePlainImport(dotted, fromFile string, fallback bool) (scope.ImportTarget, error) {
	path, ok := l.pathFor(dotted)
	if !ok {
		// External dependency: stays an import line in the bundle.
		return scope.ImportTarget{}, nil
	}
	m, err := l.LoadModule(path)
	if err != nil {
		if fallback {
			l.log.Debug("fallback import failed, continuing", "module", dotted, "error", err)
			return scope.ImportTarget{}, nil
		}
		return scope.ImportTarget{}, err
	}
	return scope.ImportTarget{Module: m.QName}, nil
}

// ResolveFromImport implements scope.Resolver for "from m import x",
// preferring m.x as a submodule over x as a symbol of m.
func (l *Loader) ResolveFromImport(module string, level int, name, fromFile string, fallback bool) (scope.ImportTarget, error) {
	base := module
	if level > 0 {
		resolved, ok, err := l.relativeBase(module, level, fromFile, fallback)
		if err != nil {
			return scope.ImportTarget{}, err
		}
		if !ok {
			// Escaped the root under the fallback flag; give up silently.
			return scope.ImportTarget{}, nil
		}
		base = resolved
	}

	dotted := name
	if base != "" {
		dotted = base + "." + name
	}
	if path, ok := l.pathFor(dotted); ok {
		m, err := l.LoadModule(path)
		if err != nil {
			if fallback {
				return scope.ImportTarget{}, nil
			}
			return scope.ImportTarget{}, err
		}
		return scope.ImportTarget{Module: m.QName}, nil
	}
	if path, ok := l.pathFor(base); ok {
		m, err := l.LoadModule(path)
		if err != nil {
			if fallback {
				return scope.ImportTarget{}, nil
			}
			return scope.ImportTarget{}, err
		}
		return scope.ImportTarget{Module: m.QName, Symbol: name}, nil
	}
	if level > 0 && !fallback {
		return scope.ImportTarget{}, errors.Newf(errors.CodeNotFound, "relative import %q does not resolve inside the project", "."+base).
			WithContext(errors.CtxPath, fromFile)
	}
	return scope.ImportTarget{}, nil
}

// relativeBase turns a relative import into an absolute dotted module
// prefix by walking level-1 directories up from the importing file.
func (l *Loader) relativeBase(module string, level int, fromFile string, fallback bool) (string, bool, error) {
	dir := filepath.Dir(fromFile)
	for i := 0; i < level-1; i++ {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	rel, err := filepath.Rel(l.root, dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		if fallback {
			return "", false, nil
		}
		return "", false, errors.Newf(errors.CodeNotFound, "relative import escapes the project root").
			WithContext(errors.CtxPath, fromFile)
	}
	var prefix string
	if rel != "." {
		prefix = strings.ReplaceAll(rel, string(os.PathSeparator), ".")
	}
	switch {
	case module == "":
		return prefix, true, nil
	case prefix == "":
		return module, true, nil
	default:
		return prefix + "." + module, true, nil
	}
}
