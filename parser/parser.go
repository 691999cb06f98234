// Package parser turns StructureDefinition documents into ParsedStructure
// values and flattens their elements into IR properties.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/buger/jsonparser"
	"github.com/gofhir/fhir/r4"
	"github.com/rs/zerolog"

	fc "github.com/gofhir/codegen"
)

const resourceTypeStructureDefinition = "StructureDefinition"

// Parser parses StructureDefinitions and caches the results by canonical URL.
// It is safe for concurrent use.
type Parser struct {
	mu    sync.RWMutex
	cache map[string]*ParsedStructure

	logger zerolog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the parser logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Parser) {
		p.logger = l
	}
}

// New creates a Parser with an empty cache.
func New(opts ...Option) *Parser {
	p := &Parser{
		cache:  make(map[string]*ParsedStructure),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse validates and normalizes one StructureDefinition document.
func (p *Parser) Parse(data []byte) (*ParsedStructure, error) {
	rt, err := jsonparser.GetString(data, "resourceType")
	if err != nil {
		return nil, parseErr("missing resourceType")
	}
	if rt != resourceTypeStructureDefinition {
		return nil, fc.Errorf(fc.ErrParser, "expected StructureDefinition, got %s", rt)
	}

	url, ok := getString(data, "url")
	if !ok {
		return nil, parseErr("missing url")
	}
	name, ok := getString(data, "name")
	if !ok {
		return nil, parseErr("missing name")
	}
	kindCode, ok := getString(data, "kind")
	if !ok {
		return nil, parseErr("missing kind")
	}
	kind, ok := ParseKind(kindCode)
	if !ok {
		return nil, fc.Errorf(fc.ErrParser, "unknown kind: %s", kindCode)
	}

	parsed := &ParsedStructure{
		URL:  url,
		Name: name,
		Kind: kind,
	}
	parsed.Type, _ = getString(data, "type")
	parsed.BaseDefinition, _ = getString(data, "baseDefinition")
	parsed.Derivation, _ = getString(data, "derivation")
	parsed.FHIRVersion, _ = getString(data, "fhirVersion")
	parsed.IsAbstract = getBool(data, "abstract")

	snapshot, snapType, _, _ := jsonparser.Get(data, "snapshot")
	differential, diffType, _, _ := jsonparser.Get(data, "differential")

	switch {
	case snapType != jsonparser.NotExist:
		if parsed.Elements, err = p.parseElements(snapshot); err != nil {
			return nil, fmt.Errorf("%s snapshot: %w", name, err)
		}
		if diffType != jsonparser.NotExist {
			// Only kept for profile conversion, so a broken differential is not fatal here.
			if diff, err := p.parseElements(differential); err == nil {
				parsed.DifferentialElements = diff
			} else {
				p.logger.Debug().Err(err).Str("url", url).Msg("ignoring unreadable differential")
			}
		}
	case diffType != jsonparser.NotExist:
		if parsed.Elements, err = p.parseElements(differential); err != nil {
			return nil, fmt.Errorf("%s differential: %w", name, err)
		}
		parsed.Differential = true
		parsed.DifferentialElements = parsed.Elements
	default:
		return nil, parseErr("missing both snapshot and differential")
	}

	p.logger.Debug().
		Str("name", name).
		Int("elements", len(parsed.Elements)).
		Bool("differential", parsed.Differential).
		Msg("parsed structure definition")

	p.store(parsed)
	return parsed, nil
}

// ParseR4 parses an already decoded R4 StructureDefinition. The value is
// re-encoded and run through the same validation as Parse.
func (p *Parser) ParseR4(sd *r4.StructureDefinition) (*ParsedStructure, error) {
	if sd == nil {
		return nil, parseErr("nil StructureDefinition")
	}
	data, err := json.Marshal(sd)
	if err != nil {
		return nil, fc.NewError(fc.ErrParser, "encode StructureDefinition", err)
	}
	if _, dt, _, _ := jsonparser.Get(data, "resourceType"); dt == jsonparser.NotExist {
		data, err = jsonparser.Set(data, []byte(`"`+resourceTypeStructureDefinition+`"`), "resourceType")
		if err != nil {
			return nil, fc.NewError(fc.ErrParser, "encode StructureDefinition", err)
		}
	}
	return p.Parse(data)
}

func (p *Parser) store(parsed *ParsedStructure) {
	p.mu.Lock()
	p.cache[parsed.URL] = parsed
	p.mu.Unlock()
}

// Cached returns a previously parsed structure by canonical URL.
func (p *Parser) Cached(url string) (*ParsedStructure, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.cache[url]
	return s, ok
}

// CacheLen returns the number of cached structures.
func (p *Parser) CacheLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

// ClearCache drops every cached structure.
func (p *Parser) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]*ParsedStructure)
}

func (p *Parser) parseElements(container []byte) ([]ElementDefinition, error) {
	arr, dt, _, err := jsonparser.Get(container, "element")
	if err != nil || dt != jsonparser.Array {
		return nil, parseErr("missing element array")
	}

	var (
		elements []ElementDefinition
		firstErr error
	)
	_, err = jsonparser.ArrayEach(arr, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		if firstErr != nil {
			return
		}
		elem, err := p.parseElement(value)
		if err != nil {
			firstErr = err
			return
		}
		elements = append(elements, elem)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	if err != nil {
		return nil, fc.NewError(fc.ErrParser, "malformed element array", err)
	}
	return elements, nil
}

func (p *Parser) parseElement(data []byte) (ElementDefinition, error) {
	path, ok := getString(data, "path")
	if !ok {
		return ElementDefinition{}, parseErr("element missing path")
	}

	elem := ElementDefinition{
		Path:        path,
		Min:         parseMin(data),
		Max:         parseMax(data),
		IsModifier:  getBool(data, "isModifier"),
		IsSummary:   getBool(data, "isSummary"),
		MustSupport: getBool(data, "mustSupport"),
	}
	elem.ID, _ = getString(data, "id")
	elem.SliceName, _ = getString(data, "sliceName")
	elem.Short, _ = getString(data, "short")
	elem.Definition, _ = getString(data, "definition")
	elem.Comment, _ = getString(data, "comment")
	elem.DeclaresCardinality = exists(data, "min") || exists(data, "max")

	if !elem.Max.Unbounded && elem.Min > elem.Max.N {
		p.logger.Warn().
			Str("path", path).
			Uint32("min", elem.Min).
			Uint32("max", elem.Max.N).
			Msg("min exceeds max, widening max")
		elem.Max.N = elem.Min
	}

	_, _ = jsonparser.ArrayEach(data, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		if t, ok := parseElementType(value); ok {
			elem.Types = append(elem.Types, t)
		}
	}, "type")

	if raw, dt, _, err := jsonparser.Get(data, "binding"); err == nil && dt == jsonparser.Object {
		elem.Binding = parseBinding(raw)
	}

	_, _ = jsonparser.ArrayEach(data, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		if c, ok := parseConstraint(value); ok {
			elem.Constraints = append(elem.Constraints, c)
		}
	}, "constraint")

	return elem, nil
}

// parseMin reads a non-negative integer; anything else is 0.
func parseMin(data []byte) uint32 {
	raw, dt, _, err := jsonparser.Get(data, "min")
	if err != nil || dt != jsonparser.Number {
		return 0
	}
	n, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// parseMax reads "*" or a numeric string; anything else is 1.
func parseMax(data []byte) Cardinality {
	s, ok := getString(data, "max")
	if !ok {
		return Finite(1)
	}
	if s == "*" {
		return Unlimited()
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return Finite(1)
	}
	return Finite(uint32(n))
}

func parseElementType(data []byte) (ElementType, bool) {
	code, ok := getString(data, "code")
	if !ok {
		return ElementType{}, false
	}
	t := ElementType{Code: code}
	if code != "Reference" {
		return t, true
	}

	raw, dt, _, err := jsonparser.Get(data, "targetProfile")
	if err != nil {
		return t, true
	}
	switch dt {
	case jsonparser.String:
		if s, err := jsonparser.ParseString(raw); err == nil {
			t.TargetProfiles = []string{s}
		}
	case jsonparser.Array:
		_, _ = jsonparser.ArrayEach(raw, func(value []byte, vt jsonparser.ValueType, _ int, _ error) {
			if vt != jsonparser.String {
				return
			}
			if s, err := jsonparser.ParseString(value); err == nil {
				t.TargetProfiles = append(t.TargetProfiles, s)
			}
		})
	}
	return t, true
}

func parseBinding(data []byte) *Binding {
	strength, ok := getString(data, "strength")
	if !ok {
		return nil
	}
	b := &Binding{Strength: strength}
	b.ValueSet, _ = getString(data, "valueSet")
	b.Description, _ = getString(data, "description")
	return b
}

func parseConstraint(data []byte) (Constraint, bool) {
	key, ok := getString(data, "key")
	if !ok {
		return Constraint{}, false
	}
	human, ok := getString(data, "human")
	if !ok {
		return Constraint{}, false
	}
	c := Constraint{Key: key, Human: human, Severity: "error"}
	if s, ok := getString(data, "severity"); ok {
		c.Severity = s
	}
	c.Expression, _ = getString(data, "expression")
	c.XPath, _ = getString(data, "xpath")
	return c, true
}

func getString(data []byte, key string) (string, bool) {
	s, err := jsonparser.GetString(data, key)
	if err != nil {
		return "", false
	}
	return s, true
}

func getBool(data []byte, key string) bool {
	b, err := jsonparser.GetBoolean(data, key)
	return err == nil && b
}

func exists(data []byte, key string) bool {
	_, dt, _, err := jsonparser.Get(data, key)
	return err == nil && dt != jsonparser.NotExist && dt != jsonparser.Null
}

func parseErr(msg string) error {
	return fc.NewError(fc.ErrParser, msg, nil)
}

// IsParseError reports whether err is a structural parse failure.
func IsParseError(err error) bool {
	return errors.Is(err, fc.ErrParser)
}
