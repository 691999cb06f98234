package builder

import (
	"context"

	"github.com/buger/jsonparser"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/ir"
)

// searchParam is a SearchParameter resource reduced to what the graph keeps.
type searchParam struct {
	param ir.SearchParameter
	bases []string
}

// parseSearchParameter extracts code, type, description, expression, base
// and (for reference parameters) target from a SearchParameter document.
func parseSearchParameter(data []byte) (searchParam, error) {
	var sp searchParam

	code, err := jsonparser.GetString(data, "code")
	if err != nil || code == "" {
		return sp, fc.NewError(fc.ErrValidation, "search parameter has no code", nil)
	}
	typeCode, err := jsonparser.GetString(data, "type")
	if err != nil || typeCode == "" {
		return sp, fc.Errorf(fc.ErrValidation, "search parameter %q has no type", code)
	}
	paramType, ok := ir.ParseSearchParamType(typeCode)
	if !ok {
		return sp, fc.Errorf(fc.ErrValidation, "search parameter %q has unknown type %q", code, typeCode)
	}

	sp.param = ir.SearchParameter{Code: code, Type: paramType}
	sp.param.Description, _ = jsonparser.GetString(data, "description")
	if expr, err := jsonparser.GetString(data, "expression"); err == nil && expr != "" {
		sp.param.Expression = ir.StringPtr(expr)
	}

	_, _ = jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if dataType == jsonparser.String && len(value) > 0 {
			sp.bases = append(sp.bases, string(value))
		}
	}, "base")

	if paramType == ir.SearchReference {
		_, _ = jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
			if dataType == jsonparser.String && len(value) > 0 {
				sp.param.TargetTypes = append(sp.param.TargetTypes, string(value))
			}
		}, "target")
	}
	return sp, nil
}

// attachSearchParameters fetches every SearchParameter and appends each to
// the resources named in its base, in fetch order. Bases that are not
// resources in g are ignored.
func (b *Builder) attachSearchParameters(ctx context.Context, g *ir.TypeGraph, report *Report) error {
	ctx, span := b.tracer.Start(ctx, "builder.search_parameters")
	defer span.End()

	docs, err := b.resolver.GetResourcesByType(ctx, "SearchParameter", b.opts.SearchParameterLimit)
	if err != nil {
		span.RecordError(err)
		return err
	}
	report.SearchParameters = len(docs)

	byBase := make(map[string][]ir.SearchParameter)
	for _, doc := range docs {
		sp, err := parseSearchParameter(doc.Content)
		if err != nil {
			name, _ := jsonparser.GetString(doc.Content, "name")
			if name == "" {
				name = doc.URL
			}
			b.logger.Warn().Err(err).Str("url", doc.URL).Msg("skipping search parameter")
			b.metrics.RecordSkipped(ReasonSearchParameter)
			report.skip(name, doc.URL, ReasonSearchParameter, err)
			continue
		}
		for _, base := range sp.bases {
			byBase[base] = append(byBase[base], sp.param)
		}
	}

	attached := 0
	for _, name := range g.Resources.Keys() {
		params, ok := byBase[name]
		if !ok {
			continue
		}
		rt, _ := g.Resources.Get(name)
		rt.SearchParameters = append(rt.SearchParameters, params...)
		g.Resources.Set(name, rt)
		attached += len(params)
	}

	b.logger.Info().Int("search_parameters", len(docs)).Int("attached", attached).Msg("attached search parameters")
	return nil
}
