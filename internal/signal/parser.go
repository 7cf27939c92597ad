package signal

import (
	"net/url"
	"strconv"
	"strings"
)

// catalogPage is the raw material extracted from one catalog URL before
// any reference lookups happen. Refs are the storefront's own string
// identifiers, kept verbatim so slug hints can replay them later.
type catalogPage struct {
	Slug        string
	SectionID   int64 // storefront platform category id, 0 when absent
	CompanyRef  string
	CategoryRef string
	YearRef     string
}

// hasRefs reports whether the URL carried any explicit identifiers.
func (p *catalogPage) hasRefs() bool {
	return p.CompanyRef != "" || p.CategoryRef != "" || p.YearRef != ""
}

// parseCatalogURL pulls the catalog slug, platform section id and query
// identifiers out of a page-view URL. Returns false for URLs without a
// catalog path segment or that fail to parse at all; those are expected
// noise, not errors.
func parseCatalogURL(raw string) (catalogPage, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return catalogPage{}, false
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	catalogIdx := -1
	for i, seg := range segments {
		if seg == "catalog" {
			catalogIdx = i
			break
		}
	}
	if catalogIdx < 0 || catalogIdx == len(segments)-1 {
		return catalogPage{}, false
	}

	page := catalogPage{}

	// Slug is the first non-numeric segment after /catalog/; a trailing
	// numeric segment is the platform section id.
	for _, seg := range segments[catalogIdx+1:] {
		if seg == "" {
			continue
		}
		if id, err := strconv.ParseInt(seg, 10, 64); err == nil {
			page.SectionID = id
			continue
		}
		if page.Slug == "" {
			page.Slug = seg
		}
	}

	q := u.Query()
	page.CompanyRef = q.Get("company_id")
	page.CategoryRef = q.Get("category_id")
	page.YearRef = q.Get("year_id")
	if page.SectionID == 0 {
		if id, err := strconv.ParseInt(q.Get("section_id"), 10, 64); err == nil {
			page.SectionID = id
		}
	}

	if page.Slug == "" && page.SectionID == 0 && !page.hasRefs() {
		return catalogPage{}, false
	}
	return page, true
}
