package crawler

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"lcmeval/internal/catalog"
)

const (
	articleSelector   = "article.bd-article"
	signatureSelector = "dt.sig.sig-object.py"
)

func parseDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

func article(doc *goquery.Document) *goquery.Selection {
	if sel := doc.Find(articleSelector).First(); sel.Length() > 0 {
		return sel
	}
	return doc.Selection
}

func cleanText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", ""))
}

// ParseAPIPage extracts the single API documented on a generated reference
// page. The returned map is empty when the page has no title.
func ParseAPIPage(html string) (catalog.RawAPI, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}
	content := article(doc)

	name := strings.TrimSpace(strings.ReplaceAll(content.Find("h1").First().Text(), "#", ""))
	if name == "" {
		return catalog.RawAPI{}, nil
	}

	return catalog.RawAPI{
		name: {
			Description: strings.TrimSpace(content.Find("p").First().Text()),
			Parameters:  parseFieldList(content),
			Examples:    parseExamples(content),
		},
	}, nil
}

// ParseSignatures extracts every API signature listed on a page, as used by
// the random and typing reference pages.
func ParseSignatures(html string) ([]catalog.RawAPI, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}

	var apis []catalog.RawAPI
	doc.Find(signatureSelector).Each(func(_ int, sig *goquery.Selection) {
		name := strings.ReplaceAll(strings.ReplaceAll(sig.Text(), "#", ""), "\n", "")
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		detail := sig.NextFiltered("dd")
		apis = append(apis, catalog.RawAPI{
			name: {
				Description: cleanText(detail.Find("p").First().Text()),
				Parameters:  parseFieldList(detail),
				Examples:    parseExamples(detail),
			},
		})
	})
	return apis, nil
}

// ParseAPILinks returns the internal reference links of the summary tables.
func ParseAPILinks(html string) ([]string, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}
	return hrefs(doc.Find("div.pst-scrollable-table-container a.reference.internal")), nil
}

// ParseTocLinks returns the first-level table of contents links.
func ParseTocLinks(html string) ([]string, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}
	return hrefs(doc.Find("div.toctree-wrapper li.toctree-l1 > a.reference.internal")), nil
}

// ParseConstants returns the anchor ids of the signatures on a constants page.
func ParseConstants(html string) ([]string, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}

	var ids []string
	article(doc).Find(signatureSelector).Each(func(_ int, sig *goquery.Selection) {
		if id, ok := sig.Attr("id"); ok && id != "" {
			ids = append(ids, id)
		}
	})
	return ids, nil
}

func hrefs(sel *goquery.Selection) []string {
	var links []string
	sel.Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok && href != "" {
			links = append(links, href)
		}
	})
	return links
}

func parseFieldList(scope *goquery.Selection) []catalog.ParameterSection {
	var sections []catalog.ParameterSection
	scope.Find("dl.field-list > dt").Each(func(_ int, heading *goquery.Selection) {
		section := strings.ReplaceAll(strings.TrimSpace(heading.Text()), ":", "")
		params := []catalog.Parameter{}

		heading.NextFiltered("dd").Find("dl > dt").Each(func(_ int, param *goquery.Selection) {
			name := strings.TrimSpace(param.Text())
			if strong := param.Find("strong").First(); strong.Length() > 0 {
				name = strings.TrimSpace(strong.Text())
			}

			var typ *string
			if classifier := param.Find("span.classifier").First(); classifier.Length() > 0 {
				t := strings.TrimSpace(classifier.Text())
				typ = &t
			}

			params = append(params, catalog.Parameter{
				Name:        name,
				Type:        typ,
				Description: cleanText(param.NextFiltered("dd").Text()),
			})
		})

		sections = append(sections, catalog.ParameterSection{section: params})
	})
	return sections
}

func parseExamples(scope *goquery.Selection) []string {
	examples := []string{}
	scope.Find("div.doctest").Each(func(_ int, block *goquery.Selection) {
		if pre := block.Find("pre").First(); pre.Length() > 0 {
			examples = append(examples, strings.TrimSpace(pre.Text()))
		}
	})
	return examples
}
