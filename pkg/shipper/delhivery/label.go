package delhivery

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

var pdfLinkPattern = regexp.MustCompile(`https?://[^\s"'<>]+?\.pdf(?:\?[^\s"'<>]*)?`)

// decodeLabel extracts a label from a packing slip response. The carrier
// answers in several shapes; they are tried in a fixed order and the first
// one that yields a label wins:
//  1. JSON with packages[0].pdf_download_link (or base64 pdf_encoding)
//  2. JSON with a top-level link field
//  3. a PDF document as the body
//  4. HTML embedding a link to a .pdf
//  5. any .pdf URL in the body text
func decodeLabel(resp *RawResponse) (*shipper.Label, bool) {
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return nil, false
	}

	if label, ok := decodeNestedLabel(body); ok {
		return label, true
	}
	if link := decodeDirectLink(body); link != "" {
		return &shipper.Label{URL: link}, true
	}
	if isPDF(resp.ContentType, body) {
		return &shipper.Label{Data: resp.Body}, true
	}
	if link := decodeHTMLLink(body); link != "" {
		return &shipper.Label{URL: link}, true
	}
	if link := pdfLinkPattern.Find(body); link != nil {
		return &shipper.Label{URL: cleanLink(string(link))}, true
	}
	return nil, false
}

func decodeNestedLabel(body []byte) (*shipper.Label, bool) {
	var slip packingSlipResponse
	if err := json.Unmarshal(body, &slip); err != nil || len(slip.Packages) == 0 {
		return nil, false
	}

	pkg := slip.Packages[0]
	if link := cleanLink(pkg.PDFDownloadLink); link != "" {
		return &shipper.Label{URL: link}, true
	}
	if pkg.PDFEncoding != "" {
		data, err := base64.StdEncoding.DecodeString(pkg.PDFEncoding)
		if err == nil && isPDF("", data) {
			return &shipper.Label{Data: data}, true
		}
	}
	return nil, false
}

func decodeDirectLink(body []byte) string {
	var direct directLinkResponse
	if err := json.Unmarshal(body, &direct); err != nil {
		return ""
	}
	for _, candidate := range []string{direct.PDFDownloadLink, direct.PDFURL, direct.LabelURL, direct.URL} {
		if link := cleanLink(candidate); link != "" {
			return link
		}
	}
	return ""
}

func decodeHTMLLink(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var found string
	doc.Find("a[href], iframe[src], embed[src], object[data]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range []string{"href", "src", "data"} {
			v, ok := s.Attr(attr)
			if !ok {
				continue
			}
			link := cleanLink(v)
			if link != "" && strings.Contains(strings.ToLower(link), ".pdf") {
				found = link
				return false
			}
		}
		return true
	})
	return found
}

func isPDF(contentType string, body []byte) bool {
	return bytes.HasPrefix(body, []byte("%PDF-")) ||
		strings.HasPrefix(strings.ToLower(contentType), "application/pdf")
}

// cleanLink unescapes HTML entities left in links and keeps only absolute
// http(s) URLs.
func cleanLink(raw string) string {
	link := strings.TrimSpace(strings.ReplaceAll(raw, "&amp;", "&"))
	lower := strings.ToLower(link)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return ""
	}
	return link
}
