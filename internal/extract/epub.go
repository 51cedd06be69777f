package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/biblio-mcp/biblio/internal/errors"
)

// containerPath locates the OPF package document inside an EPUB zip.
const containerPath = "META-INF/container.xml"

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Metadata struct {
		Title   string `xml:"title"`
		Creator string `xml:"creator"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

var (
	// Head, script, and style bodies carry no book text.
	headRe        = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	// Block-level closings become paragraph breaks before tag stripping.
	blockBreakRe = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|blockquote|section|article)>|<br[^>]*/?>`)
	tagRe        = regexp.MustCompile(`<[^>]*>`)
)

// extractEPUB extracts text and metadata from EPUB bytes.
// EPUB is a zip: META-INF/container.xml names the OPF package, whose
// spine lists the reading-order XHTML documents.
func extractEPUB(content []byte) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, errors.New(errors.ErrCodeExtractFailed, "open EPUB: not a zip", err)
	}

	opfPath, err := findOPFPath(zr)
	if err != nil {
		return nil, err
	}

	opfData, err := readZipFile(zr, opfPath)
	if err != nil {
		return nil, errors.New(errors.ErrCodeExtractFailed,
			fmt.Sprintf("read package document %s", opfPath), err)
	}

	var pkg epubPackage
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return nil, errors.New(errors.ErrCodeExtractFailed, "parse package document", err)
	}

	hrefByID := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		hrefByID[item.ID] = item.Href
	}

	opfDir := path.Dir(opfPath)
	var buf strings.Builder
	var sections []Section
	runeLen := 0
	for _, ref := range pkg.Spine.ItemRefs {
		href, ok := hrefByID[ref.IDRef]
		if ok {
			href = resolveHref(opfDir, href)
		}
		if !ok || href == "" {
			continue
		}

		data, err := readZipFile(zr, href)
		if err != nil {
			// A missing spine document degrades that section, not the book.
			continue
		}

		text := normalizeWhitespace(stripHTML(string(data)))
		if text == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
			runeLen++
		}
		start := runeLen
		buf.WriteString(text)
		runeLen += len([]rune(text))
		sections = append(sections, Section{
			Title: sectionTitle(string(data)),
			Start: start,
			End:   runeLen,
		})
	}

	return &Document{
		Text:     buf.String(),
		Title:    strings.TrimSpace(pkg.Metadata.Title),
		Author:   strings.TrimSpace(pkg.Metadata.Creator),
		Sections: sections,
	}, nil
}

var (
	titleTagRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	h1TagRe    = regexp.MustCompile(`(?is)<h[12][^>]*>(.*?)</h[12]>`)
)

// sectionTitle pulls a chapter heading out of a spine document, trying
// the head title first and falling back to the first h1/h2.
func sectionTitle(doc string) string {
	for _, re := range []*regexp.Regexp{titleTagRe, h1TagRe} {
		if m := re.FindStringSubmatch(doc); m != nil {
			title := strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(m[1], " ")))
			title = strings.Join(strings.Fields(title), " ")
			if title != "" {
				return title
			}
		}
	}
	return ""
}

// findOPFPath reads container.xml and returns the OPF package path.
func findOPFPath(zr *zip.Reader) (string, error) {
	data, err := readZipFile(zr, containerPath)
	if err != nil {
		return "", errors.New(errors.ErrCodeExtractFailed,
			"EPUB has no META-INF/container.xml", err)
	}

	var container epubContainer
	if err := xml.Unmarshal(data, &container); err != nil {
		return "", errors.New(errors.ErrCodeExtractFailed, "parse container.xml", err)
	}
	if len(container.Rootfiles) == 0 || container.Rootfiles[0].FullPath == "" {
		return "", errors.New(errors.ErrCodeExtractFailed, "container.xml names no rootfile", nil)
	}
	return container.Rootfiles[0].FullPath, nil
}

// resolveHref resolves a manifest href relative to the OPF directory.
func resolveHref(opfDir, href string) string {
	href = strings.SplitN(href, "#", 2)[0]
	if href == "" {
		return ""
	}
	if opfDir == "." {
		return href
	}
	return path.Join(opfDir, href)
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

// stripHTML converts an XHTML document to plain text.
func stripHTML(doc string) string {
	doc = headRe.ReplaceAllString(doc, " ")
	doc = scriptStyleRe.ReplaceAllString(doc, " ")
	doc = blockBreakRe.ReplaceAllString(doc, "\n")
	doc = tagRe.ReplaceAllString(doc, " ")
	doc = html.UnescapeString(doc)
	return strings.TrimSpace(doc)
}
