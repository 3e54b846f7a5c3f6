package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/blendsdk/blend65-sub013/pkg/diag"
	"github.com/blendsdk/blend65-sub013/pkg/layout"
	"github.com/blendsdk/blend65-sub013/pkg/pipeline"
)

// Hash domains; bump the version when the hashed shape changes
const (
	DomainLayout = "framealloc/layout/v1"
	DomainInput  = "framealloc/input/v1"
)

// Document is the JSON form of a run
type Document struct {
	Target      string          `json:"target"`
	OK          bool            `json:"ok"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	Stats       pipeline.Stats  `json:"stats"`
	Groups      []GroupDoc      `json:"groups"`
	Records     layout.Records  `json:"records"`
	Diagnostics []DiagnosticDoc `json:"diagnostics"`
}

// GroupDoc is one coalescing group
type GroupDoc struct {
	ID        int      `json:"id"`
	Base      uint16   `json:"base"`
	Size      int      `json:"size"`
	Context   string   `json:"context"`
	Members   []string `json:"members"`
	Reentrant bool     `json:"reentrant,omitempty"`
}

// DiagnosticDoc adds the severity name to a diagnostic
type DiagnosticDoc struct {
	Severity string `json:"severity"`
	*diag.Diagnostic
}

// NewDocument builds the JSON document of a run
func NewDocument(res *pipeline.Result) (*Document, error) {
	doc := &Document{
		Target:      res.Platform.Name,
		OK:          res.OK(),
		Stats:       res.Stats,
		Groups:      []GroupDoc{},
		Records:     res.Records,
		Diagnostics: []DiagnosticDoc{},
	}
	if doc.Records == nil {
		doc.Records = layout.Records{}
	}
	if res.OK() {
		fp, err := Fingerprint(res.Records)
		if err != nil {
			return nil, err
		}
		doc.Fingerprint = fp
	}
	if res.Groups != nil {
		for _, g := range res.Groups.Groups {
			doc.Groups = append(doc.Groups, GroupDoc{
				ID:        g.ID,
				Base:      uint16(g.Base),
				Size:      g.Size,
				Context:   g.Context.String(),
				Members:   g.Members,
				Reentrant: g.Reentrant,
			})
		}
	}
	for _, d := range res.Diagnostics.Sorted() {
		doc.Diagnostics = append(doc.Diagnostics, DiagnosticDoc{Severity: d.Severity.String(), Diagnostic: d})
	}
	return doc, nil
}

// JSON writes the run as an indented JSON document
func JSON(w io.Writer, res *pipeline.Result) error {
	doc, err := NewDocument(res)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// Fingerprint hashes the records so two runs can be compared.
// Format: hex(SHA256(DomainLayout + 0x00 + compact JSON of the records))
func Fingerprint(recs layout.Records) (string, error) {
	if recs == nil {
		recs = layout.Records{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainLayout, data), nil
}

// InputHash identifies a declaration file by content
func InputHash(data []byte) string {
	return hashWithDomain(DomainInput, data)
}

// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
