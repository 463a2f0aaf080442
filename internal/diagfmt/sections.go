package diagfmt

import (
	"encoding/json"
	"fmt"
	"io"

	"gbasm/internal/section"
)

// FormatSectionsPretty dumps the section table in declaration order, one
// region per line with its placement attributes.
func FormatSectionsPretty(w io.Writer, table *section.Table) error {
	var err error
	table.ForEach(func(s *section.Section) {
		if err != nil {
			return
		}
		org := "floating"
		if s.Org != section.Unset {
			org = fmt.Sprintf("$%04X", s.Org)
		}
		bank := ""
		if s.Bank != section.Unset {
			bank = fmt.Sprintf(", BANK[%d]", s.Bank)
		}
		align := ""
		if s.Align != 0 {
			align = fmt.Sprintf(", ALIGN[%d, %d]", s.Align, s.AlignOfs)
		}
		mod := ""
		if s.Modifier != section.ModNormal {
			mod = " (" + s.Modifier.String() + ")"
		}
		_, err = fmt.Fprintf(w, "%s %q%s: %s at %s%s%s, %d bytes, %d patches\n",
			s.Type, s.Name, mod, declaredAt(s), org, bank, align, s.Size, len(s.Patches))
	})
	return err
}

func declaredAt(s *section.Section) string {
	return fmt.Sprintf("line %d", s.FileLine)
}

type sectionJSON struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Modifier string `json:"modifier"`
	Org      *uint32 `json:"org,omitempty"`
	Bank     *uint32 `json:"bank,omitempty"`
	Align    uint8  `json:"align,omitempty"`
	AlignOfs uint16 `json:"align_ofs,omitempty"`
	Size     uint32 `json:"size"`
	Patches  int    `json:"patches"`
}

// FormatSectionsJSON writes the table as a JSON array.
func FormatSectionsJSON(w io.Writer, table *section.Table, opts JSONOpts) error {
	out := make([]sectionJSON, 0, table.Count())
	table.ForEach(func(s *section.Section) {
		if opts.Max > 0 && len(out) >= opts.Max {
			return
		}
		rec := sectionJSON{
			Name:     s.Name,
			Type:     s.Type.String(),
			Modifier: s.Modifier.String(),
			Align:    s.Align,
			AlignOfs: s.AlignOfs,
			Size:     s.Size,
			Patches:  len(s.Patches),
		}
		if s.Org != section.Unset {
			org := s.Org
			rec.Org = &org
		}
		if s.Bank != section.Unset {
			bank := s.Bank
			rec.Bank = &bank
		}
		out = append(out, rec)
	})
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
